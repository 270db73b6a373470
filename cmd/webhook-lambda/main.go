package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

const (
	webhookPath     = "/webhooks/whatsapp"
	maxRelayedBytes = 1 << 20
)

// relay forwards WhatsApp webhook calls from API Gateway to the api service.
type relay struct {
	upstreamBaseURL string
	timeout         time.Duration
	client          *http.Client
	logger          *logging.Logger
}

func newRelayFromEnv(logger *logging.Logger) (*relay, error) {
	baseURL := strings.TrimSpace(os.Getenv("UPSTREAM_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("UPSTREAM_BASE_URL is required")
	}

	timeout := 5 * time.Second
	if raw := strings.TrimSpace(os.Getenv("UPSTREAM_TIMEOUT")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid UPSTREAM_TIMEOUT: %w", err)
		}
		timeout = parsed
	}

	return &relay{
		upstreamBaseURL: strings.TrimRight(baseURL, "/"),
		timeout:         timeout,
		client:          &http.Client{Timeout: timeout},
		logger:          logger,
	}, nil
}

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL"))
	r, err := newRelayFromEnv(logger)
	if err != nil {
		logger.Error("webhook relay misconfigured", "error", err)
		os.Exit(1)
	}
	lambda.Start(r.handle)
}

func (r *relay) handle(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	path := strings.TrimRight(strings.TrimSpace(evt.RawPath), "/")
	if path == "" {
		path = strings.TrimRight(strings.TrimSpace(evt.RequestContext.HTTP.Path), "/")
	}

	if path == "/health" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Body: "ok"}, nil
	}
	if path != webhookPath {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNotFound}, nil
	}
	if method != http.MethodGet && method != http.MethodPost {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusMethodNotAllowed}, nil
	}

	var body []byte
	if method == http.MethodPost {
		decoded, err := decodeBody(evt)
		if err != nil {
			return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid body"}, nil
		}
		body = decoded
	}

	upstreamURL := r.upstreamBaseURL + webhookPath + "/"
	if qs := strings.TrimSpace(evt.RawQueryString); qs != "" {
		upstreamURL += "?" + qs
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, upstreamURL, bytes.NewReader(body))
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusInternalServerError}, nil
	}
	if ct := headerValue(evt.Headers, "content-type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	// The api verifies the Meta signature against the untouched body.
	copyHeader(req.Header, evt.Headers, "x-hub-signature-256")
	if id := evt.RequestContext.RequestID; id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("webhook relay upstream failed", "error", err, "method", method)
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadGateway, Body: "upstream error"}, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxRelayedBytes))
	out := events.APIGatewayV2HTTPResponse{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
		Headers:    map[string]string{},
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		out.Headers["content-type"] = ct
	}
	return out, nil
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	return base64.StdEncoding.DecodeString(evt.Body)
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func copyHeader(dst http.Header, headers map[string]string, key string) {
	if v := headerValue(headers, key); v != "" {
		dst.Set(key, v)
	}
}
