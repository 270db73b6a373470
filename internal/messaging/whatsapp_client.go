package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

var whatsappTracer = otel.Tracer("leadbot.internal.messaging.whatsapp")

const (
	defaultGraphBaseURL = "https://graph.facebook.com"
	defaultGraphVersion = "v21.0"

	maxBodyChars        = 1024
	maxHeaderChars      = 60
	maxButtonTitleChars = 20
	maxRowTitleChars    = 24
	maxRowDescChars     = 72
)

// WhatsAppConfig controls the Cloud API client.
type WhatsAppConfig struct {
	BaseURL       string
	APIVersion    string
	AccessToken   string
	PhoneNumberID string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *logging.Logger
}

// WhatsAppClient posts messages to the WhatsApp Cloud API
// (POST /{version}/{phone-number-id}/messages).
type WhatsAppClient struct {
	endpoint    string
	accessToken string
	httpClient  *http.Client
	logger      *logging.Logger
}

var _ Transport = (*WhatsAppClient)(nil)

func NewWhatsAppClient(cfg WhatsAppConfig) (*WhatsAppClient, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("messaging: whatsapp access token required")
	}
	if strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, errors.New("messaging: whatsapp phone number id required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	version := strings.Trim(strings.TrimSpace(cfg.APIVersion), "/")
	if version == "" {
		version = defaultGraphVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &WhatsAppClient{
		endpoint:    fmt.Sprintf("%s/%s/%s/messages", baseURL, version, strings.TrimSpace(cfg.PhoneNumberID)),
		accessToken: strings.TrimSpace(cfg.AccessToken),
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

func (c *WhatsAppClient) SendText(ctx context.Context, to string, p Text) (RawResult, error) {
	return c.post(ctx, to, KindText, map[string]any{
		"type": "text",
		"text": map[string]any{
			"preview_url": false,
			"body":        p.Body,
		},
	})
}

func (c *WhatsAppClient) SendButtons(ctx context.Context, to string, p Buttons) (RawResult, error) {
	buttons := make([]map[string]any, 0, len(p.Buttons))
	for _, b := range p.Buttons {
		buttons = append(buttons, map[string]any{
			"type": "reply",
			"reply": map[string]string{
				"id":    b.ID,
				"title": truncate(b.Title, maxButtonTitleChars),
			},
		})
	}
	return c.post(ctx, to, KindButtons, map[string]any{
		"type": "interactive",
		"interactive": map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": truncate(p.Body, maxBodyChars)},
			"action": map[string]any{"buttons": buttons},
		},
	})
}

func (c *WhatsAppClient) SendList(ctx context.Context, to string, p List) (RawResult, error) {
	rows := make([]map[string]string, 0, len(p.Rows))
	for _, r := range p.Rows {
		row := map[string]string{
			"id":    r.ID,
			"title": truncate(r.Title, maxRowTitleChars),
		}
		if r.Description != "" {
			row["description"] = truncate(r.Description, maxRowDescChars)
		}
		rows = append(rows, row)
	}
	interactive := map[string]any{
		"type": "list",
		"body": map[string]string{"text": truncate(p.Body, maxBodyChars)},
		"action": map[string]any{
			"button": truncate(p.ButtonText, maxButtonTitleChars),
			"sections": []map[string]any{{
				"title": truncate(p.ButtonText, maxRowTitleChars),
				"rows":  rows,
			}},
		},
	}
	if p.Header != "" {
		interactive["header"] = map[string]string{"type": "text", "text": truncate(p.Header, maxHeaderChars)}
	}
	return c.post(ctx, to, KindList, map[string]any{
		"type":        "interactive",
		"interactive": interactive,
	})
}

func (c *WhatsAppClient) SendTemplate(ctx context.Context, to string, p Template) (RawResult, error) {
	lang := p.Language
	if lang == "" {
		lang = defaultTemplateLanguage
	}
	return c.post(ctx, to, KindTemplate, map[string]any{
		"type": "template",
		"template": map[string]any{
			"name":     p.Name,
			"language": map[string]string{"code": lang},
		},
	})
}

type graphSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		ErrorData struct {
			Details string `json:"details"`
		} `json:"error_data"`
	} `json:"error"`
}

func (c *WhatsAppClient) post(ctx context.Context, to string, kind Kind, message map[string]any) (RawResult, error) {
	ctx, span := whatsappTracer.Start(ctx, "messaging.whatsapp.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("leadbot.to", to),
		attribute.String("leadbot.payload_kind", string(kind)),
	)

	message["messaging_product"] = "whatsapp"
	message["recipient_type"] = "individual"
	message["to"] = to
	body, err := json.Marshal(message)
	if err != nil {
		return RawResult{}, fmt.Errorf("%w: marshal: %v", ErrInvalidPayload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return RawResult{}, fmt.Errorf("messaging: build whatsapp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return RawResult{}, fmt.Errorf("messaging: whatsapp request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	raw := RawResult{StatusCode: resp.StatusCode}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	var parsed graphSendResponse
	if len(respBody) > 0 && json.Unmarshal(respBody, &parsed) == nil {
		if len(parsed.Messages) > 0 {
			raw.MessageID = parsed.Messages[0].ID
		}
		if parsed.Error != nil {
			raw.ErrorCode = parsed.Error.Code
			raw.ErrorMessage = parsed.Error.Message
			if parsed.Error.ErrorData.Details != "" {
				raw.ErrorMessage += ": " + parsed.Error.ErrorData.Details
			}
		}
	}
	if resp.StatusCode >= 300 && raw.ErrorMessage == "" {
		raw.ErrorMessage = strings.TrimSpace(string(respBody))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Debug("whatsapp message sent", "to", to, "kind", kind, "message_id", raw.MessageID)
	} else {
		span.SetAttributes(attribute.Int("leadbot.error_code", raw.ErrorCode))
		c.logger.Warn("whatsapp send rejected", "to", to, "kind", kind, "status", resp.StatusCode,
			"error_code", raw.ErrorCode, "error", raw.ErrorMessage)
	}
	return raw, nil
}

// truncate cuts s to at most limit characters, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
