package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/machinery-leadbot/internal/conversation"
	"github.com/wolfman30/machinery-leadbot/internal/http/handlers"
	"github.com/wolfman30/machinery-leadbot/internal/inquiries"
	"github.com/wolfman30/machinery-leadbot/internal/leads"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

type nopEngine struct{}

func (nopEngine) HandleInboundEvent(context.Context, conversation.InboundEvent) (conversation.EngineResult, error) {
	return conversation.EngineResult{OK: true}, nil
}

func newTestRouter(t *testing.T, checks map[string]HealthCheck) (http.Handler, *conversation.MemoryQueue) {
	t.Helper()

	logger := logging.Default()
	queue := conversation.NewMemoryQueue(8)
	jobs := conversation.NewMemoryJobStore()
	publisher := conversation.NewPublisher(queue, jobs, logger)

	cfg := &Config{
		Logger:             logger,
		WhatsAppWebhook:    handlers.NewWhatsAppWebhookHandler(handlers.WhatsAppWebhookConfig{VerifyToken: "tok", Engine: nopEngine{}, Logger: logger}),
		InquiriesHandler:   inquiries.NewHandler(inquiries.NewInMemoryRepository(), publisher, jobs, logger),
		LeadsHandler:       leads.NewHandler(leads.NewInMemoryRepository(), logger),
		MetricsHandler:     promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}),
		HealthChecks:       checks,
		CORSAllowedOrigins: []string{"https://shop.example.com"},
	}
	return New(cfg), queue
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", resp.Status)
	}
}

func TestRouterHealthDegraded(t *testing.T) {
	router, _ := newTestRouter(t, map[string]HealthCheck{
		"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
		"postgres": func(context.Context) error { return nil },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Checks["postgres"] != "ok" || resp.Checks["redis"] == "ok" {
		t.Fatalf("unexpected checks: %v", resp.Checks)
	}
}

func TestRouterWebhookVerify(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=abc", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "abc" {
		t.Fatalf("expected challenge echo, got %d %q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewBufferString(`{"entry":[]}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty envelope, got %d", rr.Code)
	}
}

func TestRouterInquiryQueuesJob(t *testing.T) {
	router, queue := newTestRouter(t, nil)

	body, _ := json.Marshal(inquiries.CreateInquiryRequest{Phone: "+91 98000 00001", Name: "Asha"})
	req := httptest.NewRequest(http.MethodPost, "/inquiries", bytes.NewReader(body))
	req.Header.Set("Origin", "https://shop.example.com")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example.com" {
		t.Fatalf("expected CORS header, got %q", got)
	}
	var resp inquiries.CreateInquiryResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if queue.Len() != 1 {
		t.Fatalf("expected one queued job, got %d", queue.Len())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inquiries/jobs/"+resp.Notification.JobID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected job lookup to succeed, got %d", rr.Code)
	}
}

func TestRouterLeadNotFound(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/leads/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestRouterMetrics(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
