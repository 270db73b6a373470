package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/machinery-leadbot/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/machinery-leadbot/internal/http/middleware"
	"github.com/wolfman30/machinery-leadbot/internal/inquiries"
	"github.com/wolfman30/machinery-leadbot/internal/leads"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	WhatsAppWebhook    *handlers.WhatsAppWebhookHandler
	InquiriesHandler   *inquiries.Handler
	LeadsHandler       *leads.Handler
	MetricsHandler     http.Handler
	HealthChecks       map[string]HealthCheck
	CORSAllowedOrigins []string
	InquiryRateLimit   float64
	InquiryRateBurst   int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthHandler(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.WhatsAppWebhook != nil {
		r.Route("/webhooks/whatsapp", func(wh chi.Router) {
			wh.Get("/", cfg.WhatsAppWebhook.Verify)
			wh.Post("/", cfg.WhatsAppWebhook.Handle)
		})
	}

	if cfg.InquiriesHandler != nil {
		r.Route("/inquiries", func(inq chi.Router) {
			if len(cfg.CORSAllowedOrigins) > 0 {
				inq.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
			}
			inq.With(httpmiddleware.RateLimit(cfg.InquiryRateLimit, cfg.InquiryRateBurst)).Post("/", cfg.InquiriesHandler.CreateInquiry)
			inq.Get("/jobs/{jobID}", cfg.InquiriesHandler.GetJob)
		})
	}

	if cfg.LeadsHandler != nil {
		r.Get("/leads/{leadID}", cfg.LeadsHandler.GetLead)
	}

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(names) > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			resp.Checks = make(map[string]string, len(names))
			for _, name := range names {
				if err := checks[name](ctx); err != nil {
					resp.Checks[name] = err.Error()
					resp.Status = "degraded"
					status = http.StatusServiceUnavailable
					continue
				}
				resp.Checks[name] = "ok"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
