package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/machinery-leadbot/internal/conversation"
	"github.com/wolfman30/machinery-leadbot/internal/events"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

const maxWebhookBody = 1 << 20

type inboundEngine interface {
	HandleInboundEvent(ctx context.Context, evt conversation.InboundEvent) (conversation.EngineResult, error)
}

// ProcessedTracker claims inbound message ids so redeliveries are skipped.
type ProcessedTracker interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
	Release(ctx context.Context, provider, eventID string) error
}

// WhatsAppWebhookConfig wires the webhook handler.
type WhatsAppWebhookConfig struct {
	VerifyToken string
	// AppSecret enables X-Hub-Signature-256 verification when set.
	AppSecret string
	Engine    inboundEngine
	Processed ProcessedTracker
	Logger    *logging.Logger
}

// WhatsAppWebhookHandler receives WhatsApp Cloud API webhooks.
type WhatsAppWebhookHandler struct {
	verifyToken string
	appSecret   string
	engine      inboundEngine
	processed   ProcessedTracker
	logger      *logging.Logger
}

func NewWhatsAppWebhookHandler(cfg WhatsAppWebhookConfig) *WhatsAppWebhookHandler {
	if cfg.Engine == nil {
		panic("handlers: conversation engine required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &WhatsAppWebhookHandler{
		verifyToken: strings.TrimSpace(cfg.VerifyToken),
		appSecret:   strings.TrimSpace(cfg.AppSecret),
		engine:      cfg.Engine,
		processed:   cfg.Processed,
		logger:      cfg.Logger,
	}
}

// Verify answers the subscription handshake (GET).
func (h *WhatsAppWebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.verifyToken == "" || q.Get("hub.mode") != "subscribe" ||
		!hmac.Equal([]byte(q.Get("hub.verify_token")), []byte(h.verifyToken)) {
		h.logger.Warn("whatsapp webhook verification rejected", "mode", q.Get("hub.mode"))
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// Handle processes inbound message notifications (POST).
func (h *WhatsAppWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if h.appSecret != "" && !verifyHubSignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.logger.Warn("invalid whatsapp webhook signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	for _, evt := range env.inboundEvents() {
		if err := h.handleEvent(r.Context(), evt); err != nil {
			http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// handleEvent returns an error only when the event should be redelivered.
func (h *WhatsAppWebhookHandler) handleEvent(ctx context.Context, evt conversation.InboundEvent) error {
	log := h.logger.With("message_id", evt.MessageID, "recipient_id", evt.RecipientID)

	if h.processed != nil && evt.MessageID != "" {
		claimed, err := h.processed.MarkProcessed(ctx, events.ProviderWhatsApp, evt.MessageID)
		if err != nil {
			log.Error("processed lookup failed", "error", err)
			return err
		}
		if !claimed {
			log.Info("duplicate inbound message skipped")
			return nil
		}
	}

	result, err := h.engine.HandleInboundEvent(ctx, evt)
	if err != nil {
		if !conversation.IsStoreError(err) {
			log.Warn("inbound message dropped", "error", err)
			return nil
		}
		log.Error("inbound message failed, requesting redelivery", "error", err)
		if h.processed != nil && evt.MessageID != "" {
			if relErr := h.processed.Release(context.WithoutCancel(ctx), events.ProviderWhatsApp, evt.MessageID); relErr != nil {
				log.Error("failed to release processed message", "error", relErr)
			}
		}
		return err
	}

	log.Info("inbound message handled",
		"state", result.State,
		"ok", result.OK,
		"outcome", result.Outcome,
		"terminal", result.Terminal,
		"escalated", result.Escalated,
	)
	return nil
}

func verifyHubSignature(secret string, payload []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), provided)
}

type webhookEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string       `json:"field"`
			Value webhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookValue struct {
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []webhookMessage `json:"messages"`
}

type webhookMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
	Button *struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button,omitempty"`
}

// inboundEvents flattens the envelope into normalized events. Status callbacks carry no messages and yield nothing.
func (env webhookEnvelope) inboundEvents() []conversation.InboundEvent {
	var out []conversation.InboundEvent
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				out = append(out, msg.normalize(names[msg.From]))
			}
		}
	}
	return out
}

func (m webhookMessage) normalize(displayName string) conversation.InboundEvent {
	evt := conversation.InboundEvent{
		MessageID:   m.ID,
		RecipientID: m.From,
		DisplayName: displayName,
		Kind:        conversation.EventOther,
		Timestamp:   parseUnix(m.Timestamp),
	}
	switch m.Type {
	case "text":
		if m.Text != nil {
			evt.Kind = conversation.EventText
			evt.Text = m.Text.Body
		}
	case "interactive":
		if m.Interactive == nil {
			break
		}
		switch {
		case m.Interactive.ButtonReply != nil:
			evt.Kind = conversation.EventInteractive
			evt.SelectionID = m.Interactive.ButtonReply.ID
			evt.Text = m.Interactive.ButtonReply.Title
		case m.Interactive.ListReply != nil:
			evt.Kind = conversation.EventInteractive
			evt.SelectionID = m.Interactive.ListReply.ID
			evt.Text = m.Interactive.ListReply.Title
		}
	case "button":
		// quick-reply button on a template message
		if m.Button != nil {
			evt.Kind = conversation.EventInteractive
			evt.SelectionID = m.Button.Payload
			evt.Text = m.Button.Text
		}
	}
	return evt
}

func parseUnix(raw string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
