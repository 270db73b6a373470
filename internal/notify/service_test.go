package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/machinery-leadbot/internal/events"
)

type mockEmailSender struct {
	sent    []EmailMessage
	sendErr error
}

func (m *mockEmailSender) Send(_ context.Context, msg EmailMessage) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

func sampleEvent() events.LeadCreatedV1 {
	followup := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	return events.LeadCreatedV1{
		LeadID:          "lead-1",
		RecipientID:     "919800000001",
		DisplayName:     "Asha",
		Category:        "cat_mixing",
		ProductName:     "Rapid Mixer Granulator (RMG)",
		ProductID:       "machine_rmg",
		Decision:        "INTERESTED",
		OriginSessionID: "sess-1",
		NeedsFollowup:   true,
		FollowupAt:      &followup,
		CreatedAt:       followup.Add(-4 * time.Hour),
	}
}

func TestService_NotifyLeadCreated_EmailsEveryRecipient(t *testing.T) {
	email := &mockEmailSender{}
	svc := NewService(email, "sales@example.com, ops@example.com,", nil)

	if err := svc.NotifyLeadCreated(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("NotifyLeadCreated returned error: %v", err)
	}
	if len(email.sent) != 2 {
		t.Fatalf("expected 2 e-mails, got %d", len(email.sent))
	}
	msg := email.sent[0]
	if msg.To != "sales@example.com" || email.sent[1].To != "ops@example.com" {
		t.Fatalf("unexpected recipients: %q, %q", msg.To, email.sent[1].To)
	}
	if !strings.Contains(msg.Subject, "Asha is interested in Rapid Mixer Granulator (RMG)") {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	for _, want := range []string{"WhatsApp: +919800000001", "Follow up by: Mon Mar 2 14:00 UTC", "Lead ID: lead-1"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
	if !strings.Contains(msg.HTML, "Rapid Mixer Granulator (RMG)") {
		t.Errorf("html missing product: %s", msg.HTML)
	}
	if msg.Tags["decision"] != "interested" || msg.Tags["event"] != "lead_created" {
		t.Errorf("unexpected tags %v", msg.Tags)
	}
}

func TestService_NotifyLeadCreated_RepliesToBuyer(t *testing.T) {
	email := &mockEmailSender{}
	svc := NewService(email, "sales@example.com", nil)
	evt := sampleEvent()
	evt.ContactEmail = "asha@buyer.example"

	if err := svc.NotifyLeadCreated(context.Background(), evt); err != nil {
		t.Fatalf("NotifyLeadCreated returned error: %v", err)
	}
	if email.sent[0].ReplyTo != "asha@buyer.example" {
		t.Fatalf("expected reply-to buyer, got %q", email.sent[0].ReplyTo)
	}
}

func TestService_NotifyLeadCreated_DeclinedSubject(t *testing.T) {
	email := &mockEmailSender{}
	svc := NewService(email, "sales@example.com", nil)
	evt := sampleEvent()
	evt.Decision = "NOT_INTERESTED"
	evt.NeedsFollowup = false
	evt.DisplayName = ""

	if err := svc.NotifyLeadCreated(context.Background(), evt); err != nil {
		t.Fatalf("NotifyLeadCreated returned error: %v", err)
	}
	if got := email.sent[0].Subject; got != "Declined - A WhatsApp buyer passed on Rapid Mixer Granulator (RMG)" {
		t.Fatalf("unexpected subject %q", got)
	}
	if strings.Contains(email.sent[0].Body, "Follow up by") {
		t.Fatal("declined lead should not carry a follow-up line")
	}
}

func TestService_NotifyLeadCreated_NotConfigured(t *testing.T) {
	if err := NewService(nil, "sales@example.com", nil).NotifyLeadCreated(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("expected nil error without sender, got %v", err)
	}
	email := &mockEmailSender{}
	if err := NewService(email, "  ", nil).NotifyLeadCreated(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("expected nil error without recipients, got %v", err)
	}
	if len(email.sent) != 0 {
		t.Fatal("expected no e-mails without recipients")
	}
}

func TestService_NotifyLeadCreated_SendFailure(t *testing.T) {
	svc := NewService(&mockEmailSender{sendErr: errors.New("smtp down")}, "sales@example.com", nil)
	err := svc.NotifyLeadCreated(context.Background(), sampleEvent())
	if err == nil || !strings.Contains(err.Error(), "1 of 1") {
		t.Fatalf("expected failure count in error, got %v", err)
	}
}

func TestService_HandleOutboxEntry(t *testing.T) {
	email := &mockEmailSender{}
	svc := NewService(email, "sales@example.com", nil)
	evt := sampleEvent()
	payload, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	entry := events.OutboxEntry{ID: uuid.New(), AggregateID: evt.LeadID, Type: evt.EventType(), Payload: payload}
	if err := svc.Handle(context.Background(), entry); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(email.sent) != 1 {
		t.Fatalf("expected 1 e-mail, got %d", len(email.sent))
	}

	other := events.OutboxEntry{ID: uuid.New(), Type: "inquiries.inquiry.created.v1", Payload: payload}
	if err := svc.Handle(context.Background(), other); err != nil {
		t.Fatalf("Handle returned error for unrelated type: %v", err)
	}
	bad := events.OutboxEntry{ID: uuid.New(), Type: evt.EventType(), Payload: []byte("{")}
	if err := svc.Handle(context.Background(), bad); err != nil {
		t.Fatalf("Handle should swallow undecodable payloads, got %v", err)
	}
	if len(email.sent) != 1 {
		t.Fatalf("expected no extra e-mails, got %d", len(email.sent))
	}
}
