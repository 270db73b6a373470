package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/machinery-leadbot/internal/events"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

// Service e-mails the sales inbox when the bot captures a lead.
type Service struct {
	email      EmailSender
	recipients []string
	logger     *logging.Logger
	location   *time.Location
}

// NewService creates a notification service. recipients is a comma-separated list of addresses.
func NewService(email EmailSender, recipients string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:      email,
		recipients: splitRecipients(recipients),
		logger:     logger,
		location:   time.UTC,
	}
}

// WithLocation renders timestamps in loc instead of UTC.
func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.location = loc
	}
	return s
}

func splitRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Handle implements events.DeliveryHandler. Entries of other types are acknowledged and skipped.
func (s *Service) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if entry.Type != (events.LeadCreatedV1{}).EventType() {
		s.logger.Debug("notify: skipping outbox entry", "type", entry.Type, "id", entry.ID)
		return nil
	}
	var evt events.LeadCreatedV1
	if err := json.Unmarshal(entry.Payload, &evt); err != nil {
		// poison entry: acknowledge and drop
		s.logger.Error("notify: undecodable lead event", "error", err, "id", entry.ID)
		return nil
	}
	return s.NotifyLeadCreated(ctx, evt)
}

// NotifyLeadCreated sends one e-mail per configured sales recipient.
func (s *Service) NotifyLeadCreated(ctx context.Context, evt events.LeadCreatedV1) error {
	if s.email == nil || len(s.recipients) == 0 {
		s.logger.Debug("notify: sales e-mail not configured, skipping", "lead_id", evt.LeadID)
		return nil
	}

	name := evt.DisplayName
	if name == "" {
		name = "A WhatsApp buyer"
	}
	product := evt.ProductName
	if product == "" {
		product = "an unspecified machine"
	}

	var subject string
	switch evt.Decision {
	case "INTERESTED":
		subject = fmt.Sprintf("New lead - %s is interested in %s", name, product)
	default:
		subject = fmt.Sprintf("Declined - %s passed on %s", name, product)
	}

	followup := ""
	if evt.NeedsFollowup && evt.FollowupAt != nil {
		followup = fmt.Sprintf("\nFollow up by: %s", evt.FollowupAt.In(s.location).Format("Mon Jan 2 15:04 MST"))
	}
	email := ""
	if evt.ContactEmail != "" {
		email = fmt.Sprintf("\nEmail: %s", evt.ContactEmail)
	}
	ref := ""
	if evt.ContextRef != "" {
		ref = fmt.Sprintf("\nInquiry: %s", evt.ContextRef)
	}

	body := fmt.Sprintf(`%s responded on WhatsApp.

Buyer: %s
WhatsApp: +%s%s
Category: %s
Machine: %s
Decision: %s
Captured: %s%s%s
Lead ID: %s`,
		name, name, evt.RecipientID, email, evt.Category, product, evt.Decision,
		evt.CreatedAt.In(s.location).Format("January 2, 2006 at 15:04 MST"), followup, ref, evt.LeadID)

	htmlBody := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2>%s</h2>
<table style="border-collapse: collapse; margin: 20px 0;">
%s%s%s%s%s%s
</table>
<p style="color: #6b7280; font-size: 12px;">Lead ID %s</p>
</div>`,
		html.EscapeString(subject),
		htmlRow("Buyer", name),
		htmlRow("WhatsApp", "+"+evt.RecipientID),
		htmlRow("Email", evt.ContactEmail),
		htmlRow("Category", evt.Category),
		htmlRow("Machine", product),
		htmlRow("Decision", evt.Decision),
		html.EscapeString(evt.LeadID))

	var failed int
	for _, recipient := range s.recipients {
		msg := EmailMessage{
			To:      recipient,
			ReplyTo: evt.ContactEmail,
			Subject: subject,
			Body:    body,
			HTML:    htmlBody,
			Tags:    map[string]string{"event": "lead_created", "decision": strings.ToLower(evt.Decision)},
		}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: failed to send lead e-mail", "error", err, "to", recipient, "lead_id", evt.LeadID)
			failed++
			continue
		}
		s.logger.Info("notify: lead e-mail sent", "to", recipient, "lead_id", evt.LeadID)
	}
	if failed > 0 {
		return fmt.Errorf("notify: %d of %d e-mail(s) failed", failed, len(s.recipients))
	}
	return nil
}

func htmlRow(label, value string) string {
	if value == "" {
		return ""
	}
	return fmt.Sprintf(`<tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>%s:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>`,
		label, html.EscapeString(value))
}

var _ events.DeliveryHandler = (*Service)(nil)
