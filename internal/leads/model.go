package leads

import (
	"strings"
	"time"

	"github.com/wolfman30/machinery-leadbot/internal/events"
)

// Decision is the buyer's final answer on a machine.
type Decision string

const (
	DecisionInterested    Decision = "INTERESTED"
	DecisionNotInterested Decision = "NOT_INTERESTED"
)

// Valid reports whether d is a terminal decision.
func (d Decision) Valid() bool {
	return d == DecisionInterested || d == DecisionNotInterested
}

// SourceConversationalBot marks leads produced by the WhatsApp bot.
const SourceConversationalBot = "conversational_bot"

// Lead is the immutable outcome of a finished conversation.
type Lead struct {
	ID              string     `json:"id"`
	RecipientID     string     `json:"recipient_id"`
	DisplayName     string     `json:"display_name,omitempty"`
	ContactEmail    string     `json:"contact_email,omitempty"`
	Category        string     `json:"category,omitempty"`
	ProductName     string     `json:"product_name,omitempty"`
	ProductID       *string    `json:"product_id"`
	Decision        Decision   `json:"decision"`
	Source          string     `json:"source"`
	OriginSessionID string     `json:"origin_session_id"`
	NeedsFollowup   bool       `json:"needs_followup"`
	FollowupAt      *time.Time `json:"followup_at,omitempty"`
	ContextRef      string     `json:"context_ref,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Validate checks the fields every stored lead must carry.
func (l *Lead) Validate() error {
	if l == nil {
		return ErrInvalidLead
	}
	if strings.TrimSpace(l.RecipientID) == "" {
		return ErrMissingRecipient
	}
	if strings.TrimSpace(l.OriginSessionID) == "" {
		return ErrMissingOriginSession
	}
	if !l.Decision.Valid() {
		return ErrInvalidDecision
	}
	return nil
}

// CreatedEvent builds the outbox payload announcing this lead.
func (l *Lead) CreatedEvent() events.LeadCreatedV1 {
	evt := events.LeadCreatedV1{
		LeadID:          l.ID,
		RecipientID:     l.RecipientID,
		DisplayName:     l.DisplayName,
		ContactEmail:    l.ContactEmail,
		Category:        l.Category,
		ProductName:     l.ProductName,
		Decision:        string(l.Decision),
		OriginSessionID: l.OriginSessionID,
		NeedsFollowup:   l.NeedsFollowup,
		FollowupAt:      l.FollowupAt,
		ContextRef:      l.ContextRef,
		CreatedAt:       l.CreatedAt,
	}
	if l.ProductID != nil {
		evt.ProductID = *l.ProductID
	}
	return evt
}

func (l *Lead) clone() *Lead {
	out := *l
	if l.ProductID != nil {
		id := *l.ProductID
		out.ProductID = &id
	}
	if l.FollowupAt != nil {
		at := *l.FollowupAt
		out.FollowupAt = &at
	}
	return &out
}
