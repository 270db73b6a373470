package session

import (
	"time"

	"github.com/google/uuid"
)

// State is a step of the guided buying conversation.
type State string

const (
	StateNew                State = "NEW"
	StateWelcomed           State = "WELCOMED"
	StateBrowsingCategories State = "BROWSING_CATEGORIES"
	StateViewingMachines    State = "VIEWING_MACHINES"
	StateConfirmingInterest State = "CONFIRMING_INTEREST"
	StateInterested         State = "INTERESTED"
	StateNotInterested      State = "NOT_INTERESTED"
	StateCompleted          State = "COMPLETED"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateNew, StateWelcomed, StateBrowsingCategories, StateViewingMachines,
		StateConfirmingInterest, StateInterested, StateNotInterested, StateCompleted:
		return true
	}
	return false
}

// Terminal reports whether a session in this state may only be removed, never resumed.
func (s State) Terminal() bool {
	return s == StateInterested || s == StateNotInterested || s == StateCompleted
}

// Direction marks who produced a transcript turn.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

const maxHistory = 50

// Turn is one line of the conversation transcript.
type Turn struct {
	Direction Direction `json:"direction"`
	Body      string    `json:"body"`
	At        time.Time `json:"at"`
}

// Seed carries optional first-contact details.
type Seed struct {
	DisplayName  string
	ContactEmail string
	ContextRef   string
}

// Session is the per-recipient conversation state.
type Session struct {
	ID                 string     `json:"id"`
	RecipientID        string     `json:"recipient_id"`
	DisplayName        string     `json:"display_name,omitempty"`
	ContactEmail       string     `json:"contact_email,omitempty"`
	ContextRef         string     `json:"context_ref,omitempty"`
	State              State      `json:"state"`
	CurrentCategory    string     `json:"current_category,omitempty"`
	CurrentProduct     string     `json:"current_product,omitempty"`
	CurrentProductName string     `json:"current_product_name,omitempty"`
	NeedsFollowup      bool       `json:"needs_followup"`
	FollowupAt         *time.Time `json:"followup_at,omitempty"`
	History            []Turn     `json:"history,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// New builds a fresh session in the NEW state.
func New(recipientID string, seed Seed, now time.Time) *Session {
	now = now.UTC()
	return &Session{
		ID:           uuid.NewString(),
		RecipientID:  recipientID,
		DisplayName:  seed.DisplayName,
		ContactEmail: seed.ContactEmail,
		ContextRef:   seed.ContextRef,
		State:        StateNew,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.FollowupAt != nil {
		at := *s.FollowupAt
		out.FollowupAt = &at
	}
	if s.History != nil {
		out.History = append([]Turn(nil), s.History...)
	}
	return &out
}

// AppendTurn records a transcript line, keeping only the most recent turns.
func (s *Session) AppendTurn(dir Direction, body string, at time.Time) {
	if body == "" {
		return
	}
	s.History = append(s.History, Turn{Direction: dir, Body: body, At: at.UTC()})
	if over := len(s.History) - maxHistory; over > 0 {
		s.History = append([]Turn(nil), s.History[over:]...)
	}
}

// ResetSelection drops category and product context.
func (s *Session) ResetSelection() {
	s.CurrentCategory = ""
	s.CurrentProduct = ""
	s.CurrentProductName = ""
}
