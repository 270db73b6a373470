package messaging

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPayload is returned for payloads the channel cannot carry.
var ErrInvalidPayload = errors.New("messaging: invalid payload")

const (
	// MaxButtons is the reply-button limit of an interactive message.
	MaxButtons = 3
	// MaxListRows is the row limit of an interactive list.
	MaxListRows = 10
)

// Kind names the payload variant.
type Kind string

const (
	KindText     Kind = "text"
	KindButtons  Kind = "buttons"
	KindList     Kind = "list"
	KindTemplate Kind = "template"
)

// Payload is one outbound message. Implementations: Text, Buttons, List, Template.
type Payload interface {
	Kind() Kind
	// Summary renders the payload as plain text for transcripts and logs.
	Summary() string
}

type Text struct {
	Body string
}

type Button struct {
	ID    string
	Title string
}

// Buttons is a body with up to three quick-reply buttons.
type Buttons struct {
	Body    string
	Buttons []Button
}

type Row struct {
	ID          string
	Title       string
	Description string
}

// List is an interactive list menu opened by ButtonText.
type List struct {
	Header     string
	Body       string
	ButtonText string
	Rows       []Row
}

// Template is a pre-approved template message, the only kind deliverable
// outside the customer-service window.
type Template struct {
	Name     string
	Language string
}

func (Text) Kind() Kind     { return KindText }
func (Buttons) Kind() Kind  { return KindButtons }
func (List) Kind() Kind     { return KindList }
func (Template) Kind() Kind { return KindTemplate }

func (t Text) Summary() string { return t.Body }

func (b Buttons) Summary() string {
	titles := make([]string, 0, len(b.Buttons))
	for _, btn := range b.Buttons {
		titles = append(titles, btn.Title)
	}
	return fmt.Sprintf("%s [%s]", b.Body, strings.Join(titles, " | "))
}

func (l List) Summary() string {
	titles := make([]string, 0, len(l.Rows))
	for _, row := range l.Rows {
		titles = append(titles, row.Title)
	}
	return fmt.Sprintf("%s [%s]", l.Body, strings.Join(titles, " | "))
}

func (t Template) Summary() string { return "template:" + t.Name }

// Validate checks the structural limits of the payload.
func Validate(p Payload) error {
	switch v := p.(type) {
	case Text:
		if strings.TrimSpace(v.Body) == "" {
			return fmt.Errorf("%w: empty text body", ErrInvalidPayload)
		}
	case Buttons:
		if strings.TrimSpace(v.Body) == "" {
			return fmt.Errorf("%w: empty button body", ErrInvalidPayload)
		}
		if len(v.Buttons) == 0 || len(v.Buttons) > MaxButtons {
			return fmt.Errorf("%w: %d buttons (want 1-%d)", ErrInvalidPayload, len(v.Buttons), MaxButtons)
		}
		for _, btn := range v.Buttons {
			if btn.ID == "" || btn.Title == "" {
				return fmt.Errorf("%w: button id and title required", ErrInvalidPayload)
			}
		}
	case List:
		if strings.TrimSpace(v.Body) == "" || strings.TrimSpace(v.ButtonText) == "" {
			return fmt.Errorf("%w: list body and button text required", ErrInvalidPayload)
		}
		if len(v.Rows) == 0 || len(v.Rows) > MaxListRows {
			return fmt.Errorf("%w: %d rows (want 1-%d)", ErrInvalidPayload, len(v.Rows), MaxListRows)
		}
		for _, row := range v.Rows {
			if row.ID == "" || row.Title == "" {
				return fmt.Errorf("%w: row id and title required", ErrInvalidPayload)
			}
		}
	case Template:
		if strings.TrimSpace(v.Name) == "" {
			return fmt.Errorf("%w: template name required", ErrInvalidPayload)
		}
	case nil:
		return fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	default:
		return fmt.Errorf("%w: unsupported payload %T", ErrInvalidPayload, p)
	}
	return nil
}
