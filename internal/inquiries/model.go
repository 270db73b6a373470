package inquiries

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/wolfman30/machinery-leadbot/internal/events"
)

var (
	// ErrMissingRecipient is returned when no WhatsApp number is supplied.
	ErrMissingRecipient = errors.New("inquiries: whatsapp number is required")

	// ErrInvalidRecipient is returned when the number is not a plausible E.164 number.
	ErrInvalidRecipient = errors.New("inquiries: whatsapp number must have 8 to 15 digits")

	// ErrInquiryNotFound is returned when an inquiry is not found.
	ErrInquiryNotFound = errors.New("inquiry not found")
)

// SourceWebForm marks inquiries submitted from the storefront contact form.
const SourceWebForm = "web_form"

// Inquiry is a buyer's request to be contacted on WhatsApp.
type Inquiry struct {
	ID              string    `json:"id"`
	RecipientID     string    `json:"recipient_id"`
	DisplayName     string    `json:"display_name,omitempty"`
	ContactEmail    string    `json:"contact_email,omitempty"`
	ProductInterest string    `json:"product_interest,omitempty"`
	Message         string    `json:"message,omitempty"`
	Source          string    `json:"source"`
	CreatedAt       time.Time `json:"created_at"`
}

// CreateInquiryRequest is the POST /inquiries body.
type CreateInquiryRequest struct {
	Phone           string `json:"phone"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	ProductInterest string `json:"product_interest"`
	Message         string `json:"message"`
	Source          string `json:"source"`
}

// Normalize trims the request and returns the recipient id derived from Phone.
func (r *CreateInquiryRequest) Normalize() (string, error) {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	r.ProductInterest = strings.TrimSpace(r.ProductInterest)
	r.Message = strings.TrimSpace(r.Message)
	r.Source = strings.TrimSpace(r.Source)
	if r.Source == "" {
		r.Source = SourceWebForm
	}
	return NormalizeRecipient(r.Phone)
}

// NormalizeRecipient reduces a phone number to the digits-only form WhatsApp uses as a recipient id.
func NormalizeRecipient(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", ErrMissingRecipient
	}
	var b strings.Builder
	for _, r := range phone {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' || r == '-' || r == '(' || r == ')' || r == '.' || unicode.IsSpace(r):
		default:
			return "", ErrInvalidRecipient
		}
	}
	digits := b.String()
	if len(digits) < 8 || len(digits) > 15 {
		return "", ErrInvalidRecipient
	}
	return digits, nil
}

// CreatedEvent builds the outbox payload for a stored inquiry.
func (i *Inquiry) CreatedEvent() events.InquiryCreatedV1 {
	return events.InquiryCreatedV1{
		InquiryID:       i.ID,
		RecipientID:     i.RecipientID,
		DisplayName:     i.DisplayName,
		ProductInterest: i.ProductInterest,
		Source:          i.Source,
		CreatedAt:       i.CreatedAt,
	}
}
