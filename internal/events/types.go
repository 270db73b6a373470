package events

import "time"

// LeadCreatedV1 is emitted once per converted conversation.
type LeadCreatedV1 struct {
	LeadID          string     `json:"lead_id"`
	RecipientID     string     `json:"recipient_id"`
	DisplayName     string     `json:"display_name,omitempty"`
	ContactEmail    string     `json:"contact_email,omitempty"`
	Category        string     `json:"category,omitempty"`
	ProductName     string     `json:"product_name,omitempty"`
	ProductID       string     `json:"product_id,omitempty"`
	Decision        string     `json:"decision"`
	OriginSessionID string     `json:"origin_session_id"`
	NeedsFollowup   bool       `json:"needs_followup"`
	FollowupAt      *time.Time `json:"followup_at,omitempty"`
	ContextRef      string     `json:"context_ref,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (LeadCreatedV1) EventType() string {
	return "leads.lead.created.v1"
}

// ProviderWhatsApp namespaces processed inbound message ids.
const ProviderWhatsApp = "whatsapp"

// InquiryCreatedV1 is emitted when a buyer inquiry is recorded.
type InquiryCreatedV1 struct {
	InquiryID       string    `json:"inquiry_id"`
	RecipientID     string    `json:"recipient_id"`
	DisplayName     string    `json:"display_name,omitempty"`
	ProductInterest string    `json:"product_interest,omitempty"`
	Source          string    `json:"source"`
	CreatedAt       time.Time `json:"created_at"`
}

func (InquiryCreatedV1) EventType() string {
	return "inquiries.inquiry.created.v1"
}
