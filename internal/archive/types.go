package archive

import "time"

const recordVersion = "1.0"

// ConversationRecord is the transcript snapshot written to S3 when a session converts into a lead.
type ConversationRecord struct {
	Version         string    `json:"version"`
	SessionID       string    `json:"session_id"`
	LeadID          string    `json:"lead_id"`
	RecipientHash   string    `json:"recipient_hash"` // sha256 of the WhatsApp id
	Decision        string    `json:"decision"`
	Category        string    `json:"category,omitempty"`
	ProductID       string    `json:"product_id,omitempty"`
	ProductName     string    `json:"product_name,omitempty"`
	ContextRef      string    `json:"context_ref,omitempty"`
	ArchivedAt      time.Time `json:"archived_at"`
	DurationSeconds int       `json:"duration_seconds"`
	MessageCount    int       `json:"message_count"`
	Messages        []Message `json:"messages"`
}

// Message is a single conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	SessionID    string `json:"session_id"`
	LeadID       string `json:"lead_id"`
	S3Key        string `json:"s3_key"`
	Decision     string `json:"decision"`
	Category     string `json:"category,omitempty"`
	ArchivedAt   string `json:"archived_at"`
	MessageCount int    `json:"message_count"`
}
