package conversation

import "github.com/wolfman30/machinery-leadbot/internal/messaging"

// StartRequest asks the engine to open a conversation with a recipient.
type StartRequest struct {
	RecipientID  string `json:"recipient_id"`
	DisplayName  string `json:"display_name,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	ContextRef   string `json:"context_ref,omitempty"`
}

// EngineResult reports what happened for one start or inbound event.
//
// OK is true when the event was fully handled: the reply was delivered, no
// reply was needed, or a lead was written. Outcome is the outcome of the
// last dispatch, empty when nothing was sent.
type EngineResult struct {
	OK        bool              `json:"ok" dynamodbav:"ok"`
	SessionID string            `json:"session_id,omitempty" dynamodbav:"sessionId,omitempty"`
	State     string            `json:"state,omitempty" dynamodbav:"state,omitempty"`
	Terminal  bool              `json:"terminal" dynamodbav:"terminal"`
	LeadID    string            `json:"lead_id,omitempty" dynamodbav:"leadId,omitempty"`
	Escalated bool              `json:"escalated" dynamodbav:"escalated"`
	Outcome   messaging.Outcome `json:"outcome,omitempty" dynamodbav:"outcome,omitempty"`
}
