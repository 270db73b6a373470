package leads

import "errors"

var (
	// ErrInvalidLead is returned for a nil lead
	ErrInvalidLead = errors.New("leads: lead is required")

	// ErrMissingRecipient is returned when the recipient id is empty
	ErrMissingRecipient = errors.New("leads: recipient id is required")

	// ErrMissingOriginSession is returned when the lead has no originating session
	ErrMissingOriginSession = errors.New("leads: origin session id is required")

	// ErrInvalidDecision is returned when the decision is not INTERESTED or NOT_INTERESTED
	ErrInvalidDecision = errors.New("leads: decision must be INTERESTED or NOT_INTERESTED")

	// ErrLeadNotFound is returned when a lead is not found
	ErrLeadNotFound = errors.New("lead not found")
)
