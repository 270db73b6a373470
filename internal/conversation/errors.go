package conversation

import "errors"

var (
	// ErrNoActiveSession means the session was already converted or removed
	// and no lead exists for it.
	ErrNoActiveSession = errors.New("conversation: no active session")
	// ErrInvalidDecision is returned for a conversion decision other than
	// INTERESTED or NOT_INTERESTED.
	ErrInvalidDecision = errors.New("conversation: invalid decision")
	// ErrNotConfirming is returned when converting a session that has not
	// reached the interest prompt.
	ErrNotConfirming = errors.New("conversation: session is not confirming interest")
	// ErrMissingRecipient is returned when an event or start request has no recipient.
	ErrMissingRecipient = errors.New("conversation: recipient required")
)
