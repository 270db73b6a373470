package messaging

import (
	"errors"
	"fmt"
)

// Outcome classifies a dispatch.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeWindowExpired Outcome = "window_expired"
	OutcomeTransient     Outcome = "transient_error"
	OutcomeRejected      Outcome = "rejected_recipient"
)

// Recoverable reports whether a later send to the same recipient may succeed.
func (o Outcome) Recoverable() bool {
	return o == OutcomeWindowExpired || o == OutcomeTransient
}

// Result is the final answer of Dispatcher.Send. Dispatch failures are
// values, not errors.
type Result struct {
	Outcome   Outcome
	Attempts  int
	Fallback  bool
	Escalated bool
	MessageID string
	Err       error
}

// Delivered reports whether the recipient received something.
func (r Result) Delivered() bool {
	return r.Outcome == OutcomeOK
}

// WhatsApp Cloud API error codes.
const (
	codeReEngagement      = 131047
	codeRateLimit         = 130429
	codeSpamRateLimit     = 131056
	codeSpamThrottle      = 131048
	codeServiceUnavail    = 131016
	codeGenericUser       = 131000
	codeAPIUnknown        = 1
	codeAPIService        = 2
	codeAppRateLimit      = 4
	codeUndeliverable     = 131026
	codeNotAllowlisted    = 131030
	codeSenderIsRecipient = 131021
)

var transientCodes = map[int]bool{
	codeRateLimit:      true,
	codeSpamRateLimit:  true,
	codeSpamThrottle:   true,
	codeServiceUnavail: true,
	codeGenericUser:    true,
	codeAPIUnknown:     true,
	codeAPIService:     true,
	codeAppRateLimit:   true,
}

var rejectedCodes = map[int]bool{
	codeUndeliverable:     true,
	codeNotAllowlisted:    true,
	codeSenderIsRecipient: true,
}

// ProviderError describes a non-2xx provider answer.
type ProviderError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("messaging: provider error %d (status %d): %s", e.Code, e.StatusCode, e.Message)
}

// Classify maps one transport attempt onto an Outcome.
func Classify(raw RawResult, err error) Outcome {
	if err != nil {
		if errors.Is(err, ErrInvalidPayload) {
			return OutcomeRejected
		}
		return OutcomeTransient
	}
	if raw.StatusCode == 0 || (raw.StatusCode >= 200 && raw.StatusCode < 300) {
		return OutcomeOK
	}
	switch {
	case raw.ErrorCode == codeReEngagement:
		return OutcomeWindowExpired
	case transientCodes[raw.ErrorCode]:
		return OutcomeTransient
	case rejectedCodes[raw.ErrorCode]:
		return OutcomeRejected
	case raw.StatusCode == 429 || raw.StatusCode >= 500:
		return OutcomeTransient
	default:
		return OutcomeRejected
	}
}

func attemptError(raw RawResult, err error) error {
	if err != nil {
		return err
	}
	if raw.StatusCode == 0 || (raw.StatusCode >= 200 && raw.StatusCode < 300) {
		return nil
	}
	return &ProviderError{StatusCode: raw.StatusCode, Code: raw.ErrorCode, Message: raw.ErrorMessage}
}
