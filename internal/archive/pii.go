package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

type redaction struct {
	re          *regexp.Regexp
	placeholder string
}

// Order matters: GSTINs contain digit runs the phone rule would otherwise eat.
var redactions = []redaction{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`\b\d{2}[A-Z]{5}\d{4}[A-Z][1-9A-Z]Z[0-9A-Z]\b`), "[GSTIN]"},
	{regexp.MustCompile(`\+?\d[\d\s\-().]{8,}\d`), "[PHONE]"},
}

// HashRecipient returns the hex-encoded SHA-256 of a WhatsApp recipient id.
func HashRecipient(recipientID string) string {
	h := sha256.Sum256([]byte(recipientID))
	return hex.EncodeToString(h[:])
}

// ScrubPII masks e-mail addresses, GST registration numbers and phone numbers
// that buyers type into the chat. Names are kept.
func ScrubPII(text string) string {
	for _, r := range redactions {
		text = r.re.ReplaceAllString(text, r.placeholder)
	}
	return text
}

// ScrubMessages scrubs every message in place.
func ScrubMessages(msgs []Message) {
	for i := range msgs {
		msgs[i].Content = ScrubPII(msgs[i].Content)
	}
}
