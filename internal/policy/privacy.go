// Package policy applies privacy rules to messages before they are stored.
package policy

import (
	"fmt"
	"hash/fnv"
	"regexp"

	"github.com/mvailla/chatsight/internal/store"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactPII masks common high-risk PII patterns in message text.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Card redaction runs before phone so card numbers are not classified
	// as phone numbers.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// Privacy is the per-deployment privacy posture applied at ingestion.
type Privacy struct {
	// Anonymize replaces sender identity with a stable pseudonym so
	// "what did user-4c1f say" still works across messages.
	Anonymize bool
	// RedactPII masks emails, phone and card numbers in message text.
	RedactPII bool
	// MetadataOnly drops message text entirely; only timing, sender and
	// media metadata are retained.
	MetadataOnly bool
}

// Apply returns the message with the privacy posture enforced. The input is
// not modified.
func (p Privacy) Apply(msg store.StoredMessage) store.StoredMessage {
	if p.Anonymize {
		id := msg.SenderID
		if id == "" {
			id = msg.SenderName
		}
		msg.SenderName = Pseudonym(id)
		msg.SenderID = ""
	}
	if p.MetadataOnly {
		msg.Text = ""
		msg.HasText = false
	} else if p.RedactPII && msg.HasText {
		msg.Text, _ = RedactPII(msg.Text)
	}
	return msg
}

// Pseudonym derives a stable opaque handle from a sender identity. Empty
// identities collapse to a shared anonymous handle.
func Pseudonym(senderID string) string {
	if senderID == "" {
		return "user-anon"
	}
	h := fnv.New32a()
	h.Write([]byte(senderID))
	return fmt.Sprintf("user-%04x", h.Sum32()&0xffff)
}
