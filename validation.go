package dmbox

import (
	"strings"
	"unicode/utf8"
)

// Limits holds send validation limits.
type Limits struct {
	MaxRecipients int
	MaxTextLength int // in runes
}

// DefaultLimits returns the default send limits.
func DefaultLimits() Limits {
	return Limits{
		MaxRecipients: DefaultMaxRecipients,
		MaxTextLength: DefaultMaxTextLength,
	}
}

// ValidateRecipients checks the shape of a recipient list: non-empty,
// within limits, and not addressed to the sender. recipientIDs must already
// be deduplicated. Existence is checked separately against the directory.
func ValidateRecipients(senderID string, recipientIDs []string, limits Limits) error {
	if len(recipientIDs) == 0 {
		return NewValidationError("recipientIDs", ErrEmptyRecipients, "at least one recipient is required")
	}
	if len(recipientIDs) > limits.MaxRecipients {
		return NewValidationError("recipientIDs", ErrTooManyRecipients,
			"%d recipients exceeds max %d", len(recipientIDs), limits.MaxRecipients)
	}
	for _, id := range recipientIDs {
		if id == senderID {
			return NewValidationError("recipientIDs", ErrSelfRecipient, "sender cannot be a recipient")
		}
	}
	return nil
}

// ValidateText checks optional message text. A nil text is valid.
func ValidateText(text *string, limits Limits) error {
	if text == nil {
		return nil
	}
	t := *text
	if !utf8.ValidString(t) {
		return NewValidationError("textContent", ErrInvalidText, "text contains invalid UTF-8")
	}
	if strings.ContainsRune(t, '\x00') {
		return NewValidationError("textContent", ErrInvalidText, "text contains null bytes")
	}
	if n := utf8.RuneCountInString(t); n > limits.MaxTextLength {
		return NewValidationError("textContent", ErrTextTooLong,
			"text length %d exceeds max %d", n, limits.MaxTextLength)
	}
	return nil
}

// deduplicateRecipients removes duplicate recipient IDs, keeping the first
// occurrence of each.
func deduplicateRecipients(recipientIDs []string) []string {
	if len(recipientIDs) <= 1 {
		return recipientIDs
	}
	seen := make(map[string]struct{}, len(recipientIDs))
	out := make([]string, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
