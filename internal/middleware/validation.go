package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateMessageContent validates message text. Empty content is allowed
// when an attachment carries the payload, so callers gate that separately.
func ValidateMessageContent(content string) error {
	if len(content) > 100000 { // ~100KB limit
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateUserID validates a user id.
func ValidateUserID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid user ID format")
	}
	return nil
}

// ValidateMessageID validates a message ID.
func ValidateMessageID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid message ID format")
	}
	return nil
}
