package middleware

import (
	"errors"
	"unicode/utf8"
)

// ValidateMessageContent validates a chat message body.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > 100000 { // ~100KB limit
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateIdentity validates a role-qualified identity, e.g. "seller_42".
func ValidateIdentity(identity string) error {
	if len(identity) == 0 {
		return errors.New("identity cannot be empty")
	}
	if len(identity) > 128 {
		return errors.New("identity exceeds maximum length")
	}
	if !utf8.ValidString(identity) {
		return errors.New("identity must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates an opaque conversation key.
func ValidateConversationID(id string) error {
	if len(id) == 0 {
		return errors.New("conversation ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("conversation ID exceeds maximum length")
	}
	return nil
}
