package chat

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max text payload
	MaxTextChars    = 2000 // max character count
)

var (
	// ErrEmptyMessage is returned when neither text nor image is supplied.
	ErrEmptyMessage = errors.New("chat: message must contain text or an image")
	// ErrInvalidContent wraps every other content rule violation.
	ErrInvalidContent = errors.New("chat: invalid message content")
)

// ValidateContent checks that a message carries text, an image, or both, and
// that any text meets the size and encoding limits.
func ValidateContent(text, image string) error {
	if strings.TrimSpace(text) == "" && image == "" {
		return ErrEmptyMessage
	}
	if text == "" {
		return nil
	}
	return validateText(text)
}

func validateText(text string) error {
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("%w: exceeds %d byte limit", ErrInvalidContent, MaxMessageBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: contains invalid UTF-8", ErrInvalidContent)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("%w: exceeds %d character limit", ErrInvalidContent, MaxTextChars)
	}
	return nil
}
