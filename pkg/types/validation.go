package types

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Compiled once; validation runs on every inbound event.
var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	validate      = validator.New()
)

// IsValidUsername checks the format of a declared username.
func IsValidUsername(username string) bool {
	if len(username) < 1 || len(username) > 50 {
		return false
	}
	return usernameRegex.MatchString(username)
}

// Validate checks a message that is about to be persisted.
// maxBody is the body limit in runes; zero disables the check.
// An empty kind defaults to MessageKindText, or to the attachment kind.
func (m *ChatMessage) Validate(maxBody int) error {
	if !IsValidGroup(m.Group) {
		return ErrUnknownGroup
	}
	if !IsValidUsername(m.Sender) {
		return ErrInvalidUsername
	}

	if m.Kind == "" {
		switch {
		case m.VoiceNote != nil:
			m.Kind = MessageKindVoice
		case m.FileAttachment != nil:
			m.Kind = MessageKindFile
		default:
			m.Kind = MessageKindText
		}
	}
	if len(m.Kind) > 32 {
		return ErrInvalidKind
	}

	if maxBody > 0 && utf8.RuneCountInString(m.Body) > maxBody {
		return ErrBodyTooLong
	}

	if m.VoiceNote != nil {
		if err := validate.Struct(m.VoiceNote); err != nil {
			return fmt.Errorf("%w: voice note: %v", ErrInvalidAttachment, err)
		}
	}
	if m.FileAttachment != nil {
		if err := validate.Struct(m.FileAttachment); err != nil {
			return fmt.Errorf("%w: file: %v", ErrInvalidAttachment, err)
		}
	}

	return nil
}

// IsEmpty reports whether the message has neither text nor an attachment.
func (m *ChatMessage) IsEmpty() bool {
	return strings.TrimSpace(m.Body) == "" && !m.HasAttachment()
}
