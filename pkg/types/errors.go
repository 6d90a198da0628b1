package types

import "errors"

// Validation errors shared by every component that accepts client input.
var (
	ErrUnknownGroup      = errors.New("unknown group")
	ErrInvalidUsername   = errors.New("username must be 1-50 characters, alphanumeric, underscore, hyphen or dot")
	ErrInvalidKind       = errors.New("message kind must be 1-32 characters")
	ErrBodyTooLong       = errors.New("message body exceeds the allowed length")
	ErrInvalidAttachment = errors.New("invalid attachment")
)
