package gateway

import "errors"

var (
	ErrAlreadyIdentified = errors.New("identity already declared for this session")
	ErrNotIdentified     = errors.New("declare an identity first")
	ErrSessionClosed     = errors.New("session is closed")
	ErrEmptyMessage      = errors.New("message needs a body or an attachment")
	ErrGroupMismatch     = errors.New("message group does not match the session group")
	ErrMalformedEvent    = errors.New("malformed event")
	ErrUnknownEvent      = errors.New("unknown event")
)
