package router

import "errors"

// Router-specific errors
var (
	ErrNilConnection     = errors.New("connection cannot be nil")
	ErrAlreadyJoined     = errors.New("session already joined a room")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)
