package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrHubStopped        = errors.New("hub was stopped and cannot be restarted")
	ErrNilMessage        = errors.New("message is nil")
	ErrNoStore           = errors.New("no message store configured")
	ErrStoreTimeout      = errors.New("message store timed out")
)
