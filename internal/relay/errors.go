package relay

import "errors"

var (
	ErrConnectionExists = errors.New("connection already registered")
)

// Error codes sent to clients in `error` events.
const (
	ErrorCodeBadMessage   = "bad_message"
	ErrorCodeUnknownEvent = "unknown_event"
	ErrorCodeRateLimited  = "rate_limited"
)
