package message

import "errors"

// ErrTimeout marks a transient network timeout. The processing queues
// re-enqueue timed-out messages through the router without consuming a
// retry. Wrap it with %w so errors.Is sees through the chain.
var ErrTimeout = errors.New("operation timed out")
