package rpcbus

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// responseIDCounter hands out the numeric response_ptr_id used to key
// the continuation table. Zero is reserved to mean "initial request",
// so the counter starts at 1.
var responseIDCounter uint32

// NewResponseID allocates the next response_ptr_id for a suspended
// request. Safe for concurrent use.
func NewResponseID() uint32 {
	return atomic.AddUint32(&responseIDCounter, 1)
}

// TraceID returns a fresh request-tracing identifier for log
// correlation. It never appears on the wire — the wire header only
// ever carries the 32-bit ids above. No server in this tree calls it
// or attaches it to its logrus fields.
func TraceID() string {
	return uuid.NewString()
}
