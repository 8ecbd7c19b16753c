package event

import (
	"time"

	"github.com/google/uuid"
)

// Envelope wraps the outputs of one applied command in the log
type Envelope struct {
	// Global monotonic sequence assigned by the core
	Sequence int64

	// Stable idempotency key of the source command
	CommandID uuid.UUID

	// Command type that produced these events
	CommandType string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// Partition the source sequence belongs to
	Partition string

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}
