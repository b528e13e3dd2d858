package eventstore

import "errors"

// Only ledger-path failures propagate to callers of the facade; accelerator
// and publish failures are logged and swallowed.
var (
	// ErrVersionConflict means a concurrent writer already used this
	// (aggregate_id, version). The caller recomputes its version and retries.
	ErrVersionConflict = errors.New("version conflict for aggregate")

	// ErrUnknownEventType means the event kind is not in the closed enumeration.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrNotFound is a normal empty result (no snapshot, no events), not a failure.
	ErrNotFound = errors.New("not found")
)
