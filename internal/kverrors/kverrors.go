// Package kverrors defines the fixed error taxonomy surfaced at the
// engine boundary. Every error the engine returns to a caller is one
// of these sentinels, or wraps one via %w, so callers can use
// errors.Is without depending on error message text.
package kverrors

import "errors"

var (
	// ErrKeyNotFound is returned by Rm when the key is absent. Get
	// reports a miss through its found result instead, with a nil error.
	ErrKeyNotFound = errors.New("kv: key not found")

	// ErrIO wraps a file read/write/open failure.
	ErrIO = errors.New("kv: io error")

	// ErrCorrupt indicates a malformed record during recovery or compaction.
	ErrCorrupt = errors.New("kv: corrupt record")

	// ErrClosed is returned for any operation attempted after Close.
	ErrClosed = errors.New("kv: engine closed")

	// ErrValueTooLarge is returned when a key or value exceeds the
	// configured size bound, before any write is attempted.
	ErrValueTooLarge = errors.New("kv: value too large")
)
