// Package event defines the canonical event envelope and event-type registry
// used by the shopstream write path.
//
// Events are immutable business facts appended to typed streams. The registry
// enforces stream-type ownership and payload validity before persistence
// assigns per-stream and global sequence numbers. A stable event contract is
// the foundation for replay, projection correctness, and cross-stream
// correlation.
package event
