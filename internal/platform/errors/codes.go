// Package errors provides structured error handling for the projection engine.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Stream errors
	CodeStreamNotFound     Code = "STREAM_NOT_FOUND"
	CodeStreamTypeMismatch Code = "STREAM_TYPE_MISMATCH"
	CodeStreamExists       Code = "STREAM_EXISTS"
	CodeConcurrentAppend   Code = "CONCURRENT_APPEND"

	// Fold errors
	CodeMissingInitialEvent Code = "MISSING_INITIAL_EVENT"

	// Business rule errors
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeItemArchived      Code = "ITEM_ARCHIVED"
	CodeOrderClosed       Code = "ORDER_CLOSED"

	// Projection errors
	CodeProjectionUnknown     Code = "PROJECTION_UNKNOWN"
	CodeRebuildNotSupported   Code = "REBUILD_NOT_SUPPORTED"
	CodeLifecycleNotSupported Code = "LIFECYCLE_NOT_SUPPORTED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)
