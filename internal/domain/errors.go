package domain

import "errors"

// Error kinds returned by the pipeline. Callers classify with errors.Is; the
// wrapping error carries the detail.
var (
	// ErrInvalidArgument reports an unknown domain or variable name, or a
	// malformed run selection. Detected before any I/O.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotYetAvailable reports that the remote dataset for a run has not
	// been published yet. The fetcher absorbs it until its deadline.
	ErrNotYetAvailable = errors.New("dataset not yet available")

	// ErrTimeoutExceeded reports that the acquisition deadline passed while
	// the dataset was still unavailable.
	ErrTimeoutExceeded = errors.New("acquisition deadline exceeded")

	// ErrSchemaMismatch reports dimensions or array sizes that do not match
	// the grid definition.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrMissingArray reports a required array absent from the dataset.
	ErrMissingArray = errors.New("missing array")

	// ErrTypeMismatch reports an array of an unexpected numeric kind.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrStoreWrite reports a failed write to the array store.
	ErrStoreWrite = errors.New("store write failed")
)
