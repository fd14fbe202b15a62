package domain

import "context"

// Dataset is an opened model dataset.
type Dataset interface {
	// Dimensions lists the dataset's dimensions.
	Dimensions() ([]Dimension, error)

	// ReadArray reads a floating point array. A missing array yields
	// ErrMissingArray, a non-floating-point one ErrTypeMismatch.
	ReadArray(name string) (Array, error)

	Close() error
}

// DatasetOpener opens the dataset at a remote path. A dataset that has not
// been published yet is reported with an error matching ErrNotYetAvailable.
type DatasetOpener interface {
	Open(ctx context.Context, path string) (Dataset, error)
}
