package memory

import "errors"

var (
	// ErrEmbeddingUnavailable means the embedding service failed, timed out
	// or returned an unusable vector.
	ErrEmbeddingUnavailable = errors.New("memory: embedding unavailable")

	// ErrDimensionMismatch means a vector's length differs from the store's
	// dimension. It is a configuration fault and is not retryable.
	ErrDimensionMismatch = errors.New("memory: dimension mismatch")

	// ErrCorruptPersistentState means the durable index and turn log disagree
	// (record count, checksum, dimension) or one of them is unreadable.
	ErrCorruptPersistentState = errors.New("memory: corrupt persistent state")

	// ErrPersistenceFailed means a write of the durable artifacts failed.
	ErrPersistenceFailed = errors.New("memory: persistence failed")

	// ErrNeedsReload is returned by writes after a persistence failure whose
	// on-disk outcome could not be restored.
	ErrNeedsReload = errors.New("memory: store needs reload")

	// ErrInvalidRole is returned for roles other than user and assistant.
	ErrInvalidRole = errors.New("memory: invalid role")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("memory: store closed")
)
