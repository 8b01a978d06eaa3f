package memutils

import "github.com/pkg/errors"

var (
	// ErrAllocationFailed is returned when the host could not provide backing memory, either for a pool's
	// arena or for the storage of a new string span
	ErrAllocationFailed error = errors.New("allocation failed")
	// ErrPoolExhausted is returned when a pool cannot satisfy an allocation from its remaining capacity.
	// It is an expected, recoverable condition: the pool is left unchanged.
	ErrPoolExhausted error = errors.New("pool exhausted")
	// ErrInvalidBlock is returned when a block handle does not map to a live block within the pool it was
	// passed to: double frees, foreign handles, and any use of a pool after it has been cleaned up
	ErrInvalidBlock error = errors.New("invalid block")
	// ErrOutOfRange is returned when a span is sliced beyond its bounds
	ErrOutOfRange error = errors.New("out of range")
	// ErrInvalidInput is returned when absent or malformed data is passed to a constructor
	ErrInvalidInput error = errors.New("invalid input")
)
