package nstring

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/nulibc/nucore/memutils"
)

//go:generate mockgen -source allocator.go -destination ./mocks/allocator.go

// Allocator provides backing storage for new spans. Allocate must return a slice of at least size
// bytes that aliases no other live span.
type Allocator interface {
	Allocate(size int) ([]byte, error)
}

// HeapAllocator is an Allocator backed by ordinary Go allocation
type HeapAllocator struct{}

var _ Allocator = HeapAllocator{}

func (HeapAllocator) Allocate(size int) (data []byte, err error) {
	err = memutils.CheckNonNegative(size, "size")
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = cerrors.Wrapf(memutils.ErrAllocationFailed, "could not allocate %d bytes: %v", size, r)
		}
	}()

	return make([]byte, size), nil
}

func allocate(alloc Allocator, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}

	data, err := alloc.Allocate(size)
	if err != nil {
		return nil, cerrors.Mark(cerrors.Wrapf(err, "allocating %d bytes of span storage", size), memutils.ErrAllocationFailed)
	}

	if len(data) < size {
		return nil, cerrors.Wrapf(memutils.ErrAllocationFailed, "the allocator returned %d bytes, but %d bytes were requested", len(data), size)
	}

	return data[:size:size], nil
}
