package metadata

import "math"

// BlockAllocationHandle is an opaque, generation-checked reference to a block record. The upper
// 32 bits hold the record's index in the catalogue and the lower 32 bits hold the generation the
// record had when the handle was issued. Freeing a block moves its record to a new generation,
// so handles issued before the free stop resolving.
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

func newHandle(index int, generation uint32) BlockAllocationHandle {
	return BlockAllocationHandle(uint64(index)<<32 | uint64(generation))
}

func (h BlockAllocationHandle) index() int {
	return int(uint64(h) >> 32)
}

func (h BlockAllocationHandle) generation() uint32 {
	return uint32(h)
}

// Suballocation is a single record in the catalogue: a named range of the arena
type Suballocation struct {
	Offset int
	// Size is the number of bytes reserved for the record when it was carved. It is what the record
	// contributes to the used total while in use, and it never changes after the record is created.
	Size int
	// RequestedSize is the number of bytes asked for by the allocation currently occupying the record.
	// It is at most Size, and smaller when a larger free record was reused.
	RequestedSize int
	Name          Label
	Free          bool
	Generation    uint32
}
