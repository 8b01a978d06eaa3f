package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/nulibc/nucore/memutils"
)

// BlockMetadata is the catalogue for a single arena of memory. It tracks named blocks carved out
// of the arena, allowing blocks to be requested, freed, reused, enumerated and queried, without
// ever touching the arena's bytes itself.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. It informs the implementation of the
	// size in bytes of the arena it will be managing.
	Init(size int)
	// Size retrieves the size in bytes that the arena was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. These checks may be expensive, depending
	// on the implementation. When the implementation is functioning correctly, it should not be possible
	// for this method to return an error, but this may assist in diagnosing issues with the implementation.
	Validate() error
	// AllocationCount returns the number of blocks currently in use
	AllocationCount() int
	// RecordCount returns the number of records in the catalogue, in use or free
	RecordCount() int
	// SumUsedSize returns the sum of Size over every record currently in use
	SumUsedSize() int
	// SumFreeSize returns the number of bytes of the arena not attributed to an in-use record
	SumFreeSize() int
	// CarvedSize returns the number of bytes of the arena that have been handed to records so far,
	// including debug margins
	CarvedSize() int
	// IsEmpty will return true if no block is currently in use
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each record in catalogue order. Free
	// records are visited with the handle NoAllocation.
	VisitAllRegions(handleBlock func(handle BlockAllocationHandle, block Suballocation) error) error
	// Suballocation accepts a BlockAllocationHandle and returns the record it refers to.
	//
	// The implementation must return an error wrapping memutils.ErrInvalidBlock if the handle does not
	// map to an in-use record of this catalogue.
	Suballocation(allocHandle BlockAllocationHandle) (Suballocation, error)
	// FindByName returns the handle of the first in-use record, in catalogue order, whose label
	// matches name
	FindByName(name string) (BlockAllocationHandle, bool)

	// AddDetailedStatistics sums this arena's statistics into the provided memutils.DetailedStatistics
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this arena's statistics into the provided memutils.Statistics
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly drops every record. Handles issued before Clear never resolve again.
	Clear()
	// BlockJsonData populates a json object with information about this arena
	BlockJsonData(json jwriter.ObjectState)

	// CheckCorruption accepts the arena this catalogue manages. It will return nil if the anti-corruption
	// markers are present after every record. Markers are only written when memutils is built with the
	// build flag `debug_mem_utils`, and it is the responsibility of consumers to write them after carving
	// a record, by calling memutils.WriteMagicValue at Offset+Size.
	CheckCorruption(blockData []byte) error

	// CreateAllocationRequest retrieves an AllocationRequest object indicating where the implementation
	// would place an allocation of allocSize bytes. It does not modify the catalogue. The boolean return
	// value is false when the allocation cannot be satisfied.
	CreateAllocationRequest(allocSize int) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest object, marking a record as in use under the provided label.
	// The implementation must return an error if the request is no longer valid.
	Alloc(request AllocationRequest, name Label) (BlockAllocationHandle, error)

	// Free marks an in-use record as free, making it available for reuse.
	//
	// The implementation must return an error wrapping memutils.ErrInvalidBlock if the provided handle
	// does not map to an in-use record of this catalogue.
	Free(allocHandle BlockAllocationHandle) error
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations in the memutils module.
type BlockMetadataBase struct {
	size int
}

// Init prepares this structure for allocations and sizes the arena in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the arena in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

// BlockJsonData populates a json object with information about this arena
func (m *BlockMetadataBase) BlockJsonData(json jwriter.ObjectState, usedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UsedBytes").Int(usedBytes)
	json.Name("UnusedBytes").Int(m.Size() - usedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
