package metadata

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/nulibc/nucore/memutils"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// FirstFitBlockMetadata is a BlockMetadata implementation that carves an arena front to back and
// reuses freed records with a first-fit policy.
//
// Records are never split, merged or moved. An allocation is satisfied by, in order:
//   - the first free record, in catalogue order, whose Size is at least the requested size. The
//     record keeps its original Size, so the allocation may be charged more bytes than it asked for.
//   - a new record appended at the end of the carved region, if both the used total and the
//     carved region can absorb it.
//
// Because records are only ever appended, catalogue order is also arena offset order, and the bytes
// held by freed records stay with those records for the lifetime of the arena.
type FirstFitBlockMetadata struct {
	BlockMetadataBase

	suballocations []Suballocation
	// Indices of free records. Iteration is ascending, which is catalogue order.
	freeRecords *roaring.Bitmap
	// Ascending indices of in-use records, keyed by label
	nameIndex *swiss.Map[string, []uint32]

	sumUsedSize     int
	carvedSize      int
	allocationCount int
	generation      uint32
}

var _ BlockMetadata = &FirstFitBlockMetadata{}

// NewFirstFitBlockMetadata creates an empty FirstFitBlockMetadata. Init must be called before use.
func NewFirstFitBlockMetadata() *FirstFitBlockMetadata {
	return &FirstFitBlockMetadata{
		freeRecords: roaring.New(),
		nameIndex:   swiss.NewMap[string, []uint32](42),
	}
}

// Init prepares this structure for allocations and sizes the arena in bytes based on the parameter size.
func (m *FirstFitBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
}

func (m *FirstFitBlockMetadata) AllocationCount() int { return m.allocationCount }

func (m *FirstFitBlockMetadata) RecordCount() int { return len(m.suballocations) }

func (m *FirstFitBlockMetadata) SumUsedSize() int { return m.sumUsedSize }

func (m *FirstFitBlockMetadata) SumFreeSize() int { return m.Size() - m.sumUsedSize }

func (m *FirstFitBlockMetadata) CarvedSize() int { return m.carvedSize }

func (m *FirstFitBlockMetadata) IsEmpty() bool { return m.allocationCount == 0 }

func (m *FirstFitBlockMetadata) nextGeneration() uint32 {
	m.generation++
	if m.generation == 0 {
		m.generation = 1
	}
	return m.generation
}

func (m *FirstFitBlockMetadata) resolve(allocHandle BlockAllocationHandle) (int, error) {
	if allocHandle == NoAllocation {
		return -1, cerrors.Wrap(memutils.ErrInvalidBlock, "the handle does not refer to any block")
	}

	index := allocHandle.index()
	if index >= len(m.suballocations) {
		return -1, cerrors.Wrapf(memutils.ErrInvalidBlock, "the handle refers to record %d, but the catalogue only has %d records", index, len(m.suballocations))
	}

	suballoc := &m.suballocations[index]
	if suballoc.Free || suballoc.Generation != allocHandle.generation() {
		return -1, cerrors.Wrapf(memutils.ErrInvalidBlock, "the handle for record %d is stale: the block has been freed since it was issued", index)
	}

	return index, nil
}

func (m *FirstFitBlockMetadata) Suballocation(allocHandle BlockAllocationHandle) (Suballocation, error) {
	index, err := m.resolve(allocHandle)
	if err != nil {
		return Suballocation{}, err
	}

	return m.suballocations[index], nil
}

func (m *FirstFitBlockMetadata) FindByName(name string) (BlockAllocationHandle, bool) {
	indices, ok := m.nameIndex.Get(name)
	if !ok || len(indices) == 0 {
		return NoAllocation, false
	}

	index := indices[0]
	return newHandle(int(index), m.suballocations[index].Generation), true
}

func (m *FirstFitBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, block Suballocation) error) error {
	for index, suballoc := range m.suballocations {
		handle := NoAllocation
		if !suballoc.Free {
			handle = newHandle(index, suballoc.Generation)
		}

		err := handleBlock(handle, suballoc)
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *FirstFitBlockMetadata) tailSize() int {
	return m.Size() - m.carvedSize
}

func (m *FirstFitBlockMetadata) unusedRangeCount() int {
	count := int(m.freeRecords.GetCardinality())
	if m.tailSize() > 0 {
		count++
	}
	return count
}

func (m *FirstFitBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.ArenaCount++
	stats.ArenaBytes += m.Size()
	stats.BlockCount += m.allocationCount
	stats.BlockBytes += m.sumUsedSize
}

func (m *FirstFitBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.ArenaCount++
	stats.ArenaBytes += m.Size()

	for _, suballoc := range m.suballocations {
		if suballoc.Free {
			stats.AddFreeBlock(suballoc.Size)
		} else {
			stats.AddBlock(suballoc.Size)
		}
	}

	if tail := m.tailSize(); tail > 0 {
		stats.AddUnusedRange(tail)
	}
}

func (m *FirstFitBlockMetadata) BlockJsonData(json jwriter.ObjectState) {
	m.BlockMetadataBase.BlockJsonData(json, m.sumUsedSize, m.allocationCount, m.unusedRangeCount())
	json.Name("CarvedBytes").Int(m.carvedSize)
	json.Name("Records").Int(len(m.suballocations))
}

func (m *FirstFitBlockMetadata) Clear() {
	m.suballocations = nil
	m.freeRecords.Clear()
	m.nameIndex = swiss.NewMap[string, []uint32](42)
	m.sumUsedSize = 0
	m.carvedSize = 0
	m.allocationCount = 0
}

func (m *FirstFitBlockMetadata) CheckCorruption(blockData []byte) error {
	if len(blockData) < m.carvedSize {
		return errors.Errorf("the provided arena is %d bytes, but %d bytes have been carved from it", len(blockData), m.carvedSize)
	}

	for index, suballoc := range m.suballocations {
		if !memutils.ValidateMagicValue(blockData, suballoc.Offset+suballoc.Size) {
			return errors.Errorf("memory corruption detected after record %d (%q) at offset %d", index, suballoc.Name.String(), suballoc.Offset)
		}
	}

	return nil
}

func (m *FirstFitBlockMetadata) CreateAllocationRequest(allocSize int) (bool, AllocationRequest, error) {
	err := memutils.CheckPositive(allocSize, "allocSize")
	if err != nil {
		return false, AllocationRequest{}, err
	}

	it := m.freeRecords.Iterator()
	for it.HasNext() {
		index := int(it.Next())
		suballoc := m.suballocations[index]

		if suballoc.Size >= allocSize {
			return true, AllocationRequest{
				BlockAllocationHandle: newHandle(index, suballoc.Generation),
				Offset:                suballoc.Offset,
				Size:                  suballoc.Size,
				RequestedSize:         allocSize,
				Type:                  AllocationRequestReuse,
			}, nil
		}
	}

	if !m.canAppend(allocSize) {
		return false, AllocationRequest{}, nil
	}

	return true, AllocationRequest{
		BlockAllocationHandle: NoAllocation,
		Offset:                m.carvedSize,
		Size:                  allocSize,
		RequestedSize:         allocSize,
		Type:                  AllocationRequestAppend,
	}, nil
}

func (m *FirstFitBlockMetadata) canAppend(allocSize int) bool {
	if allocSize > m.Size()-m.sumUsedSize {
		return false
	}

	return allocSize <= m.tailSize()-memutils.DebugMargin
}

func (m *FirstFitBlockMetadata) Alloc(request AllocationRequest, name Label) (BlockAllocationHandle, error) {
	var index int

	switch request.Type {
	case AllocationRequestReuse:
		index = request.BlockAllocationHandle.index()
		if index >= len(m.suballocations) {
			return NoAllocation, errors.Errorf("the request refers to record %d, but the catalogue only has %d records", index, len(m.suballocations))
		}

		suballoc := &m.suballocations[index]
		if !suballoc.Free || suballoc.Generation != request.BlockAllocationHandle.generation() {
			return NoAllocation, errors.Errorf("record %d is no longer free", index)
		}
		if suballoc.Size < request.RequestedSize {
			return NoAllocation, errors.Errorf("record %d holds %d bytes, which cannot satisfy a request for %d bytes", index, suballoc.Size, request.RequestedSize)
		}

		suballoc.Free = false
		suballoc.RequestedSize = request.RequestedSize
		suballoc.Name = name
		suballoc.Generation = m.nextGeneration()
		m.freeRecords.Remove(uint32(index))

	case AllocationRequestAppend:
		if request.Offset != m.carvedSize {
			return NoAllocation, errors.Errorf("the request expects to append at offset %d, but the carved region ends at %d", request.Offset, m.carvedSize)
		}
		if request.Size != request.RequestedSize || !m.canAppend(request.Size) {
			return NoAllocation, errors.Errorf("an append of %d bytes no longer fits the arena", request.Size)
		}
		if uint64(len(m.suballocations)) >= math.MaxUint32 {
			return NoAllocation, errors.New("the catalogue cannot hold any more records")
		}

		index = len(m.suballocations)
		m.suballocations = append(m.suballocations, Suballocation{
			Offset:        request.Offset,
			Size:          request.Size,
			RequestedSize: request.RequestedSize,
			Name:          name,
			Generation:    m.nextGeneration(),
		})
		m.carvedSize += request.Size + memutils.DebugMargin

	default:
		return NoAllocation, errors.Errorf("unknown allocation request type: %s", request.Type)
	}

	suballoc := m.suballocations[index]
	m.sumUsedSize += suballoc.Size
	m.allocationCount++
	m.addName(suballoc.Name.String(), uint32(index))

	return newHandle(index, suballoc.Generation), nil
}

func (m *FirstFitBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	index, err := m.resolve(allocHandle)
	if err != nil {
		return err
	}

	suballoc := &m.suballocations[index]
	m.removeName(suballoc.Name.String(), uint32(index))

	suballoc.Free = true
	suballoc.RequestedSize = 0
	suballoc.Generation = m.nextGeneration()
	m.freeRecords.Add(uint32(index))

	m.sumUsedSize -= suballoc.Size
	m.allocationCount--

	return nil
}

func (m *FirstFitBlockMetadata) addName(name string, index uint32) {
	indices, _ := m.nameIndex.Get(name)
	pos, _ := slices.BinarySearch(indices, index)
	m.nameIndex.Put(name, slices.Insert(indices, pos, index))
}

func (m *FirstFitBlockMetadata) removeName(name string, index uint32) {
	indices, ok := m.nameIndex.Get(name)
	if !ok {
		return
	}

	pos, found := slices.BinarySearch(indices, index)
	if !found {
		return
	}

	indices = slices.Delete(indices, pos, pos+1)
	if len(indices) == 0 {
		m.nameIndex.Delete(name)
		return
	}
	m.nameIndex.Put(name, indices)
}

// Validate performs internal consistency checks on the metadata. These checks walk every record and so
// are linear in the size of the catalogue.
func (m *FirstFitBlockMetadata) Validate() error {
	var offset, sumUsedSize, allocationCount, freeCount int

	for index, suballoc := range m.suballocations {
		if suballoc.Offset != offset {
			return errors.Errorf("record %d has offset %d, but the previous record ends at %d", index, suballoc.Offset, offset)
		}
		if suballoc.Size <= 0 {
			return errors.Errorf("record %d has an invalid size %d", index, suballoc.Size)
		}

		if suballoc.Free {
			freeCount++
			if !m.freeRecords.Contains(uint32(index)) {
				return errors.Errorf("record %d is free but is missing from the free set", index)
			}
		} else {
			allocationCount++
			sumUsedSize += suballoc.Size

			if m.freeRecords.Contains(uint32(index)) {
				return errors.Errorf("record %d is in use but is present in the free set", index)
			}
			if suballoc.RequestedSize <= 0 || suballoc.RequestedSize > suballoc.Size {
				return errors.Errorf("record %d holds %d bytes but claims a request of %d bytes", index, suballoc.Size, suballoc.RequestedSize)
			}

			indices, _ := m.nameIndex.Get(suballoc.Name.String())
			if _, found := slices.BinarySearch(indices, uint32(index)); !found {
				return errors.Errorf("record %d (%q) is in use but is missing from the name index", index, suballoc.Name.String())
			}
		}

		offset = suballoc.Offset + suballoc.Size + memutils.DebugMargin
	}

	if offset != m.carvedSize {
		return errors.Errorf("the records end at offset %d, but the metadata indicates a carved size of %d", offset, m.carvedSize)
	}

	if m.carvedSize > m.Size() {
		return errors.Errorf("calculated a carved size of %d, but the metadata indicates a total size of %d, which is smaller", m.carvedSize, m.Size())
	}

	if freeCount != int(m.freeRecords.GetCardinality()) {
		return errors.Errorf("counted %d free records, but the free set holds %d", freeCount, m.freeRecords.GetCardinality())
	}

	if allocationCount != m.allocationCount {
		return errors.Errorf("counted %d in-use records, but the metadata indicates %d", allocationCount, m.allocationCount)
	}

	if sumUsedSize != m.sumUsedSize {
		return errors.Errorf("in-use records sum to %d bytes, but the metadata indicates %d used bytes", sumUsedSize, m.sumUsedSize)
	}

	if m.sumUsedSize > m.Size() {
		return errors.Errorf("the metadata indicates %d used bytes, which exceeds the total size of %d", m.sumUsedSize, m.Size())
	}

	var indexedCount int
	m.nameIndex.Iter(func(name string, indices []uint32) (stop bool) {
		indexedCount += len(indices)
		return false
	})
	if indexedCount != m.allocationCount {
		return errors.Errorf("the name index holds %d records, but %d records are in use", indexedCount, m.allocationCount)
	}

	return nil
}
