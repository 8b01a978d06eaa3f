package metadata

// AllocationRequestType is an enum that indicates the type of allocation that is being made.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestReuse indicates that the request will occupy a free record that already exists
	AllocationRequestReuse AllocationRequestType = iota
	// AllocationRequestAppend indicates that the request will carve a new record from the unused tail
	// of the arena
	AllocationRequestAppend
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestReuse:  "Reuse",
	AllocationRequestAppend: "Append",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where and how
// the metadata intends to satisfy an allocation. Creating a request does not modify the metadata; the request
// is committed with BlockMetadata.Alloc
type AllocationRequest struct {
	// BlockAllocationHandle identifies the free record to reuse. It is NoAllocation for append requests.
	BlockAllocationHandle BlockAllocationHandle
	// Offset is the position in the arena the allocation will start at
	Offset int
	// Size is the number of bytes the record will reserve, which may be larger than RequestedSize
	Size int
	// RequestedSize is the size passed to CreateAllocationRequest
	RequestedSize int
	// Type identifies whether the request reuses a record or appends a new one
	Type AllocationRequestType
}
