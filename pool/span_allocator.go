package pool

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/nulibc/nucore/nstring"
)

// SpanAllocator is an nstring.Allocator that backs span storage with blocks carved from a Pool.
// Every Allocate call carves a new block under the allocator's name. The blocks are owned by the
// SpanAllocator until Release frees them.
//
// A SpanAllocator is not safe for concurrent use, even when its pool is.
type SpanAllocator struct {
	pool   *Pool
	name   string
	blocks []Block
}

var _ nstring.Allocator = &SpanAllocator{}

// SpanAllocator returns an allocator that carves span storage out of this pool, naming every block name
func (p *Pool) SpanAllocator(name string) *SpanAllocator {
	return &SpanAllocator{pool: p, name: name}
}

// Allocate carves a block of size bytes and returns its memory. Pool errors are returned as they are;
// nstring marks them as memutils.ErrAllocationFailed.
func (a *SpanAllocator) Allocate(size int) ([]byte, error) {
	block, err := a.pool.Alloc(size, a.name)
	if err != nil {
		return nil, err
	}

	data, err := block.Bytes()
	if err != nil {
		return nil, err
	}

	a.blocks = append(a.blocks, block)
	return data, nil
}

// Blocks returns the blocks carved so far and not yet released
func (a *SpanAllocator) Blocks() []Block {
	return a.blocks
}

// Release frees every block carved by this allocator. Spans backed by those blocks must not be used
// afterwards. Every block is attempted; the errors of the ones that failed are combined.
func (a *SpanAllocator) Release() error {
	var err error
	for _, block := range a.blocks {
		freeErr := a.pool.Free(block)
		if freeErr != nil {
			err = cerrors.CombineErrors(err, freeErr)
		}
	}

	a.blocks = nil
	if err != nil {
		return cerrors.Wrapf(err, "releasing span storage %q", a.name)
	}
	return nil
}

// Used returns the number of pool bytes held by this allocator's blocks
func (a *SpanAllocator) Used() (int, error) {
	var used int
	for _, block := range a.blocks {
		info, err := block.Info()
		if err != nil {
			return 0, err
		}
		used += info.Size
	}

	return used, nil
}
