package pool

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/nulibc/nucore/memutils"
	"github.com/nulibc/nucore/memutils/metadata"
)

// Block is a handle to a named region of a Pool's arena. Handles are values and may be copied freely;
// the zero Block is valid to hold but refers to no pool.
//
// A handle stops resolving as soon as its block is freed or its pool is cleaned up: its methods
// then return memutils.ErrInvalidBlock, even if the block's range has since been reused by another
// allocation.
type Block struct {
	pool      *Pool
	handle    metadata.BlockAllocationHandle
	truncated bool
}

func (b Block) checkPool() error {
	if b.pool == nil {
		return cerrors.Wrap(memutils.ErrInvalidBlock, "the block was not allocated from a pool")
	}
	return nil
}

// Pool returns the pool the block was allocated from
func (b Block) Pool() *Pool {
	return b.pool
}

// Truncated returns true if the name passed to Alloc did not fit in metadata.MaxLabelLength bytes
func (b Block) Truncated() bool {
	return b.truncated
}

// Valid returns true if the block is still in use
func (b Block) Valid() bool {
	if b.pool == nil {
		return false
	}

	_, err := b.pool.suballocation(b)
	return err == nil
}

// Bytes returns the block's memory. The returned slice has the length requested from Alloc and a
// capacity equal to the bytes the block reserves.
//
// The slice is a view into the pool's arena and carries no ownership: it must not be used after the
// block is freed or the pool is cleaned up, since the range may be handed to another block.
func (b Block) Bytes() ([]byte, error) {
	err := b.checkPool()
	if err != nil {
		return nil, err
	}

	return b.pool.blockBytes(b)
}

// Name returns the block's label
func (b Block) Name() (string, error) {
	info, err := b.Info()
	if err != nil {
		return "", err
	}

	return info.Name, nil
}

// Size returns the number of bytes requested when the block was allocated
func (b Block) Size() (int, error) {
	info, err := b.Info()
	if err != nil {
		return 0, err
	}

	return info.RequestedSize, nil
}

// Info returns the block's catalogue entry
func (b Block) Info() (BlockInfo, error) {
	err := b.checkPool()
	if err != nil {
		return BlockInfo{}, err
	}

	suballoc, err := b.pool.suballocation(b)
	if err != nil {
		return BlockInfo{}, err
	}

	return blockInfo(suballoc), nil
}

// Free is shorthand for b.Pool().Free(b)
func (b Block) Free() error {
	err := b.checkPool()
	if err != nil {
		return err
	}

	return b.pool.Free(b)
}
