package pool

import (
	"context"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/nulibc/nucore/internal/utils"
	"github.com/nulibc/nucore/memutils"
	"github.com/nulibc/nucore/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Pool owns a single fixed-size arena and a catalogue of named blocks carved from it. Blocks are
// freed individually and their ranges are reused first-fit; the arena itself is only released
// by Cleanup.
//
// Unless the pool was created with CreateExternallySynchronized, every method is guarded by a single
// mutex, so a Pool may be shared between goroutines.
type Pool struct {
	logger      *slog.Logger
	mutex       utils.OptionalRWMutex
	createFlags CreateFlags

	name     string
	total    int
	arena    []byte
	metadata metadata.BlockMetadata
	released bool
}

func (p *Pool) checkLive() error {
	if p.released {
		return cerrors.Wrapf(memutils.ErrInvalidBlock, "pool %q has been cleaned up", p.name)
	}
	return nil
}

// Alloc carves a block of size bytes named name out of the pool.
//
// The first free block whose size is at least size is reused. A reused block keeps its original,
// possibly larger, size, and the whole of it counts towards Used. If no free block fits, a new block
// is appended from the unused tail of the arena. If neither is possible, memutils.ErrPoolExhausted is
// returned and the pool is left unchanged.
//
// Names longer than metadata.MaxLabelLength bytes are truncated; Block.Truncated reports when that
// happened.
func (p *Pool) Alloc(size int, name string) (Block, error) {
	p.logger.Debug("Pool::Alloc")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	err := p.checkLive()
	if err != nil {
		return Block{}, err
	}

	label, truncated := metadata.NewLabel(name)
	if truncated {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, "block name truncated",
			slog.String("pool", p.name),
			slog.String("name", name),
			slog.String("label", label.String()),
		)
	}

	success, request, err := p.metadata.CreateAllocationRequest(size)
	if err != nil {
		return Block{}, cerrors.Wrapf(err, "block %q", label.String())
	}

	if !success {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, "pool exhausted",
			slog.String("pool", p.name),
			slog.String("block", label.String()),
			slog.Int("size", size),
			slog.Int("used", p.metadata.SumUsedSize()),
			slog.Int("total", p.total),
		)
		return Block{}, cerrors.Wrapf(memutils.ErrPoolExhausted, "cannot allocate %d bytes for block %q: %d of %d bytes in use", size, label.String(), p.metadata.SumUsedSize(), p.total)
	}

	handle, err := p.metadata.Alloc(request, label)
	if err != nil {
		return Block{}, err
	}

	if request.Type == metadata.AllocationRequestAppend && memutils.DebugMargin > 0 {
		memutils.WriteMagicValue(p.arena, request.Offset+request.Size)
	}

	memutils.DebugValidate(p.metadata)

	return Block{pool: p, handle: handle, truncated: truncated}, nil
}

// Free marks block as free so its range can be reused, and removes its size from Used.
//
// memutils.ErrInvalidBlock is returned, and nothing changes, if block was not allocated from this
// pool, has already been freed, or the pool has been cleaned up.
func (p *Pool) Free(block Block) error {
	p.logger.Debug("Pool::Free")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	err := p.checkLive()
	if err != nil {
		return err
	}

	if block.pool != p {
		return cerrors.Wrapf(memutils.ErrInvalidBlock, "the block was not allocated from pool %q", p.name)
	}

	err = p.metadata.Free(block.handle)
	if err != nil {
		return err
	}

	memutils.DebugValidate(p.metadata)
	return nil
}

// Cleanup releases the arena and the catalogue. Every Block issued by this pool becomes invalid, and
// every later call on the pool fails with memutils.ErrInvalidBlock. Blocks still in use are logged
// as unreleased, but do not prevent the cleanup.
func (p *Pool) Cleanup() error {
	p.logger.Debug("Pool::Cleanup")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	err := p.checkLive()
	if err != nil {
		return err
	}

	if !p.metadata.IsEmpty() {
		_ = p.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, block metadata.Suballocation) error {
			if !block.Free {
				p.logUnreleasedBlock(block)
			}
			return nil
		})
	}

	p.metadata.Clear()
	p.arena = nil
	p.released = true

	return nil
}

func (p *Pool) logUnreleasedBlock(block metadata.Suballocation) {
	name := block.Name.String()
	if name == "" {
		name = "empty"
	}

	p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed block",
		slog.String("pool", p.name),
		slog.Int("offset", block.Offset),
		slog.Int("size", block.Size),
		slog.String("name", name),
	)
}

// Released returns true once Cleanup has been called
func (p *Pool) Released() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.released
}

// Total returns the capacity of the pool in bytes
func (p *Pool) Total() int {
	return p.total
}

// Used returns the number of bytes attributed to blocks currently in use
func (p *Pool) Used() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.metadata.SumUsedSize()
}

// Available returns Total minus Used. Not all of it is necessarily allocatable: bytes held by freed
// blocks can only be reused by requests that fit in those blocks.
func (p *Pool) Available() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.metadata.SumFreeSize()
}

// BlockCount returns the number of blocks currently in use
func (p *Pool) BlockCount() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.metadata.AllocationCount()
}

func (p *Pool) SetName(name string) {
	p.logger.Debug("Pool::SetName")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.name = name
}

func (p *Pool) Name() string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.name
}

// Lookup returns the first block in use, in allocation order, whose name matches name. Names are
// compared after truncation to metadata.MaxLabelLength bytes.
func (p *Pool) Lookup(name string) (Block, error) {
	p.logger.Debug("Pool::Lookup")

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	err := p.checkLive()
	if err != nil {
		return Block{}, err
	}

	label, truncated := metadata.NewLabel(name)
	handle, ok := p.metadata.FindByName(label.String())
	if !ok {
		return Block{}, cerrors.Wrapf(memutils.ErrInvalidBlock, "no block named %q is in use in pool %q", label.String(), p.name)
	}

	return Block{pool: p, handle: handle, truncated: truncated}, nil
}

// BlockInfo describes one entry of the pool's catalogue
type BlockInfo struct {
	Name string
	// Offset is the block's position within the arena
	Offset int
	// Size is the number of bytes the block reserves and contributes to Used while in use
	Size int
	// RequestedSize is the size passed to Alloc by the current occupant, or 0 for free blocks
	RequestedSize int
	Free          bool
}

// VisitBlocks calls visit once for every block in the catalogue, in allocation order, including free blocks.
// The pool is locked for reading during the walk, so visit must not call back into the pool.
func (p *Pool) VisitBlocks(visit func(info BlockInfo) error) error {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	err := p.checkLive()
	if err != nil {
		return err
	}

	return p.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, block metadata.Suballocation) error {
		return visit(blockInfo(block))
	})
}

func blockInfo(block metadata.Suballocation) BlockInfo {
	return BlockInfo{
		Name:          block.Name.String(),
		Offset:        block.Offset,
		Size:          block.Size,
		RequestedSize: block.RequestedSize,
		Free:          block.Free,
	}
}

// AddStatistics sums this pool's statistics into the provided memutils.Statistics
func (p *Pool) AddStatistics(stats *memutils.Statistics) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.released {
		return
	}
	p.metadata.AddStatistics(stats)
}

// AddDetailedStatistics sums this pool's statistics into the provided memutils.DetailedStatistics
func (p *Pool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.released {
		return
	}
	p.metadata.AddDetailedStatistics(stats)
}

// CalculateStatistics returns the detailed statistics of this pool alone
func (p *Pool) CalculateStatistics() memutils.DetailedStatistics {
	var stats memutils.DetailedStatistics
	stats.Clear()
	p.AddDetailedStatistics(&stats)

	return stats
}

// BuildStatsString returns a JSON document describing the pool. When detailedMap is true the
// document also lists every block in the catalogue.
func (p *Pool) BuildStatsString(detailedMap bool) string {
	p.logger.Debug("Pool::BuildStatsString")

	stats := p.CalculateStatistics()

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Name").String(p.name)
	obj.Name("Released").Bool(p.released)
	obj.Name("Flags").String(p.createFlags.String())

	totalObj := obj.Name("Total").Object()
	totalObj.Name("ArenaBytes").Int(stats.ArenaBytes)
	totalObj.Name("BlockCount").Int(stats.BlockCount)
	totalObj.Name("BlockBytes").Int(stats.BlockBytes)
	totalObj.Name("FreeBlockCount").Int(stats.FreeBlockCount)
	totalObj.Name("FreeBlockBytes").Int(stats.FreeBlockBytes)
	totalObj.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)
	totalObj.Name("Utilization").Float64(stats.Utilization())
	if stats.BlockCount > 0 {
		totalObj.Name("BlockSizeMin").Int(stats.BlockSizeMin)
		totalObj.Name("BlockSizeMax").Int(stats.BlockSizeMax)
	}
	if stats.UnusedRangeCount > 0 {
		totalObj.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		totalObj.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
	totalObj.End()

	if detailedMap && !p.released {
		arenaObj := obj.Name("Arena").Object()
		p.metadata.BlockJsonData(arenaObj)
		p.printDetailedMapBlocks(arenaObj)
		arenaObj.End()
	}

	obj.End()

	return string(writer.Bytes())
}

func (p *Pool) printDetailedMapBlocks(json jwriter.ObjectState) {
	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	_ = p.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, block metadata.Suballocation) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(block.Offset)
		obj.Name("Size").Int(block.Size)
		obj.Name("Free").Bool(block.Free)
		if block.Name.String() != "" {
			obj.Name("Name").String(block.Name.String())
		}
		if !block.Free {
			obj.Name("RequestedSize").Int(block.RequestedSize)
		}

		return nil
	})
}

// Validate runs the catalogue's internal consistency checks
func (p *Pool) Validate() error {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	err := p.checkLive()
	if err != nil {
		return err
	}

	if len(p.arena) != p.total {
		return cerrors.Newf("the pool's arena is %d bytes, but the pool was created with %d bytes", len(p.arena), p.total)
	}

	if p.metadata.Size() != p.total {
		return cerrors.Newf("the pool's catalogue manages %d bytes, but the pool was created with %d bytes", p.metadata.Size(), p.total)
	}

	return p.metadata.Validate()
}

// CheckCorruption verifies the debug margins written after each block. Margins only exist when the
// module is built with the `debug_mem_utils` tag; otherwise this only confirms the catalogue fits the arena.
func (p *Pool) CheckCorruption() error {
	p.logger.Debug("Pool::CheckCorruption")

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	err := p.checkLive()
	if err != nil {
		return err
	}

	return p.metadata.CheckCorruption(p.arena)
}

func (p *Pool) suballocation(block Block) (metadata.Suballocation, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	err := p.checkLive()
	if err != nil {
		return metadata.Suballocation{}, err
	}

	return p.metadata.Suballocation(block.handle)
}

func (p *Pool) blockBytes(block Block) ([]byte, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	err := p.checkLive()
	if err != nil {
		return nil, err
	}

	suballoc, err := p.metadata.Suballocation(block.handle)
	if err != nil {
		return nil, err
	}

	start := suballoc.Offset
	return p.arena[start : start+suballoc.RequestedSize : start+suballoc.Size], nil
}
