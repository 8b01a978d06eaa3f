package pool_test

import (
	"bytes"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/nulibc/nucore/memutils"
	"github.com/nulibc/nucore/memutils/metadata"
	"github.com/nulibc/nucore/pool"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func readyPool(t *testing.T, total int) *pool.Pool {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	p, err := pool.New(logger, total, pool.CreateOptions{Name: t.Name()})
	require.NoError(t, err)
	require.NotNil(t, p)

	return p
}

func TestScenarioReuseOrExtend(t *testing.T) {
	p := readyPool(t, 100)

	blockA, err := p.Alloc(40, "a")
	require.NoError(t, err)
	require.Equal(t, 40, p.Used())

	_, err = p.Alloc(70, "b")
	require.ErrorIs(t, err, memutils.ErrPoolExhausted)
	require.Equal(t, 40, p.Used())
	require.Equal(t, 1, p.BlockCount())

	require.NoError(t, p.Free(blockA))
	require.Equal(t, 0, p.Used())

	blockC, err := p.Alloc(50, "c")
	require.NoError(t, err)
	require.Equal(t, 50, p.Used())

	name, err := blockC.Name()
	require.NoError(t, err)
	require.Equal(t, "c", name)

	require.NoError(t, p.Validate())
	require.NoError(t, p.Cleanup())
}

func TestNewInvalidTotal(t *testing.T) {
	_, err := pool.New(nil, -1, pool.CreateOptions{})
	require.ErrorIs(t, err, memutils.ErrInvalidInput)
}

func TestNewRespectsMaxArenaSize(t *testing.T) {
	_, err := pool.New(nil, 4096, pool.CreateOptions{MaxArenaSize: 1024})
	require.ErrorIs(t, err, memutils.ErrAllocationFailed)
}

func TestNewHostRefusesArena(t *testing.T) {
	_, err := pool.New(nil, int(^uint(0)>>1), pool.CreateOptions{})
	require.ErrorIs(t, err, memutils.ErrAllocationFailed)
}

func TestNewNilLogger(t *testing.T) {
	p, err := pool.New(nil, 10, pool.CreateOptions{})
	require.NoError(t, err)

	_, err = p.Alloc(10, "all")
	require.NoError(t, err)
	require.Equal(t, 0, p.Available())
}

func TestAllocInvalidSize(t *testing.T) {
	p := readyPool(t, 100)

	_, err := p.Alloc(0, "zero")
	require.ErrorIs(t, err, memutils.ErrInvalidInput)

	_, err = p.Alloc(-3, "negative")
	require.ErrorIs(t, err, memutils.ErrInvalidInput)

	require.Equal(t, 0, p.Used())
}

func TestExhaustionLeavesPoolUnchanged(t *testing.T) {
	p := readyPool(t, 256)

	_, err := p.Alloc(100, "one")
	require.NoError(t, err)
	_, err = p.Alloc(100, "two")
	require.NoError(t, err)

	before := p.BuildStatsString(true)

	_, err = p.Alloc(57, "three")
	require.ErrorIs(t, err, memutils.ErrPoolExhausted)

	require.Equal(t, before, p.BuildStatsString(true))
	require.Equal(t, 200, p.Used())
	require.Equal(t, 2, p.BlockCount())
}

func TestDoubleFree(t *testing.T) {
	p := readyPool(t, 100)

	block, err := p.Alloc(30, "once")
	require.NoError(t, err)
	_, err = p.Alloc(20, "other")
	require.NoError(t, err)

	require.NoError(t, p.Free(block))
	require.Equal(t, 20, p.Used())

	err = p.Free(block)
	require.ErrorIs(t, err, memutils.ErrInvalidBlock)
	require.Equal(t, 20, p.Used())
	require.NoError(t, p.Validate())
}

func TestFreeForeignBlock(t *testing.T) {
	p := readyPool(t, 100)
	other := readyPool(t, 100)

	foreign, err := other.Alloc(10, "foreign")
	require.NoError(t, err)

	require.ErrorIs(t, p.Free(foreign), memutils.ErrInvalidBlock)
	require.ErrorIs(t, p.Free(pool.Block{}), memutils.ErrInvalidBlock)
	require.Equal(t, 10, other.Used())
}

func TestStaleHandleAfterReuse(t *testing.T) {
	p := readyPool(t, 100)

	first, err := p.Alloc(40, "first")
	require.NoError(t, err)
	require.NoError(t, first.Free())

	second, err := p.Alloc(40, "second")
	require.NoError(t, err)

	require.False(t, first.Valid())
	require.True(t, second.Valid())

	_, err = first.Bytes()
	require.ErrorIs(t, err, memutils.ErrInvalidBlock)
	require.ErrorIs(t, p.Free(first), memutils.ErrInvalidBlock)
	require.Equal(t, 40, p.Used())
}

func TestReuseKeepsOriginalSize(t *testing.T) {
	p := readyPool(t, 100)

	big, err := p.Alloc(60, "big")
	require.NoError(t, err)
	require.NoError(t, p.Free(big))

	small, err := p.Alloc(10, "small")
	require.NoError(t, err)

	// The reused block is charged at its original size
	require.Equal(t, 60, p.Used())

	info, err := small.Info()
	require.NoError(t, err)
	require.Equal(t, 0, info.Offset)
	require.Equal(t, 60, info.Size)
	require.Equal(t, 10, info.RequestedSize)

	data, err := small.Bytes()
	require.NoError(t, err)
	require.Len(t, data, 10)
	require.Equal(t, 60, cap(data))

	size, err := small.Size()
	require.NoError(t, err)
	require.Equal(t, 10, size)
}

func TestBlockBytesAreDisjoint(t *testing.T) {
	p := readyPool(t, 64)

	a, err := p.Alloc(8, "a")
	require.NoError(t, err)
	b, err := p.Alloc(8, "b")
	require.NoError(t, err)

	aData, err := a.Bytes()
	require.NoError(t, err)
	bData, err := b.Bytes()
	require.NoError(t, err)

	copy(aData, bytes.Repeat([]byte{0xAA}, 8))
	copy(bData, bytes.Repeat([]byte{0xBB}, 8))

	// Appending to a block's bytes past its reservation reallocates instead of overwriting b
	_ = append(aData, 0xCC)

	require.Equal(t, bytes.Repeat([]byte{0xAA}, 8), aData)
	require.Equal(t, bytes.Repeat([]byte{0xBB}, 8), bData)
	require.NoError(t, p.CheckCorruption())
}

func TestNameTruncation(t *testing.T) {
	p := readyPool(t, 100)

	longName := strings.Repeat("n", metadata.MaxLabelLength+20)
	block, err := p.Alloc(10, longName)
	require.NoError(t, err)
	require.True(t, block.Truncated())

	name, err := block.Name()
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("n", metadata.MaxLabelLength), name)

	// Lookup applies the same truncation
	found, err := p.Lookup(longName)
	require.NoError(t, err)
	require.True(t, found.Truncated())
	foundName, err := found.Name()
	require.NoError(t, err)
	require.Equal(t, name, foundName)

	short, err := p.Alloc(10, "short")
	require.NoError(t, err)
	require.False(t, short.Truncated())
}

func TestLookup(t *testing.T) {
	p := readyPool(t, 100)

	first, err := p.Alloc(10, "buffer")
	require.NoError(t, err)
	_, err = p.Alloc(10, "buffer")
	require.NoError(t, err)

	found, err := p.Lookup("buffer")
	require.NoError(t, err)
	require.Equal(t, first, found)

	_, err = p.Lookup("missing")
	require.ErrorIs(t, err, memutils.ErrInvalidBlock)

	// A block found by name can be freed through the pool
	require.NoError(t, p.Free(found))
	require.Equal(t, 10, p.Used())
}

func TestCleanupInvalidatesEverything(t *testing.T) {
	p := readyPool(t, 100)

	block, err := p.Alloc(10, "leaked")
	require.NoError(t, err)

	require.NoError(t, p.Cleanup())
	require.True(t, p.Released())
	require.Equal(t, 0, p.Used())

	_, err = block.Bytes()
	require.ErrorIs(t, err, memutils.ErrInvalidBlock)
	require.ErrorIs(t, p.Free(block), memutils.ErrInvalidBlock)
	require.False(t, block.Valid())

	_, err = p.Alloc(10, "late")
	require.ErrorIs(t, err, memutils.ErrInvalidBlock)
	_, err = p.Lookup("leaked")
	require.ErrorIs(t, err, memutils.ErrInvalidBlock)

	require.ErrorIs(t, p.Cleanup(), memutils.ErrInvalidBlock)
	require.ErrorIs(t, p.Validate(), memutils.ErrInvalidBlock)
}

func TestCleanupLogsUnreleasedBlocks(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	p, err := pool.New(logger, 100, pool.CreateOptions{Name: "leaky"})
	require.NoError(t, err)

	freed, err := p.Alloc(10, "freed")
	require.NoError(t, err)
	_, err = p.Alloc(20, "leaked")
	require.NoError(t, err)
	require.NoError(t, p.Free(freed))

	require.NoError(t, p.Cleanup())

	output := logs.String()
	require.Contains(t, output, "[UNRELEASED MEMORY] unfreed block")
	require.Contains(t, output, `"name":"leaked"`)
	require.NotContains(t, output, `"name":"freed"`)
}

func TestRandomizedUsedInvariant(t *testing.T) {
	p := readyPool(t, 8192)
	rng := rand.New(rand.NewSource(1234))

	var live []pool.Block
	for i := 0; i < 3000; i++ {
		if len(live) > 0 && rng.Intn(5) < 2 {
			index := rng.Intn(len(live))
			require.NoError(t, p.Free(live[index]))
			live = append(live[:index], live[index+1:]...)
		} else {
			block, err := p.Alloc(rng.Intn(300)+1, "random")
			if err != nil {
				require.ErrorIs(t, err, memutils.ErrPoolExhausted)
			} else {
				live = append(live, block)
			}
		}

		expected := 0
		for _, block := range live {
			info, err := block.Info()
			require.NoError(t, err)
			require.False(t, info.Free)
			expected += info.Size
		}

		require.Equal(t, expected, p.Used())
		require.LessOrEqual(t, p.Used(), p.Total())
		require.Equal(t, len(live), p.BlockCount())
		require.NoError(t, p.Validate())
	}
}

func TestVisitBlocks(t *testing.T) {
	p := readyPool(t, 100)

	a, err := p.Alloc(10, "a")
	require.NoError(t, err)
	_, err = p.Alloc(20, "b")
	require.NoError(t, err)
	require.NoError(t, p.Free(a))

	var infos []pool.BlockInfo
	err = p.VisitBlocks(func(info pool.BlockInfo) error {
		infos = append(infos, info)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []pool.BlockInfo{
		{Name: "a", Offset: 0, Size: 10, RequestedSize: 0, Free: true},
		{Name: "b", Offset: 10 + memutils.DebugMargin, Size: 20, RequestedSize: 20, Free: false},
	}, infos)
}

func TestSetName(t *testing.T) {
	p := readyPool(t, 10)
	p.SetName("renamed")
	require.Equal(t, "renamed", p.Name())
}

func TestCreateFlagsString(t *testing.T) {
	require.Equal(t, "None", pool.CreateFlags(0).String())
	require.Equal(t, "CreateExternallySynchronized", pool.CreateExternallySynchronized.String())
}
