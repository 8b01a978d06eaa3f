//go:build !debug_mem_utils

package pool_test

import (
	"math"
	"testing"

	"github.com/nulibc/nucore/memutils"
	"github.com/stretchr/testify/require"
)

func TestCalculateStatistics(t *testing.T) {
	p := readyPool(t, 100)

	stats := p.CalculateStatistics()
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			ArenaCount: 1,
			ArenaBytes: 100,
		},
		UnusedRangeCount:   1,
		BlockSizeMin:       math.MaxInt,
		UnusedRangeSizeMin: 100,
		UnusedRangeSizeMax: 100,
	}, stats)

	a, err := p.Alloc(10, "a")
	require.NoError(t, err)
	_, err = p.Alloc(20, "b")
	require.NoError(t, err)
	require.NoError(t, p.Free(a))

	stats = p.CalculateStatistics()
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			ArenaCount: 1,
			ArenaBytes: 100,
			BlockCount: 1,
			BlockBytes: 20,
		},
		FreeBlockCount:     1,
		FreeBlockBytes:     10,
		UnusedRangeCount:   2,
		BlockSizeMin:       20,
		BlockSizeMax:       20,
		UnusedRangeSizeMin: 10,
		UnusedRangeSizeMax: 70,
	}, stats)
	require.InDelta(t, 0.2, stats.Utilization(), 1e-9)

	var summary memutils.Statistics
	p.AddStatistics(&summary)
	other := readyPool(t, 50)
	other.AddStatistics(&summary)
	require.Equal(t, memutils.Statistics{
		ArenaCount: 2,
		ArenaBytes: 150,
		BlockCount: 1,
		BlockBytes: 20,
	}, summary)
}

func TestBuildStatsString(t *testing.T) {
	p := readyPool(t, 100)
	p.SetName("stats")

	a, err := p.Alloc(10, "a")
	require.NoError(t, err)
	_, err = p.Alloc(20, "b")
	require.NoError(t, err)
	require.NoError(t, p.Free(a))

	require.JSONEq(t, `{
		"Name": "stats",
		"Released": false,
		"Flags": "None",
		"Total": {
			"ArenaBytes": 100,
			"BlockCount": 1,
			"BlockBytes": 20,
			"FreeBlockCount": 1,
			"FreeBlockBytes": 10,
			"UnusedRangeCount": 2,
			"Utilization": 0.2,
			"BlockSizeMin": 20,
			"BlockSizeMax": 20,
			"UnusedRangeSizeMin": 10,
			"UnusedRangeSizeMax": 70
		}
	}`, p.BuildStatsString(false))

	require.JSONEq(t, `{
		"Name": "stats",
		"Released": false,
		"Flags": "None",
		"Total": {
			"ArenaBytes": 100,
			"BlockCount": 1,
			"BlockBytes": 20,
			"FreeBlockCount": 1,
			"FreeBlockBytes": 10,
			"UnusedRangeCount": 2,
			"Utilization": 0.2,
			"BlockSizeMin": 20,
			"BlockSizeMax": 20,
			"UnusedRangeSizeMin": 10,
			"UnusedRangeSizeMax": 70
		},
		"Arena": {
			"TotalBytes": 100,
			"UsedBytes": 20,
			"UnusedBytes": 80,
			"Allocations": 1,
			"UnusedRanges": 2,
			"CarvedBytes": 30,
			"Records": 2,
			"Blocks": [
				{"Offset": 0, "Size": 10, "Free": true, "Name": "a"},
				{"Offset": 10, "Size": 20, "Free": false, "Name": "b", "RequestedSize": 20}
			]
		}
	}`, p.BuildStatsString(true))
}

func TestBuildStatsStringAfterCleanup(t *testing.T) {
	p := readyPool(t, 100)
	p.SetName("gone")
	require.NoError(t, p.Cleanup())

	require.JSONEq(t, `{
		"Name": "gone",
		"Released": true,
		"Flags": "None",
		"Total": {
			"ArenaBytes": 0,
			"BlockCount": 0,
			"BlockBytes": 0,
			"FreeBlockCount": 0,
			"FreeBlockBytes": 0,
			"UnusedRangeCount": 0,
			"Utilization": 0
		}
	}`, p.BuildStatsString(true))

	var stats memutils.Statistics
	p.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{}, stats)
}
