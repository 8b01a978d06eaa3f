package memutils

import "math"

// Statistics is a cheap summary of one or more pools. Blocks are counted only while they are
// in use.
type Statistics struct {
	ArenaCount int
	ArenaBytes int
	BlockCount int
	BlockBytes int
}

func (s *Statistics) Clear() {
	s.ArenaCount = 0
	s.ArenaBytes = 0
	s.BlockCount = 0
	s.BlockBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.ArenaCount += other.ArenaCount
	s.ArenaBytes += other.ArenaBytes
	s.BlockCount += other.BlockCount
	s.BlockBytes += other.BlockBytes
}

// Utilization returns the ratio of in-use bytes to arena bytes, or 0 when there is no arena capacity
func (s *Statistics) Utilization() float64 {
	if s.ArenaBytes == 0 {
		return 0
	}

	return float64(s.BlockBytes) / float64(s.ArenaBytes)
}

// DetailedStatistics extends Statistics with information about freed blocks and unused ranges.
// An unused range is either a freed block waiting for reuse or the never-carved tail of an arena.
type DetailedStatistics struct {
	Statistics
	FreeBlockCount     int
	FreeBlockBytes     int
	UnusedRangeCount   int
	BlockSizeMin       int
	BlockSizeMax       int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeBlockCount = 0
	s.FreeBlockBytes = 0
	s.UnusedRangeCount = 0
	s.BlockSizeMin = math.MaxInt
	s.BlockSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++

	if size < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = size
	}

	if size > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddFreeBlock(size int) {
	s.FreeBlockCount++
	s.FreeBlockBytes += size
	s.AddUnusedRange(size)
}

func (s *DetailedStatistics) AddBlock(size int) {
	s.BlockCount++
	s.BlockBytes += size

	if size < s.BlockSizeMin {
		s.BlockSizeMin = size
	}

	if size > s.BlockSizeMax {
		s.BlockSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeBlockCount += other.FreeBlockCount
	s.FreeBlockBytes += other.FreeBlockBytes
	s.UnusedRangeCount += other.UnusedRangeCount

	if other.UnusedRangeSizeMin < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = other.UnusedRangeSizeMin
	}

	if other.UnusedRangeSizeMax > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = other.UnusedRangeSizeMax
	}

	if other.BlockSizeMin < s.BlockSizeMin {
		s.BlockSizeMin = other.BlockSizeMin
	}

	if other.BlockSizeMax > s.BlockSizeMax {
		s.BlockSizeMax = other.BlockSizeMax
	}
}
