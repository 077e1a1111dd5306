package memprof

import "sort"

// SizeGroup is one leaks-by-size bucket: how many active allocations share
// the same size.
type SizeGroup struct {
	Size  uint64 `json:"size" yaml:"size"`
	Count uint64 `json:"count" yaml:"count"`
}

// LeakSummary aggregates the allocations still active when a session ends.
// "Leak" is a proxy here: an allocation alive at the end of profiling may
// simply still be in legitimate use.
type LeakSummary struct {
	TotalLeakedBytes uint64 `json:"total_leaked_bytes" yaml:"total_leaked_bytes"`
	LeakCount        uint64 `json:"leak_count" yaml:"leak_count"`
	// LargestLeak is nil when no allocations are active.
	LargestLeak *uint64     `json:"largest_leak" yaml:"largest_leak"`
	LeaksBySize []SizeGroup `json:"leaks_by_size" yaml:"leaks_by_size"`
}

// AnalyzeLeaks derives a leak summary from a final snapshot. It is a pure
// function: identical snapshots produce identical summaries. Groups are
// keyed by exact size and ordered largest first, so sizes are unique within
// the result.
func AnalyzeLeaks(snap MemorySnapshot) LeakSummary {
	summary := LeakSummary{
		TotalLeakedBytes: snap.CurrentUsage,
		LeakCount:        uint64(len(snap.ActiveAllocations)),
		LeaksBySize:      []SizeGroup{},
	}

	sizeCounts := make(map[uint64]uint64)
	for _, rec := range snap.ActiveAllocations {
		sizeCounts[rec.Size]++
		if summary.LargestLeak == nil || rec.Size > *summary.LargestLeak {
			size := rec.Size
			summary.LargestLeak = &size
		}
	}

	for size, count := range sizeCounts {
		summary.LeaksBySize = append(summary.LeaksBySize, SizeGroup{Size: size, Count: count})
	}
	sort.Slice(summary.LeaksBySize, func(i, j int) bool {
		return summary.LeaksBySize[i].Size > summary.LeaksBySize[j].Size
	})

	return summary
}
