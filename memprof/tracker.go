// Package memprof implements a sampling memory profiler: it periodically
// reads a target process's memory counters, keeps running statistics and a
// ledger of still-live allocations, and derives a leak summary when the
// session ends.
package memprof

import (
	"sync"
	"time"
)

// AllocationRecord describes one still-live allocation reported by an
// external instrumentation source. Records are immutable once created.
type AllocationRecord struct {
	// Size is the allocation size in bytes.
	Size uint64 `json:"size" yaml:"size"`
	// Timestamp is when the allocation was observed.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	// CallStack contains the symbolized frames at the allocation site,
	// innermost first. May be empty when the producer has no stacks.
	CallStack []string `json:"call_stack,omitempty" yaml:"call_stack,omitempty"`
	// ThreadID is the OS thread the allocation happened on.
	ThreadID uint32 `json:"thread_id" yaml:"thread_id"`
}

// MemorySnapshot is a point-in-time view of the tracked memory counters
// plus the ledger of active allocations keyed by address.
type MemorySnapshot struct {
	TotalAllocated    uint64                      `json:"total_allocated" yaml:"total_allocated"`
	TotalFreed        uint64                      `json:"total_freed" yaml:"total_freed"`
	CurrentUsage      uint64                      `json:"current_usage" yaml:"current_usage"`
	PeakUsage         uint64                      `json:"peak_usage" yaml:"peak_usage"`
	AllocationCount   uint64                      `json:"allocation_count" yaml:"allocation_count"`
	FreeCount         uint64                      `json:"free_count" yaml:"free_count"`
	ActiveAllocations map[uint64]AllocationRecord `json:"active_allocations" yaml:"active_allocations"`
}

func (s MemorySnapshot) clone() MemorySnapshot {
	out := s
	out.ActiveAllocations = make(map[uint64]AllocationRecord, len(s.ActiveAllocations))
	for addr, rec := range s.ActiveAllocations {
		out.ActiveAllocations[addr] = rec
	}
	return out
}

// Tracker owns the running MemorySnapshot for one profiling session.
// It accepts both coarse-grained samples (ReplaceSnapshot, fed by the
// polling inspector) and fine-grained allocation events
// (AddAllocation/RemoveAllocation, fed by an instrumentation producer).
// All methods are safe for concurrent use; producers may run on arbitrary
// goroutines.
type Tracker struct {
	mu    sync.Mutex
	stats MemorySnapshot
	peak  uint64
	done  bool
}

// NewTracker returns a Tracker with an empty snapshot and zero peak.
func NewTracker() *Tracker {
	return &Tracker{
		stats: MemorySnapshot{ActiveAllocations: make(map[uint64]AllocationRecord)},
	}
}

// ReplaceSnapshot overwrites the tracked counters with a fresh external
// sample. The peak is kept monotonically non-decreasing across the whole
// session regardless of what the sample reports.
func (t *Tracker) ReplaceSnapshot(stats MemorySnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	if stats.CurrentUsage > t.peak {
		t.peak = stats.CurrentUsage
	}
	if stats.ActiveAllocations == nil {
		stats.ActiveAllocations = make(map[uint64]AllocationRecord)
	}
	t.stats = stats
	t.stats.PeakUsage = t.peak
}

// AddAllocation records a new live allocation at addr. An existing record
// at the same address is overwritten; duplicate detection is not part of
// the contract.
func (t *Tracker) AddAllocation(addr uint64, rec AllocationRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.stats.TotalAllocated += rec.Size
	t.stats.CurrentUsage += rec.Size
	t.stats.AllocationCount++
	t.stats.ActiveAllocations[addr] = rec

	if t.stats.CurrentUsage > t.peak {
		t.peak = t.stats.CurrentUsage
	}
	t.stats.PeakUsage = t.peak
}

// RemoveAllocation marks the allocation at addr as freed and returns its
// record. A free for an unknown address is tolerated: it returns false and
// leaves every counter untouched. Current usage clamps at zero so
// inconsistent producer input can never drive it negative.
func (t *Tracker) RemoveAllocation(addr uint64) (AllocationRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.stats.ActiveAllocations[addr]
	if !ok || t.done {
		return AllocationRecord{}, false
	}
	delete(t.stats.ActiveAllocations, addr)
	t.stats.TotalFreed += rec.Size
	t.stats.FreeCount++
	if rec.Size > t.stats.CurrentUsage {
		t.stats.CurrentUsage = 0
	} else {
		t.stats.CurrentUsage -= rec.Size
	}
	return rec, true
}

// Snapshot returns a deep copy of the current stats.
func (t *Tracker) Snapshot() MemorySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.clone()
}

// FinalSnapshot ends the tracker's lifecycle and returns the last state.
// Later mutations are ignored.
func (t *Tracker) FinalSnapshot() MemorySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	return t.stats.clone()
}

// AllocationEntry pairs a ledger address with its record, for the
// diagnostic query methods.
type AllocationEntry struct {
	Address uint64
	Record  AllocationRecord
}

// AllocationsLargerThan returns the active allocations of at least min
// bytes. Order is unspecified.
func (t *Tracker) AllocationsLargerThan(min uint64) []AllocationEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []AllocationEntry
	for addr, rec := range t.stats.ActiveAllocations {
		if rec.Size >= min {
			out = append(out, AllocationEntry{Address: addr, Record: rec})
		}
	}
	return out
}

// AllocationsOlderThan returns the active allocations that were observed at
// least minAge before now. Order is unspecified.
func (t *Tracker) AllocationsOlderThan(minAge time.Duration, now time.Time) []AllocationEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []AllocationEntry
	for addr, rec := range t.stats.ActiveAllocations {
		if now.Sub(rec.Timestamp) >= minAge {
			out = append(out, AllocationEntry{Address: addr, Record: rec})
		}
	}
	return out
}

// Clear resets the tracker to an empty snapshot and zero peak so it can be
// reused for another session.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = MemorySnapshot{ActiveAllocations: make(map[uint64]AllocationRecord)}
	t.peak = 0
	t.done = false
}
