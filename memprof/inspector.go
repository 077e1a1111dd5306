package memprof

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// ErrAttach is returned when the target process cannot be inspected at all
// (absent PID or insufficient permissions). It is fatal at session start;
// once sampling runs, individual read failures are merely skipped.
var ErrAttach = errors.New("cannot attach to process")

// ProcessInspector yields point-in-time memory snapshots and liveness facts
// for one target process. Implementations must treat a failed Snapshot as a
// transient condition: the caller will simply try again on the next tick.
type ProcessInspector interface {
	// Snapshot reads the target's current memory counters. The returned
	// snapshot carries no allocation ledger; only the external
	// instrumentation path populates that.
	Snapshot() (MemorySnapshot, error)
	// IsAlive reports whether the target still exists.
	IsAlive() bool
	// CommandLine returns the target's command line.
	CommandLine() (string, error)
	// PID returns the target's process ID.
	PID() int32
}

type procInspector struct {
	proc *process.Process
}

// Attach opens an inspector for an already-running process. The PID is
// probed once so a dead or unreadable target fails here, before any
// sampling begins.
func Attach(pid int32) (ProcessInspector, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("%w: pid %d: %v", ErrAttach, pid, err)
	}
	if _, err := proc.MemoryInfo(); err != nil {
		return nil, fmt.Errorf("%w: pid %d: %v", ErrAttach, pid, err)
	}
	return &procInspector{proc: proc}, nil
}

func (p *procInspector) Snapshot() (MemorySnapshot, error) {
	mi, err := p.proc.MemoryInfo()
	if err != nil {
		return MemorySnapshot{}, fmt.Errorf("reading memory info for pid %d: %w", p.proc.Pid, err)
	}

	// RSS is the working definition of current usage. The high-water mark
	// stands in for the peak where the OS reports one; otherwise the
	// tracker's own monotonic peak covers it.
	current := mi.RSS
	peak := mi.HWM
	if peak < current {
		peak = current
	}

	// Without allocator hooks the only reconstruction available is the
	// coarse one: everything up to the peak was allocated, and whatever is
	// no longer resident was freed.
	return MemorySnapshot{
		TotalAllocated:    peak,
		TotalFreed:        peak - current,
		CurrentUsage:      current,
		PeakUsage:         peak,
		ActiveAllocations: make(map[uint64]AllocationRecord),
	}, nil
}

func (p *procInspector) IsAlive() bool {
	running, err := p.proc.IsRunning()
	return err == nil && running
}

func (p *procInspector) CommandLine() (string, error) {
	return p.proc.Cmdline()
}

func (p *procInspector) PID() int32 {
	return p.proc.Pid
}
