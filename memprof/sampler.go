package memprof

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// StopReason records why a profiling session ended.
type StopReason int

const (
	// StopProcessEnded means the target exited or disappeared.
	StopProcessEnded StopReason = iota
	// StopTimeoutExceeded means the configured maximum duration elapsed.
	StopTimeoutExceeded
	// StopUserCancelled means the session was interrupted from outside.
	StopUserCancelled
)

func (r StopReason) String() string {
	switch r {
	case StopProcessEnded:
		return "process_ended"
	case StopTimeoutExceeded:
		return "timeout_exceeded"
	case StopUserCancelled:
		return "user_cancelled"
	default:
		return "unknown"
	}
}

// MarshalText serializes the reason symbolically in reports.
func (r StopReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses the symbolic form written by MarshalText.
func (r *StopReason) UnmarshalText(text []byte) error {
	switch string(text) {
	case "process_ended":
		*r = StopProcessEnded
	case "timeout_exceeded":
		*r = StopTimeoutExceeded
	case "user_cancelled":
		*r = StopUserCancelled
	default:
		return fmt.Errorf("unknown stop reason %q", text)
	}
	return nil
}

// SamplerState is the scheduler's lifecycle state.
type SamplerState int32

const (
	// StateRunning means the sampling loop is active.
	StateRunning SamplerState = iota
	// StateStopping means a stop condition was observed and the loop is
	// winding down.
	StateStopping
	// StateStopped is terminal; the tracker is no longer mutated.
	StateStopped
)

// Sampler drives one profiling session: it races the periodic sampling
// timer against target exit and cancellation, feeding every successful
// sample into the tracker. All tracker mutation happens on the goroutine
// that calls Run.
type Sampler struct {
	Inspector   ProcessInspector
	Tracker     *Tracker
	Interval    time.Duration
	MaxDuration time.Duration

	// OnSample, when set, observes a read-only snapshot after every
	// successful tick (the live display hook).
	OnSample func(MemorySnapshot)

	// Exit delivers the spawned child's exit event. Nil in attach mode,
	// where liveness is polled each tick instead.
	Exit <-chan ExitStatus
	// Terminate requests termination of the spawned child. Nil in attach
	// mode.
	Terminate func()

	state      atomic.Int32
	exitStatus *ExitStatus
}

// State reports the scheduler's current lifecycle state.
func (s *Sampler) State() SamplerState {
	return SamplerState(s.state.Load())
}

// ExitStatus returns the child's exit status when the session observed one,
// nil otherwise.
func (s *Sampler) ExitStatus() *ExitStatus {
	return s.exitStatus
}

// Run executes the sampling loop until a stop condition and returns why it
// stopped. Failed snapshot reads skip the tick; they never abort the
// session. The deadline is fixed once at start from the monotonic clock and
// enforced on every tick even if ticks are delayed.
func (s *Sampler) Run(ctx context.Context) StopReason {
	deadline := time.Now().Add(s.MaxDuration)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.state.Store(int32(StateRunning))
	reason := s.loop(ctx, ticker.C, deadline)
	s.state.Store(int32(StateStopped))
	log.WithField("reason", reason).Debug("sampling stopped")
	return reason
}

func (s *Sampler) loop(ctx context.Context, ticks <-chan time.Time, deadline time.Time) StopReason {
	for {
		select {
		case <-ctx.Done():
			s.state.Store(int32(StateStopping))
			s.terminate()
			return StopUserCancelled

		case status := <-s.Exit:
			s.state.Store(int32(StateStopping))
			s.exitStatus = &status
			return StopProcessEnded

		case <-ticks:
			if snap, err := s.Inspector.Snapshot(); err != nil {
				// Transient read failures are expected (e.g. the target is
				// mid-exit); the next tick retries naturally.
				log.WithError(err).Debug("skipping sample")
			} else {
				s.Tracker.ReplaceSnapshot(snap)
				if s.OnSample != nil {
					s.OnSample(s.Tracker.Snapshot())
				}
			}

			if !time.Now().Before(deadline) {
				log.Warn("maximum duration reached, stopping profiling")
				s.state.Store(int32(StateStopping))
				s.terminate()
				return StopTimeoutExceeded
			}

			// Attach mode has no exit event to wait on; poll liveness.
			if s.Exit == nil && !s.Inspector.IsAlive() {
				log.Info("target process has terminated")
				s.state.Store(int32(StateStopping))
				return StopProcessEnded
			}
		}
	}
}

func (s *Sampler) terminate() {
	if s.Terminate != nil {
		s.Terminate()
	}
}
