package memprof

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config selects the target and cadence of one profiling session. Exactly
// one of PID and Command must be set.
type Config struct {
	// PID attaches to an existing process.
	PID int32
	// Command spawns a new process to profile.
	Command []string
	// Interval is the sampling period. Must be positive.
	Interval time.Duration
	// MaxDuration caps the session length. Must be positive.
	MaxDuration time.Duration
	// OnSample, when set, observes the running snapshot after every
	// successful sample.
	OnSample func(MemorySnapshot)
}

func (c Config) validate() error {
	if (c.PID != 0) == (len(c.Command) != 0) {
		return fmt.Errorf("exactly one of pid and command must be set")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	if c.MaxDuration <= 0 {
		return fmt.Errorf("max duration must be positive, got %v", c.MaxDuration)
	}
	return nil
}

// ProfileSession is the completed record of one run. It is immutable once
// returned; reports serialize it as-is.
type ProfileSession struct {
	PID        int32     `json:"pid" yaml:"pid"`
	Command    string    `json:"command" yaml:"command"`
	StartTime  time.Time `json:"start_time" yaml:"start_time"`
	EndTime    time.Time `json:"end_time" yaml:"end_time"`
	DurationNS int64     `json:"duration_ns" yaml:"duration_ns"`
	// DurationText repeats the duration human-readably so the record is
	// self-describing without a decoder.
	DurationText string     `json:"duration" yaml:"duration"`
	StopReason   StopReason `json:"stop_reason" yaml:"stop_reason"`
	// ExitStatus is present only when a spawned child's exit was observed.
	ExitStatus    *ExitStatus    `json:"exit_status,omitempty" yaml:"exit_status,omitempty"`
	FinalSnapshot MemorySnapshot `json:"memory_stats" yaml:"memory_stats"`
	LeakSummary   LeakSummary    `json:"leak_summary" yaml:"leak_summary"`
}

// Duration returns the session's wall-clock length.
func (s *ProfileSession) Duration() time.Duration {
	return time.Duration(s.DurationNS)
}

// Profile runs one complete profiling session. Attach and spawn failures
// are fatal and reported before any sampling; once the loop is running,
// per-tick read failures are absorbed and the session always completes with
// a consistent record. Cancel ctx to stop the session early.
func Profile(ctx context.Context, cfg Config) (*ProfileSession, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var (
		inspector ProcessInspector
		child     *Child
		command   string
		err       error
	)
	if len(cfg.Command) > 0 {
		log.WithField("command", cfg.Command).Info("starting new process")
		child, err = Spawn(cfg.Command)
		if err != nil {
			return nil, err
		}
		command = strings.Join(cfg.Command, " ")
		inspector, err = Attach(child.PID())
		if err != nil {
			// The child can exit before the first inspection; that is an
			// attach failure like any other, but don't leave it running.
			child.Terminate()
			return nil, err
		}
	} else {
		log.WithField("pid", cfg.PID).Info("profiling existing process")
		inspector, err = Attach(cfg.PID)
		if err != nil {
			return nil, err
		}
	}

	tracker := NewTracker()
	sampler := &Sampler{
		Inspector:   inspector,
		Tracker:     tracker,
		Interval:    cfg.Interval,
		MaxDuration: cfg.MaxDuration,
		OnSample:    cfg.OnSample,
	}
	if child != nil {
		sampler.Exit = child.Done()
		sampler.Terminate = child.Terminate
	}

	startTime := time.Now()
	reason := sampler.Run(ctx)
	endTime := time.Now()

	if command == "" {
		// Best effort: the target may already be gone.
		if cmdline, err := inspector.CommandLine(); err == nil {
			command = cmdline
		}
	}

	final := tracker.FinalSnapshot()
	session := &ProfileSession{
		PID:           inspector.PID(),
		Command:       command,
		StartTime:     startTime,
		EndTime:       endTime,
		DurationNS:    int64(endTime.Sub(startTime)),
		DurationText:  endTime.Sub(startTime).Round(time.Millisecond).String(),
		StopReason:    reason,
		ExitStatus:    sampler.ExitStatus(),
		FinalSnapshot: final,
		LeakSummary:   AnalyzeLeaks(final),
	}
	log.WithField("pid", session.PID).WithField("reason", reason).Info("profiling session complete")
	return session, nil
}
