package memprof

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ErrSpawn is returned when the target command cannot be launched.
var ErrSpawn = errors.New("cannot spawn process")

// ExitStatus describes how a spawned child ended.
type ExitStatus struct {
	// Code is the exit code, or -1 when the child was killed or the wait
	// itself failed.
	Code int `json:"code" yaml:"code"`
	// Err holds the wait error, if any. Not serialized; the code is the
	// durable fact.
	Err error `json:"-" yaml:"-"`
}

// Child is a spawned target process. Its exit is observable as a single
// event on Done.
type Child struct {
	cmd  *exec.Cmd
	done chan ExitStatus

	killOnce sync.Once
}

// Spawn launches argv[0] with the remaining arguments, inheriting stdout
// and stderr so the target behaves as if run directly. The returned Child's
// wait runs on its own goroutine.
func Spawn(argv []string) (*Child, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrSpawn)
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrSpawn, argv[0], err)
	}

	c := &Child{cmd: cmd, done: make(chan ExitStatus, 1)}
	go func() {
		err := cmd.Wait()
		status := ExitStatus{Code: cmd.ProcessState.ExitCode(), Err: err}
		log.WithField("pid", c.PID()).WithField("code", status.Code).Debug("child exited")
		c.done <- status
	}()
	return c, nil
}

// PID returns the child's process ID.
func (c *Child) PID() int32 {
	return int32(c.cmd.Process.Pid)
}

// Done delivers the child's exit status exactly once.
func (c *Child) Done() <-chan ExitStatus {
	return c.done
}

// Terminate kills the child. Safe to call more than once and after exit.
func (c *Child) Terminate() {
	c.killOnce.Do(func() {
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.WithError(err).WithField("pid", c.PID()).Warn("failed to kill child")
		}
	})
}
