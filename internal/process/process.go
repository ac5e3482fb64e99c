// Package process runs the user's dev server as a child of flycli, echoes
// its output, and tears down the whole process tree on shutdown.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"

	"github.com/standardbeagle/flycli/internal/config"
)

var (
	// ErrNoCommand is returned when no command is given.
	ErrNoCommand = errors.New("no command provided")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("process already started")
)

// DefaultGracePeriod is how long Stop waits after SIGTERM before SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// State of a dev server.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DevServer is a wrapped command such as "npm run dev".
type DevServer struct {
	Command []string
	Dir     string
	// Echo receives a copy of the command's output. Nil discards it.
	Echo io.Writer
	// GracePeriod overrides DefaultGracePeriod.
	GracePeriod time.Duration

	cmd    *exec.Cmd
	output io.ReadCloser
	tail   *Tail

	state    atomic.Int32
	exitCode atomic.Int32
	done     chan struct{}
	stopOnce sync.Once
}

// New prepares a dev server. It does not start it.
func New(command []string, dir string, echo io.Writer) (*DevServer, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, ErrNoCommand
	}
	return &DevServer{
		Command: command,
		Dir:     dir,
		Echo:    echo,
		tail:    NewTail(64 << 10),
		done:    make(chan struct{}),
	}, nil
}

// State returns the current state.
func (d *DevServer) State() State { return State(d.state.Load()) }

// Done is closed when the process exits.
func (d *DevServer) Done() <-chan struct{} { return d.done }

// ExitCode is valid after Done is closed. -1 means it was not a normal exit.
func (d *DevServer) ExitCode() int { return int(d.exitCode.Load()) }

// Output returns the most recent output.
func (d *DevServer) Output() string { return d.tail.String() }

// PID returns the process id, or 0 before Start.
func (d *DevServer) PID() int {
	if d.cmd == nil || d.cmd.Process == nil {
		return 0
	}
	return d.cmd.Process.Pid
}

// Start launches the command. The process outlives ctx; call Stop to end it.
func (d *DevServer) Start(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(StatePending), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	log := pslog.Ctx(ctx)

	d.cmd = exec.Command(d.Command[0], d.Command[1:]...)
	d.cmd.Dir = d.Dir
	d.cmd.Env = append(os.Environ(), "FORCE_COLOR=1")

	out, err := start(d.cmd)
	if err != nil {
		d.state.Store(int32(StateFailed))
		close(d.done)
		return fmt.Errorf("failed to start %s: %w", d.Command[0], err)
	}
	d.output = out
	log.Info("dev server started", "command", d.Command, "pid", d.PID())

	copied := make(chan struct{})
	go func() {
		defer close(copied)
		var w io.Writer = d.tail
		if d.Echo != nil {
			w = io.MultiWriter(d.tail, d.Echo)
		}
		// A PTY read returns EIO once the child side closes.
		_, _ = io.Copy(w, out)
	}()

	go func() {
		err := d.cmd.Wait()
		select {
		case <-copied:
		case <-time.After(time.Second):
		}
		_ = out.Close()

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				d.exitCode.Store(int32(exitErr.ExitCode()))
			} else {
				d.exitCode.Store(-1)
			}
			if d.State() != StateStopping {
				d.state.Store(int32(StateFailed))
			} else {
				d.state.Store(int32(StateStopped))
			}
		} else {
			d.state.Store(int32(StateStopped))
		}
		log.Info("dev server exited", "code", d.ExitCode(), "state", d.State().String())
		close(d.done)
	}()
	return nil
}

// Stop sends SIGTERM to the process group and SIGKILL after the grace
// period or when ctx ends.
func (d *DevServer) Stop(ctx context.Context) error {
	if d.PID() == 0 {
		return nil
	}
	select {
	case <-d.done:
		return nil
	default:
	}

	var err error
	d.stopOnce.Do(func() {
		d.state.Store(int32(StateStopping))
		grace := d.GracePeriod
		if grace <= 0 {
			grace = DefaultGracePeriod
		}

		_ = terminate(d.PID())
		select {
		case <-d.done:
			return
		case <-time.After(grace):
		case <-ctx.Done():
		}
		if kerr := kill(d.PID()); kerr != nil && !isNoSuchProcess(kerr) {
			err = fmt.Errorf("failed to kill %s: %w", d.Command[0], kerr)
			return
		}
		select {
		case <-d.done:
		case <-time.After(time.Second):
		}
	})
	return err
}

// DetectPort waits for the dev server to report the port it listens on.
func (d *DevServer) DetectPort(ctx context.Context, detector *config.PortDetector, timeout time.Duration) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return detector.WaitForPort(ctx, d.PID(), d.Output, timeout)
}

// portConflictPatterns matches common EADDRINUSE error patterns
var portConflictPatterns = []*regexp.Regexp{
	regexp.MustCompile(`EADDRINUSE.*:(\d+)`),                             // Node.js style
	regexp.MustCompile(`listen tcp[^\d]*:(\d+).*address already in use`), // Go style
	regexp.MustCompile(`[Aa]ddress already in use.*[':]+(\d+)`),          // Python/generic with port after
}

// PortConflict reports the port a failed dev server could not bind, or 0.
func (d *DevServer) PortConflict() int {
	out := d.Output()
	for _, pattern := range portConflictPatterns {
		if m := pattern.FindStringSubmatch(out); len(m) >= 2 {
			if port, err := strconv.Atoi(m[1]); err == nil && port > 0 && port <= 65535 {
				return port
			}
		}
	}
	return 0
}
