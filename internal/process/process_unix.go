//go:build !windows

package process

import (
	"errors"
	"io"
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// start runs cmd under a pseudo-terminal so dev servers keep their colored,
// line-buffered output. pty.Start makes the child a session leader, which
// also gives it its own process group.
func start(cmd *exec.Cmd) (io.ReadCloser, error) {
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 120})
	if err != nil {
		return nil, err
	}
	return ptmx, nil
}

// signalGroup signals the process group led by pid, or pid alone if the
// group cannot be found.
func signalGroup(pid int, sig unix.Signal) error {
	if pgid, err := unix.Getpgid(pid); err == nil && pgid > 0 {
		return unix.Kill(-pgid, sig)
	}
	return unix.Kill(pid, sig)
}

func terminate(pid int) error { return signalGroup(pid, unix.SIGTERM) }

func kill(pid int) error { return signalGroup(pid, unix.SIGKILL) }

func isNoSuchProcess(err error) bool { return errors.Is(err, unix.ESRCH) }
