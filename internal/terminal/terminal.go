// Package terminal runs one-shot commands for the panel's terminal view.
package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"pkt.systems/pslog"
)

// DefaultTimeout bounds a single command.
const DefaultTimeout = 60 * time.Second

// ErrNoCommand is returned when a command has no tokens. Nothing is spawned.
var ErrNoCommand = errors.New("NO_COMMAND: no command provided")

// Command is an argv list. On the wire it is either an array of strings or
// a single string split on whitespace.
type Command []string

// UnmarshalJSON accepts "ls -la" as well as ["ls", "-la"].
func (c *Command) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Fields(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("command must be a string or an array of strings")
	}
	*c = normalize(list)
	return nil
}

// Fields splits a command line on whitespace, dropping empty tokens.
func Fields(s string) Command {
	return Command(strings.Fields(s))
}

func normalize(list []string) Command {
	out := make(Command, 0, len(list))
	for _, tok := range list {
		if strings.TrimSpace(tok) != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Result is the captured outcome of a command.
type Result struct {
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Success bool   `json:"success"`
}

// Executor runs commands from a fixed working directory.
type Executor struct {
	dir     string
	timeout time.Duration
}

// NewExecutor returns an Executor rooted at dir. A zero timeout uses
// DefaultTimeout.
func NewExecutor(dir string, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{dir: dir, timeout: timeout}
}

// Run executes cmd synchronously and returns both output streams once it
// exits. Failing to start, a non-zero exit and a timeout all produce a
// Result with Success false; only an empty command is an error.
func (e *Executor) Run(ctx context.Context, cmd Command) (Result, error) {
	cmd = normalize(cmd)
	if len(cmd) == 0 {
		return Result{Stderr: "No command provided"}, ErrNoCommand
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	c.Dir = e.dir
	c.Stdout = &stdout
	c.Stderr = &stderr
	c.WaitDelay = 2 * time.Second

	start := time.Now()
	err := c.Run()
	log := pslog.Ctx(ctx).With("argv0", cmd[0], "elapsed", time.Since(start))

	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), Success: err == nil}
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			res.Stderr += fmt.Sprintf("\ncommand timed out after %s", e.timeout)
		case !errors.As(err, &exitErr):
			res.Stderr += err.Error()
		}
		log.Debug("terminal command failed", "error", err)
		return res, nil
	}
	log.Debug("terminal command ok")
	return res, nil
}
