// Package logx holds the small logging helpers shared by flycli packages.
package logx

import (
	"io"

	"pkt.systems/pslog"
)

// Level picks the minimum level from the CLI verbosity flags. Silent wins
// over verbose.
func Level(verbose, silent bool) pslog.Level {
	switch {
	case silent:
		return pslog.WarnLevel
	case verbose:
		return pslog.DebugLevel
	default:
		return pslog.InfoLevel
	}
}

// New builds the root logger. Console mode is meant for a terminal;
// structured mode emits one JSON object per line.
func New(w io.Writer, console, verbose, silent bool) pslog.Logger {
	mode := pslog.ModeStructured
	if console {
		mode = pslog.ModeConsole
	}
	return pslog.NewWithOptions(w, pslog.Options{
		Mode:     mode,
		NoColor:  !console,
		MinLevel: Level(verbose, silent),
	})
}

// WithSession annotates the logger with a control session id.
func WithSession(log pslog.Logger, sessionID string) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// WithTurn annotates the logger with a chat turn id.
func WithTurn(log pslog.Logger, turnID string) pslog.Logger {
	if turnID != "" {
		log = log.With("turn", turnID)
	}
	return log
}

// WithToolCall annotates the logger with a tool name and call id.
func WithToolCall(log pslog.Logger, name, callID string) pslog.Logger {
	if name != "" {
		log = log.With("tool", name)
	}
	if callID != "" {
		log = log.With("call", callID)
	}
	return log
}

// WithRoute annotates the logger with a request and its routing decision.
func WithRoute(log pslog.Logger, method, path, route string) pslog.Logger {
	return log.With("method", method, "path", path, "route", route)
}
