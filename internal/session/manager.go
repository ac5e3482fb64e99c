package session

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"github.com/standardbeagle/flycli/internal/protocol"
)

// ErrShuttingDown is returned when a session is requested during shutdown.
var ErrShuttingDown = errors.New("session manager is shutting down")

// Manager tracks the live sessions and upgrades /agent requests.
type Manager struct {
	opts     Options
	baseCtx  context.Context
	upgrader websocket.Upgrader

	sessions     sync.Map // map[string]*Session
	activeCount  atomic.Int64
	totalStarted atomic.Int64

	shuttingDown atomic.Bool
}

// NewManager creates a manager. Sessions inherit ctx's logger and are
// closed when ctx is cancelled.
func NewManager(ctx context.Context, opts Options) *Manager {
	return &Manager{
		opts:    opts,
		baseCtx: ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     SameOrigin,
		},
	}
}

// SameOrigin accepts upgrades from the page flycli itself served. A request
// without an Origin header is not from a browser and is accepted. A loopback
// origin on the same port as the request is treated as the same host, so
// localhost and 127.0.0.1 are interchangeable.
func SameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	_, reqPort, err := net.SplitHostPort(r.Host)
	if err != nil {
		return false
	}
	return u.Port() == reqPort && isLoopback(u.Hostname()) && isLoopback(hostOnly(r.Host))
}

func hostOnly(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ServeHTTP upgrades the request and serves the session until it ends.
// Plain HTTP requests get 426 Upgrade Required.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Upgrade", "websocket")
		http.Error(w, "the agent endpoint requires a WebSocket upgrade", http.StatusUpgradeRequired)
		return
	}
	if m.shuttingDown.Load() {
		http.Error(w, ErrShuttingDown.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		pslog.Ctx(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}

	s := Open(m.baseCtx, conn, m.opts)
	m.sessions.Store(s.ID, s)
	m.activeCount.Add(1)
	m.totalStarted.Add(1)

	<-s.Done()
	m.sessions.Delete(s.ID)
	m.activeCount.Add(-1)
}

// List returns all live sessions.
func (m *Manager) List() []*Session {
	var out []*Session
	m.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*Session))
		return true
	})
	return out
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int64 { return m.activeCount.Load() }

// TotalStarted returns the number of sessions ever opened.
func (m *Manager) TotalStarted() int64 { return m.totalStarted.Load() }

// Broadcast sends a session-level frame to every live session and returns
// how many accepted it.
func (m *Manager) Broadcast(f protocol.Frame) int {
	sent := 0
	m.sessions.Range(func(_, v any) bool {
		if v.(*Session).Send(f) == nil {
			sent++
		}
		return true
	})
	return sent
}

// Shutdown closes every session and waits for them to finish or for ctx
// to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shuttingDown.Store(true)
	sessions := m.List()
	for _, s := range sessions {
		s.Close()
	}
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// WaitIdle blocks until no sessions remain or the timeout elapses. Used by
// tests and graceful shutdown.
func (m *Manager) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.activeCount.Load() == 0 {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return m.activeCount.Load() == 0
}
