// Package proxy serves the control panel and forwards all other traffic to
// the wrapped application, multiplexing both over a single port.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"

	"github.com/standardbeagle/flycli/internal/aichannel"
	"github.com/standardbeagle/flycli/internal/logx"
	"github.com/standardbeagle/flycli/internal/metrics"
	"github.com/standardbeagle/flycli/internal/panel"
)

const shutdownTimeout = 5 * time.Second

// ErrNotRunning is returned by Stop when the server was never started.
var ErrNotRunning = errors.New("server not running")

// SessionCounter reports live control sessions for the health endpoint.
type SessionCounter interface {
	ActiveCount() int64
}

// Options configure a Server.
type Options struct {
	// ListenPort is the control port. 0 picks a free port.
	ListenPort int
	// AppPort is where the wrapped application listens.
	AppPort int
	// Agent serves the /agent WebSocket.
	Agent http.Handler
	// Panel holds index.html and assets/. Nil uses the embedded panel.
	Panel fs.FS
	// InjectLauncher adds the floating launcher to proxied HTML.
	InjectLauncher bool
	// Config is served as JSON at /__flycli/config.
	Config   any
	Sessions SessionCounter
	// DefaultModel is reported by /__flycli/models.
	DefaultModel string
}

// Server is the single listening endpoint of flycli.
type Server struct {
	ListenAddr string

	opts       Options
	upstream   *upstream
	assets     http.Handler
	control    *http.ServeMux
	httpServer *http.Server

	running    atomic.Bool
	startTime  time.Time
	requestSeq atomic.Int64
	mu         sync.Mutex
	cancelFunc context.CancelFunc

	// Ready signal - closed when server is ready to accept connections
	ready     chan struct{}
	readyOnce sync.Once

	done     chan struct{}
	serveErr error
}

// New creates a server. Nothing is bound until Start.
func New(opts Options) (*Server, error) {
	if opts.ListenPort < 0 || opts.ListenPort > 65535 {
		return nil, fmt.Errorf("invalid listen port %d", opts.ListenPort)
	}
	if opts.Panel == nil {
		opts.Panel = panel.Embedded()
	}
	s := &Server{
		ListenAddr: fmt.Sprintf(":%d", opts.ListenPort),
		opts:       opts,
		assets:     http.FileServerFS(opts.Panel),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.upstream = newUpstream(opts.AppPort, opts.InjectLauncher, nil)
	s.control = s.controlMux()
	return s, nil
}

// AppPort returns the current application port.
func (s *Server) AppPort() int { return int(s.upstream.appPort.Load()) }

// SetAppPort retargets forwarding and the panel document, typically after
// the port was detected from the wrapped command's output.
func (s *Server) SetAppPort(port int) { s.upstream.appPort.Store(int64(port)) }

// ServeHTTP routes a request to the panel, the agent, the control API or
// the application.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.requestSeq.Add(1)
	d := Route(r.Method, r.URL.Path)
	logx.WithRoute(pslog.Ctx(r.Context()), r.Method, r.URL.Path, string(d.Handler)).Debug("request")

	switch d.Handler {
	case HandlerAssets:
		s.assets.ServeHTTP(w, r)
	case HandlerDocument:
		s.serveDocument(w, r)
	case HandlerAgent:
		if s.opts.Agent == nil {
			http.Error(w, "agent unavailable", http.StatusServiceUnavailable)
			return
		}
		s.opts.Agent.ServeHTTP(w, r)
	case HandlerControl:
		s.control.ServeHTTP(w, r)
	default:
		s.upstream.ServeHTTP(w, r)
	}
}

// Document returns the panel document with the app port script injected.
func (s *Server) Document() ([]byte, error) {
	body, err := fs.ReadFile(s.opts.Panel, panel.IndexFile)
	if err != nil {
		return nil, err
	}
	return Inject(body, AppPortScript(s.AppPort())), nil
}

func (s *Server) serveDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := s.Document()
	if err != nil {
		pslog.Ctx(r.Context()).Error("panel document unavailable", "error", err)
		http.Error(w, "panel unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(body)
}

func (s *Server) controlMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET "+ControlPrefix+"metrics", metrics.Handler())
	mux.HandleFunc("GET "+ControlPrefix+"health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.Stats())
	})
	mux.HandleFunc("GET "+ControlPrefix+"config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.opts.Config)
	})
	mux.HandleFunc("GET "+ControlPrefix+"models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"default": s.opts.DefaultModel,
			"models":  aichannel.Catalog(),
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(v)
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel
	logger := pslog.Ctx(ctx)

	// Try to bind to requested port first
	listener, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		if !isAddressInUse(err) {
			cancel()
			return fmt.Errorf("failed to listen on %s: %w", s.ListenAddr, err)
		}
		// If port is in use, try to find an available port
		listener, err = net.Listen("tcp", ":0")
		if err != nil {
			cancel()
			return fmt.Errorf("failed to find available port: %w", err)
		}
		logger.Warn("control port in use, using a free port", "requested", s.ListenAddr, "bound", listener.Addr().String())
	}

	// Update ListenAddr with actual bound address
	s.ListenAddr = listener.Addr().String()

	errorLog := pslog.LogLoggerWithLevel(logger, pslog.ErrorLevel)
	s.upstream.proxy.ErrorLog = errorLog
	s.httpServer = &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s,
		ErrorLog:          errorLog,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},
	}

	s.startTime = time.Now()
	s.running.Store(true)

	// Signal that server is ready to accept connections
	// This is safe because the listener is already bound
	s.readyOnce.Do(func() {
		close(s.ready)
	})

	go func() {
		err := s.httpServer.Serve(listener)
		if !errors.Is(err, http.ErrServerClosed) {
			s.serveErr = err
		}
		s.running.Store(false)
		close(s.done)
	}()
	return nil
}

// Run starts the server and blocks until ctx is cancelled or serving
// fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case <-s.done:
		return s.serveErr
	}
}

// isAddressInUse checks if the error is due to address already in use.
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "address already in use") ||
		strings.Contains(err.Error(), "bind") && strings.Contains(err.Error(), "in use")
}

// Stop gracefully stops the server. Hijacked WebSocket connections are not
// tracked here; the session manager closes those.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer == nil {
		return ErrNotRunning
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	err := s.httpServer.Shutdown(ctx)
	s.running.Store(false)
	return err
}

// IsRunning returns true if the server is serving.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Ready returns a channel that is closed when the server is ready to accept connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Port returns the bound control port, or 0 before Start.
func (s *Server) Port() int {
	_, port, err := net.SplitHostPort(s.ListenAddr)
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return p
}

// Stats holds server statistics.
type Stats struct {
	Status         string        `json:"status"`
	ListenAddr     string        `json:"listenAddr"`
	AppPort        int           `json:"appPort"`
	Running        bool          `json:"running"`
	Uptime         time.Duration `json:"uptime"`
	TotalRequests  int64         `json:"totalRequests"`
	ActiveSessions int64         `json:"activeSessions"`
}

// Stats returns server statistics.
func (s *Server) Stats() Stats {
	st := Stats{
		Status:        "ok",
		ListenAddr:    s.ListenAddr,
		AppPort:       s.AppPort(),
		Running:       s.running.Load(),
		TotalRequests: s.requestSeq.Load(),
	}
	if !s.startTime.IsZero() {
		st.Uptime = time.Since(s.startTime)
	}
	if s.opts.Sessions != nil {
		st.ActiveSessions = s.opts.Sessions.ActiveCount()
	}
	return st
}
