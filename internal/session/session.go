// Package session implements the control-channel protocol between the
// panel and the agent: one Session per WebSocket connection, at most one
// chat turn in flight, frames delivered in order.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
	"pkt.systems/pslog"

	"github.com/standardbeagle/flycli/internal/aichannel"
	"github.com/standardbeagle/flycli/internal/logx"
	"github.com/standardbeagle/flycli/internal/metrics"
	"github.com/standardbeagle/flycli/internal/protocol"
	"github.com/standardbeagle/flycli/internal/sandbox"
	"github.com/standardbeagle/flycli/internal/terminal"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	sendQueueSize  = 64
	maxMessageSize = 8 << 20

	// DefaultTurnTimeout bounds a single chat turn.
	DefaultTurnTimeout = 10 * time.Minute
)

// ErrSessionClosed is returned when using a session after Close.
var ErrSessionClosed = errors.New("session closed")

// State of a session.
type State int

const (
	StateOpen State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateStreaming:
		return "STREAMING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configure every session a Manager opens.
type Options struct {
	Generator aichannel.Generator
	Workspace *sandbox.Workspace
	Executor  *terminal.Executor

	// Model is used when a chat message names none.
	Model        string
	SystemPrompt string
	MaxSteps     int
	MaxTokens    int
	Temperature  float64
	TurnTimeout  time.Duration

	// InboundRate throttles inbound messages per session. Zero disables it.
	InboundRate  rate.Limit
	InboundBurst int
}

type outbound struct {
	frame protocol.Frame
	turn  *turn
}

// Session is one panel connection.
type Session struct {
	ID string

	conn    *websocket.Conn
	opts    Options
	log     pslog.Logger
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	send    chan outbound
	closing chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	state   State
	current *turn

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open starts serving conn. The session runs until the peer disconnects,
// a transport error occurs, ctx is cancelled or Close is called.
func Open(ctx context.Context, conn *websocket.Conn, opts Options) *Session {
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = DefaultTurnTimeout
	}
	id := uuid.NewString()
	log := logx.WithSession(pslog.Ctx(ctx), id)
	ctx = pslog.ContextWithLogger(ctx, log)
	ctx, cancel := context.WithCancel(ctx)

	s := &Session{
		ID:      id,
		conn:    conn,
		opts:    opts,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		send:    make(chan outbound, sendQueueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		state:   StateOpen,
	}
	if opts.InboundRate > 0 {
		burst := opts.InboundBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(opts.InboundRate, burst)
	}

	metrics.SessionOpened()
	log.Info("panel connected", "remote", conn.RemoteAddr().String())

	go s.writePump()
	go s.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.closing:
		}
	}()
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the connection has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Send queues a session-level frame, such as a pushed file_list.
func (s *Session) Send(f protocol.Frame) error {
	if !s.enqueue(outbound{frame: f}) {
		return ErrSessionClosed
	}
	return nil
}

// HandleInbound decodes and acts on one panel message. A returned error is
// fatal for the session.
func (s *Session) HandleInbound(ctx context.Context, raw []byte) error {
	msg, err := protocol.DecodeInbound(raw)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case *protocol.ChatRequest:
		return s.startTurn(m)
	case *protocol.AbortRequest:
		s.abort()
		return nil
	case *protocol.ListFilesRequest:
		files, err := s.opts.Workspace.ProjectFiles(ctx)
		if err != nil {
			s.log.Warn("list-files failed", "error", err)
		}
		return s.Send(protocol.FileList{Files: files})
	case *protocol.TerminalRequest:
		if !s.spawn(func() { s.runTerminal(ctx, m.Command) }) {
			return ErrSessionClosed
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownMessage, msg.MessageType())
	}
}

func (s *Session) runTerminal(ctx context.Context, cmd terminal.Command) {
	res, err := s.opts.Executor.Run(ctx, cmd)
	if err != nil {
		s.log.Debug("terminal command failed", "command", cmd, "error", err)
	}
	_ = s.Send(protocol.TerminalResult{Stdout: res.Stdout, Stderr: res.Stderr, Success: res.Success})
}

// spawn runs fn on a goroutine the write pump waits for. The Add happens
// under s.mu while the session is not closed, so it always precedes the
// pump's Wait.
func (s *Session) spawn(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// startTurn cancels any in-flight turn and starts a new one.
func (s *Session) startTurn(req *protocol.ChatRequest) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	prev := s.current
	if prev != nil {
		prev.supersede()
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.TurnTimeout)
	t := newTurn(s, cancel)
	ctx = pslog.ContextWithLogger(ctx, logx.WithTurn(s.log, t.id))
	s.current = t
	s.state = StateStreaming
	s.wg.Add(1)
	s.mu.Unlock()

	if prev != nil {
		s.log.Debug("turn replaced", "previous", prev.id, "turn", t.id)
	}

	go func() {
		defer s.wg.Done()
		s.runTurn(ctx, t, s.buildRequest(req))
	}()
	return nil
}

func (s *Session) buildRequest(req *protocol.ChatRequest) aichannel.Request {
	model := req.Model
	if model == "" {
		model = s.opts.Model
	}
	msgs := make([]aichannel.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, aichannel.Message{Role: aichannel.Role(m.Role), Text: m.Text()})
	}
	return aichannel.Request{
		Model:       model,
		System:      s.opts.SystemPrompt,
		Messages:    msgs,
		Tools:       sandbox.Tools(),
		MaxSteps:    s.opts.MaxSteps,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	}
}

func (s *Session) runTurn(ctx context.Context, t *turn, req aichannel.Request) {
	defer t.cancel()
	log := pslog.Ctx(ctx)
	log.Debug("turn started", "model", req.Model, "messages", len(req.Messages))

	err := s.opts.Generator.Generate(ctx, req, t)

	outcome := "finished"
	fatal := false
	switch {
	case t.superseded.Load():
		outcome = "replaced"
	case err == nil:
		t.emit(protocol.Finish{})
	case errors.Is(err, aichannel.ErrStepLimit):
		outcome = "step-limit"
		log.Info("turn stopped at step limit", "max_steps", req.MaxSteps)
		t.emit(protocol.Finish{})
	case t.aborted.Load() && errors.Is(err, context.Canceled):
		outcome = "aborted"
		t.emit(protocol.Finish{})
	case s.ctx.Err() != nil:
		outcome = "closed"
	default:
		outcome = "error"
		fatal = true
		msg := "generation failed"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			msg = "turn timed out"
		case aichannel.IsConfigError(err):
			msg = "no model provider configured"
		}
		log.Error("turn failed", "error", err)
		t.emit(protocol.ErrorFrame{Message: msg, Err: err.Error()})
	}
	t.close()
	metrics.TurnEnded(outcome)
	log.Debug("turn ended", "outcome", outcome)

	s.mu.Lock()
	if s.current == t {
		s.current = nil
		if s.state == StateStreaming {
			s.state = StateOpen
		}
	}
	s.mu.Unlock()

	if fatal {
		s.Close()
	}
}

func (s *Session) abort() {
	s.mu.Lock()
	t := s.current
	s.mu.Unlock()
	if t == nil {
		return
	}
	t.aborted.Store(true)
	t.cancel()
}

// Close aborts the in-flight turn and tears down the connection after the
// queued frames are flushed. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		t := s.current
		s.current = nil
		s.mu.Unlock()

		if t != nil {
			t.cancel()
			t.close()
		}
		close(s.closing)
	})
}

// enqueue hands a frame to the write pump. It reports false once the
// session is closing.
func (s *Session) enqueue(o outbound) bool {
	select {
	case <-s.closing:
		return false
	default:
	}
	select {
	case s.send <- o:
		return true
	case <-s.closing:
		return false
	}
}

func (s *Session) fail(err error) {
	s.log.Warn("closing session", "error", err)
	_ = s.Send(protocol.ErrorFrame{Message: "invalid message", Err: err.Error()})
	s.Close()
}

func (s *Session) readLoop() {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.log.Warn("panel read error", "error", err)
			}
			return
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(s.ctx); err != nil {
				return
			}
		}
		if err := s.HandleInbound(s.ctx, raw); err != nil {
			s.fail(err)
			return
		}
	}
}

func (s *Session) write(o outbound) error {
	if o.turn != nil && o.turn.superseded.Load() {
		return nil
	}
	data, err := protocol.Encode(o.frame)
	if err != nil {
		err = fmt.Errorf("encode %s frame: %w", o.frame.FrameType(), err)
		s.log.Error("closing session", "error", err)
		if msg, merr := protocol.Encode(protocol.ErrorFrame{Message: "encode failed", Err: err.Error()}); merr == nil {
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.TextMessage, msg)
		}
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	metrics.FrameSent(string(o.frame.FrameType()))
	return nil
}

// writePump owns every write to the connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.cancel()
		s.Close()
		s.conn.Close()
		s.wg.Wait()
		metrics.SessionClosed()
		s.log.Info("panel disconnected")
		close(s.done)
	}()

	for {
		select {
		case o := <-s.send:
			if err := s.write(o); err != nil {
				s.log.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closing:
			s.flush()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is already queued.
func (s *Session) flush() {
	for {
		select {
		case o := <-s.send:
			if err := s.write(o); err != nil {
				return
			}
		default:
			return
		}
	}
}

// MarshalJSON reports the session for the diagnostics endpoint.
func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}{s.ID, s.State().String()})
}
