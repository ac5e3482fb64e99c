package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/standardbeagle/flycli/internal/aichannel"
	"github.com/standardbeagle/flycli/internal/logx"
	"github.com/standardbeagle/flycli/internal/protocol"
	"github.com/standardbeagle/flycli/internal/sandbox"
)

// turn is one chat generation. It is the aichannel.Handler the generator
// streams into and the sink its frames pass through.
//
// Once closed, emit is a no-op. A superseded turn additionally has any
// frames still waiting in the outbound queue dropped.
type turn struct {
	id      string
	session *Session
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool

	superseded atomic.Bool
	aborted    atomic.Bool
}

func newTurn(s *Session, cancel context.CancelFunc) *turn {
	return &turn{
		id:      uuid.NewString(),
		session: s,
		cancel:  cancel,
	}
}

// emit queues a frame for this turn. It holds the sink lock while queueing
// so a concurrent close cannot interleave with a frame in flight.
func (t *turn) emit(f protocol.TurnFrame) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	return t.session.enqueue(outbound{frame: f.WithTurn(t.id), turn: t})
}

// close stops the sink. Later emits are dropped.
func (t *turn) close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// supersede cancels the turn and discards everything it has not yet
// delivered.
func (t *turn) supersede() {
	t.superseded.Store(true)
	t.close()
	t.cancel()
}

func (t *turn) Text(delta string) {
	if delta == "" {
		return
	}
	t.emit(protocol.TextDelta{Text: delta})
}

func (t *turn) Reasoning(delta string) {
	if delta == "" {
		return
	}
	t.emit(protocol.ReasoningDelta{Text: delta})
}

// ToolCall announces the call, runs it in the sandbox and reports the
// outcome. Tool failures become data for both the panel and the model.
func (t *turn) ToolCall(ctx context.Context, call aichannel.ToolCall) aichannel.ToolResult {
	if call.ID == "" {
		call.ID = "call_" + uuid.NewString()
	}
	log := logx.WithToolCall(pslog.Ctx(ctx), call.Name, call.ID)

	args := call.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if !json.Valid(args) {
		// Announce the raw text as a JSON string so the frame still encodes.
		quoted, _ := json.Marshal(string(args))
		t.emit(protocol.ToolCallStart{CallID: call.ID, Name: call.Name, Args: quoted})
		return t.fail(log, call.ID, &sandbox.ToolError{
			Code:    sandbox.CodeInvalidArguments,
			Message: "tool arguments are not valid JSON",
		})
	}

	t.emit(protocol.ToolCallStart{CallID: call.ID, Name: call.Name, Args: args})

	out, err := t.session.opts.Workspace.Dispatch(ctx, call.Name, args)
	if err != nil {
		return t.fail(log, call.ID, sandbox.AsToolError(err, sandbox.CodeInvalidArguments))
	}

	t.emit(protocol.ToolCallResult{CallID: call.ID, Output: out})
	return aichannel.ToolResult{Output: out}
}

func (t *turn) fail(log pslog.Logger, callID string, te *sandbox.ToolError) aichannel.ToolResult {
	log.Debug("tool call failed", "code", te.Code, "message", te.Message)
	t.emit(protocol.ToolCallResult{
		CallID: callID,
		Error:  &protocol.ToolError{Code: string(te.Code), Message: te.Message},
	})
	return aichannel.ToolResult{Err: te}
}
