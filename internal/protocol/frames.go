package protocol

import (
	"encoding/json"
)

// FrameType is the "type" discriminant of an outbound frame.
type FrameType string

const (
	FrameTextDelta      FrameType = "text-delta"
	FrameReasoningDelta FrameType = "reasoning-delta"
	FrameToolCallStart  FrameType = "tool-call-start"
	FrameToolCallResult FrameType = "tool-call-result"
	FrameFinish         FrameType = "finish"
	FrameError          FrameType = "error"
	FrameFileList       FrameType = "file_list"
	FrameTerminalResult FrameType = "terminal_result"
)

// Frame is one outbound message. Every implementation marshals itself with
// its "type" field set.
type Frame interface {
	FrameType() FrameType
}

// TurnFrame is a Frame that belongs to a chat turn.
type TurnFrame interface {
	Frame
	WithTurn(turnID string) Frame
}

// TextDelta carries incremental assistant text.
type TextDelta struct {
	TurnID string `json:"turnId,omitempty"`
	Text   string `json:"text"`
}

// ReasoningDelta carries incremental model reasoning.
type ReasoningDelta struct {
	TurnID string `json:"turnId,omitempty"`
	Text   string `json:"text"`
}

// ToolCallStart announces a tool invocation before it runs.
type ToolCallStart struct {
	TurnID string          `json:"turnId,omitempty"`
	CallID string          `json:"callId"`
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args"`
}

// ToolError is the error half of a tool-call-result.
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToolCallResult ends a tool invocation with either Output or Error.
type ToolCallResult struct {
	TurnID string     `json:"turnId,omitempty"`
	CallID string     `json:"callId"`
	Output any        `json:"output,omitempty"`
	Error  *ToolError `json:"error,omitempty"`
}

// Finish ends a turn.
type Finish struct {
	TurnID string `json:"turnId,omitempty"`
}

// ErrorFrame is sent once before the session is closed.
type ErrorFrame struct {
	TurnID  string `json:"turnId,omitempty"`
	Message string `json:"message"`
	Err     string `json:"error"`
}

// FileList answers a list-files request.
type FileList struct {
	Files []string `json:"files"`
}

// TerminalResult answers a terminal request.
type TerminalResult struct {
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Success bool   `json:"success"`
}

func (TextDelta) FrameType() FrameType      { return FrameTextDelta }
func (ReasoningDelta) FrameType() FrameType { return FrameReasoningDelta }
func (ToolCallStart) FrameType() FrameType  { return FrameToolCallStart }
func (ToolCallResult) FrameType() FrameType { return FrameToolCallResult }
func (Finish) FrameType() FrameType         { return FrameFinish }
func (ErrorFrame) FrameType() FrameType     { return FrameError }
func (FileList) FrameType() FrameType       { return FrameFileList }
func (TerminalResult) FrameType() FrameType { return FrameTerminalResult }

func (f TextDelta) WithTurn(id string) Frame      { f.TurnID = id; return f }
func (f ReasoningDelta) WithTurn(id string) Frame { f.TurnID = id; return f }
func (f ToolCallStart) WithTurn(id string) Frame  { f.TurnID = id; return f }
func (f ToolCallResult) WithTurn(id string) Frame { f.TurnID = id; return f }
func (f Finish) WithTurn(id string) Frame         { f.TurnID = id; return f }
func (f ErrorFrame) WithTurn(id string) Frame     { f.TurnID = id; return f }

func (f TextDelta) MarshalJSON() ([]byte, error) {
	type alias TextDelta
	return json.Marshal(struct {
		Type FrameType `json:"type"`
		alias
	}{FrameTextDelta, alias(f)})
}

func (f ReasoningDelta) MarshalJSON() ([]byte, error) {
	type alias ReasoningDelta
	return json.Marshal(struct {
		Type FrameType `json:"type"`
		alias
	}{FrameReasoningDelta, alias(f)})
}

func (f ToolCallStart) MarshalJSON() ([]byte, error) {
	type alias ToolCallStart
	if len(f.Args) == 0 {
		f.Args = json.RawMessage("{}")
	}
	return json.Marshal(struct {
		Type FrameType `json:"type"`
		alias
	}{FrameToolCallStart, alias(f)})
}

func (f ToolCallResult) MarshalJSON() ([]byte, error) {
	type alias ToolCallResult
	return json.Marshal(struct {
		Type FrameType `json:"type"`
		alias
	}{FrameToolCallResult, alias(f)})
}

func (f Finish) MarshalJSON() ([]byte, error) {
	type alias Finish
	return json.Marshal(struct {
		Type FrameType `json:"type"`
		alias
	}{FrameFinish, alias(f)})
}

func (f ErrorFrame) MarshalJSON() ([]byte, error) {
	type alias ErrorFrame
	return json.Marshal(struct {
		Type FrameType `json:"type"`
		alias
	}{FrameError, alias(f)})
}

func (f FileList) MarshalJSON() ([]byte, error) {
	type alias FileList
	if f.Files == nil {
		f.Files = []string{}
	}
	return json.Marshal(struct {
		Type FrameType `json:"type"`
		alias
	}{FrameFileList, alias(f)})
}

func (f TerminalResult) MarshalJSON() ([]byte, error) {
	type alias TerminalResult
	return json.Marshal(struct {
		Type FrameType `json:"type"`
		alias
	}{FrameTerminalResult, alias(f)})
}

// Encode serializes a frame as a single JSON object.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}
