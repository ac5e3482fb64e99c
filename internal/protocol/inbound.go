// Package protocol defines the JSON messages exchanged with the control
// panel over the /agent WebSocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/standardbeagle/flycli/internal/terminal"
)

// MessageType is the "type" discriminant of an inbound message.
type MessageType string

const (
	MsgChat      MessageType = "chat-message"
	MsgListFiles MessageType = "list-files"
	MsgTerminal  MessageType = "terminal"
	MsgAbort     MessageType = "abort"
)

var (
	// ErrMalformed is returned for input that is not a JSON object with a
	// string "type" field, or whose fields do not decode.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownMessage is returned for a well-formed message whose type is
	// not one of the MessageType constants.
	ErrUnknownMessage = errors.New("unknown message type")
)

// Inbound is one decoded panel message: *ChatRequest, *ListFilesRequest,
// *TerminalRequest or *AbortRequest.
type Inbound interface {
	MessageType() MessageType
}

// Role is a chat participant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessagePart is one part of a panel chat message. Only text parts carry
// content the model sees; other part types are kept for round-tripping.
type MessagePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ChatMessage is a single conversation entry. The panel sends either a
// plain Content string or a list of Parts.
type ChatMessage struct {
	ID      string        `json:"id,omitempty"`
	Role    Role          `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []MessagePart `json:"parts,omitempty"`
}

// Text returns the message's text, joining text parts with newlines.
func (m ChatMessage) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	if m.Content != "" {
		b.WriteString(m.Content)
	}
	for _, p := range m.Parts {
		if p.Type != "text" || p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// ChatRequest starts a new turn.
type ChatRequest struct {
	Messages []ChatMessage
	Model    string
}

func (*ChatRequest) MessageType() MessageType { return MsgChat }

// ListFilesRequest asks for the workspace file list.
type ListFilesRequest struct{}

func (*ListFilesRequest) MessageType() MessageType { return MsgListFiles }

// TerminalRequest runs a command in the workspace.
type TerminalRequest struct {
	Command terminal.Command
}

func (*TerminalRequest) MessageType() MessageType { return MsgTerminal }

// AbortRequest cancels the in-flight turn, if any.
type AbortRequest struct{}

func (*AbortRequest) MessageType() MessageType { return MsgAbort }

type envelope struct {
	Type     *string          `json:"type"`
	Messages []ChatMessage    `json:"messages"`
	Model    string           `json:"model"`
	Body     *chatBody        `json:"body"`
	Command  terminal.Command `json:"command"`
}

type chatBody struct {
	Model string `json:"model"`
}

// DecodeInbound parses and validates one panel message.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch MessageType(*env.Type) {
	case MsgChat:
		if len(env.Messages) == 0 {
			return nil, fmt.Errorf("%w: chat-message without messages", ErrMalformed)
		}
		for i, m := range env.Messages {
			switch m.Role {
			case RoleUser, RoleAssistant, RoleSystem:
			default:
				return nil, fmt.Errorf("%w: message %d has invalid role %q", ErrMalformed, i, m.Role)
			}
		}
		req := &ChatRequest{Messages: env.Messages, Model: env.Model}
		if env.Body != nil && env.Body.Model != "" {
			req.Model = env.Body.Model
		}
		return req, nil
	case MsgListFiles:
		return &ListFilesRequest{}, nil
	case MsgTerminal:
		return &TerminalRequest{Command: env.Command}, nil
	case MsgAbort:
		return &AbortRequest{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, *env.Type)
	}
}
