package session

import (
	"fmt"
	"time"
)

// Kind is the closed set of session event types.
type Kind string

const (
	KindSpawn      Kind = "spawn"
	KindTurn       Kind = "turn"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindStatus     Kind = "status"
	KindTimeout    Kind = "timeout"
	KindComplete   Kind = "complete"
	KindError      Kind = "error"
)

// Terminal reports whether the kind ends a session.
func (k Kind) Terminal() bool {
	return k == KindTimeout || k == KindComplete || k == KindError
}

// Event is one line of session.jsonl. Exactly one payload pointer is set,
// matching Kind.
type Event struct {
	Kind       Kind            `json:"type"`
	At         time.Time       `json:"ts"`
	Spawn      *SpawnData      `json:"spawn,omitempty"`
	Turn       *TurnData       `json:"turn,omitempty"`
	ToolCall   *ToolCallData   `json:"tool_call,omitempty"`
	ToolResult *ToolResultData `json:"tool_result,omitempty"`
	Status     *StatusData     `json:"status,omitempty"`
	Timeout    *TimeoutData    `json:"timeout,omitempty"`
	Complete   *CompleteData   `json:"complete,omitempty"`
	Error      *ErrorData      `json:"error,omitempty"`
}

type SpawnData struct {
	Strategy string   `json:"strategy"`
	Command  string   `json:"command,omitempty"`
	Args     []string `json:"args,omitempty"`
	Cwd      string   `json:"cwd"`
	PID      int      `json:"pid,omitempty"`
	Tools    []string `json:"tools,omitempty"`
	Deadline string   `json:"deadline"`
	Resumed  bool     `json:"resumed,omitempty"`
}

type TurnData struct {
	Number       int    `json:"number"`
	StopReason   string `json:"stop_reason"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TextBytes    int    `json:"text_bytes"`
}

type ToolCallData struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

type ToolResultData struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Bytes     int    `json:"bytes"`
	Truncated bool   `json:"truncated,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type StatusData struct {
	Message string `json:"message"`
}

type TimeoutData struct {
	After   string `json:"after"`
	Killed  bool   `json:"killed"`
	Partial int    `json:"partial_output_bytes"`
}

type CompleteData struct {
	ExitCode    int    `json:"exit_code"`
	OutputBytes int    `json:"output_bytes"`
	Duration    string `json:"duration"`
	Outcome     string `json:"outcome"`
}

type ErrorData struct {
	Kind     string `json:"kind,omitempty"`
	Message  string `json:"message"`
	ExitCode int    `json:"exit_code,omitempty"`
}

// Validate checks that exactly the payload matching Kind is present.
func (e Event) Validate() error {
	set := 0
	for _, p := range []bool{
		e.Spawn != nil, e.Turn != nil, e.ToolCall != nil, e.ToolResult != nil,
		e.Status != nil, e.Timeout != nil, e.Complete != nil, e.Error != nil,
	} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("session event %q carries %d payloads", e.Kind, set)
	}

	var ok bool
	switch e.Kind {
	case KindSpawn:
		ok = e.Spawn != nil
	case KindTurn:
		ok = e.Turn != nil
	case KindToolCall:
		ok = e.ToolCall != nil
	case KindToolResult:
		ok = e.ToolResult != nil
	case KindStatus:
		ok = e.Status != nil
	case KindTimeout:
		ok = e.Timeout != nil
	case KindComplete:
		ok = e.Complete != nil
	case KindError:
		ok = e.Error != nil
	default:
		return fmt.Errorf("unknown session event kind %q", e.Kind)
	}
	if !ok {
		return fmt.Errorf("session event %q has the wrong payload", e.Kind)
	}
	return nil
}

func SpawnEvent(d SpawnData) Event           { return Event{Kind: KindSpawn, Spawn: &d} }
func TurnEvent(d TurnData) Event             { return Event{Kind: KindTurn, Turn: &d} }
func ToolCallEvent(d ToolCallData) Event     { return Event{Kind: KindToolCall, ToolCall: &d} }
func ToolResultEvent(d ToolResultData) Event { return Event{Kind: KindToolResult, ToolResult: &d} }
func StatusEvent(msg string) Event           { return Event{Kind: KindStatus, Status: &StatusData{Message: msg}} }
func TimeoutEvent(d TimeoutData) Event       { return Event{Kind: KindTimeout, Timeout: &d} }
func CompleteEvent(d CompleteData) Event     { return Event{Kind: KindComplete, Complete: &d} }
func ErrorEvent(d ErrorData) Event           { return Event{Kind: KindError, Error: &d} }
