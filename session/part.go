package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/loopwire/agentcore/model"
)

// ToolStatus is the discriminated status of a ToolPart. The set of legal
// values is fixed by this enum; any other string is a programming error and
// must be rejected by validateToolTransition rather than silently accepted, per
// spec §4.6's invariant that the schema is the single source of truth for
// legal status values.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
	ToolAborted   ToolStatus = "aborted"
)

// terminalToolStatus reports whether s is one of the part-state machine's
// terminal states, after which the part is immutable.
func terminalToolStatus(s ToolStatus) bool {
	switch s {
	case ToolCompleted, ToolError, ToolAborted:
		return true
	default:
		return false
	}
}

// toolTransitions enumerates the legal edges of the tool part state machine
// (spec §4.6):
//
//	pending -> running -> completed
//	                   \-> error
//	                   \-> aborted
var toolTransitions = map[ToolStatus]map[ToolStatus]bool{
	ToolPending: {ToolRunning: true},
	ToolRunning: {ToolCompleted: true, ToolError: true, ToolAborted: true},
}

func validateToolTransition(from, to ToolStatus) error {
	switch to {
	case ToolPending, ToolRunning, ToolCompleted, ToolError, ToolAborted:
	default:
		return fmt.Errorf("session: %q is not a legal tool status", to)
	}
	if terminalToolStatus(from) {
		return fmt.Errorf("session: tool part is terminal (%s), cannot transition to %s", from, to)
	}
	if !toolTransitions[from][to] {
		return fmt.Errorf("session: illegal tool status transition %s -> %s", from, to)
	}
	return nil
}

// Part is implemented by every session-level content block. Sealed via the
// unexported isPart method, mirroring model.Part's marker-interface pattern
// one layer up: model.Part is the provider-wire shape consumed by
// provider.Adapter, Part here is the richer session-ledger shape (with IDs,
// completion flags, and the tool state machine) that the Output Emitter and
// Session Processor operate on.
type Part interface {
	isPart()
	PartID() string
}

// TextPart is model- or user-emitted prose. Complete reports whether the
// text is final: the Session Processor sets it on the user prompt part it
// appends, and leaves it false on text parts it streams from the model.
type TextPart struct {
	ID       string
	Text     string
	Complete bool
}

// ReasoningPart is hidden chain-of-thought content with the same shape as
// TextPart, not shown to the end user by default.
type ReasoningPart struct {
	ID       string
	Text     string
	Complete bool
}

// StepStartPart marks the beginning of a Session Processor step. Exactly one
// precedes every step's parts (spec §3 invariant).
type StepStartPart struct {
	ID string
}

// StepFinishPart marks the end of a step, carrying the data a step-finish
// part must report: finish reason, usage, and optional cost. Usage fields
// that the provider never reported remain nil (model.Usage.Known reports
// false), never a silent zero.
type StepFinishPart struct {
	ID              string
	FinishReason    model.FinishReason
	RawFinishReason string
	Usage           model.Usage
	Cost            *float64
}

// ToolPart is a tool invocation. Status is the authoritative state-machine
// value; Output (on completed) or Err (on error/aborted) is populated once
// Status reaches a terminal state.
type ToolPart struct {
	ID         string
	CallID     string
	Name       string
	Arguments  json.RawMessage
	Status     ToolStatus
	Output     string
	Metadata   map[string]any
	Err        string
	StartedAt  time.Time
	FinishedAt time.Time
}

// FilePart is an attached binary/text resource.
type FilePart struct {
	ID       string
	MimeType string
	Name     string
	Data     []byte
}

func (p TextPart) isPart()       {}
func (p ReasoningPart) isPart()  {}
func (p StepStartPart) isPart() {}
func (p StepFinishPart) isPart() {}
func (p ToolPart) isPart()       {}
func (p FilePart) isPart()       {}

func (p TextPart) PartID() string       { return p.ID }
func (p ReasoningPart) PartID() string  { return p.ID }
func (p StepStartPart) PartID() string  { return p.ID }
func (p StepFinishPart) PartID() string { return p.ID }
func (p ToolPart) PartID() string       { return p.ID }
func (p FilePart) PartID() string       { return p.ID }
