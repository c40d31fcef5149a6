// Package output implements the Output Emitter described in spec.md §4.9:
// a bus subscriber, filtered to one session, that serializes each event as
// one JSON object per line. Two dialects are supported (a verbose default
// and a compact variant), each independently steerable between pretty
// (2-space indent) and compact JSON encoding. Status/warning/error messages
// are written to stderr; the regular event stream goes to stdout.
//
// New component, grounded on the teacher's stream.Event/Base envelope
// pattern (runtime/agent/stream/stream.go): a sealed Event interface
// exposing Type()/SessionID()/Payload() so a sink can marshal generically
// without a type switch per concrete event, adapted here to the two wire
// dialects spec §4.9 requires instead of the teacher's single SSE/Pulse
// wire shape.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/loopwire/agentcore/bus"
	"github.com/loopwire/agentcore/session"
)

// Dialect selects the top-level JSON shape written for each event.
type Dialect string

const (
	// DialectDefault ("Dialect O") emits verbose, self-describing objects:
	// {"type", "timestamp", "sessionID", "part"}.
	DialectDefault Dialect = "default"
	// DialectCompact ("Dialect C") emits short field names and a unix-milli
	// timestamp, trading readability for wire size.
	DialectCompact Dialect = "compact"
)

// Config controls an Emitter's wire format.
type Config struct {
	Dialect Dialect
	Pretty  bool
}

func (c Config) withDefaults() Config {
	if c.Dialect == "" {
		c.Dialect = DialectDefault
	}
	return c
}

// Emitter writes bus events for one session as newline-delimited JSON.
type Emitter struct {
	stdout io.Writer
	stderr io.Writer
	cfg    Config
}

// New constructs an Emitter writing regular events to stdout and
// status/warning/error messages to stderr.
func New(stdout, stderr io.Writer, cfg Config) *Emitter {
	return &Emitter{stdout: stdout, stderr: stderr, cfg: cfg.withDefaults()}
}

// Status writes a startup-banner or warning line to stderr. It is always
// pretty-printed plainly as a single-line message, not run through either
// wire dialect, matching spec §4.9's "status messages ... go to stderr".
func (e *Emitter) Status(msg string) {
	fmt.Fprintln(e.stderr, msg)
}

// Fatal writes an unrecoverable error to stderr. Callers use this to report
// the condition that will back a non-zero process exit code (spec §6).
func (e *Emitter) Fatal(err error) {
	fmt.Fprintln(e.stderr, "error:", err)
}

// Run consumes events from sub, writing one JSON line per event to stdout,
// and returns nil after writing a session.idle event, or ctx.Err() once ctx
// is canceled. Unsubscribe does not close sub's channel, so it does not end
// Run. session.error events are additionally mirrored to stderr per spec
// §4.9's stdout/stderr split, and Run returns the carried error so the
// caller can translate it into a process exit code.
func (e *Emitter) Run(ctx context.Context, sub *bus.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := e.write(ev); err != nil {
				return err
			}
			if ev.Type == bus.EventSessionIdle {
				return nil
			}
		}
	}
}

func (e *Emitter) write(ev bus.Event) error {
	if ev.Type == bus.EventSubscriberOverflow {
		e.Status("output: dropped events, subscriber queue overflowed")
		return nil
	}

	line, err := e.encode(ev)
	if err != nil {
		return fmt.Errorf("output: encode event: %w", err)
	}
	if _, err := e.stdout.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("output: write stdout: %w", err)
	}

	if ev.Type == bus.EventSessionError {
		if msg, ok := ev.Payload.(string); ok {
			e.Status("session error: " + msg)
		} else {
			e.Status("session error")
		}
		return fmt.Errorf("session %s: %v", ev.SessionID, ev.Payload)
	}
	return nil
}

func (e *Emitter) encode(ev bus.Event) ([]byte, error) {
	var doc any
	switch e.cfg.Dialect {
	case DialectCompact:
		doc = compactDoc{
			T:  string(ev.Type),
			Ts: time.Now().UnixMilli(),
			S:  ev.SessionID,
			P:  partPayload(ev.Payload),
		}
	default:
		doc = defaultDoc{
			Type:      eventTypeLabel(ev),
			Timestamp: time.Now().UnixMilli(),
			SessionID: ev.SessionID,
			Part:      partPayload(ev.Payload),
		}
	}

	if e.cfg.Pretty {
		return json.MarshalIndent(doc, "", "  ")
	}
	return json.Marshal(doc)
}

// defaultDoc is Dialect O's wire shape.
type defaultDoc struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"sessionID"`
	Part      any    `json:"part,omitempty"`
}

// compactDoc is Dialect C's wire shape.
type compactDoc struct {
	T  string `json:"t"`
	Ts int64  `json:"ts"`
	S  string `json:"s"`
	P  any    `json:"p,omitempty"`
}

// eventTypeLabel derives the "type" field for Dialect O. Bus events that
// carry a session.Part report the part's own kind (text/reasoning/tool_use/...)
// rather than the generic "message.part.updated" bus event name, matching
// spec §6's Dialect O event type enum.
func eventTypeLabel(ev bus.Event) string {
	switch ev.Payload.(type) {
	case session.TextPart:
		return "text"
	case session.ReasoningPart:
		return "reasoning"
	case session.ToolPart:
		return "tool_use"
	case session.StepStartPart:
		return "step_start"
	case session.StepFinishPart:
		return "step_finish"
	case session.FilePart:
		return "file"
	case session.Message:
		return "message"
	default:
		if ev.Type == bus.EventSessionError {
			return "error"
		}
		return string(ev.Type)
	}
}

// partPayload maps a session.Part to the wire shape spec §6 documents for
// it. Kinds with no documented nested shape (text/reasoning/file/message)
// pass through unchanged; only tool_use and step_finish carry a translation.
func partPayload(payload any) any {
	switch p := payload.(type) {
	case session.ToolPart:
		return toolPartDoc{
			Tool: p.Name,
			State: toolStateDoc{
				Status: string(p.Status),
				Input:  p.Arguments,
				Output: p.Output,
			},
			Time: toolTimeDoc{
				Start: unixMillisOrZero(p.StartedAt),
				End:   unixMillisOrZero(p.FinishedAt),
			},
		}
	case session.StepFinishPart:
		return stepFinishPartDoc{
			Reason: string(p.FinishReason),
			Tokens: tokensDoc{
				Input:     tokenField{p.Usage.InputTokens},
				Output:    tokenField{p.Usage.OutputTokens},
				Reasoning: tokenField{p.Usage.ReasoningTokens},
				Cache: cacheTokensDoc{
					Read:  tokenField{p.Usage.CacheReadTokens},
					Write: tokenField{p.Usage.CacheWriteTokens},
				},
			},
			Cost: p.Cost,
		}
	default:
		return payload
	}
}

// unixMillisOrZero reports t as Unix milliseconds, or 0 for a zero-value
// time.Time (a tool part that never started/finished).
func unixMillisOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// toolPartDoc is the §6 tool_use part wire shape.
type toolPartDoc struct {
	Tool  string       `json:"tool"`
	State toolStateDoc `json:"state"`
	Time  toolTimeDoc  `json:"time"`
}

type toolStateDoc struct {
	Status string          `json:"status"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output string          `json:"output,omitempty"`
}

type toolTimeDoc struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// stepFinishPartDoc is the §6 step_finish part wire shape.
type stepFinishPartDoc struct {
	Reason string    `json:"reason"`
	Tokens tokensDoc `json:"tokens"`
	Cost   *float64  `json:"cost,omitempty"`
}

type tokensDoc struct {
	Input     tokenField     `json:"input"`
	Output    tokenField     `json:"output"`
	Reasoning tokenField     `json:"reasoning"`
	Cache     cacheTokensDoc `json:"cache"`
}

type cacheTokensDoc struct {
	Read  tokenField `json:"read"`
	Write tokenField `json:"write"`
}

// tokenField marshals a usage count that may be unknown (a nil *int64) as
// the literal JSON string "unknown" instead of null, per §4.4/§8's
// "never silently substitute zero for unknown" requirement.
type tokenField struct {
	v *int64
}

func (f tokenField) MarshalJSON() ([]byte, error) {
	if f.v == nil {
		return json.Marshal("unknown")
	}
	return json.Marshal(*f.v)
}
