// Package engine implements the Session Processor described in spec.md
// §4.7: the step loop that drives one turn of a conversation from prompt
// submission to session.idle, dispatching tool calls and enforcing the
// cleanup invariant on every exit path.
//
// Grounded on the teacher's runtime/agent/runtime step-loop *shape*
// (WorkflowContext threading cancellation, ActivityDefinition-style typed
// calls, futureInfo-based concurrent tool dispatch collected back in
// original call order in tool_calls.go) without its replay/history
// machinery — see DESIGN.md's "Dropped teacher dependencies" for why the
// durable-workflow layer itself (Temporal) has no home here.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/loopwire/agentcore/bus"
	"github.com/loopwire/agentcore/model"
	"github.com/loopwire/agentcore/provider"
	"github.com/loopwire/agentcore/session"
	"github.com/loopwire/agentcore/telemetry"
	"github.com/loopwire/agentcore/tool"
	"github.com/loopwire/agentcore/transport"
)

// Options configures an Engine.
type Options struct {
	Sessions  *session.Store
	Bus       *bus.Bus
	Registry  *provider.Registry
	Transport *transport.Transport
	Tools     *tool.Registry
	Logger    telemetry.Logger

	MaxTokens   int
	Temperature float32

	// Reminder, when set, is consulted after every tool result that
	// completes successfully and may inject backstage guidance text into
	// the conversation.
	Reminder Reminder
}

// Engine runs the step loop for sessions registered in Options.Sessions.
type Engine struct {
	opts     Options
	adapters map[string]provider.Adapter
}

// New constructs an Engine. Adapters are registered separately via
// RegisterAdapter so callers can wire only the providers they have
// credentials for.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	return &Engine{opts: opts, adapters: make(map[string]provider.Adapter)}
}

// RegisterAdapter makes a provider.Adapter available to the step loop under
// its own Name().
func (e *Engine) RegisterAdapter(a provider.Adapter) {
	e.adapters[a.Name()] = a
}

// Run appends promptText as a new user message on sessionID and drives the
// step loop until the turn reaches session.idle (or an unrecoverable error).
func (e *Engine) Run(ctx context.Context, sessionID, promptText string) error {
	msg, err := e.opts.Sessions.AppendMessage(ctx, sessionID, model.RoleUser)
	if err != nil {
		return err
	}
	if err := e.opts.Sessions.AppendPart(ctx, sessionID, msg.ID, session.TextPart{
		ID:       uuid.NewString(),
		Text:     promptText,
		Complete: true,
	}); err != nil {
		return err
	}

	for {
		cont, err := e.step(ctx, sessionID)
		if err != nil {
			e.opts.Bus.Publish(ctx, bus.Event{Type: bus.EventSessionError, SessionID: sessionID, Payload: err.Error()})
			return err
		}
		if !cont {
			e.opts.Bus.Publish(ctx, bus.Event{Type: bus.EventSessionIdle, SessionID: sessionID})
			return nil
		}
	}
}

// toolRun tracks one dispatched tool execution's correlation state as it
// goes through the running state concurrently with the chunk loop.
type toolRun struct {
	callID    string
	name      string
	messageID string
	done      chan tool.Result
	err       chan error
}

// step runs exactly one iteration of the step loop (spec §4.7 algorithm
// step 2), returning whether the Session Processor should loop again.
func (e *Engine) step(ctx context.Context, sessionID string) (cont bool, err error) {
	sess, err := e.opts.Sessions.Get(sessionID)
	if err != nil {
		return false, err
	}

	assistantMsg, err := e.opts.Sessions.AppendMessage(ctx, sessionID, model.RoleAssistant)
	if err != nil {
		return false, err
	}

	stepStartID := uuid.NewString()
	if err := e.opts.Sessions.AppendPart(ctx, sessionID, assistantMsg.ID, session.StepStartPart{ID: stepStartID}); err != nil {
		return false, err
	}

	running := make(map[string]*toolRun)
	var callOrder []string
	var started []string
	resolved := make(map[string]bool)

	// Cleanup invariant (spec §4.7.3): on every exit path, any tool part
	// still non-terminal is forced to a terminal state and published.
	// resolved tracks calls the normal collection loop already settled, so
	// this defer only ever touches calls that loop never got to (an early
	// return from the chunk loop, a cancellation, or a call whose arguments
	// never finished streaming). A part still pending passes through
	// running first, the only legal way out of pending.
	defer func() {
		for _, callID := range started {
			if resolved[callID] {
				continue
			}
			status := session.ToolError
			if ctx.Err() != nil {
				status = session.ToolAborted
			}
			if _, dispatched := running[callID]; !dispatched {
				_ = e.opts.Sessions.TransitionTool(context.Background(), sessionID, assistantMsg.ID, callID, session.ToolRunning, nil)
			}
			_ = e.opts.Sessions.TransitionTool(context.Background(), sessionID, assistantMsg.ID, callID, status, func(tp session.ToolPart) session.ToolPart {
				tp.Err = "cleanup: step exited before tool execution completed"
				return tp
			})
		}
	}()

	toolDefs := e.opts.Tools.Definitions()
	req, err := buildRequest(sess, toolDefs, e.opts.MaxTokens, e.opts.Temperature)
	if err != nil {
		return false, err
	}

	providerName, modelID, err := e.opts.Registry.Resolve(ctx, req)
	if err != nil {
		return false, e.finishWithError(ctx, sessionID, assistantMsg.ID, err)
	}
	req.Provider, req.Model = providerName, modelID

	adapter, ok := e.adapters[providerName]
	if !ok {
		return false, e.finishWithError(ctx, sessionID, assistantMsg.ID, fmt.Errorf("engine: no adapter registered for provider %q", providerName))
	}

	stream, err := adapter.Stream(ctx, e.opts.Transport, req)
	if err != nil {
		return false, e.finishWithError(ctx, sessionID, assistantMsg.ID, err)
	}
	defer stream.Close()

	var (
		textPartID      string
		reasoningPartID string
		finishReason    model.FinishReason
		rawFinish       string
		usage           model.Usage
		cost            *float64
	)

chunkLoop:
	for {
		chunk, cerr := stream.Next(ctx)
		if cerr != nil {
			if errors.Is(cerr, io.EOF) {
				break chunkLoop
			}
			return false, e.finishWithError(ctx, sessionID, assistantMsg.ID, cerr)
		}

		switch chunk.Type {
		case model.ChunkText:
			if textPartID == "" {
				textPartID = uuid.NewString()
				if err := e.opts.Sessions.AppendPart(ctx, sessionID, assistantMsg.ID, session.TextPart{ID: textPartID, Text: chunk.Text}); err != nil {
					return false, err
				}
			} else if err := e.opts.Sessions.UpdatePart(ctx, sessionID, assistantMsg.ID, textPartID, func(p session.Part) (session.Part, error) {
				tp := p.(session.TextPart)
				tp.Text += chunk.Text
				return tp, nil
			}); err != nil {
				return false, err
			}

		case model.ChunkReasoning:
			if reasoningPartID == "" {
				reasoningPartID = uuid.NewString()
				if err := e.opts.Sessions.AppendPart(ctx, sessionID, assistantMsg.ID, session.ReasoningPart{ID: reasoningPartID, Text: chunk.Text}); err != nil {
					return false, err
				}
			} else if err := e.opts.Sessions.UpdatePart(ctx, sessionID, assistantMsg.ID, reasoningPartID, func(p session.Part) (session.Part, error) {
				rp := p.(session.ReasoningPart)
				rp.Text += chunk.Text
				return rp, nil
			}); err != nil {
				return false, err
			}

		case model.ChunkToolCallStart:
			if err := e.opts.Sessions.AppendPart(ctx, sessionID, assistantMsg.ID, session.ToolPart{
				ID:     chunk.ToolCallID,
				CallID: chunk.ToolCallID,
				Name:   chunk.ToolName,
				Status: session.ToolPending,
			}); err != nil {
				return false, err
			}
			started = append(started, chunk.ToolCallID)

		case model.ChunkToolCallDelta:
			if err := e.opts.Sessions.UpdatePart(ctx, sessionID, assistantMsg.ID, chunk.ToolCallID, func(p session.Part) (session.Part, error) {
				tp := p.(session.ToolPart)
				tp.Arguments = append(tp.Arguments, []byte(chunk.ToolDelta)...)
				return tp, nil
			}); err != nil {
				return false, err
			}

		case model.ChunkToolCallEnd:
			if err := e.opts.Sessions.TransitionTool(ctx, sessionID, assistantMsg.ID, chunk.ToolCallID, session.ToolRunning, func(tp session.ToolPart) session.ToolPart {
				if len(chunk.ToolInput) > 0 {
					tp.Arguments = chunk.ToolInput
				}
				return tp
			}); err != nil {
				return false, err
			}
			tr := e.dispatchTool(ctx, sessionID, assistantMsg.ID, chunk.ToolCallID, chunk.ToolName, chunk.ToolInput)
			running[chunk.ToolCallID] = tr
			callOrder = append(callOrder, chunk.ToolCallID)

		case model.ChunkFinish:
			finishReason, rawFinish, usage, cost = chunk.FinishReason, chunk.RawFinishReason, chunk.Usage, chunk.Cost
			break chunkLoop

		case model.ChunkError:
			if chunk.Retryable {
				e.opts.Logger.Warn(ctx, "engine: transient stream error, continuing", "error", chunk.Err.Error())
				continue
			}
			return false, e.finishWithError(ctx, sessionID, assistantMsg.ID, chunk.Err)
		}
	}

	if err := e.opts.Sessions.AppendPart(ctx, sessionID, assistantMsg.ID, session.StepFinishPart{
		ID:              uuid.NewString(),
		FinishReason:    finishReason,
		RawFinishReason: rawFinish,
		Usage:           usage,
		Cost:            cost,
	}); err != nil {
		return false, err
	}
	if usage.Known() {
		e.opts.Logger.Debug(ctx, "engine: step usage",
			"inputTokens", humanizeTokens(usage.InputTokens),
			"outputTokens", humanizeTokens(usage.OutputTokens))
	}

	anySucceeded := false
	for _, callID := range callOrder {
		tr := running[callID]
		select {
		case res := <-tr.done:
			if err := e.opts.Sessions.TransitionTool(ctx, sessionID, tr.messageID, callID, session.ToolCompleted, func(tp session.ToolPart) session.ToolPart {
				tp.Output = res.Output
				tp.Metadata = res.Metadata
				return tp
			}); err != nil {
				return false, err
			}
			resolved[callID] = true
			anySucceeded = true
			e.injectReminder(ctx, sessionID, tr.messageID, callID, tr.name, res)
		case terr := <-tr.err:
			if err := e.opts.Sessions.TransitionTool(ctx, sessionID, tr.messageID, callID, session.ToolError, func(tp session.ToolPart) session.ToolPart {
				tp.Err = terr.Error()
				return tp
			}); err != nil {
				return false, err
			}
			resolved[callID] = true
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	return finishReason == model.FinishToolUse && anySucceeded, nil
}

func (e *Engine) dispatchTool(ctx context.Context, sessionID, messageID, callID, name string, arguments []byte) *toolRun {
	tr := &toolRun{
		callID:    callID,
		name:      name,
		messageID: messageID,
		done:      make(chan tool.Result, 1),
		err:       make(chan error, 1),
	}
	go func() {
		toolCtx := tool.Context{
			Context:   ctx,
			SessionID: sessionID,
			CallID:    callID,
			PublishPartial: func(patch map[string]any) {
				_ = e.opts.Sessions.UpdatePart(ctx, sessionID, messageID, callID, func(p session.Part) (session.Part, error) {
					tp := p.(session.ToolPart)
					if tp.Metadata == nil {
						tp.Metadata = make(map[string]any, len(patch))
					}
					for k, v := range patch {
						tp.Metadata[k] = v
					}
					return tp, nil
				})
			},
		}
		res, err := e.opts.Tools.Call(toolCtx, name, arguments)
		if err != nil {
			tr.err <- err
			return
		}
		if res.Err != nil {
			tr.err <- res.Err
			return
		}
		tr.done <- res
	}()
	return tr
}

func (e *Engine) injectReminder(ctx context.Context, sessionID, messageID, callID, toolName string, res tool.Result) {
	if e.opts.Reminder == nil {
		return
	}
	text, emit := e.opts.Reminder(toolName, res)
	if !emit {
		return
	}
	_ = e.opts.Sessions.UpdatePart(ctx, sessionID, messageID, callID, func(p session.Part) (session.Part, error) {
		tp := p.(session.ToolPart)
		if tp.Metadata == nil {
			tp.Metadata = make(map[string]any, 1)
		}
		tp.Metadata["reminder"] = reminderText(text)
		return tp, nil
	})
}

func (e *Engine) finishWithError(ctx context.Context, sessionID, messageID string, cause error) error {
	_ = e.opts.Sessions.AppendPart(ctx, sessionID, messageID, session.StepFinishPart{
		ID:           uuid.NewString(),
		FinishReason: model.FinishError,
	})
	return cause
}

// humanizeTokens renders a usage count for a log line, e.g. "128,004" for
// 128004 or "unknown" for a provider that never reported it.
func humanizeTokens(v *int64) string {
	if v == nil {
		return "unknown"
	}
	return humanize.Comma(*v)
}
