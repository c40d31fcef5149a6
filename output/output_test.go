package output

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwire/agentcore/bus"
	"github.com/loopwire/agentcore/model"
	"github.com/loopwire/agentcore/session"
)

func TestRunWritesDefaultDialectLineForTextPart(t *testing.T) {
	var stdout, stderr bytes.Buffer
	e := New(&stdout, &stderr, Config{})
	b := bus.New()
	sub := b.Subscribe(bus.BySession("sess-1"))

	b.Publish(context.Background(), bus.Event{
		Type:      bus.EventMessagePartUpdate,
		SessionID: "sess-1",
		Payload:   session.TextPart{ID: "p1", Text: "hi"},
	})
	b.Publish(context.Background(), bus.Event{Type: bus.EventSessionIdle, SessionID: "sess-1"})

	require.NoError(t, e.Run(context.Background(), sub))

	lines := bytes.Split(bytes.TrimSpace(stdout.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "text", first["type"])
	assert.Equal(t, "sess-1", first["sessionID"])
	assert.NotEmpty(t, first["part"])
}

func TestRunCompactDialectUsesShortFieldNames(t *testing.T) {
	var stdout, stderr bytes.Buffer
	e := New(&stdout, &stderr, Config{Dialect: DialectCompact})
	b := bus.New()
	sub := b.Subscribe(bus.BySession("sess-1"))

	b.Publish(context.Background(), bus.Event{
		Type:      bus.EventMessagePartUpdate,
		SessionID: "sess-1",
		Payload:   session.TextPart{ID: "p1", Text: "hi"},
	})
	b.Publish(context.Background(), bus.Event{Type: bus.EventSessionIdle, SessionID: "sess-1"})
	require.NoError(t, e.Run(context.Background(), sub))

	var first map[string]any
	line := bytes.SplitN(bytes.TrimSpace(stdout.Bytes()), []byte("\n"), 2)[0]
	require.NoError(t, json.Unmarshal(line, &first))
	assert.Contains(t, first, "t")
	assert.Contains(t, first, "ts")
	assert.Contains(t, first, "s")
}

func TestRunMirrorsSessionErrorToStderrAndReturnsError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	e := New(&stdout, &stderr, Config{})
	b := bus.New()
	sub := b.Subscribe(bus.BySession("sess-1"))

	b.Publish(context.Background(), bus.Event{
		Type:      bus.EventSessionError,
		SessionID: "sess-1",
		Payload:   "boom",
	})

	err := e.Run(context.Background(), sub)
	assert.Error(t, err)
	assert.Contains(t, stderr.String(), "boom")
}

func TestRunReturnsContextErrorOnCancellation(t *testing.T) {
	var stdout, stderr bytes.Buffer
	e := New(&stdout, &stderr, Config{})
	b := bus.New()
	sub := b.Subscribe(bus.BySession("sess-1"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := e.Run(ctx, sub)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunEmitsToolUsePartInDocumentedShape(t *testing.T) {
	var stdout, stderr bytes.Buffer
	e := New(&stdout, &stderr, Config{})
	b := bus.New()
	sub := b.Subscribe(bus.BySession("sess-1"))

	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(time.Second)
	b.Publish(context.Background(), bus.Event{
		Type:      bus.EventMessagePartUpdate,
		SessionID: "sess-1",
		Payload: session.ToolPart{
			ID:         "p1",
			CallID:     "call-1",
			Name:       "search",
			Arguments:  json.RawMessage(`{"q":"go"}`),
			Status:     session.ToolCompleted,
			Output:     "results",
			StartedAt:  started,
			FinishedAt: finished,
		},
	})
	b.Publish(context.Background(), bus.Event{Type: bus.EventSessionIdle, SessionID: "sess-1"})
	require.NoError(t, e.Run(context.Background(), sub))

	line := bytes.SplitN(bytes.TrimSpace(stdout.Bytes()), []byte("\n"), 2)[0]
	var doc map[string]any
	require.NoError(t, json.Unmarshal(line, &doc))

	assert.Equal(t, "tool_use", doc["type"])
	_, isNumber := doc["timestamp"].(float64)
	assert.True(t, isNumber, "timestamp must be Unix milliseconds, not an RFC3339 string")

	part := doc["part"].(map[string]any)
	assert.Equal(t, "search", part["tool"])
	state := part["state"].(map[string]any)
	assert.Equal(t, "completed", state["status"])
	assert.Equal(t, "results", state["output"])
	assert.Equal(t, map[string]any{"q": "go"}, state["input"])
	partTime := part["time"].(map[string]any)
	assert.Equal(t, float64(started.UnixMilli()), partTime["start"])
	assert.Equal(t, float64(finished.UnixMilli()), partTime["end"])
}

func TestRunEmitsStepFinishPartWithUnknownUsageMarker(t *testing.T) {
	var stdout, stderr bytes.Buffer
	e := New(&stdout, &stderr, Config{})
	b := bus.New()
	sub := b.Subscribe(bus.BySession("sess-1"))

	b.Publish(context.Background(), bus.Event{
		Type:      bus.EventMessagePartUpdate,
		SessionID: "sess-1",
		Payload: session.StepFinishPart{
			ID:           "p1",
			FinishReason: model.FinishStop,
			Usage:        model.Usage{InputTokens: model.UsageKnown(12)},
		},
	})
	b.Publish(context.Background(), bus.Event{Type: bus.EventSessionIdle, SessionID: "sess-1"})
	require.NoError(t, e.Run(context.Background(), sub))

	line := bytes.SplitN(bytes.TrimSpace(stdout.Bytes()), []byte("\n"), 2)[0]
	var doc map[string]any
	require.NoError(t, json.Unmarshal(line, &doc))

	assert.Equal(t, "step_finish", doc["type"])
	part := doc["part"].(map[string]any)
	assert.Equal(t, string(model.FinishStop), part["reason"])
	tokens := part["tokens"].(map[string]any)
	assert.Equal(t, float64(12), tokens["input"])
	assert.Equal(t, "unknown", tokens["output"])
	cache := tokens["cache"].(map[string]any)
	assert.Equal(t, "unknown", cache["read"])
	assert.Equal(t, "unknown", cache["write"])
}

func TestPrettyPrintIndentsOutput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	e := New(&stdout, &stderr, Config{Pretty: true})
	b := bus.New()
	sub := b.Subscribe(bus.BySession("sess-1"))

	b.Publish(context.Background(), bus.Event{Type: bus.EventSessionIdle, SessionID: "sess-1"})
	require.NoError(t, e.Run(context.Background(), sub))
	assert.Contains(t, stdout.String(), "\n  ")
}
