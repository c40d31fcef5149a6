package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwire/agentcore/bus"
	"github.com/loopwire/agentcore/config"
	"github.com/loopwire/agentcore/model"
	"github.com/loopwire/agentcore/provider"
	"github.com/loopwire/agentcore/session"
	"github.com/loopwire/agentcore/tool"
	"github.com/loopwire/agentcore/transport"
)

// fakeStream replays a fixed chunk script, one per Next call, then io.EOF.
type fakeStream struct {
	mu     sync.Mutex
	chunks []model.Chunk
	idx    int
	closed bool
}

func (s *fakeStream) Next(ctx context.Context) (model.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeAdapter yields a pre-scripted sequence of streams, one per Stream call.
type fakeAdapter struct {
	name    string
	scripts [][]model.Chunk
	calls   int
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Stream(ctx context.Context, t *transport.Transport, req *model.Request) (provider.ChunkStream, error) {
	idx := a.calls
	a.calls++
	if idx >= len(a.scripts) {
		idx = len(a.scripts) - 1
	}
	return &fakeStream{chunks: a.scripts[idx]}, nil
}

func testRegistry() *provider.Registry {
	cfg := &config.Config{
		Providers: map[string]config.Provider{
			"fake": {Kind: "fake", DefaultModel: "fake-model-1"},
		},
		ModelPrecedence: []string{"fake"},
	}
	return provider.NewRegistry(cfg, nil)
}

func newTestEngine(t *testing.T, adapter *fakeAdapter) (*Engine, *bus.Bus, *session.Store) {
	t.Helper()
	b := bus.New()
	store := session.NewStore(b)
	tools := tool.NewRegistry()
	e := New(Options{
		Sessions:  store,
		Bus:       b,
		Registry:  testRegistry(),
		Transport: transport.New(nil, transport.Config{}),
		Tools:     tools,
	})
	e.RegisterAdapter(adapter)
	return e, b, store
}

func TestRunTextOnlyHappyPath(t *testing.T) {
	adapter := &fakeAdapter{
		name: "fake",
		scripts: [][]model.Chunk{
			{
				{Type: model.ChunkText, Text: "hello "},
				{Type: model.ChunkText, Text: "world"},
				{Type: model.ChunkFinish, FinishReason: model.FinishStop},
			},
		},
	}
	e, _, store := newTestEngine(t, adapter)
	sess := store.Create("fake", "fake-model-1", "be terse")

	err := e.Run(context.Background(), sess.ID, "hi there")
	require.NoError(t, err)

	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2) // user prompt + assistant reply
	assistant := got.Messages[1]

	var text string
	for _, p := range assistant.Parts {
		if tp, ok := p.(session.TextPart); ok {
			text += tp.Text
		}
	}
	assert.Equal(t, "hello world", text)
	assert.Equal(t, 1, adapter.calls)
}

func TestRunToolCallRoundTripContinuesToSecondStep(t *testing.T) {
	adapter := &fakeAdapter{
		name: "fake",
		scripts: [][]model.Chunk{
			{
				{Type: model.ChunkToolCallStart, ToolCallID: "call-1", ToolName: "echo"},
				{Type: model.ChunkToolCallDelta, ToolCallID: "call-1", ToolDelta: `{"msg":"hi"}`},
				{Type: model.ChunkToolCallEnd, ToolCallID: "call-1", ToolInput: []byte(`{"msg":"hi"}`)},
				{Type: model.ChunkFinish, FinishReason: model.FinishToolUse},
			},
			{
				{Type: model.ChunkText, Text: "done"},
				{Type: model.ChunkFinish, FinishReason: model.FinishStop},
			},
		},
	}
	e, _, store := newTestEngine(t, adapter)
	sess := store.Create("fake", "fake-model-1", "")

	called := false
	require.NoError(t, e.opts.Tools.Register(tool.Definition{
		Name: "echo",
		Execute: func(ctx tool.Context, arguments json.RawMessage) (tool.Result, error) {
			called = true
			return tool.Result{Output: "echoed"}, nil
		},
	}))

	err := e.Run(context.Background(), sess.ID, "use the tool")
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 2, adapter.calls)

	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	firstAssistant := got.Messages[1]
	var toolPart session.ToolPart
	for _, p := range firstAssistant.Parts {
		if tp, ok := p.(session.ToolPart); ok {
			toolPart = tp
		}
	}
	assert.Equal(t, session.ToolCompleted, toolPart.Status)
	assert.Equal(t, "echoed", toolPart.Output)
}

func TestRunNonToolFinishStopsAfterOneStep(t *testing.T) {
	adapter := &fakeAdapter{
		name: "fake",
		scripts: [][]model.Chunk{
			{
				{Type: model.ChunkText, Text: "ok"},
				{Type: model.ChunkFinish, FinishReason: model.FinishLength},
			},
		},
	}
	e, _, store := newTestEngine(t, adapter)
	sess := store.Create("fake", "fake-model-1", "")

	require.NoError(t, e.Run(context.Background(), sess.ID, "hi"))
	assert.Equal(t, 1, adapter.calls)
}

func TestRunToolErrorTransitionsPartToError(t *testing.T) {
	adapter := &fakeAdapter{
		name: "fake",
		scripts: [][]model.Chunk{
			{
				{Type: model.ChunkToolCallStart, ToolCallID: "call-1", ToolName: "boom"},
				{Type: model.ChunkToolCallEnd, ToolCallID: "call-1", ToolInput: []byte(`{}`)},
				{Type: model.ChunkFinish, FinishReason: model.FinishToolUse},
			},
		},
	}
	e, _, store := newTestEngine(t, adapter)
	sess := store.Create("fake", "fake-model-1", "")

	require.NoError(t, e.opts.Tools.Register(tool.Definition{
		Name: "boom",
		Execute: func(ctx tool.Context, arguments json.RawMessage) (tool.Result, error) {
			return tool.Result{}, errors.New("boom failed")
		},
	}))

	err := e.Run(context.Background(), sess.ID, "trigger")
	require.NoError(t, err)

	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	var toolPart session.ToolPart
	for _, p := range got.Messages[1].Parts {
		if tp, ok := p.(session.ToolPart); ok {
			toolPart = tp
		}
	}
	assert.Equal(t, session.ToolError, toolPart.Status)
	assert.Contains(t, toolPart.Err, "boom failed")
}

func TestRunPublishesIdleOnCompletion(t *testing.T) {
	adapter := &fakeAdapter{
		name: "fake",
		scripts: [][]model.Chunk{
			{
				{Type: model.ChunkText, Text: "hi"},
				{Type: model.ChunkFinish, FinishReason: model.FinishStop},
			},
		},
	}
	e, b, store := newTestEngine(t, adapter)
	sess := store.Create("fake", "fake-model-1", "")

	sub := b.Subscribe(bus.ByType(bus.EventSessionIdle))
	defer sub.Unsubscribe()

	require.NoError(t, e.Run(context.Background(), sess.ID, "hi"))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, sess.ID, ev.SessionID)
	case <-time.After(time.Second):
		t.Fatal("expected session.idle event")
	}
}
