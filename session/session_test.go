package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwire/agentcore/bus"
	"github.com/loopwire/agentcore/model"
)

func newTestStore() *Store {
	return NewStore(bus.New())
}

func TestCreateGetRoundTrip(t *testing.T) {
	s := newTestStore()
	created := s.Create("anthropic", "claude-sonnet", "be terse")

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, StatusActive, got.Status)
}

func TestGetUnknownSessionReturnsNotFound(t *testing.T) {
	s := newTestStore()
	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestForkDeepCopiesHistoryByDefault(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	parent := s.Create("anthropic", "claude-sonnet", "")
	msg, err := s.AppendMessage(ctx, parent.ID, model.RoleUser)
	require.NoError(t, err)
	require.NoError(t, s.AppendPart(ctx, parent.ID, msg.ID, TextPart{ID: "p1", Text: "hi", Complete: true}))

	forked, err := s.Fork(parent.ID)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, forked.ParentID)
	require.Len(t, forked.Messages, 1)
	require.Len(t, forked.Messages[0].Parts, 1)

	// Mutating the parent afterward must not affect the fork's snapshot.
	require.NoError(t, s.AppendPart(ctx, parent.ID, msg.ID, TextPart{ID: "p2", Text: "more", Complete: true}))
	refetched, err := s.Get(forked.ID)
	require.NoError(t, err)
	assert.Len(t, refetched.Messages[0].Parts, 1)
}

func TestAppendPartPublishesEvent(t *testing.T) {
	ctx := context.Background()
	b := bus.New()
	s := NewStore(b)
	sub := b.Subscribe(bus.ByType(bus.EventMessagePartUpdate))
	defer sub.Unsubscribe()

	sess := s.Create("openai", "gpt", "")
	msg, err := s.AppendMessage(ctx, sess.ID, model.RoleAssistant)
	require.NoError(t, err)
	require.NoError(t, s.AppendPart(ctx, sess.ID, msg.ID, TextPart{ID: "p1", Text: "hello"}))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, bus.EventMessagePartUpdate, ev.Type)
		assert.Equal(t, sess.ID, ev.SessionID)
	default:
		t.Fatal("expected a published event")
	}
}

func TestToolPartStateMachineRejectsIllegalTransition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	sess := s.Create("anthropic", "claude", "")
	msg, err := s.AppendMessage(ctx, sess.ID, model.RoleAssistant)
	require.NoError(t, err)
	require.NoError(t, s.AppendPart(ctx, sess.ID, msg.ID, ToolPart{ID: "t1", CallID: "call-1", Name: "grep", Status: ToolPending}))

	// pending -> completed is not a legal edge; must go through running.
	err = s.TransitionTool(ctx, sess.ID, msg.ID, "t1", ToolCompleted, nil)
	assert.Error(t, err)

	require.NoError(t, s.TransitionTool(ctx, sess.ID, msg.ID, "t1", ToolRunning, nil))
	require.NoError(t, s.TransitionTool(ctx, sess.ID, msg.ID, "t1", ToolCompleted, func(tp ToolPart) ToolPart {
		tp.Output = "done"
		return tp
	}))

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	tp := got.Messages[0].Parts[0].(ToolPart)
	assert.Equal(t, ToolCompleted, tp.Status)
	assert.Equal(t, "done", tp.Output)
}

func TestTerminalToolPartIsImmutable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	sess := s.Create("anthropic", "claude", "")
	msg, err := s.AppendMessage(ctx, sess.ID, model.RoleAssistant)
	require.NoError(t, err)
	require.NoError(t, s.AppendPart(ctx, sess.ID, msg.ID, ToolPart{ID: "t1", Status: ToolPending}))
	require.NoError(t, s.TransitionTool(ctx, sess.ID, msg.ID, "t1", ToolRunning, nil))
	require.NoError(t, s.TransitionTool(ctx, sess.ID, msg.ID, "t1", ToolAborted, nil))

	err = s.TransitionTool(ctx, sess.ID, msg.ID, "t1", ToolRunning, nil)
	assert.Error(t, err)

	err = s.UpdatePart(ctx, sess.ID, msg.ID, "t1", func(p Part) (Part, error) { return p, nil })
	assert.ErrorIs(t, err, ErrPartTerminal)
}

func TestListRecentOrdersByLastUpdatedDescending(t *testing.T) {
	s := newTestStore()
	a := s.Create("anthropic", "claude", "")
	b2 := s.Create("anthropic", "claude", "")
	_, _ = s.AppendMessage(context.Background(), b2.ID, model.RoleUser)

	recent := s.ListRecent()
	require.Len(t, recent, 2)
	assert.Equal(t, b2.ID, recent[0].ID)
	assert.Equal(t, a.ID, recent[1].ID)
}
