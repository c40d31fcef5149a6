package input

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, r *Reader, ctx context.Context) []Prompt {
	t.Helper()
	out := make(chan Prompt)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, out) }()

	var got []Prompt
	for p := range out {
		got = append(got, p)
	}
	require.NoError(t, <-done)
	return got
}

func TestLiteralModeEmitsOnePromptPerLine(t *testing.T) {
	r := New(strings.NewReader("hello\nworld\n"), Config{Mode: ModeLiteral})
	got := collect(t, r, context.Background())
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, "world", got[1].Text)
}

func TestLiteralModeDecodesJSONMessage(t *testing.T) {
	r := New(strings.NewReader(`{"message":"hi there"}`+"\n"), Config{Mode: ModeLiteral})
	got := collect(t, r, context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "hi there", got[0].Text)
}

func TestBlankLinesAreSkipped(t *testing.T) {
	r := New(strings.NewReader("hello\n\n\nworld\n"), Config{Mode: ModeLiteral})
	got := collect(t, r, context.Background())
	require.Len(t, got, 2)
}

func TestCoalesceModeJoinsLinesWithinWindow(t *testing.T) {
	r := New(strings.NewReader("line one\nline two\n"), Config{
		Mode:           ModeCoalesce,
		CoalesceWindow: 20 * time.Millisecond,
	})
	got := collect(t, r, context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "line one\nline two", got[0].Text)
}

func TestCoalesceModeFlushesOnEOFWithoutWaitingForWindow(t *testing.T) {
	start := time.Now()
	r := New(strings.NewReader("only line\n"), Config{
		Mode:           ModeCoalesce,
		CoalesceWindow: time.Second,
	})
	got := collect(t, r, context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "only line", got[0].Text)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunReturnsContextErrorOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(strings.NewReader("hello\n"), Config{Mode: ModeLiteral})
	out := make(chan Prompt)
	err := r.Run(ctx, out)
	assert.Error(t, err)
}
