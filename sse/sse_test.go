package sse

import (
	"context"
	"io"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCloserReader struct {
	io.Reader
}

func (nopCloserReader) Close() error { return nil }

func newTestReader(t *testing.T, body string, cfg Config) *Reader {
	t.Helper()
	return NewReader(nopCloserReader{strings.NewReader(body)}, cfg)
}

func TestWellFormedFramesDecodeInOrder(t *testing.T) {
	body := "data: {\"n\":1}\n\n" + "data: {\"n\":2}\n\n" + "data: [DONE]\n\n"
	r := newTestReader(t, body, Config{})
	ctx := context.Background()

	f1, err := r.Next(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(f1.Raw))

	f2, err := r.Next(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(f2.Raw))

	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMalformedFrameIsSkippedAndContinues(t *testing.T) {
	body := "data: {\"choices\":[{\"index\":" + "\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n" +
		"data: [DONE]\n\n"

	var warnings int
	logger := &countingLogger{onWarn: func() { warnings++ }}

	r := newTestReader(t, body, Config{Logger: logger})
	ctx := context.Background()

	f, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(f.Raw), "ok")

	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, warnings)
}

func TestSingleByteFramesStillAssembleCorrectly(t *testing.T) {
	full := "data: {\"n\":7}\n\n"
	r := NewReader(&chunkedReader{remaining: []byte(full), chunkSize: 1}, Config{})
	ctx := context.Background()

	f, err := r.Next(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":7}`, string(f.Raw))
}

func TestConnectionCloseWithoutDoneSignalsEOF(t *testing.T) {
	body := "data: {\"n\":1}\n\n"
	r := newTestReader(t, body, Config{})
	ctx := context.Background()

	_, err := r.Next(ctx)
	require.NoError(t, err)

	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestChunkTimeoutSurfacesStreamTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewReader(pr, Config{ChunkTimeout: 10 * time.Millisecond})

	ctx := context.Background()
	_, err := r.Next(ctx)
	assert.ErrorIs(t, err, ErrStreamTimeout)
}

// TestCloseAfterChunkTimeoutDoesNotLeakReadLoop verifies that the
// background read-loop goroutine exits once Close() is called, even when it
// is parked trying to hand a block to a Next() call that already returned
// ErrStreamTimeout and never came back to receive it.
func TestCloseAfterChunkTimeoutDoesNotLeakReadLoop(t *testing.T) {
	before := runtime.NumGoroutine()

	pr, pw := io.Pipe()
	r := NewReader(pr, Config{ChunkTimeout: 5 * time.Millisecond})

	ctx := context.Background()
	_, err := r.Next(ctx)
	assert.ErrorIs(t, err, ErrStreamTimeout)

	// This write lands after Next's timeout already fired, so the read-loop
	// goroutine parks trying to send the resulting block on blockCh with no
	// Next() call left to receive it.
	done := make(chan struct{})
	go func() {
		pw.Write([]byte("data: {\"n\":1}\n\n"))
		close(done)
	}()
	<-done

	require.NoError(t, r.Close())
	pw.Close()

	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.LessOrEqual(t, runtime.NumGoroutine(), before, "read-loop goroutine leaked past Close")
}

func TestContextCancellationAborts(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewReader(pr, Config{ChunkTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type countingLogger struct {
	onWarn func()
}

func (countingLogger) Debug(context.Context, string, ...any) {}
func (countingLogger) Info(context.Context, string, ...any)  {}
func (l *countingLogger) Warn(context.Context, string, ...any) {
	if l.onWarn != nil {
		l.onWarn()
	}
}
func (countingLogger) Error(context.Context, string, ...any) {}
