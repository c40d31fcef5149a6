// Package sse implements the SSE Stream Reader described in spec.md §4.3: a
// byte-stream framer that tolerates malformed events instead of terminating
// the stream on the first corrupt frame.
//
// Grounded on the teacher's features/model/anthropic/stream.go
// (anthropicStreamer.Recv), whose select-over-context-and-channel shape is
// reused for the per-chunk/per-step timeout handling, but the frame-parsing
// body itself is new: github.com/r3labs/sse/v2 (used by the pack's
// ivcap-works-ivcap-cli for its own SSE consumption) treats a parse failure
// as a terminal stream error, which is incompatible with §4.3's
// skip-and-continue contract. Owning the byte-accumulation and
// resynchronization logic by hand against bufio.Reader is the one
// deliberate standard-library-only component in this module; see
// DESIGN.md.
package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/loopwire/agentcore/telemetry"
)

// Defaults per spec §4.3.
const (
	DefaultChunkTimeout = 2 * time.Minute
	DefaultStepTimeout  = 10 * time.Minute

	// diagnosticPrefixLen is the number of bytes of an offending payload
	// surfaced in the skip-and-continue warning diagnostic.
	diagnosticPrefixLen = 200

	doneSentinel = "[DONE]"
)

// ErrStreamTimeout is returned when no frame arrives within the configured
// chunk or step timeout.
var ErrStreamTimeout = errors.New("sse: stream timeout")

// Frame is a single well-formed SSE event whose concatenated `data:` lines
// decoded as valid JSON. Provider adapters decode Raw into their own
// chunk/delta types; the reader itself is provider-agnostic.
type Frame struct {
	Raw json.RawMessage
}

// Diagnostic describes a skipped frame. Next does not build one: it reports
// the same two values as the "reason" and "payloadExcerpt" fields of the
// warning it logs through Logger.
type Diagnostic struct {
	Reason         string
	PayloadExcerpt string
}

// Config configures a Reader. Zero values fall back to package defaults.
type Config struct {
	ChunkTimeout time.Duration
	StepTimeout  time.Duration
	Logger       telemetry.Logger
}

// Reader parses an HTTP response body into a sequence of Frames, per §4.3's
// algorithm: accumulate bytes, split on "\n\n", extract and concatenate
// "data:" lines, decode as JSON, skip-and-log on decode failure.
//
// Reads happen on a single dedicated goroutine so that a chunk-timeout on
// one Next() call never leaves a second reader racing the bufio.Reader on
// the next call: the goroutine blocks handing its result to blockCh until
// some future Next() call receives it, however many timeouts occurred in
// between.
type Reader struct {
	cfg    Config
	closer io.Closer

	blockCh   chan blockResult
	closeCh   chan struct{}
	closeOnce sync.Once

	stepDeadline time.Time
	done         bool
}

type blockResult struct {
	block string
	err   error
}

// NewReader wraps body (an HTTP response body) in a Reader. The per-step
// timeout clock starts immediately; callers that need to reset it per
// logical "step" should construct a fresh Reader per step.
func NewReader(body io.ReadCloser, cfg Config) *Reader {
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = DefaultChunkTimeout
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	r := &Reader{
		cfg:          cfg,
		closer:       body,
		blockCh:      make(chan blockResult),
		closeCh:      make(chan struct{}),
		stepDeadline: time.Now().Add(cfg.StepTimeout),
	}
	go r.readLoop(bufio.NewReaderSize(body, 64*1024))
	return r
}

// readLoop runs for the lifetime of the Reader on its own goroutine,
// reading one event block at a time and handing each to blockCh. It never
// touches br concurrently with itself, so timeouts observed by Next() never
// race the underlying bufio.Reader. Every send to blockCh also selects on
// closeCh so a Close() that lands while no Next() call is receiving (e.g.
// right after a chunk timeout) unblocks the goroutine instead of leaking it.
func (r *Reader) readLoop(br *bufio.Reader) {
	for {
		var sb strings.Builder
		for {
			line, err := br.ReadString('\n')
			sb.WriteString(line)
			if err != nil {
				if errors.Is(err, io.EOF) && strings.TrimSpace(sb.String()) == "" {
					r.send(blockResult{err: io.EOF})
					return
				}
				if errors.Is(err, io.EOF) {
					if !r.send(blockResult{block: sb.String()}) {
						return
					}
					r.send(blockResult{err: io.EOF})
					return
				}
				r.send(blockResult{err: err})
				return
			}
			if strings.HasSuffix(sb.String(), "\n\n") {
				break
			}
		}
		if !r.send(blockResult{block: sb.String()}) {
			return
		}
	}
}

// send delivers res to blockCh, reporting false without blocking forever if
// the Reader is closed before any Next() call receives it.
func (r *Reader) send(res blockResult) bool {
	select {
	case r.blockCh <- res:
		return true
	case <-r.closeCh:
		return false
	}
}

// Close releases the underlying response body and unblocks the read-loop
// goroutine if it is waiting to hand off a block no one will ever receive.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() { close(r.closeCh) })
	return r.closer.Close()
}

// Next blocks until the next well-formed Frame is available, the stream
// ends (io.EOF or the [DONE] sentinel, returning io.EOF), or ctx is
// cancelled. Malformed events are skipped internally: Next never returns a
// decode error for a single bad frame, it simply keeps reading.
func (r *Reader) Next(ctx context.Context) (Frame, error) {
	if r.done {
		return Frame{}, io.EOF
	}
	for {
		if time.Now().After(r.stepDeadline) {
			return Frame{}, ErrStreamTimeout
		}

		block, err := r.readEventBlock(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.done = true
			}
			return Frame{}, err
		}

		data := extractData(block)
		if data == "" {
			continue
		}
		if strings.TrimSpace(data) == doneSentinel {
			r.done = true
			return Frame{}, io.EOF
		}

		// gjson.Valid checks well-formedness without building a parse tree,
		// cheaper per-frame than json.Unmarshal since the reader only needs
		// to know the bytes are valid JSON before handing them to the
		// provider adapter's own typed decode.
		if !gjson.Valid(data) {
			excerpt := data
			if len(excerpt) > diagnosticPrefixLen {
				excerpt = excerpt[:diagnosticPrefixLen]
			}
			r.cfg.Logger.Warn(ctx, "sse: skipping malformed frame",
				"reason", "invalid JSON", "payloadExcerpt", excerpt)
			continue
		}
		return Frame{Raw: json.RawMessage(data)}, nil
	}
}

// readEventBlock waits for the next event block from the background read
// loop, honoring the per-chunk timeout and ctx cancellation. It tolerates
// single-byte reads: the read loop never assumes a read returns more than
// one line's worth of data at a time.
func (r *Reader) readEventBlock(ctx context.Context) (string, error) {
	timer := time.NewTimer(r.cfg.ChunkTimeout)
	defer timer.Stop()

	select {
	case res := <-r.blockCh:
		if res.err != nil {
			return "", res.err
		}
		return res.block, nil
	case <-timer.C:
		return "", ErrStreamTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// extractData pulls the "data:" lines out of an event block and
// concatenates their contents, matching §4.3 step 2. Lines that aren't
// "data:" (e.g. "event:", "id:", ":" comments) are ignored.
func extractData(block string) string {
	var sb strings.Builder
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		content := strings.TrimPrefix(line, "data:")
		content = strings.TrimPrefix(content, " ")
		sb.WriteString(content)
	}
	return sb.String()
}
