// Package input implements the Input Queue described in spec.md §4.8: a
// stdin line reader that turns incoming text into session prompts, either
// coalescing lines that arrive close together into one prompt (the default,
// suited to interactive typing) or delivering each line/JSON object as its
// own prompt (literal mode, suited to scripted/piped input).
//
// New component — the teacher has no stdin surface of its own. Built with
// bufio.Scanner plus a single-goroutine, channel-based timer for the
// coalescing window, following the general preference (seen throughout
// runtime/agent/stream's subscriber backpressure handling) for explicit
// channel selects over polling loops.
package input

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"
)

// Mode selects how consecutive stdin lines are grouped into prompts.
type Mode string

const (
	// ModeCoalesce buffers lines arriving within Config.CoalesceWindow of
	// each other and emits them joined as a single prompt once the window
	// elapses with no further input.
	ModeCoalesce Mode = "coalesce"
	// ModeLiteral emits every non-blank line (or JSON object) as its own
	// independent prompt, with no buffering delay.
	ModeLiteral Mode = "literal"
)

const DefaultCoalesceWindow = 50 * time.Millisecond

// Config controls a Reader's delivery mode and coalescing window.
type Config struct {
	Mode           Mode
	CoalesceWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeCoalesce
	}
	if c.CoalesceWindow <= 0 {
		c.CoalesceWindow = DefaultCoalesceWindow
	}
	return c
}

// Prompt is one unit of input handed to the session processor.
type Prompt struct {
	Text string
}

// jsonPrompt is the decoded shape of a `{"message": "..."}` input line.
type jsonPrompt struct {
	Message string `json:"message"`
}

// decodeLine extracts a prompt's text from one line of stdin. JSON objects
// of the shape {"message": "..."} are decoded; anything else is treated as
// plain text verbatim. ok is false for a blank line, which callers must
// skip rather than emit as an empty prompt.
func decodeLine(line string) (text string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false
	}
	if strings.HasPrefix(trimmed, "{") {
		var p jsonPrompt
		if err := json.Unmarshal([]byte(trimmed), &p); err == nil && p.Message != "" {
			return p.Message, true
		}
	}
	return trimmed, true
}

// Reader reads prompts from an underlying io.Reader (stdin in production).
type Reader struct {
	scanner *bufio.Scanner
	cfg     Config
}

// New constructs a Reader over r using cfg (zero-valued fields take their
// documented defaults).
func New(r io.Reader, cfg Config) *Reader {
	return &Reader{scanner: bufio.NewScanner(r), cfg: cfg.withDefaults()}
}

// Run reads prompts until EOF or ctx is canceled, sending each to out in
// arrival order. Run closes out before returning so callers can range over
// it to detect end-of-input. It returns ctx.Err() on cancellation, the
// underlying scan error if stdin fails, or nil on a clean EOF.
func (r *Reader) Run(ctx context.Context, out chan<- Prompt) error {
	defer close(out)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for r.scanner.Scan() {
			select {
			case lines <- r.scanner.Text():
			case <-ctx.Done():
				scanErr <- ctx.Err()
				return
			}
		}
		scanErr <- r.scanner.Err()
	}()

	if r.cfg.Mode == ModeLiteral {
		return r.runLiteral(ctx, lines, scanErr, out)
	}
	return r.runCoalesce(ctx, lines, scanErr, out)
}

func (r *Reader) runLiteral(ctx context.Context, lines <-chan string, scanErr <-chan error, out chan<- Prompt) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return drainScanErr(scanErr)
			}
			if text, ok := decodeLine(line); ok {
				if !send(ctx, out, Prompt{Text: text}) {
					return ctx.Err()
				}
			}
		}
	}
}

func (r *Reader) runCoalesce(ctx context.Context, lines <-chan string, scanErr <-chan error, out chan<- Prompt) error {
	var buf []string
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() bool {
		if len(buf) == 0 {
			return true
		}
		joined := strings.Join(buf, "\n")
		buf = nil
		return send(ctx, out, Prompt{Text: joined})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if !flush() {
					return ctx.Err()
				}
				return drainScanErr(scanErr)
			}
			text, ok := decodeLine(line)
			if !ok {
				continue
			}
			buf = append(buf, text)
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(r.cfg.CoalesceWindow)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			if !flush() {
				return ctx.Err()
			}
		}
	}
}

func send(ctx context.Context, out chan<- Prompt, p Prompt) bool {
	select {
	case out <- p:
		return true
	case <-ctx.Done():
		return false
	}
}

func drainScanErr(scanErr <-chan error) error {
	select {
	case err := <-scanErr:
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	default:
		return nil
	}
}
