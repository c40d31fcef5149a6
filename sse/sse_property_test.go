package sse

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// chunkedReader replays body in fixed-size pieces (down to a single byte),
// simulating a TCP stream that never guarantees a read returns a whole
// line, let alone a whole event.
type chunkedReader struct {
	remaining []byte
	chunkSize int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.remaining) == 0 {
		return 0, io.EOF
	}
	n := r.chunkSize
	if n > len(r.remaining) {
		n = len(r.remaining)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.remaining[:n])
	r.remaining = r.remaining[n:]
	return n, nil
}

func (r *chunkedReader) Close() error { return nil }

// TestSingleByteFrameReassemblyProperty verifies Property: SSE reassembly —
// for any sequence of well-formed integer frames, splitting the encoded
// byte stream at arbitrary chunk sizes (including one byte at a time) never
// changes the sequence of decoded frames. Grounded on the teacher's gopter
// usage style (runtime/a2a/retry/retry_test.go) applied to this package's
// own byte-accumulation logic, which has no teacher analogue.
func TestSingleByteFrameReassemblyProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("frames reassemble identically regardless of read chunk size", prop.ForAll(
		func(values []int, chunkSize int) bool {
			if chunkSize < 1 {
				chunkSize = 1
			}

			var body string
			for _, v := range values {
				body += fmt.Sprintf("data: {\"n\":%d}\n\n", v)
			}
			body += "data: [DONE]\n\n"

			r := NewReader(&chunkedReader{remaining: []byte(body), chunkSize: chunkSize}, Config{})
			ctx := context.Background()

			for _, want := range values {
				f, err := r.Next(ctx)
				if err != nil {
					return false
				}
				if string(f.Raw) != fmt.Sprintf(`{"n":%d}`, want) {
					return false
				}
			}
			_, err := r.Next(ctx)
			return err == io.EOF
		},
		gen.SliceOfN(5, gen.IntRange(0, 9999)),
		gen.IntRange(1, 7),
	))

	properties.TestingRun(t)
}
