// Package provider implements the Provider Adapter described in spec.md
// §4.4: a neutral interface translating model.Request/model.Chunk to and
// from each upstream LLM API's wire format, built on top of the Retry
// Transport (B) and SSE Stream Reader (C) so resilience policy is uniform
// across providers.
//
// Grounded on the teacher's features/model/{anthropic,openai,bedrock}
// packages (goa.design/goa-ai): the three-adapter split and the
// per-provider chunk-processor shape are carried over; the HTTP plumbing
// is rebuilt on this module's own transport/sse components instead of each
// SDK's bundled streaming helper, per SPEC_FULL.md §4.4.
package provider

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"

	"github.com/loopwire/agentcore/model"
	"github.com/loopwire/agentcore/transport"
)

// ErrRateLimited wraps an upstream 429/throttling response, mirroring the
// teacher's model.ErrRateLimited sentinel.
var ErrRateLimited = errors.New("provider: rate limited")

// ChunkStream is the provider-agnostic result of Adapter.Stream: repeated
// calls to Next deliver model.Chunks until io.EOF. Implementations must
// always send a final model.Chunk with Type == model.ChunkFinish before
// returning io.EOF (synthesizing one with FinishUnknown if the upstream
// connection closes without its own terminal event) — io.EOF itself always
// pairs with a zero Chunk, never a populated one.
type ChunkStream interface {
	Next(ctx context.Context) (model.Chunk, error)
	Close() error
}

// Adapter translates a neutral model.Request into a provider's wire format,
// executes it through t, and exposes the response as a ChunkStream of
// neutral model.Chunks — for both streaming and non-streaming requests: a
// non-streaming call is modeled as a ChunkStream that yields exactly the
// final chunks in one pass, keeping the Session Processor's consumption
// loop identical either way.
type Adapter interface {
	// Name identifies the adapter for logging and config lookups (e.g.
	// "anthropic", "openai", "bedrock").
	Name() string

	// Stream issues req against t and returns a ChunkStream of the
	// response. Implementations own the SSE (or provider-native
	// event-stream) decoding internally.
	Stream(ctx context.Context, t *transport.Transport, req *model.Request) (ChunkStream, error)
}

// ExtractUsage implements the usage metadata-envelope fallback from spec
// §4.4: some gateways report standard usage fields empty or zeroed and put
// the real counts under a provider-metadata envelope instead. observed is
// whatever the adapter already decoded from the provider's typed usage
// fields (nil InputTokens/OutputTokens meaning "not reported"); raw is the
// terminal event's undecoded JSON. For each of InputTokens/OutputTokens
// still nil after the typed decode, ExtractUsage looks under
// providerMetadata.<providerName>.usage.{promptTokens,completionTokens} and
// fills it in from there. Fields it cannot resolve either way are left nil,
// so model.Usage.Known() and the Output Emitter's "unknown" marker see the
// gap rather than a misleading zero.
//
// Grounded on the teacher's anthropicStreamer.recordUsage/Metadata pattern:
// usage is accumulated into a side channel during streaming and only
// consulted once the stream concludes, rather than trusted from any single
// event. The envelope key path itself is read with
// github.com/tidwall/gjson, already used by the sse package for
// well-formedness checks, since the typed per-provider SDK structs have no
// field for an arbitrary provider-metadata envelope.
func ExtractUsage(providerName string, raw json.RawMessage, observed model.Usage) model.Usage {
	if observed.InputTokens != nil && observed.OutputTokens != nil {
		return observed
	}

	envelope := gjson.GetBytes(raw, "providerMetadata."+providerName+".usage")
	if !envelope.Exists() {
		return observed
	}

	resolved := observed
	if resolved.InputTokens == nil {
		if v := envelope.Get("promptTokens"); v.Exists() && v.Type == gjson.Number {
			resolved.InputTokens = model.UsageKnown(v.Int())
		}
	}
	if resolved.OutputTokens == nil {
		if v := envelope.Get("completionTokens"); v.Exists() && v.Type == gjson.Number {
			resolved.OutputTokens = model.UsageKnown(v.Int())
		}
	}
	return resolved
}
