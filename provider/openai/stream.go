package openai

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"time"

	sdk "github.com/openai/openai-go"

	"github.com/loopwire/agentcore/model"
	"github.com/loopwire/agentcore/provider"
	"github.com/loopwire/agentcore/sse"
)

// providerName is the key under which this adapter's usage envelope would
// be nested in providerMetadata.<providerName>.usage, per §4.4.
const providerName = "openai"

// adapterStream decodes chat.completion.chunk SSE payloads (already framed
// generically by sse.Reader) into model.Chunks. Grounded on the teacher's
// translateResponse (client.go), adapted from a one-shot response
// translation into an incremental per-delta one, since this adapter —
// unlike the teacher's OpenAI client, which reports streaming unsupported —
// implements §4.4's streaming requirement uniformly across providers.
type adapterStream struct {
	reader *sse.Reader

	toolCalls map[int]*toolCallBuffer
	finished  bool
	usage     model.Usage
	known     bool

	// pending holds chunks produced but not yet returned, for the case
	// where a single upstream event (the terminal chunk) fans out into
	// several neutral chunks (one ChunkToolCallEnd per buffered call, then
	// ChunkFinish).
	pending []model.Chunk
}

type toolCallBuffer struct {
	id        string
	name      string
	arguments string
}

func newStream(reader *sse.Reader) *adapterStream {
	return &adapterStream{reader: reader, toolCalls: make(map[int]*toolCallBuffer)}
}

func (s *adapterStream) Close() error { return s.reader.Close() }

func (s *adapterStream) Next(ctx context.Context) (model.Chunk, error) {
	if len(s.pending) > 0 {
		out := s.pending[0]
		s.pending = s.pending[1:]
		out.ReceivedAt = time.Now()
		return out, nil
	}

	for {
		frame, err := s.reader.Next(ctx)
		if err != nil {
			if err == io.EOF {
				if s.finished {
					return model.Chunk{}, io.EOF
				}
				s.finished = true
				return model.Chunk{
					Type:         model.ChunkFinish,
					FinishReason: model.FinishUnknown,
					Usage:        s.fallbackUsage(),
					ReceivedAt:   time.Now(),
				}, nil
			}
			return model.Chunk{}, err
		}

		var chunk sdk.ChatCompletionChunk
		if err := json.Unmarshal(frame.Raw, &chunk); err != nil {
			continue
		}
		s.handle(chunk, frame.Raw)
		if len(s.pending) > 0 {
			out := s.pending[0]
			s.pending = s.pending[1:]
			out.ReceivedAt = time.Now()
			return out, nil
		}
	}
}

func (s *adapterStream) fallbackUsage() model.Usage {
	if s.known {
		return s.usage
	}
	return model.Usage{}
}

// handle appends zero or more neutral chunks to s.pending for one decoded
// upstream chunk. A terminal chunk (non-empty FinishReason) fans out into
// one ChunkToolCallEnd per buffered tool call, in index order, followed by
// exactly one ChunkFinish.
func (s *adapterStream) handle(chunk sdk.ChatCompletionChunk, raw json.RawMessage) {
	observed := model.Usage{
		InputTokens:  usageFieldOrNil(chunk.Usage.PromptTokens),
		OutputTokens: usageFieldOrNil(chunk.Usage.CompletionTokens),
	}
	resolved := provider.ExtractUsage(providerName, raw, observed)
	if resolved.InputTokens != nil || resolved.OutputTokens != nil {
		s.usage = resolved
		s.known = true
	}

	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		s.pending = append(s.pending, model.Chunk{Type: model.ChunkText, Text: choice.Delta.Content})
	}

	for _, tc := range choice.Delta.ToolCalls {
		idx := int(tc.Index)
		buf := s.toolCalls[idx]
		if buf == nil {
			buf = &toolCallBuffer{id: tc.ID, name: tc.Function.Name}
			s.toolCalls[idx] = buf
			if buf.id != "" && buf.name != "" {
				s.pending = append(s.pending, model.Chunk{
					Type:       model.ChunkToolCallStart,
					ToolCallID: buf.id,
					ToolName:   buf.name,
				})
			}
		}
		if tc.Function.Arguments != "" {
			buf.arguments += tc.Function.Arguments
			s.pending = append(s.pending, model.Chunk{
				Type:       model.ChunkToolCallDelta,
				ToolCallID: buf.id,
				ToolName:   buf.name,
				ToolDelta:  tc.Function.Arguments,
			})
		}
	}

	if string(choice.FinishReason) != "" {
		indices := make([]int, 0, len(s.toolCalls))
		for idx := range s.toolCalls {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			buf := s.toolCalls[idx]
			delete(s.toolCalls, idx)
			s.pending = append(s.pending, model.Chunk{
				Type:       model.ChunkToolCallEnd,
				ToolCallID: buf.id,
				ToolName:   buf.name,
				ToolInput:  finalToolArguments(buf.arguments),
			})
		}
		s.finished = true
		reason, raw := mapFinishReason(string(choice.FinishReason))
		s.pending = append(s.pending, model.Chunk{
			Type:            model.ChunkFinish,
			FinishReason:    reason,
			RawFinishReason: raw,
			Usage:           s.fallbackUsage(),
		})
	}
}

// usageFieldOrNil treats a zero token count from the SDK's typed usage
// struct as "not reported" rather than a real zero, letting
// provider.ExtractUsage's metadata-envelope fallback take over instead of
// locking in a misleading zero.
func usageFieldOrNil(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return model.UsageKnown(v)
}

func finalToolArguments(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}

func mapFinishReason(raw string) (model.FinishReason, string) {
	switch raw {
	case "stop":
		return model.FinishStop, raw
	case "length":
		return model.FinishLength, raw
	case "tool_calls", "function_call":
		return model.FinishToolUse, raw
	case "":
		return model.FinishUnknown, raw
	default:
		return model.FinishUnknown, raw
	}
}
