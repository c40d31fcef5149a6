package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/loopwire/agentcore/model"
	"github.com/loopwire/agentcore/provider"
	"github.com/loopwire/agentcore/sse"
)

// providerName is the key under which this adapter's usage envelope would
// be nested in providerMetadata.<providerName>.usage, per §4.4.
const providerName = "anthropic"

// adapterStream decodes Anthropic Messages streaming events (read as
// generic sse.Frames) into model.Chunks. Grounded on the teacher's
// anthropicChunkProcessor.Handle: the toolBlocks/thinkingBlocks
// accumulation-by-content-index pattern is carried over, generalized to
// the neutral ChunkType set in model.model.
type adapterStream struct {
	reader    *sse.Reader
	toolNames map[string]string

	toolBlocks map[int]*toolBuffer

	stopReason string
	usage      model.Usage
	usageKnown bool
	finished   bool
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func newStream(reader *sse.Reader, toolNames map[string]string) *adapterStream {
	return &adapterStream{
		reader:     reader,
		toolNames:  toolNames,
		toolBlocks: make(map[int]*toolBuffer),
	}
}

func (s *adapterStream) Close() error { return s.reader.Close() }

// Next decodes successive SSE frames, possibly consuming more than one
// underlying frame (e.g. content_block_start carries no user-visible
// chunk), until it has a model.Chunk to return or the stream ends. Next
// never returns a non-zero chunk together with a non-nil error: on a
// connection close that never carried a message_stop event, Next
// synthesizes one final ChunkFinish (FinishUnknown) chunk with a nil
// error, and only the following call returns io.EOF — matching the
// ChunkStream contract that io.EOF always pairs with a zero chunk.
func (s *adapterStream) Next(ctx context.Context) (model.Chunk, error) {
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

		var event sdk.MessageStreamEventUnion
		if err := json.Unmarshal(frame.Raw, &event); err != nil {
			continue
		}

		chunk, ok := s.handle(event, frame.Raw)
		if ok {
			chunk.ReceivedAt = time.Now()
			return chunk, nil
		}
	}
}

func (s *adapterStream) fallbackUsage() model.Usage {
	if s.usageKnown {
		return s.usage
	}
	return model.Usage{}
}

func (s *adapterStream) handle(event sdk.MessageStreamEventUnion, raw json.RawMessage) (model.Chunk, bool) {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		s.toolBlocks = make(map[int]*toolBuffer)
		s.stopReason = ""
		return model.Chunk{}, false

	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			name := toolUse.Name
			if canonical, ok := s.toolNames[name]; ok {
				name = canonical
			}
			s.toolBlocks[idx] = &toolBuffer{id: toolUse.ID, name: name}
			return model.Chunk{
				Type:       model.ChunkToolCallStart,
				ToolCallID: toolUse.ID,
				ToolName:   name,
			}, true
		}
		return model.Chunk{}, false

	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return model.Chunk{}, false
			}
			return model.Chunk{Type: model.ChunkText, Text: delta.Text}, true
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return model.Chunk{}, false
			}
			tb := s.toolBlocks[idx]
			if tb == nil {
				return model.Chunk{}, false
			}
			tb.fragments = append(tb.fragments, delta.PartialJSON)
			return model.Chunk{
				Type:       model.ChunkToolCallDelta,
				ToolCallID: tb.id,
				ToolName:   tb.name,
				ToolDelta:  delta.PartialJSON,
			}, true
		case sdk.ThinkingDelta:
			if delta.Thinking == "" {
				return model.Chunk{}, false
			}
			return model.Chunk{Type: model.ChunkReasoning, Text: delta.Thinking}, true
		default:
			return model.Chunk{}, false
		}

	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		if tb := s.toolBlocks[idx]; tb != nil {
			delete(s.toolBlocks, idx)
			return model.Chunk{
				Type:       model.ChunkToolCallEnd,
				ToolCallID: tb.id,
				ToolName:   tb.name,
				ToolInput:  finalToolInput(tb.fragments),
			}, true
		}
		return model.Chunk{}, false

	case sdk.MessageDeltaEvent:
		s.stopReason = string(ev.Delta.StopReason)
		observed := model.Usage{
			InputTokens:      usageFieldOrNil(ev.Usage.InputTokens),
			OutputTokens:     usageFieldOrNil(ev.Usage.OutputTokens),
			CacheReadTokens:  usageFieldOrNil(ev.Usage.CacheReadInputTokens),
			CacheWriteTokens: usageFieldOrNil(ev.Usage.CacheCreationInputTokens),
		}
		s.usage = provider.ExtractUsage(providerName, raw, observed)
		s.usageKnown = true
		return model.Chunk{}, false

	case sdk.MessageStopEvent:
		s.finished = true
		reason, raw := mapStopReason(s.stopReason)
		return model.Chunk{
			Type:            model.ChunkFinish,
			FinishReason:    reason,
			RawFinishReason: raw,
			Usage:           s.fallbackUsage(),
		}, true

	default:
		return model.Chunk{}, false
	}
}

// usageFieldOrNil treats a zero token count from the SDK's typed usage
// struct as "not reported" rather than a real zero, since the SDK has no
// way to represent "absent" separately from the int64 zero value — letting
// ExtractUsage's metadata-envelope fallback take over in that case instead
// of locking in a misleading zero.
func usageFieldOrNil(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return model.UsageKnown(v)
}

func finalToolInput(fragments []string) json.RawMessage {
	joined := strings.Join(fragments, "")
	if strings.TrimSpace(joined) == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(joined)
}

func mapStopReason(raw string) (model.FinishReason, string) {
	switch raw {
	case "end_turn", "stop_sequence":
		return model.FinishStop, raw
	case "max_tokens":
		return model.FinishLength, raw
	case "tool_use":
		return model.FinishToolUse, raw
	case "":
		return model.FinishUnknown, raw
	default:
		return model.FinishUnknown, raw
	}
}
