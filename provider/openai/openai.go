// Package openai implements a provider.Adapter for OpenAI and
// OpenAI-compatible Chat Completions gateways.
//
// Grounded on the teacher's features/model/openai/client.go for the
// overall encode-request/translate-response shape (Options struct,
// encodeTools, translateResponse), generalized from the teacher's
// non-streaming-only Client to a streaming adapter, and moved onto
// github.com/openai/openai-go — the SDK actually declared in the teacher's
// go.mod — since the teacher's own client.go imports
// github.com/sashabaranov/go-openai, a dependency absent from that go.mod;
// see DESIGN.md for this substitution's rationale. The request/event wire
// types (ChatCompletionNewParams, ChatCompletionChunk) come from that SDK;
// the HTTP round trip and SSE framing go through this module's
// transport/sse components.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/loopwire/agentcore/credential"
	"github.com/loopwire/agentcore/model"
	"github.com/loopwire/agentcore/provider"
	"github.com/loopwire/agentcore/sse"
	"github.com/loopwire/agentcore/telemetry"
	"github.com/loopwire/agentcore/transport"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Options configures the OpenAI adapter. BaseURL is the primary hook for
// OpenAI-compatible gateways (spec §4.4's "provider-specific chunk
// decoder" wording covers any server emitting the same
// chat.completion.chunk SSE payload).
type Options struct {
	BaseURL    string
	Credential credential.Resolver
	SSE        sse.Config
	Logger     telemetry.Logger
}

// Adapter implements provider.Adapter for OpenAI-compatible Chat
// Completions gateways.
type Adapter struct {
	opts Options
}

// New constructs an OpenAI Adapter.
func New(opts Options) *Adapter {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	return &Adapter{opts: opts}
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) Stream(ctx context.Context, t *transport.Transport, req *model.Request) (provider.ChunkStream, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("openai: encoding request: %w", err)
	}

	baseURL := a.opts.BaseURL
	var mutate credential.Mutator
	if a.opts.Credential != nil {
		cred, err := a.opts.Credential.ForProvider(ctx, a.Name())
		if err != nil {
			return nil, err
		}
		mutate = cred.Mutator
		if cred.BaseURL != "" {
			baseURL = cred.BaseURL
		}
	}

	newReq := func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("accept", "text/event-stream")
		if mutate != nil {
			mutate(httpReq)
		}
		return httpReq, nil
	}

	resp, err := t.Do(ctx, newReq, 0)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("openai: %w", provider.ErrRateLimited)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("openai: unexpected status %d", resp.StatusCode)
	}

	reader := sse.NewReader(resp.Body, a.opts.SSE)
	return newStream(reader), nil
}

func buildParams(req *model.Request) (*sdk.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("openai: messages are required")
	}
	if req.Model == "" {
		return nil, fmt.Errorf("openai: model identifier is required")
	}

	messages, err := encodeMessages(req.Messages, req.System)
	if err != nil {
		return nil, err
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}

	params := &sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
		Stream:   true,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	return params, nil
}

func encodeMessages(msgs []model.Message, system string) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, sdk.SystemMessage(system))
	}
	for _, m := range msgs {
		var text strings.Builder
		var toolCalls []sdk.ChatCompletionMessageToolCallParam
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				text.WriteString(v.Text)
			case model.ToolCallPart:
				toolCalls = append(toolCalls, sdk.ChatCompletionMessageToolCallParam{
					ID:   v.ID,
					Type: "function",
					Function: sdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      v.Name,
						Arguments: string(v.Payload),
					},
				})
			case model.ToolResultPart:
				content := toolResultText(v)
				out = append(out, sdk.ToolMessage(content, v.ToolCallID))
			}
		}
		switch m.Role {
		case model.RoleUser:
			if text.Len() > 0 {
				out = append(out, sdk.UserMessage(text.String()))
			}
		case model.RoleAssistant:
			if text.Len() > 0 || len(toolCalls) > 0 {
				msg := sdk.ChatCompletionAssistantMessageParam{}
				if text.Len() > 0 {
					msg.Content.OfString = sdk.String(text.String())
				}
				if len(toolCalls) > 0 {
					msg.ToolCalls = toolCalls
				}
				out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &msg})
			}
		default:
			return nil, fmt.Errorf("openai: unsupported role %q", m.Role)
		}
	}
	return out, nil
}

func toolResultText(v model.ToolResultPart) string {
	switch c := v.Content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []byte:
		return string(c)
	default:
		if data, err := json.Marshal(c); err == nil {
			return string(data)
		}
		return ""
	}
}

func encodeTools(defs []model.ToolDefinition) ([]sdk.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		var schema map[string]any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("openai: tool %q schema: %w", def.Name, err)
			}
		}
		tools = append(tools, sdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: sdk.String(def.Description),
				Parameters:  shared.FunctionParameters(schema),
			},
		})
	}
	return tools, nil
}
