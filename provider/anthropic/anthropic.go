// Package anthropic implements a provider.Adapter for the Anthropic
// Messages API.
//
// Grounded on the teacher's features/model/anthropic/{client,stream}.go:
// request encoding (messages/system/tools) follows
// Client.prepareRequest/encodeMessages/encodeTools closely, and chunk
// decoding follows anthropicChunkProcessor.Handle. The HTTP round trip and
// SSE framing are rebuilt on this module's transport/sse components
// instead of the SDK's NewStreaming/ssestream helper, per SPEC_FULL.md
// §4.4: the SDK's typed request/event structs are reused purely as wire
// schemas, not as a networking client.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/loopwire/agentcore/credential"
	"github.com/loopwire/agentcore/model"
	"github.com/loopwire/agentcore/provider"
	"github.com/loopwire/agentcore/sse"
	"github.com/loopwire/agentcore/telemetry"
	"github.com/loopwire/agentcore/transport"
)

const defaultBaseURL = "https://api.anthropic.com"

// Options configures the Anthropic adapter.
type Options struct {
	BaseURL          string
	AnthropicVersion string
	Credential       credential.Resolver
	SSE              sse.Config
	Logger           telemetry.Logger
}

// Adapter implements provider.Adapter for Anthropic Claude Messages.
type Adapter struct {
	opts Options
}

// New constructs an Anthropic Adapter.
func New(opts Options) *Adapter {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.AnthropicVersion == "" {
		opts.AnthropicVersion = "2023-06-01"
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	return &Adapter{opts: opts}
}

func (a *Adapter) Name() string { return "anthropic" }

// Stream implements provider.Adapter.
func (a *Adapter) Stream(ctx context.Context, t *transport.Transport, req *model.Request) (provider.ChunkStream, error) {
	params, toolNames, err := buildParams(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: encoding request: %w", err)
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
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("anthropic-version", a.opts.AnthropicVersion)
		httpReq.Header.Set("accept", "text/event-stream")
		if mutate != nil {
			mutate(httpReq)
		}
		return httpReq, nil
	}

	resp, err := t.Do(ctx, newReq, 0)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("anthropic: %w", provider.ErrRateLimited)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("anthropic: unexpected status %d", resp.StatusCode)
	}

	reader := sse.NewReader(resp.Body, a.opts.SSE)
	return newStream(reader, toolNames), nil
}

func buildParams(req *model.Request) (*sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, fmt.Errorf("anthropic: messages are required")
	}
	if req.Model == "" {
		return nil, nil, fmt.Errorf("anthropic: model identifier is required")
	}
	if req.MaxTokens <= 0 {
		return nil, nil, fmt.Errorf("anthropic: max_tokens must be positive")
	}

	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	tools, toolNames := encodeTools(req.Tools)

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	return params, toolNames, nil
}

func encodeMessages(msgs []model.Message) ([]sdk.MessageParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))

	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case model.ReasoningPart:
				// Thinking content is not re-sent to Anthropic on
				// subsequent turns without its original signature block;
				// callers that need multi-turn thinking continuity must
				// preserve the signature out of band. Dropped here.
			case model.ToolCallPart:
				var input any
				if len(v.Payload) > 0 {
					if err := json.Unmarshal(v.Payload, &input); err != nil {
						return nil, fmt.Errorf("anthropic: tool_use payload for %q: %w", v.Name, err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, input, v.Name))
			case model.ToolResultPart:
				blocks = append(blocks, encodeToolResult(v))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case model.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case model.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, fmt.Errorf("anthropic: at least one user/assistant message is required")
	}
	return conversation, nil
}

func encodeToolResult(v model.ToolResultPart) sdk.ContentBlockParamUnion {
	var content string
	switch c := v.Content.(type) {
	case nil:
		content = ""
	case string:
		content = c
	case []byte:
		content = string(c)
	default:
		if data, err := json.Marshal(c); err == nil {
			content = string(data)
		}
	}
	return sdk.NewToolResultBlock(v.ToolCallID, content, v.IsError)
}

func encodeTools(defs []model.ToolDefinition) ([]sdk.ToolUnionParam, map[string]string) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]sdk.ToolUnionParam, 0, len(defs))
	names := make(map[string]string, len(defs))
	for _, def := range defs {
		schema := toolInputSchema(def.InputSchema)
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		tools = append(tools, u)
		names[def.Name] = def.Name
	}
	return tools, names
}

// toolInputSchema converts a raw JSON schema document into the SDK's
// ToolInputSchemaParam, which accepts an arbitrary schema object via
// ExtraFields — mirrors the teacher's toolInputSchema helper.
func toolInputSchema(raw json.RawMessage) sdk.ToolInputSchemaParam {
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}
}
