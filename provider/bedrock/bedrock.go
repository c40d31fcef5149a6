// Package bedrock implements a provider.Adapter for the AWS Bedrock
// Converse API.
//
// Grounded on the teacher's features/model/bedrock/{client,stream}.go.
// Unlike the Anthropic and OpenAI adapters, Bedrock's ConverseStream uses
// the AWS event-stream wire format rather than SSE, so this adapter calls
// the AWS SDK's own streaming client directly instead of routing through
// transport.Transport/sse.Reader — an intentional exception documented in
// SPEC_FULL.md §4.4 and DESIGN.md, matching the teacher's own separation of
// bedrock/stream.go from the SSE-based adapters.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/loopwire/agentcore/model"
	"github.com/loopwire/agentcore/provider"
	"github.com/loopwire/agentcore/telemetry"
	"github.com/loopwire/agentcore/transport"
)

// RuntimeClient is the subset of *bedrockruntime.Client this adapter needs,
// matching the teacher's own RuntimeClient interface so tests can supply a
// fake.
type RuntimeClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	Runtime RuntimeClient
	Logger  telemetry.Logger
}

// Adapter implements provider.Adapter for AWS Bedrock Converse.
type Adapter struct {
	opts Options
}

// New constructs a Bedrock Adapter.
func New(opts Options) *Adapter {
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	return &Adapter{opts: opts}
}

func (a *Adapter) Name() string { return "bedrock" }

// Stream implements provider.Adapter. The transport.Transport parameter is
// accepted to satisfy the interface but unused: Bedrock's SDK performs its
// own request signing, retries, and connection management, so this
// adapter's requests never pass through transport.Transport.
func (a *Adapter) Stream(ctx context.Context, _ *transport.Transport, req *model.Request) (provider.ChunkStream, error) {
	input, toolNames, err := buildInput(req)
	if err != nil {
		return nil, err
	}

	out, err := a.opts.Runtime.ConverseStream(ctx, input)
	if err != nil {
		if isThrottled(err) {
			return nil, fmt.Errorf("bedrock: %w", provider.ErrRateLimited)
		}
		return nil, fmt.Errorf("bedrock: converse_stream: %w", err)
	}

	return newStream(ctx, out.GetStream(), toolNames), nil
}

func isThrottled(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
			return true
		}
	}
	return false
}

// bedrockDocument wraps an arbitrary Go value as a lazily-encoded Bedrock
// document, grounded on the teacher's lazyDocument helper
// (features/model/bedrock/client.go).
func bedrockDocument(v any) document.Interface {
	return document.NewLazyDocument(v)
}

func buildInput(req *model.Request) (*bedrockruntime.ConverseStreamInput, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, fmt.Errorf("bedrock: messages are required")
	}
	if req.Model == "" {
		return nil, nil, fmt.Errorf("bedrock: model identifier is required")
	}

	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	toolConfig, toolNames, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(req.Model),
		Messages: messages,
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if toolConfig != nil {
		input.ToolConfig = toolConfig
	}
	cfg := &brtypes.InferenceConfiguration{}
	hasCfg := false
	if req.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(req.MaxTokens))
		hasCfg = true
	}
	if req.Temperature > 0 {
		cfg.Temperature = aws.Float32(req.Temperature)
		hasCfg = true
	}
	if hasCfg {
		input.InferenceConfig = cfg
	}
	return input, toolNames, nil
}

func encodeMessages(msgs []model.Message) ([]brtypes.Message, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))

	for _, m := range msgs {
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case model.ToolCallPart:
				var input map[string]any
				if len(v.Payload) > 0 {
					if err := json.Unmarshal(v.Payload, &input); err != nil {
						return nil, fmt.Errorf("bedrock: tool_use payload for %q: %w", v.Name, err)
					}
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{
						ToolUseId: aws.String(v.ID),
						Name:      aws.String(v.Name),
						Input:     bedrockDocument(input),
					},
				})
			case model.ToolResultPart:
				blocks = append(blocks, encodeToolResult(v))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case model.RoleUser:
			role = brtypes.ConversationRoleUser
		case model.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, fmt.Errorf("bedrock: unsupported role %q", m.Role)
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}
	if len(conversation) == 0 {
		return nil, fmt.Errorf("bedrock: at least one user/assistant message is required")
	}
	return conversation, nil
}

func encodeToolResult(v model.ToolResultPart) brtypes.ContentBlock {
	status := brtypes.ToolResultStatusSuccess
	if v.IsError {
		status = brtypes.ToolResultStatusError
	}
	var text string
	switch c := v.Content.(type) {
	case nil:
		text = ""
	case string:
		text = c
	case []byte:
		text = string(c)
	default:
		if data, err := json.Marshal(c); err == nil {
			text = string(data)
		}
	}
	return &brtypes.ContentBlockMemberToolResult{
		Value: brtypes.ToolResultBlock{
			ToolUseId: aws.String(v.ToolCallID),
			Status:    status,
			Content: []brtypes.ToolResultContentBlock{
				&brtypes.ToolResultContentBlockMemberText{Value: text},
			},
		},
	}
}

func encodeTools(defs []model.ToolDefinition) (*brtypes.ToolConfiguration, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	tools := make([]brtypes.Tool, 0, len(defs))
	names := make(map[string]string, len(defs))
	for _, def := range defs {
		var schema map[string]any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
				return nil, nil, fmt.Errorf("bedrock: tool %q schema: %w", def.Name, err)
			}
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpec{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: bedrockDocument(schema)},
			},
		})
		names[def.Name] = def.Name
	}
	return &brtypes.ToolConfiguration{Tools: tools}, names, nil
}
