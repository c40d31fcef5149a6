package engine

import (
	"fmt"

	"github.com/loopwire/agentcore/model"
	"github.com/loopwire/agentcore/session"
	"github.com/loopwire/agentcore/tool"
)

// buildRequest translates a session's message/part history into the neutral
// model.Request a provider.Adapter expects. Session-level parts (text,
// reasoning, step markers, tool) are flattened into model-level parts
// (text, reasoning, tool-call, tool-result); step-start/step-finish/file
// parts carry no provider-facing payload and are dropped here (file parts
// have no multimodal request path in this core; see DESIGN.md).
//
// A completed/errored/aborted ToolPart in an assistant message produces two
// things: a model.ToolCallPart in that assistant message, and a
// model.ToolResultPart in a synthesized follow-up user message — matching
// spec §4.7 step g's "append their results as follow-up tool-result
// messages," modeled at the wire-translation boundary since the session
// part family itself has no separate tool-result kind (spec §3's Part list
// names only `tool`, not `tool-result`; the result lives on the ToolPart).
func buildRequest(sess session.Session, tools []tool.Definition, maxTokens int, temperature float32) (*model.Request, error) {
	req := &model.Request{
		System:      sess.System,
		Model:       sess.Model,
		Provider:    sess.Provider,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      true,
	}

	for _, m := range sess.Messages {
		assistant := model.Message{Role: m.Role}
		var toolResults []model.Part

		for _, p := range m.Parts {
			switch v := p.(type) {
			case session.TextPart:
				if v.Text != "" {
					assistant.Parts = append(assistant.Parts, model.TextPart{Text: v.Text})
				}
			case session.ReasoningPart:
				if v.Text != "" {
					assistant.Parts = append(assistant.Parts, model.ReasoningPart{Text: v.Text})
				}
			case session.ToolPart:
				assistant.Parts = append(assistant.Parts, model.ToolCallPart{
					ID:      v.CallID,
					Name:    v.Name,
					Payload: v.Arguments,
				})
				switch v.Status {
				case session.ToolCompleted:
					toolResults = append(toolResults, model.ToolResultPart{
						ToolCallID: v.CallID,
						Content:    v.Output,
					})
				case session.ToolError, session.ToolAborted:
					toolResults = append(toolResults, model.ToolResultPart{
						ToolCallID: v.CallID,
						Content:    v.Err,
						IsError:    true,
					})
				}
			case session.StepStartPart, session.StepFinishPart, session.FilePart:
				// No provider-facing payload.
			default:
				return nil, fmt.Errorf("engine: unrecognized session part %T", p)
			}
		}

		if len(assistant.Parts) > 0 {
			req.Messages = append(req.Messages, assistant)
		}
		if len(toolResults) > 0 {
			req.Messages = append(req.Messages, model.Message{Role: model.RoleUser, Parts: toolResults})
		}
	}

	for _, def := range tools {
		req.Tools = append(req.Tools, model.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	return req, nil
}
