package anthropic

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/loopwire/agentcore/model"
)

// TestEncodeMessagesRoundTripsToolPayload verifies Property: provider
// encode∘decode round-trip — for any JSON-compatible tool-call payload, the
// bytes that come back out of json.Unmarshal inside encodeMessages (the
// SDK's NewToolUseBlock input) decode to the same value as the original
// payload, i.e. encoding never drops or corrupts tool arguments.
// Grounded on the teacher's gopter usage style (runtime/a2a/retry/retry_test.go).
func TestEncodeMessagesRoundTripsToolPayload(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("tool call payload survives encoding", prop.ForAll(
		func(name, argKey, argVal string) bool {
			payload := []byte(`{"` + argKey + `":"` + argVal + `"}`)
			msgs := []model.Message{
				{
					Role: model.RoleAssistant,
					Parts: []model.Part{
						model.ToolCallPart{ID: "call-1", Name: name, Payload: payload},
					},
				},
			}

			conversation, err := encodeMessages(msgs)
			if err != nil || len(conversation) != 1 || len(conversation[0].Content) != 1 {
				return false
			}
			block := conversation[0].Content[0].OfToolUse
			if block == nil || block.ID != "call-1" || block.Name != name {
				return false
			}
			decoded, ok := block.Input.(map[string]any)
			return ok && len(decoded) == 1 && decoded[argKey] == argVal
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.AlphaString(),
	))

	properties.Property("message count is preserved for alternating user/assistant text turns", prop.ForAll(
		func(texts []string) bool {
			msgs := make([]model.Message, 0, len(texts))
			nonEmpty := 0
			for i, text := range texts {
				role := model.RoleUser
				if i%2 == 1 {
					role = model.RoleAssistant
				}
				msgs = append(msgs, model.Message{Role: role, Parts: []model.Part{model.TextPart{Text: text}}})
				if text != "" {
					nonEmpty++
				}
			}
			if nonEmpty == 0 {
				return true // encodeMessages rejects an all-empty conversation; not this property's concern
			}

			conversation, err := encodeMessages(msgs)
			return err == nil && len(conversation) == nonEmpty
		},
		gen.SliceOfN(6, gen.AlphaString()),
	))

	properties.TestingRun(t)
}

