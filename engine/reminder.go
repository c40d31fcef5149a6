package engine

import "github.com/loopwire/agentcore/tool"

// Reminder lets a caller attach backstage guidance text after a tool result
// is appended, without requiring a full DSL/codegen layer. It is modeled
// after the teacher's tools.ToolSpec.ResultReminder field (a per-tool,
// design-time reminder string) and reminder.Engine's run-scoped injection
// idea, simplified to a single callback: this core has no per-run reminder
// lifetime/rate-limit policy to manage, since nothing here yet emits more
// than one reminder per tool result.
//
// ok reports whether text should be injected; when false, text is ignored.
type Reminder func(toolName string, result tool.Result) (text string, ok bool)

// reminderText renders text as the runtime wraps backstage guidance,
// matching the teacher's <system-reminder> convention for model-facing
// injected text.
func reminderText(text string) string {
	return "<system-reminder>\n" + text + "\n</system-reminder>"
}
