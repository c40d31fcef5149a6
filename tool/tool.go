// Package tool implements the Tool Protocol described in spec.md §4.5: a
// stable name, description, typed argument schema, and an execute operation
// that runs independent of the stream reader while the Session Processor
// awaits its result.
//
// Grounded on the teacher's runtime/agent/tools/spec.go (ToolSpec/TypeSpec
// shape, trimmed to the fields this core needs since there is no DSL/codegen
// layer generating per-tool codecs) and registry/service.go's
// validatePayloadJSONAgainstSchema for the santhosh-tekuri/jsonschema/v6
// compile-then-validate pattern, now run once at registration (compile) and
// once per call (validate) rather than freshly compiling every call.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Context is passed to Execute. It carries the identifiers and cooperative
// cancellation signal a tool needs to behave correctly under the Session
// Processor's step loop, plus a callback for in-flight partial state.
type Context struct {
	context.Context

	// SessionID and CallID identify the running session and the specific
	// tool_call part this invocation is satisfying.
	SessionID string
	CallID    string

	// PublishPartial reports an in-flight state patch for the call. Tools
	// that have no meaningful partial state may leave it nil; callers must
	// check for nil before invoking it.
	PublishPartial func(patch map[string]any)
}

// Result is what Execute returns. Output is fed back to the model verbatim;
// Metadata is opaque structured data surfaced only to the Output Emitter,
// never sent upstream.
type Result struct {
	Title    string
	Output   string
	Metadata map[string]any
	Err      error
}

// Definition is the static, registration-time description of a tool: name,
// description, JSON Schema for arguments, and the execute function.
//
// Grounded on the teacher's ToolSpec, trimmed to what a codegen-free core
// needs — no Toolset/Confirmation/ServerData/Paging fields, since those
// express Goa-DSL-specific routing and UI concerns this module's flat tool
// registry has no counterpart for.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Execute     func(ctx Context, arguments json.RawMessage) (Result, error)
}

// Registry holds compiled tool definitions, keyed by name. Schemas are
// compiled once at Register time so every Call only pays the cost of
// validating one document, not recompiling the schema.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Definition
	schemas map[string]*jsonschema.Schema
}

// NewRegistry constructs an empty tool Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Definition),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register compiles def's input schema and adds it to the registry. It
// returns an error if the name is already registered or the schema fails to
// compile, so a malformed tool is rejected at startup rather than on first
// call.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool: name is required")
	}
	if def.Execute == nil {
		return fmt.Errorf("tool: %q: execute function is required", def.Name)
	}

	var schema *jsonschema.Schema
	if len(def.InputSchema) > 0 {
		var doc any
		if err := json.Unmarshal(def.InputSchema, &doc); err != nil {
			return fmt.Errorf("tool: %q: unmarshal schema: %w", def.Name, err)
		}
		c := jsonschema.NewCompiler()
		resource := def.Name + ".schema.json"
		if err := c.AddResource(resource, doc); err != nil {
			return fmt.Errorf("tool: %q: add schema resource: %w", def.Name, err)
		}
		compiled, err := c.Compile(resource)
		if err != nil {
			return fmt.Errorf("tool: %q: compile schema: %w", def.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool: %q already registered", def.Name)
	}
	r.tools[def.Name] = def
	if schema != nil {
		r.schemas[def.Name] = schema
	}
	return nil
}

// Lookup returns the Definition for name, if registered.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Definitions returns the registered tool Definitions, from which a
// provider Request's tool list is built, in no particular order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, def)
	}
	return out
}

// Validate checks arguments against name's compiled input schema. A tool
// registered without a schema accepts any arguments.
func (r *Registry) Validate(name string, arguments json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	var doc any
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &doc); err != nil {
			return NewErrorWithCause(fmt.Sprintf("tool %q: arguments are not valid JSON", name), err)
		}
	}
	if err := schema.Validate(doc); err != nil {
		return NewErrorWithCause(fmt.Sprintf("tool %q: arguments failed schema validation", name), err)
	}
	return nil
}

// Call validates arguments, then runs the tool's Execute function. It does
// not itself enforce a timeout or cancellation deadline on Execute: that is
// the Session Processor's responsibility (spec §4.7), since only it knows
// the per-step timeout budget in force.
func (r *Registry) Call(ctx Context, name string, arguments json.RawMessage) (Result, error) {
	def, ok := r.Lookup(name)
	if !ok {
		return Result{}, NewError(fmt.Sprintf("tool %q is not registered", name))
	}
	if err := r.Validate(name, arguments); err != nil {
		return Result{}, err
	}
	return def.Execute(ctx, arguments)
}
