package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	"github.com/sragss/echogent/unifiedllm"
)

// ToolErrorKind classifies why a tool invocation failed.
type ToolErrorKind string

const (
	ToolErrorUnknownTool ToolErrorKind = "unknown_tool"
	ToolErrorInput       ToolErrorKind = "input"
	ToolErrorExecution   ToolErrorKind = "execution"
)

// ToolError is the structured failure of a tool invocation. Details are
// merged into the error payload the model sees.
type ToolError struct {
	Kind    ToolErrorKind
	Message string
	Details map[string]interface{}
}

func (e *ToolError) Error() string {
	return e.Message
}

// executionError builds an execution-kind ToolError with optional details.
func executionError(details map[string]interface{}, format string, args ...interface{}) *ToolError {
	return &ToolError{Kind: ToolErrorExecution, Message: fmt.Sprintf(format, args...), Details: details}
}

// RegisteredTool pairs a tool definition with its type-erased executor.
type RegisteredTool struct {
	Definition unifiedllm.ToolDefinition

	params     paramSpec
	textOutput bool
	execute    func(ctx context.Context, env Environment, input json.RawMessage) (interface{}, error)
}

// NewTool builds a RegisteredTool from a typed executor. The parameter schema
// is reflected from In: json tags name the fields, omitempty marks them
// optional, jsonschema tags carry defaults and enums, and validate tags are
// checked before fn runs. A string Out is delivered to the model verbatim;
// anything else is JSON-encoded.
func NewTool[In, Out any](name, description string, fn func(ctx context.Context, env Environment, in In) (Out, error)) RegisteredTool {
	schema := reflectSchema(new(In))
	return RegisteredTool{
		Definition: unifiedllm.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  schema,
		},
		params:     parseParamSpec(schema),
		textOutput: reflect.TypeOf((*Out)(nil)).Elem().Kind() == reflect.String,
		execute: func(ctx context.Context, env Environment, input json.RawMessage) (interface{}, error) {
			var in In
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, &ToolError{Kind: ToolErrorInput, Message: fmt.Sprintf("invalid tool arguments: %v", err)}
			}
			if reflect.TypeOf(in).Kind() == reflect.Struct {
				if err := validate.Struct(in); err != nil {
					return nil, &ToolError{Kind: ToolErrorInput, Message: describeValidation(err)}
				}
			}
			out, err := fn(ctx, env, in)
			if err != nil {
				return nil, err
			}
			return out, nil
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Sprintf("invalid tool arguments: %v", err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return "missing required field: " + fe.Field()
	case "oneof":
		return fmt.Sprintf("field %s must be one of [%s]", fe.Field(), fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("field %s failed %s=%s validation", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("field %s failed %s validation", fe.Field(), fe.Tag())
	}
}

func reflectSchema(v interface{}) map[string]interface{} {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("agentloop: reflect tool schema: %v", err))
	}
	var schema map[string]interface{}
	if err := json.Unmarshal(data, &schema); err != nil {
		panic(fmt.Sprintf("agentloop: decode tool schema: %v", err))
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]interface{}{}
	}
	return schema
}

type paramInfo struct {
	typ string
	def interface{}
}

type paramSpec struct {
	props    map[string]paramInfo
	required []string
}

func parseParamSpec(schema map[string]interface{}) paramSpec {
	spec := paramSpec{props: map[string]paramInfo{}}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		for name, raw := range props {
			p, _ := raw.(map[string]interface{})
			typ, _ := p["type"].(string)
			spec.props[name] = paramInfo{typ: typ, def: p["default"]}
		}
	}
	if req, ok := schema["required"].([]interface{}); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				spec.required = append(spec.required, s)
			}
		}
	}
	return spec
}

// normalize applies defaults, coerces scalar values to their declared types
// and checks required fields. The result is re-encoded JSON ready to decode
// into the tool's input type.
func (p paramSpec) normalize(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &ToolError{Kind: ToolErrorInput, Message: fmt.Sprintf("invalid tool arguments: %v", err)}
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	for name, v := range args {
		if v == nil {
			delete(args, name)
		}
	}
	for name, info := range p.props {
		if _, ok := args[name]; !ok && info.def != nil {
			args[name] = info.def
		}
	}
	for _, name := range p.required {
		if _, ok := args[name]; !ok {
			return nil, &ToolError{Kind: ToolErrorInput, Message: "missing required field: " + name}
		}
	}
	for name, v := range args {
		info, ok := p.props[name]
		if !ok {
			continue
		}
		coerced, err := coerce(v, info.typ)
		if err != nil {
			return nil, &ToolError{Kind: ToolErrorInput, Message: fmt.Sprintf("field %s %v", name, err)}
		}
		args[name] = coerced
	}

	out, err := json.Marshal(args)
	if err != nil {
		return nil, &ToolError{Kind: ToolErrorInput, Message: fmt.Sprintf("invalid tool arguments: %v", err)}
	}
	return out, nil
}

func coerce(v interface{}, typ string) (interface{}, error) {
	switch typ {
	case "integer":
		switch n := v.(type) {
		case float64:
			if n != float64(int64(n)) {
				return nil, fmt.Errorf("must be an integer")
			}
			return int64(n), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil || f != float64(int64(f)) {
				return nil, fmt.Errorf("must be an integer")
			}
			return int64(f), nil
		}
	case "number":
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("must be a number")
			}
			return f, nil
		}
	case "boolean":
		if s, ok := v.(string); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("must be a boolean")
			}
			return b, nil
		}
	case "string":
		switch x := v.(type) {
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(x), nil
		}
	}
	return v, nil
}

// ToolOutcome is the result of one tool invocation: either an output value or
// a ToolError, never both.
type ToolOutcome struct {
	CallID   string
	ToolName string
	Input    json.RawMessage
	Output   interface{}
	Err      *ToolError

	textOutput bool
}

// IsError reports whether the invocation failed.
func (o ToolOutcome) IsError() bool {
	return o.Err != nil
}

// Payload is the value the model receives. Failures of text tools carry the
// error message itself; other failures become an object with an "error" key
// plus any details.
func (o ToolOutcome) Payload() interface{} {
	if o.Err == nil {
		return o.Output
	}
	if o.textOutput {
		return o.Err.Message
	}
	payload := map[string]interface{}{"error": o.Err.Message}
	for k, v := range o.Err.Details {
		payload[k] = v
	}
	return payload
}

// Content is the payload rendered as tool result text.
func (o ToolOutcome) Content() string {
	payload := o.Payload()
	if s, ok := payload.(string); ok {
		return s
	}
	return encodeJSON(payload)
}

// Trace renders the invocation as "name(input) -> output".
func (o ToolOutcome) Trace() string {
	input := "{}"
	var buf bytes.Buffer
	if len(o.Input) > 0 && json.Compact(&buf, o.Input) == nil {
		input = buf.String()
	}
	return fmt.Sprintf("%s(%s) -> %s", o.ToolName, input, encodeJSON(o.Payload()))
}

func encodeJSON(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// ToolRegistry holds tools in registration order.
type ToolRegistry struct {
	tools []*RegisteredTool
	index map[string]int
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{index: make(map[string]int)}
}

// Register adds a tool. Names must be unique.
func (r *ToolRegistry) Register(tool RegisteredTool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.index[tool.Definition.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Definition.Name)
	}
	r.index[tool.Definition.Name] = len(r.tools)
	r.tools = append(r.tools, &tool)
	return nil
}

// Get returns a registered tool by name, or nil if not found.
func (r *ToolRegistry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return nil
	}
	return r.tools[i]
}

// Definitions returns all tool definitions in registration order.
func (r *ToolRegistry) Definitions() []unifiedllm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]unifiedllm.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	return defs
}

// Names returns the names of all registered tools in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for _, tool := range r.tools {
		names = append(names, tool.Definition.Name)
	}
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Invoke runs the named tool against env. Every failure, including unknown
// names, malformed input and panics, is reported through the outcome rather
// than returned.
func (r *ToolRegistry) Invoke(ctx context.Context, env Environment, call unifiedllm.ToolCall) ToolOutcome {
	outcome := ToolOutcome{CallID: call.ID, ToolName: call.Name, Input: call.Arguments}

	tool := r.Get(call.Name)
	if tool == nil {
		outcome.Err = &ToolError{Kind: ToolErrorUnknownTool, Message: fmt.Sprintf("Unknown tool: %s", call.Name)}
		return outcome
	}
	outcome.textOutput = tool.textOutput

	input, err := tool.params.normalize(call.Arguments)
	if err != nil {
		outcome.Err = asToolError(err, ToolErrorInput)
		return outcome
	}

	output, err := runGuarded(ctx, env, tool, input)
	if err != nil {
		outcome.Err = asToolError(err, ToolErrorExecution)
		return outcome
	}
	outcome.Output = output
	return outcome
}

func runGuarded(ctx context.Context, env Environment, tool *RegisteredTool, input json.RawMessage) (output interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = executionError(nil, "tool %s panicked: %v", tool.Definition.Name, r)
		}
	}()
	return tool.execute(ctx, env, input)
}

func asToolError(err error, kind ToolErrorKind) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		if te.Kind == "" {
			te.Kind = kind
		}
		return te
	}
	return &ToolError{Kind: kind, Message: err.Error()}
}
