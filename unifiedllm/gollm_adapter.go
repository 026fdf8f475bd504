package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// toolCallInstruction is appended to the system prompt when tools are offered.
// gollm returns plain text, so tool calls come back as a JSON array.
const toolCallInstruction = `To call tools, reply with only a JSON array of the form [{"name": "<tool>", "arguments": {...}}]. Reply with plain text when no tool is needed.`

// toolCallMarkers open the JSON forms parseToolCalls understands.
var toolCallMarkers = []string{`{"tool_calls"`, `[{"name"`}

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter.
// It is used for every provider other than Echo and native Anthropic.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmAdapter creates a new GollmAdapter for the given provider.
// If apiKey is empty, gollm will attempt to read it from environment variables.
func NewGollmAdapter(provider string, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		if info := GetLatestModel(provider, "tools"); info != nil {
			model = info.ID
		} else {
			model = DefaultModel
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries are handled by the caller's RetryPolicy
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("create gollm LLM for provider %s", provider),
			Cause:   err,
		}}
	}

	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
	}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: provider,
		llm:      llm,
	}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Stream sends a streaming request and returns a channel of StreamEvent objects.
// Text that opens a tool-call JSON block is withheld from TextDelta events and
// surfaces as ToolCallEnd events once the stream completes.
func (a *GollmAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt := a.translateRequest(req)
	a.applyRequestOptions(req)

	ch := make(chan StreamEvent, 64)

	if !a.llm.SupportsStreaming() {
		go func() {
			defer close(ch)
			if !emit(ctx, ch, StreamEvent{Type: StreamStart}) {
				return
			}
			text, err := a.llm.Generate(ctx, prompt)
			if err != nil {
				emit(ctx, ch, StreamEvent{Type: StreamError, Error: a.translateError(err)})
				return
			}
			gate := &toolCallGate{}
			a.finish(ctx, ch, req, text, gate.flush(text))
		}()
		return ch, nil
	}

	stream, err := a.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		if !emit(ctx, ch, StreamEvent{Type: StreamStart}) {
			return
		}

		var full strings.Builder
		gate := &toolCallGate{}
		started := false
		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				emit(ctx, ch, StreamEvent{Type: StreamError, Error: a.translateError(err)})
				return
			}
			if token == nil {
				continue
			}
			full.WriteString(token.Text)
			delta := gate.release(full.String())
			if delta == "" {
				continue
			}
			if !started {
				if !emit(ctx, ch, StreamEvent{Type: TextStart, TextID: "text_0"}) {
					return
				}
				started = true
			}
			if !emit(ctx, ch, StreamEvent{Type: TextDelta, Delta: delta, TextID: "text_0"}) {
				return
			}
		}

		a.finish(ctx, ch, req, full.String(), gate.flush(full.String()))
	}()

	return ch, nil
}

// finish emits the withheld text tail, tool call events and StreamFinish.
func (a *GollmAdapter) finish(ctx context.Context, ch chan<- StreamEvent, req Request, text, tail string) {
	resp := a.buildResponse(req, text)
	if tail != "" {
		if !emit(ctx, ch, StreamEvent{Type: TextDelta, Delta: tail, TextID: "text_0"}) {
			return
		}
	}
	for _, tc := range resp.Message.ToolCalls() {
		tc := tc
		if !emit(ctx, ch, StreamEvent{Type: ToolCallStart, ToolCall: &tc}) {
			return
		}
		if !emit(ctx, ch, StreamEvent{Type: ToolCallEnd, ToolCall: &tc}) {
			return
		}
	}
	emit(ctx, ch, StreamEvent{
		Type:         StreamFinish,
		FinishReason: &resp.FinishReason,
		Usage:        &resp.Usage,
		Response:     resp,
	})
}

// SupportsToolChoice reports whether the adapter supports a particular tool choice mode.
func (a *GollmAdapter) SupportsToolChoice(mode string) bool {
	switch mode {
	case "auto", "none", "required":
		return true
	case "named":
		return a.provider != "gemini" // Gemini has limited named tool support
	default:
		return false
	}
}

// translateRequest converts a unified Request into a gollm Prompt.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	system, promptText := renderTranscript(req.Messages)
	if len(req.ToolDefs) > 0 {
		system = strings.TrimSpace(system + "\n\n" + toolCallInstruction)
	}

	var promptOpts []gollm.PromptOption
	if system != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.ToolDefs) > 0 {
		tools := make([]gollm.Tool, 0, len(req.ToolDefs))
		for _, t := range req.ToolDefs {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}
	if req.ToolChoice != nil {
		promptOpts = append(promptOpts, gollm.WithToolChoice(req.ToolChoice.Mode))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// renderTranscript flattens messages into a system prompt and a single
// prompt body, since gollm accepts one prompt per call.
func renderTranscript(messages []Message) (system, prompt string) {
	var sys strings.Builder
	var parts []string

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			sys.WriteString(msg.TextContent())
			sys.WriteString("\n")
		case RoleUser:
			parts = append(parts, msg.TextContent())
		case RoleAssistant:
			if text := msg.TextContent(); text != "" {
				parts = append(parts, "[Assistant]: "+text)
			}
			for _, tc := range msg.ToolCalls() {
				args := string(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				parts = append(parts, fmt.Sprintf("[Tool Call %s]: %s(%s)", tc.ID, tc.Name, args))
			}
		case RoleTool:
			for _, part := range msg.Content {
				if part.Kind != ContentToolResult || part.ToolResult == nil {
					continue
				}
				prefix := "[Tool Result " + part.ToolResult.ToolCallID + "]"
				if part.ToolResult.IsError {
					prefix = "[Tool Error " + part.ToolResult.ToolCallID + "]"
				}
				parts = append(parts, prefix+": "+part.ToolResult.Content)
			}
		}
	}

	prompt = strings.Join(parts, "\n")
	if prompt == "" {
		prompt = "Hello"
	}
	return strings.TrimSpace(sys.String()), prompt
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

// buildResponse constructs a unified Response from the generated text.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	toolCalls := parseToolCalls(text)
	var content []ContentPart
	if cleaned := removeToolCallJSON(text, toolCalls); cleaned != "" {
		content = append(content, TextPart(cleaned))
	}
	for _, tc := range toolCalls {
		content = append(content, ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}

	finishReason := FinishReason{Reason: "stop", Raw: "stop"}
	if len(toolCalls) > 0 {
		finishReason = FinishReason{Reason: "tool_calls", Raw: "tool_calls"}
	}

	// gollm doesn't expose usage; estimate from text length.
	input := estimateTokens(req)
	output := len(text) / 4
	return &Response{
		ID:       "resp_" + uuid.New().String()[:8],
		Model:    model,
		Provider: a.provider,
		Message: Message{
			Role:    RoleAssistant,
			Content: content,
		},
		FinishReason: finishReason,
		Usage: Usage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  input + output,
		},
	}
}

type rawToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// parseToolCalls extracts tool calls from the response text. Both a bare
// array and a {"tool_calls": [...]} envelope are accepted; text after the
// JSON value is ignored.
func parseToolCalls(text string) []ToolCallData {
	start := firstMarker(text)
	if start == -1 {
		return nil
	}

	var raw []rawToolCall
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	if text[start] == '{' {
		var envelope struct {
			ToolCalls []rawToolCall `json:"tool_calls"`
		}
		if err := dec.Decode(&envelope); err != nil {
			return nil
		}
		raw = envelope.ToolCalls
	} else if err := dec.Decode(&raw); err != nil {
		return nil
	}

	var calls []ToolCallData
	for _, rc := range raw {
		if rc.Name == "" {
			continue
		}
		args := rc.Arguments
		if len(args) == 0 || string(args) == "null" {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, ToolCallData{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      rc.Name,
			Arguments: args,
		})
	}
	return calls
}

// removeToolCallJSON drops everything from the first tool-call marker on.
func removeToolCallJSON(text string, calls []ToolCallData) string {
	if len(calls) == 0 {
		return text
	}
	if idx := firstMarker(text); idx != -1 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

func firstMarker(text string) int {
	first := -1
	for _, m := range toolCallMarkers {
		if idx := strings.Index(text, m); idx != -1 && (first == -1 || idx < first) {
			first = idx
		}
	}
	return first
}

// toolCallGate decides how much of a growing stream buffer is safe to show.
// Text from a tool-call marker onward is withheld, as is any suffix that
// could still grow into a marker.
type toolCallGate struct {
	emitted int
	blocked bool
}

// release returns the next displayable slice of full.
func (g *toolCallGate) release(full string) string {
	if g.blocked {
		return ""
	}
	safe := len(full) - partialMarkerSuffix(full)
	if idx := firstMarker(full); idx != -1 {
		g.blocked = true
		safe = idx
	}
	if safe <= g.emitted {
		return ""
	}
	out := full[g.emitted:safe]
	g.emitted = safe
	return out
}

// flush returns whatever was withheld but turned out not to be a tool call.
func (g *toolCallGate) flush(full string) string {
	if g.blocked && len(parseToolCalls(full)) > 0 {
		return ""
	}
	if g.emitted >= len(full) {
		return ""
	}
	out := full[g.emitted:]
	g.emitted = len(full)
	return out
}

// partialMarkerSuffix is the length of the longest suffix of s that is a
// proper prefix of a tool-call marker.
func partialMarkerSuffix(s string) int {
	longest := 0
	for _, m := range toolCallMarkers {
		for n := len(m) - 1; n > longest; n-- {
			if strings.HasSuffix(s, m[:n]) {
				longest = n
				break
			}
		}
	}
	return longest
}

// translateError converts a gollm error into the unified error hierarchy.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()

	msgLower := strings.ToLower(msg)
	switch {
	case strings.Contains(msgLower, "401") || strings.Contains(msgLower, "unauthorized") || strings.Contains(msgLower, "invalid key") || strings.Contains(msgLower, "invalid api key"):
		return &AuthenticationError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 401,
		}}
	case strings.Contains(msgLower, "402") || strings.Contains(msgLower, "insufficient"):
		return &QuotaExceededError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 402,
		}}
	case strings.Contains(msgLower, "403") || strings.Contains(msgLower, "forbidden"):
		return &AccessDeniedError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 403,
		}}
	case strings.Contains(msgLower, "404") || strings.Contains(msgLower, "not found"):
		return &NotFoundError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 404,
		}}
	case strings.Contains(msgLower, "429") || strings.Contains(msgLower, "rate limit"):
		return &RateLimitError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 429, Retryable: true,
		}}
	case strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "too many tokens"):
		return &ContextLengthError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 413,
		}}
	case strings.Contains(msgLower, "500") || strings.Contains(msgLower, "internal server"):
		return &ServerError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 500, Retryable: true,
		}}
	case strings.Contains(msgLower, "timeout"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	case strings.Contains(msgLower, "content filter") || strings.Contains(msgLower, "safety"):
		return &ContentFilterError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider,
		}}
	default:
		return &ProviderError{
			SDKError:  SDKError{Message: msg, Cause: err},
			Provider:  a.provider,
			Retryable: true,
		}
	}
}

// estimateTokens provides a rough token count estimate from request messages.
func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				total += len(part.Text) / 4
			case ContentToolResult:
				if part.ToolResult != nil {
					total += len(part.ToolResult.Content) / 4
				}
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
