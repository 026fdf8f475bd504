package unifiedllm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	defaultAnthropicTimeout = 10 * time.Minute
)

// AnthropicAdapter speaks the Anthropic Messages API through
// anthropic-sdk-go, including streamed tool_use blocks. The same protocol
// serves the Echo router, which authenticates with a bearer token instead of
// x-api-key.
type AnthropicAdapter struct {
	name       string
	baseURL    string
	apiKey     string
	bearer     bool
	maxTokens  int
	httpClient *http.Client
	client     anthropic.Client
}

// AnthropicOption configures an AnthropicAdapter.
type AnthropicOption func(*AnthropicAdapter)

// WithBaseURL overrides the endpoint directory; requests go to
// <url>/messages. For api.anthropic.com that is ".../v1", for the Echo router
// it is the router root.
func WithBaseURL(url string) AnthropicOption {
	return func(a *AnthropicAdapter) {
		if trimmed := strings.TrimRight(strings.TrimSpace(url), "/"); trimmed != "" {
			a.baseURL = trimmed
		}
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(a *AnthropicAdapter) {
		if c != nil {
			a.httpClient = c
		}
	}
}

// WithBearerAuth sends the key as an Authorization bearer token.
func WithBearerAuth() AnthropicOption {
	return func(a *AnthropicAdapter) {
		a.bearer = true
	}
}

// WithDefaultMaxTokens sets max_tokens for requests that leave it unset.
func WithDefaultMaxTokens(n int) AnthropicOption {
	return func(a *AnthropicAdapter) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithAdapterName changes the provider identifier the adapter reports.
func WithAdapterName(name string) AnthropicOption {
	return func(a *AnthropicAdapter) {
		a.name = name
	}
}

// NewAnthropicAdapter creates an adapter for api.anthropic.com.
func NewAnthropicAdapter(apiKey string, opts ...AnthropicOption) *AnthropicAdapter {
	a := &AnthropicAdapter{
		name:       "anthropic",
		baseURL:    defaultAnthropicBaseURL,
		apiKey:     apiKey,
		maxTokens:  4096,
		httpClient: &http.Client{Timeout: defaultAnthropicTimeout},
	}
	for _, opt := range opts {
		opt(a)
	}

	sdkOpts := []option.RequestOption{
		option.WithBaseURL(a.baseURL + "/"),
		option.WithHTTPClient(a.httpClient),
		// Retries are handled by the caller's RetryPolicy.
		option.WithMaxRetries(0),
		option.WithMiddleware(a.routeRequest),
	}
	if a.bearer {
		sdkOpts = append(sdkOpts, option.WithAuthToken(apiKey))
	} else {
		sdkOpts = append(sdkOpts, option.WithAPIKey(apiKey))
	}
	a.client = anthropic.NewClient(sdkOpts...)
	return a
}

// NewEchoAdapter creates an adapter that routes Anthropic models through the
// Echo router at routerURL, billed to the Echo API key.
func NewEchoAdapter(apiKey, routerURL string, opts ...AnthropicOption) *AnthropicAdapter {
	base := []AnthropicOption{WithAdapterName("echo"), WithBaseURL(routerURL), WithBearerAuth()}
	return NewAnthropicAdapter(apiKey, append(base, opts...)...)
}

// routeRequest points the SDK's fixed "v1/messages" path at the configured
// endpoint directory and drops whichever credential header this adapter does
// not use, so ANTHROPIC_* variables in the environment cannot leak a second key.
func (a *AnthropicAdapter) routeRequest(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	if i := strings.LastIndex(req.URL.Path, "/v1/"); i >= 0 {
		if target, err := url.Parse(a.baseURL + "/" + req.URL.Path[i+len("/v1/"):]); err == nil {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.URL.Path = target.Path
			req.URL.RawPath = ""
			req.Host = target.Host
		}
	}
	if a.bearer {
		req.Header.Del("X-Api-Key")
	} else {
		req.Header.Del("Authorization")
	}
	return next(req)
}

// Name returns the provider identifier.
func (a *AnthropicAdapter) Name() string {
	return a.name
}

// SupportsToolChoice reports whether the adapter supports a particular tool choice mode.
func (a *AnthropicAdapter) SupportsToolChoice(mode string) bool {
	switch mode {
	case "auto", "none", "required", "named":
		return true
	default:
		return false
	}
}

// Stream sends a streaming request. Failures before the first event are
// returned directly so callers can retry them; later failures arrive as a
// StreamError event.
func (a *AnthropicAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	stream := a.client.Messages.NewStreaming(ctx, a.buildParams(req))
	if !stream.Next() {
		err := stream.Err()
		stream.Close()
		if err == nil {
			err = &StreamErrorType{SDKError: SDKError{Message: "stream ended before message_start"}}
		}
		return nil, a.translateError(ctx, err)
	}

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		defer stream.Close()

		st := &anthropicStream{provider: a.name}
		if !emit(ctx, ch, StreamEvent{Type: StreamStart}) {
			return
		}
		for ok := true; ok; ok = stream.Next() {
			evs, err := st.handle(stream.Current())
			if err != nil {
				emit(ctx, ch, StreamEvent{Type: StreamError, Error: err})
				return
			}
			for _, ev := range evs {
				if !emit(ctx, ch, ev) {
					return
				}
			}
			if st.stopped {
				return
			}
		}

		err := stream.Err()
		if err == nil {
			err = &StreamErrorType{SDKError: SDKError{Message: "stream ended before message_stop"}}
		}
		emit(ctx, ch, StreamEvent{Type: StreamError, Error: a.translateError(ctx, err)})
	}()
	return ch, nil
}

func (a *AnthropicAdapter) buildParams(req Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(ResolveModel(req.Model)),
		MaxTokens: int64(a.maxTokens),
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		params.MaxTokens = int64(*req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			if text := msg.TextContent(); text != "" {
				system = append(system, text)
			}
			continue
		}
		role := anthropic.MessageParamRoleUser
		if msg.Role == RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		blocks := toAnthropicBlocks(msg)
		if len(blocks) == 0 {
			continue
		}
		// The API requires alternating roles; tool results ride in user turns.
		if n := len(params.Messages); n > 0 && params.Messages[n-1].Role == role {
			params.Messages[n-1].Content = append(params.Messages[n-1].Content, blocks...)
			continue
		}
		params.Messages = append(params.Messages, anthropic.MessageParam{Role: role, Content: blocks})
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	for _, def := range req.ToolDefs {
		tool := anthropic.ToolParam{
			Name:        def.Name,
			InputSchema: toInputSchema(def.Parameters),
		}
		if def.Description != "" {
			tool.Description = anthropic.String(def.Description)
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	if len(params.Tools) > 0 && req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case "auto":
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		case "required":
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		case "none":
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		case "named":
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: req.ToolChoice.ToolName}}
		}
	}
	return params
}

// toInputSchema carries the object schema's properties and required list.
func toInputSchema(schema map[string]interface{}) anthropic.ToolInputSchemaParam {
	out := anthropic.ToolInputSchemaParam{Properties: map[string]interface{}{}}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = props
	}
	switch req := schema["required"].(type) {
	case []string:
		out.Required = req
	case []interface{}:
		for _, r := range req {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}

func toAnthropicBlocks(msg Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range msg.Content {
		switch part.Kind {
		case ContentText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case ContentToolCall:
			if part.ToolCall != nil {
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, normalizeArgs(part.ToolCall.Arguments), part.ToolCall.Name))
			}
		case ContentToolResult:
			if part.ToolResult != nil {
				blocks = append(blocks, anthropic.NewToolResultBlock(part.ToolResult.ToolCallID, part.ToolResult.Content, part.ToolResult.IsError))
			}
		case ContentThinking:
			if part.Thinking != nil && part.Thinking.Signature != "" {
				blocks = append(blocks, anthropic.NewThinkingBlock(part.Thinking.Signature, part.Thinking.Text))
			}
		}
	}
	return blocks
}

func messageToResponse(provider string, msg *anthropic.Message) *Response {
	resp := &Response{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Provider:     provider,
		Message:      Message{Role: RoleAssistant},
		FinishReason: mapStopReason(string(msg.StopReason)),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				resp.Message.Content = append(resp.Message.Content, TextPart(block.Text))
			}
		case "thinking":
			resp.Message.Content = append(resp.Message.Content, ThinkingPart(block.Thinking, block.Signature))
		case "tool_use":
			resp.Message.Content = append(resp.Message.Content, ToolCallPart(block.ID, block.Name, normalizeArgs(block.Input)))
		}
	}
	return resp
}

// translateError maps SDK failures onto the unified error hierarchy.
func (a *AnthropicAdapter) translateError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: ctx.Err()}}
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		msg, code := errorBody(apiErr.RawJSON())
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		var retryAfter *float64
		if apiErr.Response != nil {
			if v := apiErr.Response.Header.Get("Retry-After"); v != "" {
				if secs, err := strconv.ParseFloat(v, 64); err == nil {
					retryAfter = &secs
				}
			}
		}
		return ErrorFromStatusCode(apiErr.StatusCode, msg, a.name, code, retryAfter)
	}

	switch err.(type) {
	case *StreamErrorType, *AbortError:
		return err
	}

	// Error events inside the stream surface as plain errors carrying the
	// event's JSON payload.
	if i := strings.Index(err.Error(), "{"); i >= 0 {
		if msg, code := errorBody(err.Error()[i:]); code != "" {
			return streamEventError(a.name, code, msg)
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &NetworkError{SDKError: SDKError{Message: "send " + a.name + " request", Cause: err}}
	}
	return &StreamErrorType{SDKError: SDKError{Message: a.name + " stream failed", Cause: err}}
}

// errorBody extracts type and message from an Anthropic error envelope.
func errorBody(raw string) (msg, code string) {
	var body struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(raw), &body) != nil {
		return strings.TrimSpace(raw), ""
	}
	return body.Error.Message, body.Error.Type
}

func streamEventError(provider, code, msg string) error {
	switch code {
	case "overloaded_error":
		return ErrorFromStatusCode(529, msg, provider, code, nil)
	case "rate_limit_error":
		return ErrorFromStatusCode(429, msg, provider, code, nil)
	case "api_error":
		return ErrorFromStatusCode(500, msg, provider, code, nil)
	case "invalid_request_error":
		return ErrorFromStatusCode(400, msg, provider, code, nil)
	default:
		return &StreamErrorType{SDKError: SDKError{Message: msg, Cause: errors.New(code)}}
	}
}

func normalizeArgs(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return json.RawMessage(`{}`)
	}
	return trimmed
}

func mapStopReason(raw string) FinishReason {
	switch raw {
	case "end_turn", "stop_sequence", "":
		return FinishReason{Reason: "stop", Raw: raw}
	case "max_tokens":
		return FinishReason{Reason: "length", Raw: raw}
	case "tool_use":
		return FinishReason{Reason: "tool_calls", Raw: raw}
	case "refusal":
		return FinishReason{Reason: "content_filter", Raw: raw}
	default:
		return FinishReason{Reason: "other", Raw: raw}
	}
}

// anthropicStream maps SDK stream events to unified events. The SDK's
// Message.Accumulate folds the same events into the final message.
type anthropicStream struct {
	provider string
	msg      anthropic.Message
	stopped  bool
}

func (s *anthropicStream) handle(ev anthropic.MessageStreamEventUnion) ([]StreamEvent, error) {
	if err := s.msg.Accumulate(ev); err != nil {
		return nil, &StreamErrorType{SDKError: SDKError{Message: "accumulate stream event", Cause: err}}
	}

	switch ev := ev.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		switch ev.ContentBlock.Type {
		case "text":
			return []StreamEvent{{Type: TextStart, TextID: textID(ev.Index)}}, nil
		case "tool_use":
			return []StreamEvent{{Type: ToolCallStart, ToolCall: &ToolCall{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}}}, nil
		}
	case anthropic.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return []StreamEvent{{Type: TextDelta, Delta: delta.Text, TextID: textID(ev.Index)}}, nil
		case anthropic.ThinkingDelta:
			return []StreamEvent{{Type: ReasoningDelta, ReasoningDelta: delta.Thinking}}, nil
		case anthropic.InputJSONDelta:
			return []StreamEvent{{Type: ToolCallDelta, Delta: delta.PartialJSON}}, nil
		}
	case anthropic.ContentBlockStopEvent:
		if ev.Index < 0 || int(ev.Index) >= len(s.msg.Content) {
			return nil, nil
		}
		block := s.msg.Content[ev.Index]
		switch block.Type {
		case "text":
			return []StreamEvent{{Type: TextEnd, TextID: textID(ev.Index)}}, nil
		case "tool_use":
			args := normalizeArgs(block.Input)
			if !json.Valid(args) {
				return nil, &StreamErrorType{SDKError: SDKError{Message: fmt.Sprintf("tool %s: invalid input json", block.Name)}}
			}
			return []StreamEvent{{Type: ToolCallEnd, ToolCall: &ToolCall{ID: block.ID, Name: block.Name, Arguments: args}}}, nil
		}
	case anthropic.MessageStopEvent:
		s.stopped = true
		resp := messageToResponse(s.provider, &s.msg)
		return []StreamEvent{{
			Type:         StreamFinish,
			FinishReason: &resp.FinishReason,
			Usage:        &resp.Usage,
			Response:     resp,
		}}, nil
	}
	return nil, nil
}

func textID(index int64) string {
	return "text_" + strconv.FormatInt(index, 10)
}
