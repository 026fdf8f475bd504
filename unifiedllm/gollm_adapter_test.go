package unifiedllm

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGollmAdapterName(t *testing.T) {
	// Adapter construction may fail without network-free provider support,
	// but Name() must report the provider when it succeeds.
	for _, provider := range []string{"openai", "anthropic"} {
		adapter, err := NewGollmAdapter(provider, "test-key-not-real")
		if err != nil {
			t.Logf("skipping %s adapter creation: %v", provider, err)
			continue
		}
		if adapter.Name() != provider {
			t.Errorf("expected name %q, got %q", provider, adapter.Name())
		}
	}
}

func TestGollmAdapterTranslateError(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai"}

	tests := []struct {
		errMsg    string
		check     func(error) bool
		retryable bool
	}{
		{"401 Unauthorized", func(e error) bool { _, ok := e.(*AuthenticationError); return ok }, false},
		{"invalid api key", func(e error) bool { _, ok := e.(*AuthenticationError); return ok }, false},
		{"402 insufficient balance", func(e error) bool { _, ok := e.(*QuotaExceededError); return ok }, false},
		{"403 Forbidden", func(e error) bool { _, ok := e.(*AccessDeniedError); return ok }, false},
		{"404 not found", func(e error) bool { _, ok := e.(*NotFoundError); return ok }, false},
		{"429 rate limit exceeded", func(e error) bool { _, ok := e.(*RateLimitError); return ok }, true},
		{"context length exceeded", func(e error) bool { _, ok := e.(*ContextLengthError); return ok }, false},
		{"500 internal server error", func(e error) bool { _, ok := e.(*ServerError); return ok }, true},
		{"timeout waiting for response", func(e error) bool { _, ok := e.(*RequestTimeoutError); return ok }, true},
		{"content filter triggered", func(e error) bool { _, ok := e.(*ContentFilterError); return ok }, false},
		{"something unknown", func(e error) bool { _, ok := e.(*ProviderError); return ok }, true},
	}

	for _, tt := range tests {
		err := adapter.translateError(errForMsg(tt.errMsg))
		if err == nil {
			t.Errorf("expected non-nil error for %q", tt.errMsg)
			continue
		}
		if !tt.check(err) {
			t.Errorf("for %q: unexpected error type %T", tt.errMsg, err)
		}
		if IsRetryable(err) != tt.retryable {
			t.Errorf("for %q: expected retryable=%v", tt.errMsg, tt.retryable)
		}
	}
}

type simpleError struct{ msg string }

func (e *simpleError) Error() string { return e.msg }
func errForMsg(msg string) error     { return &simpleError{msg: msg} }

func TestGollmAdapterSupportsToolChoice(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai"}

	for _, mode := range []string{"auto", "none", "required", "named"} {
		if !adapter.SupportsToolChoice(mode) {
			t.Errorf("expected %s to be supported", mode)
		}
	}
	if adapter.SupportsToolChoice("invalid") {
		t.Error("expected invalid to not be supported")
	}

	geminiAdapter := &GollmAdapter{provider: "gemini"}
	if geminiAdapter.SupportsToolChoice("named") {
		t.Error("expected named to not be supported for gemini")
	}
}

func TestRenderTranscript(t *testing.T) {
	assistant := AssistantMessage("Let me look.")
	assistant.Content = append(assistant.Content, ToolCallPart("call_1", "list_files", json.RawMessage(`{"path":"."}`)))

	system, prompt := renderTranscript([]Message{
		SystemMessage("be brief"),
		UserMessage("list files"),
		assistant,
		ToolResultMessage("call_1", `{"path":"."}`, false),
		ToolResultMessage("call_2", "boom", true),
	})

	if system != "be brief" {
		t.Errorf("expected system prompt %q, got %q", "be brief", system)
	}
	want := []string{
		"list files",
		"[Assistant]: Let me look.",
		`[Tool Call call_1]: list_files({"path":"."})`,
		`[Tool Result call_1]: {"path":"."}`,
		"[Tool Error call_2]: boom",
	}
	if prompt != strings.Join(want, "\n") {
		t.Errorf("unexpected prompt:\n%s", prompt)
	}
}

func TestRenderTranscriptEmpty(t *testing.T) {
	_, prompt := renderTranscript(nil)
	if prompt != "Hello" {
		t.Errorf("expected placeholder prompt, got %q", prompt)
	}
}

func TestParseToolCalls(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		names []string
	}{
		{"plain text", "just an answer", nil},
		{"bare array", `[{"name": "read_file", "arguments": {"path": "a.go"}}]`, []string{"read_file"}},
		{"envelope", `{"tool_calls": [{"name": "list_files"}, {"name": "ripgrep", "arguments": {"pattern": "x"}}]}`, []string{"list_files", "ripgrep"}},
		{"leading text", `Sure. [{"name": "bash_execute", "arguments": {"command": "ls"}}] trailing`, []string{"bash_execute"}},
		{"malformed", `[{"name": "read_file", "arguments": {`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := parseToolCalls(tt.text)
			if len(calls) != len(tt.names) {
				t.Fatalf("expected %d calls, got %d", len(tt.names), len(calls))
			}
			for i, c := range calls {
				if c.Name != tt.names[i] {
					t.Errorf("call %d: expected %q, got %q", i, tt.names[i], c.Name)
				}
				if c.ID == "" {
					t.Errorf("call %d: expected synthesized ID", i)
				}
				if len(c.Arguments) == 0 {
					t.Errorf("call %d: expected arguments to default to {}", i)
				}
			}
		})
	}
}

func TestBuildResponseWithToolCalls(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai", model: "m"}
	resp := adapter.buildResponse(Request{}, `Checking. [{"name": "list_files", "arguments": {}}]`)

	if resp.FinishReason.Reason != "tool_calls" {
		t.Errorf("expected finish reason tool_calls, got %q", resp.FinishReason.Reason)
	}
	if resp.Text() != "Checking." {
		t.Errorf("expected cleaned text, got %q", resp.Text())
	}
	calls := resp.ToolCallsFromResponse()
	if len(calls) != 1 || calls[0].Name != "list_files" {
		t.Fatalf("unexpected tool calls: %+v", calls)
	}
	if resp.Model != "m" {
		t.Errorf("expected adapter default model, got %q", resp.Model)
	}
}

func TestToolCallGate(t *testing.T) {
	full := ""
	gate := &toolCallGate{}
	var shown strings.Builder
	for _, tok := range []string{"Hello ", "world [", `{"name": "read_file", "arguments": {}}]`} {
		full += tok
		shown.WriteString(gate.release(full))
	}
	shown.WriteString(gate.flush(full))
	if shown.String() != "Hello world " {
		t.Errorf("expected marker to be withheld, got %q", shown.String())
	}
}

func TestToolCallGateFlushesFalseAlarm(t *testing.T) {
	full := ""
	gate := &toolCallGate{}
	var shown strings.Builder
	for _, tok := range []string{"use a map like ", "{"} {
		full += tok
		shown.WriteString(gate.release(full))
	}
	shown.WriteString(gate.flush(full))
	if shown.String() != full {
		t.Errorf("expected full text after flush, got %q", shown.String())
	}
}

func TestEstimateTokens(t *testing.T) {
	req := Request{
		Messages: []Message{
			UserMessage("Hello world, this is a test message."),
		},
	}
	if tokens := estimateTokens(req); tokens <= 0 {
		t.Errorf("expected positive token estimate, got %d", tokens)
	}
}

func TestEstimateTokensEmpty(t *testing.T) {
	req := Request{Messages: []Message{}}
	if tokens := estimateTokens(req); tokens != 10 {
		t.Errorf("expected default token estimate of 10, got %d", tokens)
	}
}
