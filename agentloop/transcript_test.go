package agentloop

import (
	"encoding/json"
	"testing"

	"github.com/sragss/echogent/unifiedllm"
)

func TestToLLMMessages(t *testing.T) {
	transcript := []Message{
		NewUserMessage("list files"),
		assistantWithCall("list_files", `{}`),
		NewToolResultMessage("id", "list_files", `{"entries":[]}`, false),
		NewAssistantMessage(&unifiedllm.Response{Message: unifiedllm.AssistantMessage("nothing here")}),
	}
	msgs := ToLLMMessages(transcript)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	roles := []unifiedllm.Role{unifiedllm.RoleUser, unifiedllm.RoleAssistant, unifiedllm.RoleTool, unifiedllm.RoleAssistant}
	for i, want := range roles {
		if msgs[i].Role != want {
			t.Errorf("message %d: expected %q, got %q", i, want, msgs[i].Role)
		}
	}
	if calls := msgs[1].ToolCalls(); len(calls) != 1 || calls[0].Name != "list_files" {
		t.Errorf("expected tool call carried over, got %v", calls)
	}
	if msgs[2].ToolCallID != "id" {
		t.Errorf("expected tool result linked to call, got %q", msgs[2].ToolCallID)
	}
	if msgs[3].TextContent() != "nothing here" {
		t.Errorf("unexpected final text %q", msgs[3].TextContent())
	}
}

func TestMessageTextContent(t *testing.T) {
	if got := NewUserMessage("hi").TextContent(); got != "hi" {
		t.Errorf("unexpected user text %q", got)
	}
	if got := NewToolResultMessage("c", "t", "out", true).TextContent(); got != "out" {
		t.Errorf("unexpected tool text %q", got)
	}
	if got := (Message{Kind: KindAssistant}).TextContent(); got != "" {
		t.Errorf("expected empty text for bare message, got %q", got)
	}
}

func TestCharCountMatchesJSONLength(t *testing.T) {
	msgs := []Message{NewUserMessage("héllo")}
	data, _ := json.Marshal(ToLLMMessages(msgs))
	if got := CharCount(msgs); got != len([]rune(string(data))) {
		t.Errorf("expected %d, got %d", len([]rune(string(data))), got)
	}
	if CharCount(nil) != 2 {
		t.Errorf("expected empty array length 2, got %d", CharCount(nil))
	}
}
