package agentloop

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/sragss/echogent/unifiedllm"
)

// MessageKind discriminates between transcript entries.
type MessageKind string

const (
	KindUser       MessageKind = "user"
	KindAssistant  MessageKind = "assistant"
	KindToolResult MessageKind = "tool_result"
)

// Message is a single entry in the session transcript. Exactly one of the
// payload pointers is set, matching Kind.
type Message struct {
	Kind       MessageKind        `json:"kind"`
	Timestamp  time.Time          `json:"timestamp"`
	User       *UserMessage       `json:"user,omitempty"`
	Assistant  *AssistantMessage  `json:"assistant,omitempty"`
	ToolResult *ToolResultMessage `json:"tool_result,omitempty"`
}

// UserMessage holds one line of user input.
type UserMessage struct {
	Content string `json:"content"`
}

// AssistantMessage holds the model's output for one step.
type AssistantMessage struct {
	Content    string                `json:"content"`
	ToolCalls  []unifiedllm.ToolCall `json:"tool_calls,omitempty"`
	Reasoning  string                `json:"reasoning,omitempty"`
	Usage      unifiedllm.Usage      `json:"usage"`
	ResponseID string                `json:"response_id,omitempty"`
}

// ToolResultMessage answers exactly one tool call.
type ToolResultMessage struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// NewUserMessage creates a transcript entry wrapping user input.
func NewUserMessage(content string) Message {
	return Message{
		Kind:      KindUser,
		Timestamp: time.Now(),
		User:      &UserMessage{Content: content},
	}
}

// NewAssistantMessage creates a transcript entry from a completed response.
func NewAssistantMessage(resp *unifiedllm.Response) Message {
	return Message{
		Kind:      KindAssistant,
		Timestamp: time.Now(),
		Assistant: &AssistantMessage{
			Content:    resp.Text(),
			ToolCalls:  resp.ToolCallsFromResponse(),
			Reasoning:  resp.Reasoning(),
			Usage:      resp.Usage,
			ResponseID: resp.ID,
		},
	}
}

// NewToolResultMessage creates a transcript entry for one tool outcome.
func NewToolResultMessage(callID, toolName, content string, isError bool) Message {
	return Message{
		Kind:      KindToolResult,
		Timestamp: time.Now(),
		ToolResult: &ToolResultMessage{
			ToolCallID: callID,
			ToolName:   toolName,
			Content:    content,
			IsError:    isError,
		},
	}
}

// TextContent returns the text content of a message regardless of its kind.
func (m Message) TextContent() string {
	switch m.Kind {
	case KindUser:
		if m.User != nil {
			return m.User.Content
		}
	case KindAssistant:
		if m.Assistant != nil {
			return m.Assistant.Content
		}
	case KindToolResult:
		if m.ToolResult != nil {
			return m.ToolResult.Content
		}
	}
	return ""
}

// ToLLMMessages converts the transcript into provider-neutral messages.
func ToLLMMessages(transcript []Message) []unifiedllm.Message {
	messages := make([]unifiedllm.Message, 0, len(transcript))
	for _, m := range transcript {
		switch m.Kind {
		case KindUser:
			if m.User != nil {
				messages = append(messages, unifiedllm.UserMessage(m.User.Content))
			}
		case KindAssistant:
			if m.Assistant != nil {
				msg := unifiedllm.AssistantMessage(m.Assistant.Content)
				for _, tc := range m.Assistant.ToolCalls {
					msg.Content = append(msg.Content,
						unifiedllm.ToolCallPart(tc.ID, tc.Name, tc.Arguments))
				}
				messages = append(messages, msg)
			}
		case KindToolResult:
			if m.ToolResult != nil {
				messages = append(messages,
					unifiedllm.ToolResultMessage(m.ToolResult.ToolCallID, m.ToolResult.Content, m.ToolResult.IsError))
			}
		}
	}
	return messages
}

// CharCount returns the character length of the JSON encoding of msgs as
// sent to the model. It is the per-turn context growth figure.
func CharCount(msgs []Message) int {
	data, err := json.Marshal(ToLLMMessages(msgs))
	if err != nil {
		return 0
	}
	return utf8.RuneCount(data)
}
