package agentloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// callSignature identifies a tool call by name and a hash of its arguments.
func callSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentCallSignatures returns up to count signatures of the latest tool
// calls in the transcript, oldest first.
func recentCallSignatures(transcript []Message, count int) []string {
	sigs := make([]string, 0, count)
	for i := len(transcript) - 1; i >= 0 && len(sigs) < count; i-- {
		m := transcript[i]
		if m.Kind != KindAssistant || m.Assistant == nil {
			continue
		}
		calls := m.Assistant.ToolCalls
		for j := len(calls) - 1; j >= 0 && len(sigs) < count; j-- {
			sigs = append(sigs, callSignature(calls[j].Name, calls[j].Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop reports the length (1, 2 or 3) of a pattern that the last
// window tool calls repeat, or 0 when they do not repeat.
func DetectLoop(transcript []Message, window int) int {
	if window <= 0 {
		return 0
	}
	sigs := recentCallSignatures(transcript, window)
	if len(sigs) < window {
		return 0
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if window%patternLen != 0 {
			continue
		}
		if repeats(sigs, patternLen) {
			return patternLen
		}
	}
	return 0
}

func repeats(sigs []string, patternLen int) bool {
	for i := patternLen; i < len(sigs); i++ {
		if sigs[i] != sigs[i%patternLen] {
			return false
		}
	}
	return true
}
