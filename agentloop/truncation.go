package agentloop

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// Truncation modes per tool. Search and listing output keeps its tail.
var DefaultTruncationModes = map[string]TruncationMode{
	"read_file":        TruncateHeadTail,
	"bash_execute":     TruncateHeadTail,
	"text_editor_tool": TruncateHeadTail,
	"ripgrep":          TruncateTail,
	"list_files":       TruncateTail,
}

// TruncationLimits caps tool result text before it enters the transcript.
// A zero limit disables that stage.
type TruncationLimits struct {
	Chars        int
	Lines        int
	PerToolChars map[string]int
	PerToolLines map[string]int
}

// Enabled reports whether any limit is set.
func (l TruncationLimits) Enabled() bool {
	return l.Chars > 0 || l.Lines > 0 || len(l.PerToolChars) > 0 || len(l.PerToolLines) > 0
}

func (l TruncationLimits) charsFor(tool string) int {
	if n, ok := l.PerToolChars[tool]; ok {
		return n
	}
	return l.Chars
}

func (l TruncationLimits) linesFor(tool string) int {
	if n, ok := l.PerToolLines[tool]; ok {
		return n
	}
	return l.Lines
}

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars

	if mode == TruncateTail {
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed. "+
			"The full output is shown in the terminal trace.]\n\n", removed) +
			output[tailStart(output, maxChars):]
	}

	half := maxChars / 2
	return output[:headEnd(output, half)] +
		fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
			"If you need to see specific parts, re-run the tool with more targeted parameters.]\n\n", removed) +
		output[tailStart(output, half):]
}

// headEnd backs n off to a rune boundary.
func headEnd(s string, n int) int {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

// tailStart returns the index of the last n bytes, moved forward to a rune
// boundary.
func tailStart(s string, n int) int {
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

// TruncateLines applies line-based truncation using head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput applies character truncation and then line truncation
// for the named tool.
func TruncateToolOutput(output string, toolName string, limits TruncationLimits) string {
	mode, ok := DefaultTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}
	result := TruncateOutput(output, limits.charsFor(toolName), mode)
	return TruncateLines(result, limits.linesFor(toolName))
}
