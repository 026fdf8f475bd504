package agentloop

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// EditorErrorKind classifies text_editor_tool failures.
type EditorErrorKind string

const (
	EditorNotFound        EditorErrorKind = "not_found"
	EditorAlreadyExists   EditorErrorKind = "already_exists"
	EditorInvalidArgument EditorErrorKind = "invalid_argument"
	EditorNoMatch         EditorErrorKind = "no_match"
	EditorRangeError      EditorErrorKind = "range"
	EditorUnknownCommand  EditorErrorKind = "unknown_command"
	EditorIO              EditorErrorKind = "io"
)

// EditorError is a text_editor_tool failure. Message is the exact text the
// model receives.
type EditorError struct {
	Kind    EditorErrorKind
	Message string
}

func (e *EditorError) Error() string {
	return e.Message
}

func editorErrorf(kind EditorErrorKind, format string, args ...interface{}) *EditorError {
	return &EditorError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

type editorInput struct {
	Command    string  `json:"command" validate:"required" jsonschema:"enum=view,enum=create,enum=str_replace,enum=insert" jsonschema_description:"The operation to perform: view, create, str_replace or insert."`
	Path       string  `json:"path" validate:"required" jsonschema_description:"Path of the file or directory, relative to the working directory."`
	FileText   *string `json:"file_text,omitempty" jsonschema_description:"Content of the new file. Required for create."`
	OldStr     *string `json:"old_str,omitempty" jsonschema_description:"Exact text to replace. Required for str_replace."`
	NewStr     *string `json:"new_str,omitempty" jsonschema_description:"Replacement text for str_replace, or the text to insert for insert."`
	InsertLine *int    `json:"insert_line,omitempty" jsonschema_description:"Line number after which to insert; 0 inserts at the beginning. Required for insert."`
	ViewStart  *int    `json:"view_start,omitempty" jsonschema_description:"First line to show when viewing a file (1-based)."`
	ViewEnd    *int    `json:"view_end,omitempty" jsonschema_description:"Last line to show when viewing a file (inclusive)."`
	ViewRange  []int   `json:"view_range,omitempty" validate:"omitempty,len=2" jsonschema_description:"Alternative to view_start and view_end as [start, end]; an end of -1 means the last line."`
}

// TextEditorTool views, creates and edits files. Every result, success or
// failure, is plain text.
func TextEditorTool() RegisteredTool {
	return NewTool("text_editor_tool",
		"View, create and edit files. Commands: view shows a file with line numbers or lists a directory, create writes a new file, str_replace replaces the first occurrence of old_str with new_str, insert adds new_str after insert_line.",
		func(ctx context.Context, env Environment, in editorInput) (string, error) {
			out, err := runEditor(env, in)
			if err != nil {
				var ee *EditorError
				if !errors.As(err, &ee) {
					ee = editorErrorf(EditorIO, "Error: %v", err)
				}
				return "", &ToolError{Kind: ToolErrorExecution, Message: ee.Message, Details: map[string]interface{}{"kind": string(ee.Kind)}}
			}
			return out, nil
		})
}

func runEditor(env Environment, in editorInput) (string, error) {
	switch in.Command {
	case "view":
		return editorView(env, in)
	case "create":
		return editorCreate(env, in)
	case "str_replace":
		return editorReplace(env, in)
	case "insert":
		return editorInsert(env, in)
	default:
		return "", editorErrorf(EditorUnknownCommand, "Error: Unknown command '%s'. Supported commands: view, create, str_replace, insert.", in.Command)
	}
}

func editorView(env Environment, in editorInput) (string, error) {
	info, err := env.Stat(in.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", editorErrorf(EditorNotFound, "Error: File or directory '%s' does not exist.", in.Path)
	}
	if err != nil {
		return "", err
	}

	if info.IsDir() {
		entries, err := env.ReadDir(in.Path)
		if err != nil {
			return "", err
		}
		var rows []string
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".") {
				continue
			}
			marker := "-"
			if e.IsDir() {
				marker = "d"
			}
			rows = append(rows, marker+" "+e.Name())
		}
		return fmt.Sprintf("Directory listing for '%s':\n%s", in.Path, strings.Join(rows, "\n")), nil
	}

	data, err := env.ReadFile(in.Path)
	if err != nil {
		return "", err
	}
	lines, _ := splitLines(string(data))
	if len(lines) == 0 {
		return "", nil
	}
	start, end := 1, len(lines)
	if len(in.ViewRange) == 2 {
		start = in.ViewRange[0]
		if in.ViewRange[1] >= 0 {
			end = in.ViewRange[1]
		}
	}
	if in.ViewStart != nil {
		start = *in.ViewStart
	}
	if in.ViewEnd != nil {
		end = *in.ViewEnd
	}
	start = clamp(start, 1, len(lines))
	end = clamp(end, 1, len(lines))

	var sb strings.Builder
	for i := start; i <= end; i++ {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d: %s", i, lines[i-1])
	}
	return sb.String(), nil
}

func editorCreate(env Environment, in editorInput) (string, error) {
	if in.FileText == nil {
		return "", editorErrorf(EditorInvalidArgument, "Error: file_text is required for create command.")
	}
	if _, err := env.Stat(in.Path); err == nil {
		return "", editorErrorf(EditorAlreadyExists, "Error: File '%s' already exists.", in.Path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if err := env.WriteFile(in.Path, []byte(*in.FileText)); err != nil {
		return "", err
	}
	return fmt.Sprintf("File '%s' created successfully.", in.Path), nil
}

func editorReplace(env Environment, in editorInput) (string, error) {
	if in.OldStr == nil || *in.OldStr == "" || in.NewStr == nil {
		return "", editorErrorf(EditorInvalidArgument, "Error: Both old_str and new_str are required for str_replace command.")
	}
	content, err := readExisting(env, in.Path)
	if err != nil {
		return "", err
	}
	if !strings.Contains(content, *in.OldStr) {
		return "", editorErrorf(EditorNoMatch, "Error: String '%s' not found in file '%s'.", *in.OldStr, in.Path)
	}
	updated := strings.Replace(content, *in.OldStr, *in.NewStr, 1)
	if err := env.WriteFile(in.Path, []byte(updated)); err != nil {
		return "", err
	}
	return fmt.Sprintf("String replacement completed in '%s'.", in.Path), nil
}

func editorInsert(env Environment, in editorInput) (string, error) {
	if in.NewStr == nil || in.InsertLine == nil {
		return "", editorErrorf(EditorInvalidArgument, "Error: Both new_str and insert_line are required for insert command.")
	}
	content, err := readExisting(env, in.Path)
	if err != nil {
		return "", err
	}
	lines, trailingNewline := splitLines(content)
	at := *in.InsertLine
	if at < 0 || at > len(lines) {
		return "", editorErrorf(EditorRangeError, "Error: insert_line %d is out of range. File has %d lines.", at, len(lines))
	}

	updated := make([]string, 0, len(lines)+1)
	updated = append(updated, lines[:at]...)
	updated = append(updated, *in.NewStr)
	updated = append(updated, lines[at:]...)
	out := strings.Join(updated, "\n")
	if trailingNewline {
		out += "\n"
	}
	if err := env.WriteFile(in.Path, []byte(out)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Line inserted at line %d in '%s'.", at+1, in.Path), nil
}

func readExisting(env Environment, path string) (string, error) {
	data, err := env.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", editorErrorf(EditorNotFound, "Error: File '%s' does not exist.", path)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// splitLines splits content into lines. A single trailing newline ends the
// last line instead of starting an empty one.
func splitLines(content string) ([]string, bool) {
	if content == "" {
		return nil, false
	}
	trailing := strings.HasSuffix(content, "\n")
	if trailing {
		content = content[:len(content)-1]
	}
	return strings.Split(content, "\n"), trailing
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
