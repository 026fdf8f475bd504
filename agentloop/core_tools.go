package agentloop

import (
	"context"
	"path/filepath"
	"strings"
	"time"
)

// ToolOptions tunes the core tool set.
type ToolOptions struct {
	// ShellTimeout bounds bash_execute commands; zero means no limit.
	ShellTimeout time.Duration
}

// CoreTools returns the tools offered to the model, in the order they are
// declared to it.
func CoreTools(opts ToolOptions) []RegisteredTool {
	return []RegisteredTool{
		ListFilesTool(),
		ReadFileTool(),
		RipgrepTool(),
		TextEditorTool(),
		BashTool(opts.ShellTimeout),
	}
}

// RegisterCoreTools registers the core tools on reg.
func RegisterCoreTools(reg *ToolRegistry, opts ToolOptions) error {
	for _, tool := range CoreTools(opts) {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// NewCoreRegistry returns a registry holding exactly the core tools.
func NewCoreRegistry(opts ToolOptions) (*ToolRegistry, error) {
	reg := NewToolRegistry()
	if err := RegisterCoreTools(reg, opts); err != nil {
		return nil, err
	}
	return reg, nil
}

type listFilesInput struct {
	Path string `json:"path,omitempty" jsonschema:"default=." jsonschema_description:"The directory path to list. Defaults to current directory if not provided."`
}

// FileEntry is one row of a list_files result.
type FileEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}

type listFilesOutput struct {
	Path    string      `json:"path"`
	Entries []FileEntry `json:"entries"`
}

// ListFilesTool lists the non-hidden entries of a directory.
func ListFilesTool() RegisteredTool {
	return NewTool("list_files",
		"List files and directories in a given directory path. Use this to explore the file structure.",
		func(ctx context.Context, env Environment, in listFilesInput) (listFilesOutput, error) {
			details := map[string]interface{}{"path": in.Path}
			dirents, err := env.ReadDir(in.Path)
			if err != nil {
				return listFilesOutput{}, executionError(details, "Failed to list directory: %v", err)
			}

			entries := make([]FileEntry, 0, len(dirents))
			for _, d := range dirents {
				if strings.HasPrefix(d.Name(), ".") {
					continue
				}
				entryPath := in.Path + "/" + d.Name()
				kind := "file"
				if info, err := env.Stat(filepath.Join(in.Path, d.Name())); err == nil {
					if info.IsDir() {
						kind = "directory"
					}
				} else if d.IsDir() {
					kind = "directory"
				}
				entries = append(entries, FileEntry{Name: d.Name(), Path: entryPath, Type: kind})
			}
			return listFilesOutput{Path: in.Path, Entries: entries}, nil
		})
}

type readFileInput struct {
	Path string `json:"path" validate:"required" jsonschema_description:"The relative path of a file in the working directory."`
}

type readFileOutput struct {
	Content string `json:"content"`
	Path    string `json:"path"`
}

// ReadFileTool returns a file's full contents.
func ReadFileTool() RegisteredTool {
	return NewTool("read_file",
		"Read the contents of a given relative file path. Use this when you want to see what's inside a file. Do not use this with directory names.",
		func(ctx context.Context, env Environment, in readFileInput) (readFileOutput, error) {
			data, err := env.ReadFile(in.Path)
			if err != nil {
				return readFileOutput{}, executionError(map[string]interface{}{"path": in.Path}, "Failed to read file: %v", err)
			}
			return readFileOutput{Content: string(data), Path: in.Path}, nil
		})
}
