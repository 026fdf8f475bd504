package agentloop

import (
	"context"
	"strconv"
	"strings"
)

type ripgrepInput struct {
	Pattern      string `json:"pattern" validate:"required" jsonschema_description:"The pattern to search for (supports regex)"`
	Path         string `json:"path,omitempty" jsonschema:"default=." jsonschema_description:"The directory or file path to search in. Defaults to current directory."`
	FileType     string `json:"fileType,omitempty" jsonschema_description:"File type filter (e.g., \"js\", \"ts\", \"py\", \"md\")"`
	IgnoreCase   bool   `json:"ignoreCase,omitempty" jsonschema_description:"Ignore case when searching"`
	ContextLines int    `json:"contextLines,omitempty" validate:"min=0" jsonschema_description:"Number of context lines to show around matches"`
	MaxCount     int    `json:"maxCount,omitempty" validate:"min=0" jsonschema_description:"Maximum number of matches to return"`
}

type ripgrepOutput struct {
	Matches    string `json:"matches"`
	Pattern    string `json:"pattern"`
	Path       string `json:"path"`
	MatchCount int    `json:"matchCount"`
}

// RipgrepTool searches file contents with rg. Exit status 1 means no
// matches and is not an error.
func RipgrepTool() RegisteredTool {
	return NewTool("ripgrep",
		"Search for patterns in files using ripgrep. Use this to find code, text, or patterns across files.",
		func(ctx context.Context, env Environment, in ripgrepInput) (ripgrepOutput, error) {
			details := map[string]interface{}{"pattern": in.Pattern, "path": in.Path}
			res, err := env.Run(ctx, CommandSpec{Name: "rg", Args: ripgrepArgs(in)})
			if err != nil {
				return ripgrepOutput{}, executionError(details, "Failed to run ripgrep: %v", err)
			}

			switch res.ExitCode {
			case 0, 1:
				matches := strings.TrimSpace(res.Stdout)
				count := 0
				if matches != "" {
					count = len(strings.Split(matches, "\n"))
				}
				return ripgrepOutput{Matches: matches, Pattern: in.Pattern, Path: in.Path, MatchCount: count}, nil
			default:
				msg := strings.TrimSpace(res.Stderr)
				if msg == "" {
					msg = "Ripgrep command failed"
				}
				return ripgrepOutput{}, executionError(details, "%s", msg)
			}
		})
}

func ripgrepArgs(in ripgrepInput) []string {
	var args []string
	if in.IgnoreCase {
		args = append(args, "-i")
	}
	if in.ContextLines > 0 {
		args = append(args, "-C", strconv.Itoa(in.ContextLines))
	}
	if in.MaxCount > 0 {
		args = append(args, "-m", strconv.Itoa(in.MaxCount))
	}
	if in.FileType != "" {
		args = append(args, "-t", in.FileType)
	}
	return append(args, "-e", in.Pattern, "--", in.Path)
}
