package agentloop

import (
	"context"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
)

type bashInput struct {
	Command string `json:"command" validate:"required" jsonschema_description:"The bash command to execute"`
	Cwd     string `json:"cwd,omitempty" jsonschema_description:"Working directory to execute the command in. Defaults to current directory."`
}

type bashOutput struct {
	Command  string `json:"command"`
	Cwd      string `json:"cwd"`
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

// BashTool runs a shell command with stdout and stderr merged. The command's
// exit code is reported as-is; a non-zero exit is a successful invocation.
func BashTool(timeout time.Duration) RegisteredTool {
	return NewTool("bash_execute",
		"Execute a bash/shell command and return the output.",
		func(ctx context.Context, env Environment, in bashInput) (bashOutput, error) {
			cwd := in.Cwd
			if cwd == "" {
				cwd = env.WorkingDirectory()
			}
			name, args := shellCommand(in.Command)
			res, err := env.Run(ctx, CommandSpec{
				Name:        name,
				Args:        args,
				Dir:         cwd,
				MergeOutput: true,
				Timeout:     timeout,
			})
			if err != nil {
				return bashOutput{}, executionError(map[string]interface{}{
					"command":  in.Command,
					"cwd":      cwd,
					"exitCode": 1,
				}, "%v", err)
			}
			return bashOutput{
				Command:  in.Command,
				Cwd:      cwd,
				Output:   stripansi.Strip(strings.TrimSpace(res.Stdout)),
				ExitCode: res.ExitCode,
				TimedOut: res.TimedOut,
			}, nil
		})
}
