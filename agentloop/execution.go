package agentloop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// CommandSpec describes one subprocess invocation.
type CommandSpec struct {
	Name string
	Args []string
	// Dir is resolved against the working directory; empty means the
	// working directory itself.
	Dir string
	// MergeOutput interleaves stderr into Stdout in arrival order.
	MergeOutput bool
	// Timeout of zero means no limit.
	Timeout time.Duration
	Env     map[string]string
}

// Environment abstracts where tool operations run. Relative paths are
// resolved against WorkingDirectory.
type Environment interface {
	// File operations.
	ResolvePath(path string) string
	Stat(path string) (fs.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	ReadDir(path string) ([]fs.DirEntry, error)

	// Run executes a command. A non-zero exit is reported in ExecResult; an
	// error means the process could not be started or ctx was cancelled.
	Run(ctx context.Context, spec CommandSpec) (*ExecResult, error)

	// Metadata.
	WorkingDirectory() string
	Platform() string
	OSVersion() string
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that should be excluded by default.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always included regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"NVM_DIR": true, "RUSTUP_HOME": true, "PYENV_ROOT": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// filterEnvironment returns the process environment minus credentials, so
// commands the model runs never see the user's API keys.
func filterEnvironment(environ []string) []string {
	var filtered []string
	for _, env := range environ {
		name, _, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// LocalEnvironment runs tools on the local machine.
type LocalEnvironment struct {
	workingDir string
	platform   string
	osVersion  string
}

// NewLocalEnvironment creates a local environment rooted at workingDir, or
// at the process working directory when workingDir is empty.
func NewLocalEnvironment(workingDir string) *LocalEnvironment {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	return &LocalEnvironment{
		workingDir: workingDir,
		platform:   runtime.GOOS,
		osVersion:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (e *LocalEnvironment) WorkingDirectory() string {
	return e.workingDir
}

func (e *LocalEnvironment) Platform() string {
	return e.platform
}

func (e *LocalEnvironment) OSVersion() string {
	return e.osVersion
}

func (e *LocalEnvironment) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workingDir, path)
}

func (e *LocalEnvironment) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(e.ResolvePath(path))
}

func (e *LocalEnvironment) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(e.ResolvePath(path))
}

func (e *LocalEnvironment) WriteFile(path string, data []byte) error {
	resolved := e.ResolvePath(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return os.WriteFile(resolved, data, 0644)
}

func (e *LocalEnvironment) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(e.ResolvePath(path))
}

func (e *LocalEnvironment) Run(ctx context.Context, spec CommandSpec) (*ExecResult, error) {
	dir := e.workingDir
	if spec.Dir != "" {
		dir = e.ResolvePath(spec.Dir)
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, spec.Name, spec.Args...)
	cmd.Dir = dir
	configureProcess(cmd)

	env := filterEnvironment(os.Environ())
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if spec.MergeOutput {
		cmd.Stderr = &stdout
	} else {
		cmd.Stderr = &stderr
	}

	start := time.Now()
	err := cmd.Run()

	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		return result, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.ExitCode = -1
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("exec %s: %w", spec.Name, err)
	}
	return result, nil
}
