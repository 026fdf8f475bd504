package agentloop

import (
	"errors"
	"reflect"
	"testing"
)

func TestRipgrepArgs(t *testing.T) {
	got := ripgrepArgs(ripgrepInput{
		Pattern: "-foo", Path: "src", FileType: "go",
		IgnoreCase: true, ContextLines: 2, MaxCount: 5,
	})
	want := []string{"-i", "-C", "2", "-m", "5", "-t", "go", "-e", "-foo", "--", "src"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	got = ripgrepArgs(ripgrepInput{Pattern: "x", Path: "."})
	if !reflect.DeepEqual(got, []string{"-e", "x", "--", "."}) {
		t.Errorf("expected bare args, got %v", got)
	}
}

func TestRipgrepExitCodes(t *testing.T) {
	tests := []struct {
		name      string
		result    *ExecResult
		wantError string
		wantCount int
	}{
		{"matches", &ExecResult{ExitCode: 0, Stdout: "a.go:1:foo\nb.go:7:foo\n"}, "", 2},
		{"no matches", &ExecResult{ExitCode: 1}, "", 0},
		{"bad regex", &ExecResult{ExitCode: 2, Stderr: "regex parse error\n"}, "regex parse error", 0},
		{"silent failure", &ExecResult{ExitCode: 2}, "Ripgrep command failed", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &fakeRunEnv{LocalEnvironment: NewLocalEnvironment(t.TempDir()), result: tt.result}
			out := invokeTool(t, RipgrepTool(), env, `{"pattern":"foo"}`)
			if tt.wantError != "" {
				if !out.IsError() {
					t.Fatalf("expected error, got %+v", out.Output)
				}
				payload := out.Payload().(map[string]interface{})
				if payload["error"] != tt.wantError || payload["pattern"] != "foo" || payload["path"] != "." {
					t.Errorf("unexpected payload %v", payload)
				}
				return
			}
			if out.IsError() {
				t.Fatalf("unexpected error %v", out.Err)
			}
			got := out.Output.(ripgrepOutput)
			if got.MatchCount != tt.wantCount {
				t.Errorf("expected %d matches, got %d", tt.wantCount, got.MatchCount)
			}
			if env.got.Name != "rg" {
				t.Errorf("expected rg to run, got %q", env.got.Name)
			}
		})
	}
}

func TestRipgrepSpawnFailure(t *testing.T) {
	env := &fakeRunEnv{LocalEnvironment: NewLocalEnvironment(t.TempDir()), err: errors.New("executable file not found")}
	out := invokeTool(t, RipgrepTool(), env, `{"pattern":"foo"}`)
	if !out.IsError() || out.Err.Message != "Failed to run ripgrep: executable file not found" {
		t.Errorf("unexpected outcome %+v", out.Err)
	}
}

func TestRipgrepCoercesStringNumbers(t *testing.T) {
	env := &fakeRunEnv{LocalEnvironment: NewLocalEnvironment(t.TempDir()), result: &ExecResult{ExitCode: 1}}
	out := invokeTool(t, RipgrepTool(), env, `{"pattern":"foo","contextLines":"3","ignoreCase":"true"}`)
	if out.IsError() {
		t.Fatalf("unexpected error %v", out.Err)
	}
	want := []string{"-i", "-C", "3", "-e", "foo", "--", "."}
	if !reflect.DeepEqual(env.got.Args, want) {
		t.Errorf("expected %v, got %v", want, env.got.Args)
	}
}
