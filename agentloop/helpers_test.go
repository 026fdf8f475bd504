package agentloop

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sragss/echogent/unifiedllm"
)

// invokeTool runs tool once through a throwaway registry.
func invokeTool(t *testing.T, tool RegisteredTool, env Environment, args string) ToolOutcome {
	t.Helper()
	reg := NewToolRegistry()
	if err := reg.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg.Invoke(context.Background(), env, unifiedllm.ToolCall{
		ID:        "call_test",
		Name:      tool.Definition.Name,
		Arguments: json.RawMessage(args),
	})
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// fakeRunEnv is a LocalEnvironment whose subprocesses are scripted.
type fakeRunEnv struct {
	*LocalEnvironment
	result *ExecResult
	err    error
	got    CommandSpec
}

func (f *fakeRunEnv) Run(_ context.Context, spec CommandSpec) (*ExecResult, error) {
	f.got = spec
	return f.result, f.err
}
