package agentloop

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestCollectPathHierarchy(t *testing.T) {
	root := filepath.FromSlash("/repo")
	got := collectPathHierarchy(root, filepath.Join(root, "a", "b"))
	want := []string{root, filepath.Join(root, "a"), filepath.Join(root, "a", "b")}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got := collectPathHierarchy(root, root); len(got) != 1 {
		t.Errorf("expected single dir, got %v", got)
	}
}

func TestDiscoverProjectDocs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "AGENTS.md", "agents rules")
	writeFile(t, dir, "CLAUDE.md", "claude rules")
	writeFile(t, dir, "GEMINI.md", "gemini rules")
	env := NewLocalEnvironment(dir)

	docs := DiscoverProjectDocs(context.Background(), env, "echo")
	if !strings.Contains(docs, "agents rules") || !strings.Contains(docs, "claude rules") {
		t.Errorf("expected AGENTS.md and CLAUDE.md, got %q", docs)
	}
	if strings.Contains(docs, "gemini rules") {
		t.Errorf("did not expect GEMINI.md for echo, got %q", docs)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	env := NewLocalEnvironment(t.TempDir())
	prompt := BuildSystemPrompt(context.Background(), env, "claude-sonnet-4-20250514", "echo")
	if !strings.HasPrefix(prompt, BasePrompt) {
		t.Errorf("expected base prompt first, got %q", prompt)
	}
	for _, want := range []string{"<environment>", "Working directory: " + env.WorkingDirectory(), "Model: claude-sonnet-4-20250514"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("expected prompt to contain %q", want)
		}
	}
}
