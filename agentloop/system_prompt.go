package agentloop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxProjectDocBytes = 32 * 1024 // 32KB

// BasePrompt is the fixed persona the assistant runs under. Its output goes
// straight to a terminal, so it is told to avoid markdown.
const BasePrompt = "You are a coding assistant with access to tools that lives in the user's CLI. " +
	"Perform their actions as succinctly as possible. " +
	"Never use markdown output, your responses will be printed to a CLI."

// BuildSystemPrompt assembles the base prompt, the environment block, git
// context and any project instruction files.
func BuildSystemPrompt(ctx context.Context, env Environment, model, provider string) string {
	sections := []string{BasePrompt, BuildEnvironmentContext(ctx, env, model)}
	if git := GetGitContext(ctx, env); git != "" {
		sections = append(sections, git)
	}
	if docs := DiscoverProjectDocs(ctx, env, provider); docs != "" {
		sections = append(sections, docs)
	}
	return strings.Join(sections, "\n\n")
}

// BuildEnvironmentContext generates the structured environment context block.
func BuildEnvironmentContext(ctx context.Context, env Environment, model string) string {
	workingDir := env.WorkingDirectory()
	root := gitRoot(ctx, env)

	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", workingDir)
	fmt.Fprintf(&sb, "Is git repository: %v\n", root != "")
	if root != "" {
		if branch := runGit(ctx, env, "rev-parse", "--abbrev-ref", "HEAD"); branch != "" {
			fmt.Fprintf(&sb, "Git branch: %s\n", branch)
		}
	}
	fmt.Fprintf(&sb, "Platform: %s\n", env.Platform())
	fmt.Fprintf(&sb, "OS version: %s\n", env.OSVersion())
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// instructionFiles lists the project instruction files read for a provider.
// AGENTS.md is always read.
func instructionFiles(provider string) []string {
	files := []string{"AGENTS.md"}
	switch provider {
	case "anthropic", "echo", "":
		files = append(files, "CLAUDE.md")
	case "gemini", "google":
		files = append(files, "GEMINI.md")
	case "openai":
		files = append(files, ".codex/instructions.md")
	}
	return files
}

// DiscoverProjectDocs loads project instruction files found between the git
// root (or the working directory) and the working directory, capped at 32KB.
func DiscoverProjectDocs(ctx context.Context, env Environment, provider string) string {
	workingDir := env.WorkingDirectory()
	root := gitRoot(ctx, env)
	if root == "" {
		root = workingDir
	}

	var docs []string
	totalBytes := 0
	for _, dir := range collectPathHierarchy(root, workingDir) {
		for _, fileName := range instructionFiles(provider) {
			content, err := os.ReadFile(filepath.Join(dir, fileName))
			if err != nil {
				continue
			}

			remaining := maxProjectDocBytes - totalBytes
			if remaining <= 0 {
				docs = append(docs, "[Project instructions truncated at 32KB]")
				return strings.Join(docs, "\n\n---\n\n")
			}

			text := string(content)
			if len(text) > remaining {
				text = text[:headEnd(text, remaining)] + "\n[Project instructions truncated at 32KB]"
			}

			docs = append(docs, fmt.Sprintf("# %s (from %s)\n\n%s", fileName, dir, text))
			totalBytes += len(text)
		}
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// GetGitContext summarizes the repository state, or returns "" outside git.
func GetGitContext(ctx context.Context, env Environment) string {
	if gitRoot(ctx, env) == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<git_context>\n")
	if status := runGit(ctx, env, "status", "--short"); status != "" {
		fmt.Fprintf(&sb, "Modified/untracked files: %d\n", len(strings.Split(status, "\n")))
	}
	if log := runGit(ctx, env, "log", "--oneline", "-10"); log != "" {
		sb.WriteString("Recent commits:\n")
		sb.WriteString(log)
		sb.WriteString("\n")
	}
	sb.WriteString("</git_context>")
	return sb.String()
}

// collectPathHierarchy returns directories from root to target, inclusive.
func collectPathHierarchy(root, target string) []string {
	root = filepath.Clean(root)
	target = filepath.Clean(target)

	dirs := []string{root}
	if root == target {
		return dirs
	}

	rel, err := filepath.Rel(root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return dirs
	}
	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "." {
			continue
		}
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}

func gitRoot(ctx context.Context, env Environment) string {
	return runGit(ctx, env, "rev-parse", "--show-toplevel")
}

// runGit returns trimmed stdout of a successful git command, or "".
func runGit(ctx context.Context, env Environment, args ...string) string {
	res, err := env.Run(ctx, CommandSpec{Name: "git", Args: args, Timeout: 5 * time.Second})
	if err != nil || res.ExitCode != 0 {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}
