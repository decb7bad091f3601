/*
Package vcs drives the git binary for the working-tree, tagging and pushing
operations cargo-uv needs. It is a thin collaborator: no source-control logic
lives here beyond argument construction and output parsing.
*/
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Git runs git commands addressed at one repository root.
type Git struct {
	root   string
	stdout io.Writer
}

// New constructs a Git collaborator. Command stdout is copied to the given
// writer so callers can suppress it; stderr is always captured for errors.
func New(root string, stdout io.Writer) *Git {
	if stdout == nil {
		stdout = io.Discard
	}
	return &Git{root: root, stdout: stdout}
}

// FindRoot locates the repository root for the given directory using
// 'git rev-parse --show-toplevel'.
func FindRoot(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--show-toplevel")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("not inside a git repository: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *Git) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.root}, args...)...)
	var stderr bytes.Buffer
	cmd.Stdout = g.stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %s failed: %v: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (g *Git) output(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.root}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s failed: %v: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// DirtyFiles lists paths with uncommitted changes, empty for a clean tree.
func (g *Git) DirtyFiles(ctx context.Context) ([]string, error) {
	out, err := g.output(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parsePorcelain(out), nil
}

// AddManifests stages the given manifest files.
func (g *Git) AddManifests(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return g.run(ctx, append([]string{"add", "--"}, paths...)...)
}

// Commit records the staged changes.
func (g *Git) Commit(ctx context.Context, message string) error {
	return g.run(ctx, "commit", "-m", message)
}

// Tag creates a tag on HEAD.
func (g *Git) Tag(ctx context.Context, tag string, force bool) error {
	args := []string{"tag"}
	if force {
		args = append(args, "--force")
	}
	return g.run(ctx, append(args, tag)...)
}

// Remotes lists the configured remote names.
func (g *Git) Remotes(ctx context.Context) ([]string, error) {
	out, err := g.output(ctx, "remote")
	if err != nil {
		return nil, err
	}
	var remotes []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			remotes = append(remotes, line)
		}
	}
	return remotes, nil
}

// RemoteURL returns the fetch URL of one remote.
func (g *Git) RemoteURL(ctx context.Context, remote string) (string, error) {
	out, err := g.output(ctx, "remote", "get-url", remote)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Push pushes a ref (e.g. tags/v1.2.3) to one remote.
func (g *Git) Push(ctx context.Context, remote, ref string, force bool) error {
	args := []string{"push"}
	if force {
		args = append(args, "--force")
	}
	return g.run(ctx, append(args, remote, ref)...)
}

// parsePorcelain extracts paths from 'git status --porcelain' output. Renames
// are reported as 'old -> new'; the new path is kept.
func parsePorcelain(out string) []string {
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}
		if path != "" {
			files = append(files, path)
		}
	}
	return files
}
