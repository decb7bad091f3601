/*
Package cargotool drives the cargo binary for publishing and lockfile
regeneration. Version editing itself never goes through cargo; this package
only wraps the two subcommands cargo-uv forwards to.
*/
package cargotool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Cargo runs cargo commands against one manifest.
type Cargo struct {
	manifestPath string
	stdout       io.Writer
}

// New constructs a Cargo collaborator. Command stdout is copied to the given
// writer so callers can suppress it.
func New(manifestPath string, stdout io.Writer) *Cargo {
	if stdout == nil {
		stdout = io.Discard
	}
	return &Cargo{manifestPath: manifestPath, stdout: stdout}
}

func (c *Cargo) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "cargo", args...)
	var stderr bytes.Buffer
	cmd.Stdout = c.stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("cargo %s failed: %v: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// GenerateLockfile refreshes Cargo.lock after a manifest version change.
func (c *Cargo) GenerateLockfile(ctx context.Context) error {
	return c.run(ctx, c.lockfileArgs())
}

// Publish runs cargo publish. The version edit is uncommitted while publish
// runs, so --allow-dirty is always forwarded.
func (c *Cargo) Publish(ctx context.Context, dryRun, noVerify bool) error {
	return c.run(ctx, c.publishArgs(dryRun, noVerify))
}

func (c *Cargo) lockfileArgs() []string {
	args := []string{"generate-lockfile"}
	if c.manifestPath != "" {
		args = append(args, "--manifest-path", c.manifestPath)
	}
	return args
}

func (c *Cargo) publishArgs(dryRun, noVerify bool) []string {
	args := []string{"publish"}
	if dryRun {
		args = append(args, "--dry-run")
	}
	if noVerify {
		args = append(args, "--no-verify")
	}
	if c.manifestPath != "" {
		args = append(args, "--manifest-path", c.manifestPath)
	}
	args = append(args, "--allow-dirty")
	return args
}
