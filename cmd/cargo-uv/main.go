/*
Cargo-uv bumps, inspects and releases the version fields of Cargo manifests.

Usage:

	cargo-uv [patch|minor|major|pre|set|print|tree] [VERSION] [flags]
*/
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "cargo-uv:", err)
		os.Exit(1)
	}
}
