/*
Package cargouv wires the manifest graph, package selection and version
computation into the release sequence the CLI runs.

The sequence is strictly ordered: load -> select -> compute -> validate ->
write -> git/cargo collaborators -> report. Collaborators are narrow
interfaces so the sequence can be exercised with fakes.
*/
package cargouv

import (
	"errors"
	"fmt"
)

var (
	// ErrAmbiguousSelection signals contradictory package-selection flags.
	ErrAmbiguousSelection = errors.New("ambiguous package selection")
	// ErrPackageNotFound signals an explicit selection with no matching package.
	ErrPackageNotFound = errors.New("package not found in workspace")
	// ErrEmptyWorkspace signals a selection that matched no packages.
	ErrEmptyWorkspace = errors.New("selection matched no packages")
	// ErrDirtyWorkingTree signals uncommitted changes before any write.
	ErrDirtyWorkingTree = errors.New("working tree has uncommitted changes")
	// ErrWriteFailed signals a failed manifest write, possibly after earlier
	// targets were already written.
	ErrWriteFailed = errors.New("manifest write failed")
	// ErrAlreadyPublished signals a registry pre-flight hit.
	ErrAlreadyPublished = errors.New("version already published")
)

// Suppress controls which collaborators' stdout is silenced.
type Suppress string

const (
	SuppressNone  Suppress = "none"
	SuppressGit   Suppress = "git"
	SuppressCargo Suppress = "cargo"
	SuppressAll   Suppress = "all"
)

// ParseSuppress validates a raw --suppress argument.
func ParseSuppress(s string) (Suppress, error) {
	switch Suppress(s) {
	case SuppressNone, SuppressGit, SuppressCargo, SuppressAll:
		return Suppress(s), nil
	case "":
		return SuppressNone, nil
	}
	return "", fmt.Errorf("unknown suppress value %q (expected none, git, cargo or all)", s)
}

// IncludesGit reports whether git output is silenced.
func (s Suppress) IncludesGit() bool {
	return s == SuppressGit || s == SuppressAll
}

// IncludesCargo reports whether cargo output is silenced.
func (s Suppress) IncludesCargo() bool {
	return s == SuppressCargo || s == SuppressAll
}

// SelectionCriteria captures the user's package-selection intent.
type SelectionCriteria struct {
	// Packages holds explicit -p selections.
	Packages []string
	// Excluded holds -x exclusions, applied to superset selections only.
	Excluded []string
	// Workspace selects every workspace member.
	Workspace bool
	// WorkspacePackage selects only the workspace.package.version field.
	WorkspacePackage bool
	// DefaultMembers selects only the workspace default-members.
	DefaultMembers bool
}

// Validate rejects incoherent flag combinations before any I/O happens.
func (c SelectionCriteria) Validate() error {
	modes := 0
	if len(c.Packages) > 0 {
		modes++
	}
	if c.Workspace {
		modes++
	}
	if c.WorkspacePackage {
		modes++
	}
	if c.DefaultMembers {
		modes++
	}
	if modes > 1 {
		return fmt.Errorf("%w: --package, --workspace, --workspace-package and --default-members are mutually exclusive", ErrAmbiguousSelection)
	}
	if len(c.Excluded) > 0 {
		if len(c.Packages) > 0 {
			return fmt.Errorf("%w: --exclude contradicts --package; name only the packages you want", ErrAmbiguousSelection)
		}
		if c.WorkspacePackage {
			return fmt.Errorf("%w: --exclude has no effect with --workspace-package", ErrAmbiguousSelection)
		}
	}
	return nil
}
