/*
Package versioneer implements the version computation for cargo-uv.

Given a current semantic version and an action it produces the next version,
enforcing semver precedence rules (reset-on-bump, pre-release ordering) and
the version-increasing policy.
*/
package versioneer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrVersionNotIncreasing signals that a computed version is not strictly
	// greater than the current one under semver precedence.
	ErrVersionNotIncreasing = errors.New("version is not increasing")
	// ErrNoPrerelease signals a 'pre' bump on a version without a pre-release segment.
	ErrNoPrerelease = errors.New("version has no pre-release segment")
)

// Action represents one version operation per invocation.
type Action string

// Supported actions. Patch is the default when none is given.
const (
	Patch Action = "patch"
	Minor Action = "minor"
	Major Action = "major"
	Pre   Action = "pre"
	Set   Action = "set"
	Print Action = "print"
	Tree  Action = "tree"
)

// ParseAction validates a raw action argument.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case Patch, Minor, Major, Pre, Set, Print, Tree:
		return Action(s), nil
	}
	return "", fmt.Errorf("unknown action %q (expected patch, minor, major, pre, set, print or tree)", s)
}

// IsBump reports whether the action computes a version from the current one.
func (a Action) IsBump() bool {
	switch a {
	case Patch, Minor, Major, Pre:
		return true
	}
	return false
}

// MutatesManifest reports whether the action writes a version back.
func (a Action) MutatesManifest() bool {
	return a.IsBump() || a == Set
}

// Compute applies a bump action to current and returns the next version.
// A supplied pre-release or build segment replaces the computed one; it never
// appends. The pre action manages the pre-release itself and rejects a pre
// overlay. Unless force is set the result must be strictly greater than
// current, build metadata excluded from the comparison.
func Compute(current *semver.Version, action Action, pre, build string, force bool) (*semver.Version, error) {
	if current == nil {
		return nil, errors.New("no current version to bump")
	}

	var next *semver.Version
	switch action {
	case Patch:
		next = semver.New(current.Major(), current.Minor(), current.Patch()+1, "", "")
	case Minor:
		next = semver.New(current.Major(), current.Minor()+1, 0, "", "")
	case Major:
		next = semver.New(current.Major()+1, 0, 0, "", "")
	case Pre:
		if pre != "" {
			return nil, fmt.Errorf("the pre action bumps the existing pre-release segment and cannot be combined with --pre %q", pre)
		}
		bumped, err := bumpPrerelease(current)
		if err != nil {
			return nil, err
		}
		next = bumped
	default:
		return nil, fmt.Errorf("action %q does not compute a version", action)
	}

	next, err := overlay(next, pre, build)
	if err != nil {
		return nil, err
	}

	if !force {
		if err := ensureIncreasing(current, next); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// SetTo returns target with pre/build overlaid, validated against current
// unless force is set.
func SetTo(current, target *semver.Version, pre, build string, force bool) (*semver.Version, error) {
	if target == nil {
		return nil, errors.New("no target version to set")
	}
	next, err := overlay(target, pre, build)
	if err != nil {
		return nil, err
	}
	if !force && current != nil {
		if err := ensureIncreasing(current, next); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// bumpPrerelease increments the numeric tail of an existing pre-release
// segment, e.g. rc.1 -> rc.2. Build metadata is carried over untouched.
func bumpPrerelease(current *semver.Version) (*semver.Version, error) {
	pre := current.Prerelease()
	if pre == "" {
		return nil, fmt.Errorf("%w: %s (set one with --pre or the set action)", ErrNoPrerelease, current)
	}
	idx := strings.LastIndex(pre, ".")
	if idx < 0 {
		return nil, fmt.Errorf("pre-release %q is not of the form <identifier>.<number>", pre)
	}
	n, err := strconv.ParseUint(pre[idx+1:], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("pre-release %q does not end in a number: %w", pre, err)
	}
	next, err := current.SetPrerelease(fmt.Sprintf("%s.%d", pre[:idx], n+1))
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// overlay replaces the pre-release and build segments when supplied.
func overlay(v *semver.Version, pre, build string) (*semver.Version, error) {
	if pre != "" {
		nv, err := v.SetPrerelease(pre)
		if err != nil {
			return nil, fmt.Errorf("invalid pre-release %q: %w", pre, err)
		}
		v = &nv
	}
	if build != "" {
		nv, err := v.SetMetadata(build)
		if err != nil {
			return nil, fmt.Errorf("invalid build metadata %q: %w", build, err)
		}
		v = &nv
	}
	return v, nil
}

func ensureIncreasing(current, next *semver.Version) error {
	if next.GreaterThan(current) {
		return nil
	}
	return fmt.Errorf("%w: current %s, candidate %s (use --force-version to override)", ErrVersionNotIncreasing, current, next)
}
