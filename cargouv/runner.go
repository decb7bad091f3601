package cargouv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/dephub/cargo-uv/providers/api/crates"
	"github.com/dephub/cargo-uv/providers/cargotool"
	"github.com/dephub/cargo-uv/providers/fetchers"
	"github.com/dephub/cargo-uv/providers/manifest"
	"github.com/dephub/cargo-uv/providers/vcs"
	"github.com/dephub/cargo-uv/providers/versioneer"
)

// Stage identifies how far through the release sequence a run got.
type Stage int

const (
	StageInit Stage = iota
	StageLoaded
	StageSelected
	StageComputed
	StageValidated
	StageWritten
	StageTagRequested
	StageDone
	StageAborted
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageLoaded:
		return "loaded"
	case StageSelected:
		return "selected"
	case StageComputed:
		return "computed"
	case StageValidated:
		return "validated"
	case StageWritten:
		return "written"
	case StageTagRequested:
		return "tag-requested"
	case StageDone:
		return "done"
	case StageAborted:
		return "aborted"
	}
	return "unknown"
}

// phase names the transition attempted from a stage, for error context.
func (s Stage) phase() string {
	switch s {
	case StageInit:
		return "loading manifests"
	case StageLoaded:
		return "selecting packages"
	case StageSelected:
		return "computing versions"
	case StageComputed:
		return "validating"
	case StageValidated:
		return "writing manifests"
	}
	return s.String()
}

// GitClient is the narrow source-control surface the runner drives.
type GitClient interface {
	DirtyFiles(ctx context.Context) ([]string, error)
	AddManifests(ctx context.Context, paths []string) error
	Commit(ctx context.Context, message string) error
	Tag(ctx context.Context, tag string, force bool) error
	Remotes(ctx context.Context) ([]string, error)
	Push(ctx context.Context, remote, ref string, force bool) error
}

// CargoClient is the narrow build-tool surface the runner drives.
type CargoClient interface {
	GenerateLockfile(ctx context.Context) error
	Publish(ctx context.Context, dryRun, noVerify bool) error
}

// ReleaseClient publishes a release for a pushed tag.
type ReleaseClient interface {
	CreateRelease(ctx context.Context, tag, name, body string, prerelease bool) error
}

// Options is the full configuration of one invocation.
type Options struct {
	Action       versioneer.Action
	SetVersion   string // raw version argument, used by the set action
	Pre          string
	Build        string
	ForceVersion bool

	AllowDirty bool
	DryRun     bool

	ManifestPath string

	GitTag   bool
	GitPush  bool
	Message  string
	ForceGit bool

	CargoPublish  bool
	NoVerify      bool
	CheckRegistry bool
	GitHubRelease bool

	Criteria SelectionCriteria
}

// Deps holds the runner's collaborators. Registry and Release may be nil
// when their features are off, the rest get defaults in NewRunner.
type Deps struct {
	Store    fetchers.FileStore
	Git      GitClient
	Cargo    CargoClient
	Registry crates.Client
	Release  ReleaseClient
	Log      *slog.Logger
	Out      io.Writer
}

// Change is one applied (or, under dry-run, planned) version update.
type Change struct {
	Package string
	Old     *semver.Version
	New     *semver.Version
}

// Runner executes one versioning invocation from load to report.
type Runner struct {
	opts  Options
	deps  Deps
	stage Stage

	changes []Change
}

// NewRunner prepares a runner, filling in collaborator defaults.
func NewRunner(opts Options, deps Deps) *Runner {
	manifestPath := opts.ManifestPath
	if manifestPath == "" {
		manifestPath = "Cargo.toml"
	}
	if deps.Store == nil {
		deps.Store = fetchers.OSStore{}
	}
	if deps.Git == nil {
		deps.Git = vcs.New(filepath.Dir(manifestPath), os.Stdout)
	}
	if deps.Cargo == nil {
		deps.Cargo = cargotool.New(manifestPath, os.Stdout)
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	return &Runner{opts: opts, deps: deps}
}

// Stage reports the last stage the runner reached.
func (r *Runner) Stage() Stage { return r.stage }

// Changes reports the version updates the last run applied or planned.
func (r *Runner) Changes() []Change { return r.changes }

func (r *Runner) manifestPath() string {
	if r.opts.ManifestPath != "" {
		return r.opts.ManifestPath
	}
	return "Cargo.toml"
}

// Run drives the whole sequence. On failure before any manifest write the
// tree is untouched; after a partial write the error names the files already
// written.
func (r *Runner) Run(ctx context.Context) error {
	r.stage = StageInit
	r.changes = nil

	if err := r.opts.Criteria.Validate(); err != nil {
		r.stage = StageAborted
		return err
	}
	action := r.opts.Action
	if action == "" {
		action = versioneer.Patch
	}

	graph, err := manifest.Load(ctx, r.deps.Store, r.manifestPath())
	if err != nil {
		return r.abort(err)
	}
	r.stage = StageLoaded

	targets, err := Select(graph, r.opts.Criteria, r.deps.Log)
	if err != nil {
		return r.abort(err)
	}
	r.stage = StageSelected

	switch action {
	case versioneer.Print:
		r.printVersions(targets)
		r.stage = StageDone
		return nil
	case versioneer.Tree:
		r.printTree(graph)
		r.stage = StageDone
		return nil
	}

	changes, err := r.compute(action, targets)
	if err != nil {
		return r.abort(err)
	}
	r.stage = StageComputed

	if err := r.validate(ctx, targets, changes); err != nil {
		return r.abort(err)
	}
	r.stage = StageValidated

	if err := r.write(ctx, targets, changes); err != nil {
		return r.abort(err)
	}
	r.stage = StageWritten
	r.changes = changes

	if r.opts.GitTag || r.opts.CargoPublish {
		// Cargo.lock records the crates' own versions, refresh it before
		// staging anything.
		if r.opts.DryRun {
			r.deps.Log.Info("dry-run: would regenerate lockfile")
		} else if err := r.deps.Cargo.GenerateLockfile(ctx); err != nil {
			r.deps.Log.Warn("lockfile regeneration failed", "err", err)
		}
	}

	tag := "v" + tagVersionFor(graph, targets).String()
	if r.opts.GitTag {
		r.stage = StageTagRequested
		if err := r.gitTagAndPush(ctx, targets, tag); err != nil {
			return fmt.Errorf("git: %w", err)
		}
	}
	if r.opts.CargoPublish {
		if err := r.deps.Cargo.Publish(ctx, r.opts.DryRun, r.opts.NoVerify); err != nil {
			return fmt.Errorf("cargo publish: %w", err)
		}
	}
	if r.opts.GitHubRelease && r.deps.Release != nil {
		if r.opts.DryRun {
			r.deps.Log.Info("dry-run: would create GitHub release", "tag", tag)
		} else {
			pre := tagVersionFor(graph, targets).Prerelease() != ""
			if err := r.deps.Release.CreateRelease(ctx, tag, tag, r.commitMessage(tag), pre); err != nil {
				return fmt.Errorf("github release: %w", err)
			}
		}
	}

	r.report(changes)
	r.stage = StageDone
	return nil
}

func (r *Runner) abort(err error) error {
	failed := r.stage
	r.stage = StageAborted
	return fmt.Errorf("%s: %w", failed.phase(), err)
}

func (r *Runner) compute(action versioneer.Action, targets []*manifest.Target) ([]Change, error) {
	var setTo *semver.Version
	if action == versioneer.Set {
		if r.opts.SetVersion == "" {
			return nil, fmt.Errorf("the set action requires a version argument")
		}
		var err error
		setTo, err = semver.NewVersion(r.opts.SetVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: %w", r.opts.SetVersion, err)
		}
	}
	changes := make([]Change, 0, len(targets))
	for _, t := range targets {
		var next *semver.Version
		var err error
		if action == versioneer.Set {
			next, err = versioneer.SetTo(t.Current, setTo, r.opts.Pre, r.opts.Build, r.opts.ForceVersion)
		} else {
			next, err = versioneer.Compute(t.Current, action, r.opts.Pre, r.opts.Build, r.opts.ForceVersion)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.PackageName, err)
		}
		changes = append(changes, Change{Package: t.PackageName, Old: t.Current, New: next})
	}
	return changes, nil
}

func (r *Runner) validate(ctx context.Context, targets []*manifest.Target, changes []Change) error {
	if !r.opts.AllowDirty {
		dirty, err := r.deps.Git.DirtyFiles(ctx)
		if err != nil {
			return err
		}
		if len(dirty) > 0 {
			return fmt.Errorf("%w: %s (use --allow-dirty to override)", ErrDirtyWorkingTree, strings.Join(dirty, ", "))
		}
	}
	if (r.opts.CheckRegistry || r.opts.CargoPublish) && r.deps.Registry != nil {
		for i, t := range targets {
			if t.Location != manifest.PackageVersion {
				continue
			}
			vl, _, err := r.deps.Registry.Versions(ctx, t.PackageName)
			if err != nil {
				return fmt.Errorf("registry check for %s: %w", t.PackageName, err)
			}
			if vl.Contains(changes[i].New.String()) && !r.opts.ForceVersion {
				return fmt.Errorf("%w: %s %s is already on the registry", ErrAlreadyPublished, t.PackageName, changes[i].New)
			}
		}
	}
	return nil
}

func (r *Runner) write(ctx context.Context, targets []*manifest.Target, changes []Change) error {
	var written []string
	for i, t := range targets {
		if err := t.SetVersion(changes[i].New); err != nil {
			return err
		}
		if r.opts.DryRun {
			r.deps.Log.Info("dry-run: skipping manifest write", "path", t.Path, "version", changes[i].New)
			continue
		}
		if err := t.Write(ctx, r.deps.Store); err != nil {
			if len(written) > 0 {
				return fmt.Errorf("%w: %s (already written: %s): %v", ErrWriteFailed, t.Path, strings.Join(written, ", "), err)
			}
			return fmt.Errorf("%w: %s: %v", ErrWriteFailed, t.Path, err)
		}
		written = append(written, t.Path)
	}
	return nil
}

func (r *Runner) commitMessage(tag string) string {
	if r.opts.Message != "" {
		return r.opts.Message
	}
	return tag
}

func (r *Runner) gitTagAndPush(ctx context.Context, targets []*manifest.Target, tag string) error {
	msg := r.commitMessage(tag)
	if r.opts.DryRun {
		r.deps.Log.Info("dry-run: would commit and tag", "tag", tag, "message", msg)
		if r.opts.GitPush {
			r.deps.Log.Info("dry-run: would push the tag to every remote", "tag", tag)
		}
		return nil
	}

	paths := make([]string, 0, len(targets)+1)
	for _, t := range targets {
		paths = append(paths, t.Path)
	}
	lock := filepath.Join(filepath.Dir(r.manifestPath()), "Cargo.lock")
	if _, err := r.deps.Store.FileContent(ctx, lock); err == nil {
		paths = append(paths, lock)
	}

	if err := r.deps.Git.AddManifests(ctx, paths); err != nil {
		return err
	}
	if err := r.deps.Git.Commit(ctx, msg); err != nil {
		return err
	}
	if err := r.deps.Git.Tag(ctx, tag, r.opts.ForceGit); err != nil {
		return err
	}
	if !r.opts.GitPush {
		return nil
	}
	remotes, err := r.deps.Git.Remotes(ctx)
	if err != nil {
		return err
	}
	for _, remote := range remotes {
		if err := r.deps.Git.Push(ctx, remote, "tags/"+tag, r.opts.ForceGit); err != nil {
			return err
		}
	}
	return nil
}

// tagVersionFor picks the version the git tag is named after: the workspace
// field when it was bumped, otherwise the root package, otherwise the first
// target.
func tagVersionFor(g *manifest.Graph, targets []*manifest.Target) *semver.Version {
	for _, t := range targets {
		if t.Location == manifest.WorkspacePackageVersion {
			return t.NewVersion
		}
	}
	if g.Root != nil {
		for _, t := range targets {
			if t.PackageName == g.Root.Name {
				return t.NewVersion
			}
		}
	}
	return targets[0].NewVersion
}

func (r *Runner) printVersions(targets []*manifest.Target) {
	if len(targets) == 1 {
		fmt.Fprintln(r.deps.Out, targets[0].Current)
		return
	}
	for _, t := range targets {
		fmt.Fprintf(r.deps.Out, "%s %s\n", t.PackageName, t.Current)
	}
}

func (r *Runner) printTree(g *manifest.Graph) {
	if g.WorkspaceVersion != nil {
		fmt.Fprintf(r.deps.Out, "workspace %s\n", g.WorkspaceVersion)
	}
	for _, m := range g.Members() {
		var notes []string
		if m.Source == manifest.InheritedVersion {
			notes = append(notes, "workspace")
		}
		if m.Default {
			notes = append(notes, "default")
		}
		suffix := ""
		if len(notes) > 0 {
			suffix = " (" + strings.Join(notes, ", ") + ")"
		}
		ver := "unset"
		if v := g.EffectiveVersion(m); v != nil {
			ver = v.String()
		}
		fmt.Fprintf(r.deps.Out, "  %s %s%s\n", m.Name, ver, suffix)
	}
}

func (r *Runner) report(changes []Change) {
	for _, c := range changes {
		fmt.Fprintf(r.deps.Out, "%s: %s -> %s\n", c.Package, c.Old, c.New)
	}
}
