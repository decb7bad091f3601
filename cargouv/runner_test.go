package cargouv

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dephub/cargo-uv/providers/api/crates"
	"github.com/dephub/cargo-uv/providers/fetchers"
	"github.com/dephub/cargo-uv/providers/versioneer"
)

type fakeGit struct {
	dirty    []string
	dirtyErr error

	added   [][]string
	commits []string
	tags    []string
	remotes []string
	pushes  []string
}

func (g *fakeGit) DirtyFiles(ctx context.Context) ([]string, error) { return g.dirty, g.dirtyErr }
func (g *fakeGit) AddManifests(ctx context.Context, paths []string) error {
	g.added = append(g.added, paths)
	return nil
}
func (g *fakeGit) Commit(ctx context.Context, message string) error {
	g.commits = append(g.commits, message)
	return nil
}
func (g *fakeGit) Tag(ctx context.Context, tag string, force bool) error {
	g.tags = append(g.tags, tag)
	return nil
}
func (g *fakeGit) Remotes(ctx context.Context) ([]string, error) { return g.remotes, nil }
func (g *fakeGit) Push(ctx context.Context, remote, ref string, force bool) error {
	g.pushes = append(g.pushes, remote+" "+ref)
	return nil
}

type fakeCargo struct {
	lockfiles int
	publishes []struct{ dryRun, noVerify bool }
}

func (c *fakeCargo) GenerateLockfile(ctx context.Context) error {
	c.lockfiles++
	return nil
}
func (c *fakeCargo) Publish(ctx context.Context, dryRun, noVerify bool) error {
	c.publishes = append(c.publishes, struct{ dryRun, noVerify bool }{dryRun, noVerify})
	return nil
}

type fakeRegistry struct {
	published map[string][]string
}

func (r *fakeRegistry) Versions(ctx context.Context, name string) (*crates.VersionList, *http.Response, error) {
	vl := &crates.VersionList{}
	for _, num := range r.published[name] {
		vl.Versions = append(vl.Versions, crates.Version{Num: num})
	}
	return vl, nil, nil
}

type fakeReleaser struct {
	tags       []string
	prerelease bool
}

func (r *fakeReleaser) CreateRelease(ctx context.Context, tag, name, body string, prerelease bool) error {
	r.tags = append(r.tags, tag)
	r.prerelease = prerelease
	return nil
}

func newTestRunner(opts Options, files map[string][]byte) (*Runner, fetchers.ByteMapStore, *fakeGit, *fakeCargo, *strings.Builder) {
	store := fetchers.ByteMapStore{Files: files}
	git := &fakeGit{remotes: []string{"origin"}}
	cargo := &fakeCargo{}
	out := &strings.Builder{}
	r := NewRunner(opts, Deps{
		Store: store,
		Git:   git,
		Cargo: cargo,
		Log:   discardLog(),
		Out:   out,
	})
	return r, store, git, cargo, out
}

func TestNewRunnerFillsCollaboratorDefaults(t *testing.T) {
	r := NewRunner(Options{Action: versioneer.Patch}, Deps{})
	assert.NotNil(t, r.deps.Store)
	assert.NotNil(t, r.deps.Git)
	assert.NotNil(t, r.deps.Cargo)
	assert.NotNil(t, r.deps.Log)
	assert.NotNil(t, r.deps.Out)

	// A run that touches neither git nor cargo must work with only a store.
	store := fetchers.ByteMapStore{Files: singlePackageFiles()}
	r = NewRunner(Options{Action: versioneer.Patch, AllowDirty: true}, Deps{
		Store: store,
		Log:   discardLog(),
		Out:   io.Discard,
	})
	assert.NoError(t, r.Run(context.Background()))
	assert.Contains(t, string(store.Files["Cargo.toml"]), `version = "1.2.4"`)
}

func TestRunPatchBumpsOnlyTheVersionLine(t *testing.T) {
	files := map[string][]byte{
		"Cargo.toml": []byte(`[package]
name = "demo"       # comment survives
version = "1.2.3"
edition = "2021"

[dependencies]
serde = "1.0"
`),
	}
	r, store, _, _, out := newTestRunner(Options{Action: versioneer.Patch}, files)

	err := r.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, StageDone, r.Stage())

	got := string(store.Files["Cargo.toml"])
	assert.Contains(t, got, `version = "1.2.4"`)
	assert.Contains(t, got, "# comment survives")
	assert.Contains(t, got, `serde = "1.0"`)
	assert.Contains(t, out.String(), "demo: 1.2.3 -> 1.2.4")
}

func TestRunDirtyTreeAbortsBeforeAnyWrite(t *testing.T) {
	r, store, git, _, _ := newTestRunner(Options{Action: versioneer.Minor}, singlePackageFiles())
	git.dirty = []string{"src/main.rs"}

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrDirtyWorkingTree)
	assert.Contains(t, err.Error(), "src/main.rs")
	assert.Equal(t, StageAborted, r.Stage())
	assert.Contains(t, string(store.Files["Cargo.toml"]), `version = "1.2.3"`)
}

func TestRunAllowDirtySkipsTheCheck(t *testing.T) {
	r, store, git, _, _ := newTestRunner(Options{Action: versioneer.Minor, AllowDirty: true}, singlePackageFiles())
	git.dirty = []string{"src/main.rs"}

	assert.NoError(t, r.Run(context.Background()))
	assert.Contains(t, string(store.Files["Cargo.toml"]), `version = "1.3.0"`)
}

func TestRunDryRunLeavesFilesAlone(t *testing.T) {
	r, store, _, cargo, out := newTestRunner(Options{Action: versioneer.Major, DryRun: true}, singlePackageFiles())

	assert.NoError(t, r.Run(context.Background()))
	assert.Equal(t, StageDone, r.Stage())
	assert.Contains(t, string(store.Files["Cargo.toml"]), `version = "1.2.3"`)
	// The planned change is still computed and reported.
	assert.Contains(t, out.String(), "demo: 1.2.3 -> 2.0.0")
	assert.Zero(t, cargo.lockfiles)
}

func TestRunWorkspaceMinorWithExclusion(t *testing.T) {
	opts := Options{
		Action:   versioneer.Minor,
		Criteria: SelectionCriteria{Workspace: true, Excluded: []string{"b"}},
	}
	r, store, _, _, out := newTestRunner(opts, workspaceFixture())

	assert.NoError(t, r.Run(context.Background()))
	assert.Contains(t, string(store.Files["crates/a/Cargo.toml"]), `version = "0.2.0"`)
	assert.Contains(t, string(store.Files["crates/b/Cargo.toml"]), `version = "0.2.0"`) // untouched original
	assert.Contains(t, string(store.Files["tools/ci/Cargo.toml"]), "version.workspace = true")
	assert.Contains(t, out.String(), "a: 0.1.0 -> 0.2.0")
	assert.NotContains(t, out.String(), "b:")
}

func TestRunSetRejectsDowngrade(t *testing.T) {
	opts := Options{Action: versioneer.Set, SetVersion: "0.9.0"}
	r, store, _, _, _ := newTestRunner(opts, singlePackageFiles())

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, versioneer.ErrVersionNotIncreasing)
	assert.Equal(t, StageAborted, r.Stage())
	assert.Contains(t, string(store.Files["Cargo.toml"]), `version = "1.2.3"`)

	opts.ForceVersion = true
	r, store, _, _, _ = newTestRunner(opts, singlePackageFiles())
	assert.NoError(t, r.Run(context.Background()))
	assert.Contains(t, string(store.Files["Cargo.toml"]), `version = "0.9.0"`)
}

func TestRunPrintWritesNothing(t *testing.T) {
	r, store, git, _, out := newTestRunner(Options{Action: versioneer.Print}, singlePackageFiles())
	git.dirty = []string{"whatever"} // print must not even consult git

	assert.NoError(t, r.Run(context.Background()))
	assert.Equal(t, "1.2.3\n", out.String())
	assert.Contains(t, string(store.Files["Cargo.toml"]), `version = "1.2.3"`)
}

func TestRunTreeListsMembers(t *testing.T) {
	r, _, _, _, out := newTestRunner(Options{Action: versioneer.Tree}, workspaceFixture())

	assert.NoError(t, r.Run(context.Background()))
	assert.Contains(t, out.String(), "workspace 0.5.0")
	assert.Contains(t, out.String(), "a 0.1.0 (default)")
	assert.Contains(t, out.String(), "ci 0.5.0 (workspace)")
}

func TestRunTagCommitAndPush(t *testing.T) {
	files := singlePackageFiles()
	files["Cargo.lock"] = []byte("# lockfile\n")
	opts := Options{Action: versioneer.Patch, GitTag: true, GitPush: true}
	r, _, git, cargo, _ := newTestRunner(opts, files)
	git.remotes = []string{"origin", "backup"}

	assert.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1, cargo.lockfiles)
	assert.Equal(t, [][]string{{"Cargo.toml", "Cargo.lock"}}, git.added)
	assert.Equal(t, []string{"v1.2.4"}, git.commits)
	assert.Equal(t, []string{"v1.2.4"}, git.tags)
	assert.Equal(t, []string{"origin tags/v1.2.4", "backup tags/v1.2.4"}, git.pushes)
}

func TestRunTagUsesCustomMessage(t *testing.T) {
	opts := Options{Action: versioneer.Patch, GitTag: true, Message: "release: next patch"}
	r, _, git, _, _ := newTestRunner(opts, singlePackageFiles())

	assert.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"release: next patch"}, git.commits)
	assert.Empty(t, git.pushes)
}

func TestRunDryRunReportsEveryDivertedEffect(t *testing.T) {
	var logs strings.Builder
	store := fetchers.ByteMapStore{Files: singlePackageFiles()}
	cargo := &fakeCargo{}
	r := NewRunner(Options{Action: versioneer.Patch, DryRun: true, GitTag: true, GitPush: true}, Deps{
		Store: store,
		Git:   &fakeGit{remotes: []string{"origin"}},
		Cargo: cargo,
		Log:   slog.New(slog.NewTextHandler(&logs, nil)),
		Out:   io.Discard,
	})

	assert.NoError(t, r.Run(context.Background()))
	assert.Zero(t, cargo.lockfiles)
	assert.Contains(t, logs.String(), "skipping manifest write")
	assert.Contains(t, logs.String(), "would regenerate lockfile")
	assert.Contains(t, logs.String(), "would commit and tag")
	assert.Contains(t, logs.String(), "would push the tag")
}

func TestRunDryRunStillInvokesPublishDryRun(t *testing.T) {
	opts := Options{Action: versioneer.Patch, DryRun: true, CargoPublish: true, NoVerify: true}
	r, _, git, cargo, _ := newTestRunner(opts, singlePackageFiles())

	assert.NoError(t, r.Run(context.Background()))
	assert.Empty(t, git.commits)
	if assert.Len(t, cargo.publishes, 1) {
		assert.True(t, cargo.publishes[0].dryRun)
		assert.True(t, cargo.publishes[0].noVerify)
	}
}

func TestRunRegistryPreflight(t *testing.T) {
	registry := &fakeRegistry{published: map[string][]string{"demo": {"1.2.3", "1.2.4"}}}
	opts := Options{Action: versioneer.Patch, CheckRegistry: true}
	r, store, _, _, _ := newTestRunner(opts, singlePackageFiles())
	r.deps.Registry = registry

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyPublished)
	assert.Contains(t, string(store.Files["Cargo.toml"]), `version = "1.2.3"`)

	opts.ForceVersion = true
	r, store, _, _, _ = newTestRunner(opts, singlePackageFiles())
	r.deps.Registry = registry
	assert.NoError(t, r.Run(context.Background()))
	assert.Contains(t, string(store.Files["Cargo.toml"]), `version = "1.2.4"`)

	// Publishing runs the same pre-flight when a registry client is wired.
	opts = Options{Action: versioneer.Patch, CargoPublish: true}
	r, _, _, _, _ = newTestRunner(opts, singlePackageFiles())
	r.deps.Registry = registry
	assert.ErrorIs(t, r.Run(context.Background()), ErrAlreadyPublished)
}

func TestRunGitHubRelease(t *testing.T) {
	releaser := &fakeReleaser{}
	opts := Options{Action: versioneer.Pre, Pre: "", GitHubRelease: true}
	files := map[string][]byte{
		"Cargo.toml": []byte(`[package]
name = "demo"
version = "1.2.3-rc.1"
`),
	}
	r, _, _, _, _ := newTestRunner(opts, files)
	r.deps.Release = releaser

	assert.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"v1.2.3-rc.2"}, releaser.tags)
	assert.True(t, releaser.prerelease)
}

func TestRunManifestLoadFailureNamesTheStage(t *testing.T) {
	r, _, _, _, _ := newTestRunner(Options{Action: versioneer.Patch}, map[string][]byte{})

	err := r.Run(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "loading manifests")
	assert.Equal(t, StageAborted, r.Stage())
}

func TestRunUnknownPackageNamesTheStage(t *testing.T) {
	opts := Options{Action: versioneer.Patch, Criteria: SelectionCriteria{Packages: []string{"nope"}}}
	r, _, _, _, _ := newTestRunner(opts, workspaceFixture())

	err := r.Run(context.Background())
	assert.True(t, errors.Is(err, ErrPackageNotFound))
	assert.Contains(t, err.Error(), "selecting packages")
}
