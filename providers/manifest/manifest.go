/*
Package manifest models Cargo manifests for version editing.

Goals:
  - Parsing a manifest tree (single package or workspace) into a read-only graph
  - Locating the version field a bump applies to (package.version or
    workspace.package.version, including workspace inheritance)
  - Rewriting only the version value in place, byte-for-byte preserving
    everything else in the hand-maintained file
*/
package manifest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"

	"github.com/dephub/cargo-uv/providers/fetchers"
)

var (
	ErrManifestNotFound = errors.New("manifest not found")
	ErrManifestParse    = errors.New("manifest parse error")
	// ErrVersionNotFound signals a manifest without the addressed version field.
	ErrVersionNotFound = errors.New("version field not found")
	// ErrInheritedVersion signals a package whose version is set by the
	// workspace and therefore has no writable version field of its own.
	ErrInheritedVersion = errors.New("version is inherited from the workspace")
)

// Source is the file access manifest loading needs.
type Source interface {
	fetchers.FileFetcher
	fetchers.Globber
}

// Location addresses a version field inside a manifest.
type Location int

const (
	// PackageVersion is the package.version field.
	PackageVersion Location = iota
	// WorkspacePackageVersion is the workspace.package.version field.
	WorkspacePackageVersion
)

func (l Location) String() string {
	if l == WorkspacePackageVersion {
		return "workspace.package.version"
	}
	return "package.version"
}

// table returns the TOML table the version key lives in.
func (l Location) table() string {
	if l == WorkspacePackageVersion {
		return "workspace.package"
	}
	return "package"
}

// VersionSource tells where a package's version is declared.
type VersionSource int

const (
	// OwnVersion means the package declares its own version string.
	OwnVersion VersionSource = iota
	// InheritedVersion means the package declares 'version.workspace = true'.
	InheritedVersion
)

// Member is one package in the workspace graph.
type Member struct {
	Name    string
	Path    string
	Source  VersionSource
	Version *semver.Version // nil when the version is inherited
	Default bool

	raw []byte
}

// Graph is the read-only workspace mapping built once per invocation.
type Graph struct {
	RootPath string
	RootDir  string

	// Root is the root [package], nil for virtual workspace manifests.
	Root *Member
	// WorkspaceVersion is the [workspace.package] version, if declared.
	WorkspaceVersion *semver.Version
	// HasWorkspace reports a [workspace] table in the root manifest.
	HasWorkspace bool

	members []*Member
	byName  map[string]*Member
	rootRaw []byte
}

// Members returns every package in declaration order, root package first.
func (g *Graph) Members() []*Member {
	return g.members
}

// Member looks a package up by name.
func (g *Graph) Member(name string) (*Member, bool) {
	m, ok := g.byName[name]
	return m, ok
}

// DefaultMembers returns the members flagged in workspace.default-members.
func (g *Graph) DefaultMembers() []*Member {
	var out []*Member
	for _, m := range g.members {
		if m.Default {
			out = append(out, m)
		}
	}
	return out
}

// EffectiveVersion resolves a member's version, following workspace inheritance.
func (g *Graph) EffectiveVersion(m *Member) *semver.Version {
	if m.Source == InheritedVersion {
		return g.WorkspaceVersion
	}
	return m.Version
}

// TargetFor builds the writable version target for a member.
func (g *Graph) TargetFor(m *Member) (*Target, error) {
	if m.Source == InheritedVersion {
		return nil, fmt.Errorf("%w: %s (edit workspace.package.version instead)", ErrInheritedVersion, m.Name)
	}
	return &Target{
		PackageName: m.Name,
		Path:        m.Path,
		Location:    PackageVersion,
		Current:     m.Version,
		raw:         m.raw,
	}, nil
}

// RootTarget builds the target for the root package.
func (g *Graph) RootTarget() (*Target, error) {
	if g.Root == nil {
		return nil, fmt.Errorf("%w: no [package] in %s", ErrVersionNotFound, g.RootPath)
	}
	return g.TargetFor(g.Root)
}

// WorkspaceTarget builds the target for the workspace-level version field.
func (g *Graph) WorkspaceTarget() (*Target, error) {
	if g.WorkspaceVersion == nil {
		return nil, fmt.Errorf("%w: no workspace.package.version in %s", ErrVersionNotFound, g.RootPath)
	}
	return &Target{
		PackageName: "workspace",
		Path:        g.RootPath,
		Location:    WorkspacePackageVersion,
		Current:     g.WorkspaceVersion,
		raw:         g.rootRaw,
	}, nil
}

// Target is one addressable version field selected for update.
type Target struct {
	PackageName string
	Path        string
	Location    Location
	Current     *semver.Version
	NewVersion  *semver.Version

	raw     []byte
	updated []byte
}

// SetVersion rewrites the version value in the in-memory manifest copy.
// Every byte outside the value span is preserved.
func (t *Target) SetVersion(v *semver.Version) error {
	out, err := replaceVersion(t.raw, t.Location, v.String())
	if err != nil {
		return fmt.Errorf("%s: %w", t.Path, err)
	}
	t.updated = out
	t.NewVersion = v
	return nil
}

// Bytes returns the manifest contents, with the version rewritten once
// SetVersion has been called.
func (t *Target) Bytes() []byte {
	if t.updated != nil {
		return t.updated
	}
	return t.raw
}

// Write persists the rewritten manifest through w.
func (t *Target) Write(ctx context.Context, w fetchers.FileWriter) error {
	if t.updated == nil {
		return fmt.Errorf("%s: no version set before write", t.Path)
	}
	return w.WriteFile(ctx, t.Path, t.updated)
}

// tomlManifest mirrors the slice of Cargo.toml this tool reads. Everything
// else in the file is deliberately ignored here; writes never go through
// this struct.
type tomlManifest struct {
	Package   *tomlPackage   `toml:"package"`
	Workspace *tomlWorkspace `toml:"workspace"`
}

type tomlPackage struct {
	Name string `toml:"name"`
	// Version is a string, or a {workspace = true} table for inheritance.
	Version interface{} `toml:"version"`
}

type tomlWorkspace struct {
	Members        []string   `toml:"members"`
	DefaultMembers []string   `toml:"default-members"`
	Exclude        []string   `toml:"exclude"`
	Package        *tomlWsPkg `toml:"package"`
}

type tomlWsPkg struct {
	Version string `toml:"version"`
}

func decode(path string, data []byte) (*tomlManifest, error) {
	var mf tomlManifest
	if _, err := toml.Decode(string(data), &mf); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifestParse, path, err)
	}
	return &mf, nil
}

// version interprets the package.version value.
func (p *tomlPackage) version(path string) (*semver.Version, VersionSource, error) {
	switch v := p.Version.(type) {
	case string:
		parsed, err := semver.NewVersion(v)
		if err != nil {
			return nil, OwnVersion, fmt.Errorf("%w: %s: invalid version %q: %v", ErrManifestParse, path, v, err)
		}
		return parsed, OwnVersion, nil
	case map[string]interface{}:
		if ws, ok := v["workspace"].(bool); ok && ws {
			return nil, InheritedVersion, nil
		}
		return nil, OwnVersion, fmt.Errorf("%w: %s: unsupported package.version table", ErrManifestParse, path)
	case nil:
		return nil, OwnVersion, fmt.Errorf("%w: %s: [package] has no version", ErrManifestParse, path)
	default:
		return nil, OwnVersion, fmt.Errorf("%w: %s: unsupported package.version value of type %T", ErrManifestParse, path, v)
	}
}

// Load reads the root manifest and builds the workspace graph. Workspace
// member entries may be glob patterns; expansion order is deterministic.
func Load(ctx context.Context, src Source, rootPath string) (*Graph, error) {
	raw, err := src.FileContent(ctx, rootPath)
	if err != nil {
		if errors.Is(err, fetchers.ErrFileNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, rootPath)
		}
		return nil, err
	}
	mf, err := decode(rootPath, raw)
	if err != nil {
		return nil, err
	}
	if mf.Package == nil && mf.Workspace == nil {
		return nil, fmt.Errorf("%w: %s: no [package] or [workspace] table", ErrManifestParse, rootPath)
	}

	g := &Graph{
		RootPath: rootPath,
		RootDir:  filepath.Dir(rootPath),
		byName:   make(map[string]*Member),
		rootRaw:  raw,
	}

	if mf.Package != nil {
		if mf.Package.Name == "" {
			return nil, fmt.Errorf("%w: %s: [package] has no name", ErrManifestParse, rootPath)
		}
		ver, vsrc, err := mf.Package.version(rootPath)
		if err != nil {
			return nil, err
		}
		m := &Member{Name: mf.Package.Name, Path: rootPath, Source: vsrc, Version: ver, raw: raw}
		g.Root = m
		g.members = append(g.members, m)
		g.byName[m.Name] = m
	}

	if mf.Workspace != nil {
		g.HasWorkspace = true
		if mf.Workspace.Package != nil && mf.Workspace.Package.Version != "" {
			wv, err := semver.NewVersion(mf.Workspace.Package.Version)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: invalid workspace version %q: %v", ErrManifestParse, rootPath, mf.Workspace.Package.Version, err)
			}
			g.WorkspaceVersion = wv
		}

		paths, err := expandMembers(ctx, src, g.RootDir, mf.Workspace.Members, mf.Workspace.Exclude)
		if err != nil {
			return nil, err
		}
		defaults, err := expandMembers(ctx, src, g.RootDir, mf.Workspace.DefaultMembers, nil)
		if err != nil {
			return nil, err
		}
		defaultSet := make(map[string]bool, len(defaults))
		for _, d := range defaults {
			defaultSet[d] = true
		}
		if g.Root != nil {
			g.Root.Default = defaultSet[rootPath] || defaultSet[filepath.Join(g.RootDir, "Cargo.toml")]
		}

		for _, mp := range paths {
			if mp == rootPath {
				continue
			}
			mraw, err := src.FileContent(ctx, mp)
			if err != nil {
				if errors.Is(err, fetchers.ErrFileNotFound) {
					return nil, fmt.Errorf("%w: workspace member %s", ErrManifestNotFound, mp)
				}
				return nil, err
			}
			mmf, err := decode(mp, mraw)
			if err != nil {
				return nil, err
			}
			if mmf.Package == nil || mmf.Package.Name == "" {
				return nil, fmt.Errorf("%w: %s: workspace member without a named [package]", ErrManifestParse, mp)
			}
			ver, vsrc, err := mmf.Package.version(mp)
			if err != nil {
				return nil, err
			}
			m := &Member{
				Name:    mmf.Package.Name,
				Path:    mp,
				Source:  vsrc,
				Version: ver,
				Default: defaultSet[mp],
				raw:     mraw,
			}
			g.members = append(g.members, m)
			g.byName[m.Name] = m
		}
	}

	return g, nil
}

// expandMembers resolves workspace member entries (directories or globs) into
// manifest paths, honoring workspace.exclude, preserving declaration order.
func expandMembers(ctx context.Context, src Source, rootDir string, entries, exclude []string) ([]string, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		excluded[filepath.Clean(filepath.Join(rootDir, e))] = true
	}

	var out []string
	seen := make(map[string]bool)
	for _, entry := range entries {
		dir := filepath.Join(rootDir, entry)
		var manifests []string
		if strings.ContainsAny(entry, "*?[") {
			matches, err := src.Glob(ctx, filepath.Join(dir, "Cargo.toml"))
			if err != nil {
				return nil, fmt.Errorf("expanding workspace member glob %q: %w", entry, err)
			}
			manifests = matches
		} else {
			manifests = []string{filepath.Join(dir, "Cargo.toml")}
		}
		for _, mp := range manifests {
			if excluded[filepath.Clean(filepath.Dir(mp))] || seen[mp] {
				continue
			}
			seen[mp] = true
			out = append(out, mp)
		}
	}
	return out, nil
}
