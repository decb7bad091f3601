package cargouv

import (
	"fmt"
	"log/slog"

	"github.com/dephub/cargo-uv/providers/manifest"
)

// Select resolves the criteria against the graph into an ordered target list.
//
// Resolution order: workspace field only, explicit packages, the whole
// workspace minus exclusions, default members minus exclusions, and finally
// the root package on its own. Members that inherit their version from the
// workspace are skipped in superset selections and logged, but selecting one
// explicitly is an error.
func Select(g *manifest.Graph, c SelectionCriteria, log *slog.Logger) ([]*manifest.Target, error) {
	if log == nil {
		log = slog.Default()
	}
	switch {
	case c.WorkspacePackage:
		t, err := g.WorkspaceTarget()
		if err != nil {
			return nil, err
		}
		return []*manifest.Target{t}, nil
	case len(c.Packages) > 0:
		targets := make([]*manifest.Target, 0, len(c.Packages))
		for _, name := range c.Packages {
			m, ok := g.Member(name)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrPackageNotFound, name)
			}
			t, err := g.TargetFor(m)
			if err != nil {
				return nil, err
			}
			targets = append(targets, t)
		}
		return targets, nil
	case c.Workspace:
		return memberTargets(g, g.Members(), c.Excluded, log)
	case c.DefaultMembers:
		return memberTargets(g, g.DefaultMembers(), c.Excluded, log)
	}
	if g.Root == nil && g.HasWorkspace {
		// Virtual workspace root, the only addressable version field is
		// the workspace one.
		t, err := g.WorkspaceTarget()
		if err != nil {
			return nil, err
		}
		return []*manifest.Target{t}, nil
	}
	t, err := g.RootTarget()
	if err != nil {
		return nil, err
	}
	return []*manifest.Target{t}, nil
}

func memberTargets(g *manifest.Graph, members []*manifest.Member, excluded []string, log *slog.Logger) ([]*manifest.Target, error) {
	skip := make(map[string]bool, len(excluded))
	for _, name := range excluded {
		skip[name] = true
	}
	var targets []*manifest.Target
	for _, m := range members {
		if skip[m.Name] {
			continue
		}
		if m.Source == manifest.InheritedVersion {
			log.Info("skipping member with workspace-inherited version", "package", m.Name)
			continue
		}
		t, err := g.TargetFor(m)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: nothing left after exclusions", ErrEmptyWorkspace)
	}
	return targets, nil
}
