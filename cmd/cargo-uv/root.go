package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dephub/cargo-uv/cargouv"
	"github.com/dephub/cargo-uv/providers/api/crates"
	"github.com/dephub/cargo-uv/providers/api/ghrelease"
	"github.com/dephub/cargo-uv/providers/cargotool"
	"github.com/dephub/cargo-uv/providers/vcs"
	"github.com/dephub/cargo-uv/providers/versioneer"
)

type cliOptions struct {
	pre          string
	build        string
	allowDirty   bool
	forceVersion bool
	dryRun       bool
	manifestPath string
	suppress     string

	cargoPublish  bool
	noVerify      bool
	checkRegistry bool
	githubRelease bool

	gitTag   bool
	gitPush  bool
	message  string
	forceGit bool

	packages       []string
	excluded       []string
	workspace      bool
	workspacePkg   bool
	defaultMembers bool

	verbosity int
}

func newRootCmd() *cobra.Command {
	var opts cliOptions

	cmd := &cobra.Command{
		Use:   "cargo-uv [patch|minor|major|pre|set|print|tree] [VERSION]",
		Short: "Bump, inspect and release Cargo manifest versions",
		Long: `cargo-uv updates the version fields of a Cargo.toml, or of every
selected member of a Cargo workspace, and optionally commits, tags,
pushes and publishes the result. Without an action it bumps the patch
level of the root package.`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args, cmd.OutOrStdout())
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&opts.pre, "pre", "", "overlay a pre-release segment on the new version")
	fl.StringVar(&opts.build, "build", "", "overlay build metadata on the new version")
	fl.BoolVarP(&opts.allowDirty, "allow-dirty", "n", false, "skip the dirty working-tree check")
	fl.BoolVarP(&opts.forceVersion, "force-version", "f", false, "accept a version that does not increase")
	fl.BoolVarP(&opts.dryRun, "dry-run", "d", false, "report what would change without writing anything")
	fl.StringVar(&opts.manifestPath, "manifest-path", "Cargo.toml", "path to the root Cargo.toml")
	fl.StringVarP(&opts.suppress, "suppress", "Q", "none", "silence collaborator output (none|git|cargo|all)")

	fl.BoolVarP(&opts.cargoPublish, "cargo-publish", "c", false, "run cargo publish after the bump")
	fl.BoolVar(&opts.noVerify, "no-verify", false, "forward --no-verify to cargo publish")
	fl.BoolVar(&opts.checkRegistry, "check-registry", false, "fail when the new version is already on crates.io")
	fl.BoolVar(&opts.githubRelease, "github-release", false, "create a GitHub release for the new tag (needs GITHUB_TOKEN)")

	fl.BoolVarP(&opts.gitTag, "git-tag", "t", false, "commit the manifests and tag the new version")
	fl.BoolVar(&opts.gitPush, "git-push", false, "push the tag to every remote (implies --git-tag)")
	fl.StringVarP(&opts.message, "message", "m", "", "commit message (defaults to the tag)")
	fl.BoolVar(&opts.forceGit, "force-git", false, "pass --force to git tag and push")

	fl.StringArrayVarP(&opts.packages, "package", "p", nil, "bump only the named package (repeatable)")
	fl.StringArrayVarP(&opts.excluded, "exclude", "x", nil, "exclude a package from workspace selection (repeatable)")
	fl.BoolVar(&opts.workspace, "workspace", false, "bump every workspace member")
	fl.BoolVar(&opts.workspacePkg, "workspace-package", false, "bump only the [workspace.package] version")
	fl.BoolVar(&opts.defaultMembers, "default-members", false, "bump only the workspace default-members")

	fl.CountVarP(&opts.verbosity, "verbose", "v", "increase logging verbosity (repeatable)")

	return cmd
}

// resolveAction maps the positional arguments onto an action and, for set,
// the target version.
func resolveAction(args []string) (versioneer.Action, string, error) {
	if len(args) == 0 {
		return versioneer.Patch, "", nil
	}
	action, err := versioneer.ParseAction(args[0])
	if err != nil {
		return "", "", err
	}
	if action == versioneer.Set {
		if len(args) < 2 {
			return "", "", fmt.Errorf("the set action requires a version argument")
		}
		return action, args[1], nil
	}
	// A stray version argument after any other action is ignored.
	return action, "", nil
}

func logLevel(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelWarn
	case verbosity == 1:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func run(ctx context.Context, opts cliOptions, args []string, out io.Writer) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(opts.verbosity)}))
	slog.SetDefault(log)

	action, setVersion, err := resolveAction(args)
	if err != nil {
		return err
	}
	suppress, err := cargouv.ParseSuppress(opts.suppress)
	if err != nil {
		return err
	}
	if opts.gitPush {
		opts.gitTag = true
	}

	manifestDir := filepath.Dir(opts.manifestPath)
	gitRoot, err := vcs.FindRoot(ctx, manifestDir)
	if err != nil {
		// Not fatal here, the runner only touches git when it has to.
		log.Debug("no git repository found", "dir", manifestDir, "err", err)
		gitRoot = manifestDir
	}

	gitOut, cargoOut := io.Writer(os.Stdout), io.Writer(os.Stdout)
	if suppress.IncludesGit() {
		gitOut = io.Discard
	}
	if suppress.IncludesCargo() {
		cargoOut = io.Discard
	}

	git := vcs.New(gitRoot, gitOut)
	deps := cargouv.Deps{
		Git:   git,
		Cargo: cargotool.New(opts.manifestPath, cargoOut),
		Log:   log,
		Out:   out,
	}
	if opts.checkRegistry || opts.cargoPublish {
		registry, err := crates.NewClient(nil, nil)
		if err != nil {
			return err
		}
		deps.Registry = registry
	}
	if opts.githubRelease {
		remote, err := git.RemoteURL(ctx, "origin")
		if err != nil {
			return fmt.Errorf("resolving origin remote: %w", err)
		}
		releaser, err := ghrelease.NewReleaser(ctx, os.Getenv("GITHUB_TOKEN"), remote)
		if err != nil {
			return err
		}
		deps.Release = releaser
	}

	runner := cargouv.NewRunner(cargouv.Options{
		Action:       action,
		SetVersion:   setVersion,
		Pre:          opts.pre,
		Build:        opts.build,
		ForceVersion: opts.forceVersion,

		AllowDirty: opts.allowDirty,
		DryRun:     opts.dryRun,

		ManifestPath: opts.manifestPath,

		GitTag:   opts.gitTag,
		GitPush:  opts.gitPush,
		Message:  opts.message,
		ForceGit: opts.forceGit,

		CargoPublish:  opts.cargoPublish,
		NoVerify:      opts.noVerify,
		CheckRegistry: opts.checkRegistry,
		GitHubRelease: opts.githubRelease,

		Criteria: cargouv.SelectionCriteria{
			Packages:         opts.packages,
			Excluded:         opts.excluded,
			Workspace:        opts.workspace,
			WorkspacePackage: opts.workspacePkg,
			DefaultMembers:   opts.defaultMembers,
		},
	}, deps)

	return runner.Run(ctx)
}
