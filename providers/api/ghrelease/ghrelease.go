/*
Package ghrelease creates GitHub releases for tags cargo-uv pushed.

The owner/repo pair is derived from the repository's git remote address, so
the feature works with both ssh and https remotes without extra flags.
*/
package ghrelease

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/go-github/v33/github"
	"golang.org/x/oauth2"
)

// ErrNoToken signals a release request without credentials.
var ErrNoToken = errors.New("no GitHub token provided")

// gitRepoRgx is used to parse repository info from a GIT-compatible address string.
//
// Examples matching the regexp:
//
//	'git@github.com:vendor/reponame.git'
//	'https://github.com/vendor/reponame' and so on...
//
// Groups:
//
//	1: protocol (e.g. 'https://' or 'git@')
//	6: hostname (e.g. 'github.com')
//	8: full repo name (e.g. 'vendor/reponame')
var gitRepoRgx string = `^(((git@)|(git:|ssh:|(http[s]?:\/\/))))([\w\.@\\-~]+)(:|\/)([\w\.@\:\/\-~]+?)(\.git)?(\/-)?$`

// gitRepoRgxCompiled is compiled from gitRepoRgx.
var gitRepoRgxCompiled = regexp.MustCompile(gitRepoRgx)

// ParseRemote extracts the owner and repository name from a git remote address.
func ParseRemote(addr string) (owner, repo string, err error) {
	matches := gitRepoRgxCompiled.FindStringSubmatch(strings.TrimSpace(addr))
	if matches == nil || matches[6] == "" || matches[8] == "" {
		return "", "", fmt.Errorf("unsupported git repository format %q", addr)
	}
	if matches[6] != "github.com" {
		return "", "", fmt.Errorf("git host %q is not github.com", matches[6])
	}
	parts := strings.Split(strings.Trim(matches[8], "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository name %q is not owner/repo", matches[8])
	}
	return parts[0], parts[1], nil
}

// Releaser creates releases on one GitHub repository.
type Releaser struct {
	owner, repo  string
	githubClient *github.Client
}

// NewReleaser constructs a Releaser for the repository the remote address
// points at, authenticated with the given token.
func NewReleaser(ctx context.Context, token, remoteAddr string) (*Releaser, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	owner, repo, err := ParseRemote(remoteAddr)
	if err != nil {
		return nil, err
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &Releaser{
		owner:        owner,
		repo:         repo,
		githubClient: github.NewClient(oauth2.NewClient(ctx, ts)),
	}, nil
}

// CreateRelease publishes a release for an already-pushed tag.
func (r *Releaser) CreateRelease(ctx context.Context, tag, name, body string, prerelease bool) error {
	release := &github.RepositoryRelease{
		TagName:    github.String(tag),
		Name:       github.String(name),
		Body:       github.String(body),
		Prerelease: github.Bool(prerelease),
	}
	_, _, err := r.githubClient.Repositories.CreateRelease(ctx, r.owner, r.repo, release)
	if err != nil {
		return fmt.Errorf("unable to create GitHub release for %s: %w", tag, err)
	}
	return nil
}
