package github

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
)

// ErrNoGitHubRemote means the checkout has no origin remote on github.com.
var ErrNoGitHubRemote = errors.New("no github.com origin remote")

// Matches git@github.com:owner/repo.git, ssh://git@github.com/owner/repo
// and https://github.com/owner/repo.git.
var githubRemote = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/]+?)(?:\.git)?/?$`)

// RepoFromRemote returns "owner/repo" for the origin remote of the git
// checkout containing dir. Parent directories are searched for .git.
func RepoFromRemote(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("open git checkout %s: %w", dir, err)
	}

	remote, err := repo.Remote("origin")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoGitHubRemote, err)
	}

	for _, url := range remote.Config().URLs {
		if owner, name, ok := ParseRemoteURL(url); ok {
			return owner + "/" + name, nil
		}
	}
	return "", ErrNoGitHubRemote
}

// ParseRemoteURL extracts owner and repository from a github.com remote URL
// in SSH or HTTPS form.
func ParseRemoteURL(url string) (owner, name string, ok bool) {
	m := githubRemote.FindStringSubmatch(strings.TrimSpace(url))
	if len(m) != 3 || m[1] == "" || m[2] == "" {
		return "", "", false
	}
	return m[1], m[2], true
}
