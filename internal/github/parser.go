package github

import (
	"fmt"
	"strings"
)

// ParseRepositoryURL extracts owner and repository name from a repository URL.
// Trailing slashes and a ".git" suffix are ignored, so
// https://github.com/org/repo, https://github.com/org/repo.git/ and
// git@github.com:org/repo.git all yield ("org", "repo").
func ParseRepositoryURL(repoURL string) (owner, repo string, err error) {
	trimmed := strings.TrimRight(strings.TrimSpace(repoURL), "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")

	// scp-like syntax: git@host:owner/repo
	if !strings.Contains(trimmed, "://") {
		if at := strings.Index(trimmed, ":"); at >= 0 {
			trimmed = trimmed[:at] + "/" + trimmed[at+1:]
		}
	}

	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("cannot parse owner/repository from %q", repoURL)
	}
	owner, repo = parts[len(parts)-2], parts[len(parts)-1]
	if owner == "" || repo == "" || strings.HasSuffix(owner, ":") {
		return "", "", fmt.Errorf("cannot parse owner/repository from %q", repoURL)
	}
	return owner, repo, nil
}
