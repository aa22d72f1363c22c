package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v79/github"
	"golang.org/x/oauth2"
)

// CommitSource resolves the head commit of a repository branch.
type CommitSource interface {
	LatestCommit(ctx context.Context, repoURL, branch string) (string, error)
}

type Client struct {
	client *github.Client
}

var _ CommitSource = (*Client)(nil)

// NewClient creates a GitHub client that authenticates every request with a
// token from ts. apiURL overrides the REST endpoint (GitHub Enterprise); an
// empty value keeps api.github.com.
func NewClient(ts oauth2.TokenSource, apiURL string, timeout time.Duration) (*Client, error) {
	httpClient := &http.Client{
		// oauth2.NewClient would wrap ts in a ReuseTokenSource and bypass the
		// provider's refresh margin, so the transport is built directly.
		Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport},
		Timeout:   timeout,
	}
	client, err := newRESTClient(httpClient, apiURL)
	if err != nil {
		return nil, err
	}
	return &Client{client: client}, nil
}

// LatestCommit returns the SHA at the head of branch in the repository at repoURL.
func (c *Client) LatestCommit(ctx context.Context, repoURL, branch string) (string, error) {
	owner, repo, err := ParseRepositoryURL(repoURL)
	if err != nil {
		return "", err
	}
	b, _, err := c.client.Repositories.GetBranch(ctx, owner, repo, branch, 3)
	if err != nil {
		return "", fmt.Errorf("failed to get branch %s/%s@%s: %w", owner, repo, branch, err)
	}
	sha := b.GetCommit().GetSHA()
	if sha == "" {
		return "", fmt.Errorf("branch %s/%s@%s has no head commit", owner, repo, branch)
	}
	return sha, nil
}

func newRESTClient(httpClient *http.Client, apiURL string) (*github.Client, error) {
	client := github.NewClient(httpClient)
	if apiURL == "" {
		return client, nil
	}
	baseURL, err := url.Parse(strings.TrimRight(apiURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL %q: %w", apiURL, err)
	}
	client.BaseURL = baseURL
	return client, nil
}
