package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/eeekcct/github-poller/internal/config"
)

type fakeGitHubAPI struct {
	mu       sync.Mutex
	requests []string
	authz    []string
}

func (f *fakeGitHubAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/test-org/test-repo/branches/main", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"main","commit":{"sha":"abc123def456"}}`)
	})
	mux.HandleFunc("/repos/test-org/test-repo/branches/empty", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"empty"}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})
	return mux
}

func (f *fakeGitHubAPI) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.URL.Path)
	f.authz = append(f.authz, r.Header.Get("Authorization"))
}

func newTestClient(t *testing.T, ts oauth2.TokenSource) (*Client, *fakeGitHubAPI) {
	t.Helper()
	api := &fakeGitHubAPI{}
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	client, err := NewClient(ts, server.URL, 5*time.Second)
	require.NoError(t, err)
	return client, api
}

func TestLatestCommit(t *testing.T) {
	client, api := newTestClient(t, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "ghp_static"}))

	for _, url := range []string{
		"https://github.com/test-org/test-repo",
		"https://github.com/test-org/test-repo.git",
	} {
		sha, err := client.LatestCommit(context.Background(), url, "main")
		require.NoError(t, err)
		require.Equal(t, "abc123def456", sha)
	}

	require.Equal(t, []string{
		"/repos/test-org/test-repo/branches/main",
		"/repos/test-org/test-repo/branches/main",
	}, api.requests)
	require.Equal(t, "Bearer ghp_static", api.authz[0])
}

func TestLatestCommitErrors(t *testing.T) {
	client, _ := newTestClient(t, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "ghp_static"}))

	_, err := client.LatestCommit(context.Background(), "https://github.com/test-org/missing", "main")
	require.ErrorContains(t, err, "test-org/missing@main")

	_, err = client.LatestCommit(context.Background(), "https://github.com/test-org/test-repo", "empty")
	require.ErrorContains(t, err, "no head commit")

	_, err = client.LatestCommit(context.Background(), "not-a-url", "main")
	require.Error(t, err)
}

func TestLatestCommitUsesProviderToken(t *testing.T) {
	provider := NewCredentialProvider(config.GitHubConfig{
		AuthMode: config.AuthModePAT,
		Token:    config.SecretSource{Value: "ghp_from_provider"},
	}, time.Second)
	ctx := context.Background()
	require.NoError(t, provider.Init(ctx))

	client, api := newTestClient(t, provider.TokenSource(ctx))
	_, err := client.LatestCommit(ctx, "https://github.com/test-org/test-repo", "main")
	require.NoError(t, err)
	require.Equal(t, []string{"Bearer ghp_from_provider"}, api.authz)
}
