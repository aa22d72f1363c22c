package controller

import (
	"context"
	"sync"

	"github.com/eeekcct/github-poller/api/v1alpha1"
	"github.com/eeekcct/github-poller/internal/github"
	"github.com/eeekcct/github-poller/internal/kubernetes"
	"github.com/eeekcct/github-poller/internal/tekton"
)

type fakeConfigStore struct {
	mu sync.Mutex

	GetFunc func(ctx context.Context) (*v1alpha1.PollerConfig, error)
	PutFunc func(ctx context.Context, cfg *v1alpha1.PollerConfig) error

	Config   *v1alpha1.PollerConfig
	GetCalls int
	Puts     []*v1alpha1.PollerConfig
}

var _ kubernetes.ConfigStore = (*fakeConfigStore)(nil)

func (f *fakeConfigStore) Get(ctx context.Context) (*v1alpha1.PollerConfig, error) {
	f.mu.Lock()
	f.GetCalls++
	f.mu.Unlock()

	if f.GetFunc != nil {
		return f.GetFunc(ctx)
	}
	if f.Config == nil {
		return &v1alpha1.PollerConfig{}, nil
	}
	return f.Config, nil
}

func (f *fakeConfigStore) Put(ctx context.Context, cfg *v1alpha1.PollerConfig) error {
	f.mu.Lock()
	f.Puts = append(f.Puts, cfg)
	f.mu.Unlock()

	if f.PutFunc != nil {
		return f.PutFunc(ctx, cfg)
	}
	return nil
}

type commitCall struct {
	URL    string
	Branch string
}

type fakeCommitSource struct {
	mu sync.Mutex

	LatestCommitFunc func(ctx context.Context, repoURL, branch string) (string, error)

	// SHAs answers by repository URL when LatestCommitFunc is nil.
	SHAs  map[string]string
	Calls []commitCall
}

var _ github.CommitSource = (*fakeCommitSource)(nil)

func (f *fakeCommitSource) LatestCommit(ctx context.Context, repoURL, branch string) (string, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, commitCall{URL: repoURL, Branch: branch})
	f.mu.Unlock()

	if f.LatestCommitFunc != nil {
		return f.LatestCommitFunc(ctx, repoURL, branch)
	}
	return f.SHAs[repoURL], nil
}

type fakeTrigger struct {
	mu sync.Mutex

	SubmitFunc func(ctx context.Context, entry v1alpha1.RepositoryEntry) (string, error)

	Calls []v1alpha1.RepositoryEntry
}

var _ tekton.PipelineTrigger = (*fakeTrigger)(nil)

func (f *fakeTrigger) Submit(ctx context.Context, entry v1alpha1.RepositoryEntry) (string, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, entry)
	f.mu.Unlock()

	if f.SubmitFunc != nil {
		return f.SubmitFunc(ctx, entry)
	}
	return entry.PipelineRef + "-" + entry.Name + "-run", nil
}
