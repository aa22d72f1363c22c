/*
Copyright 2025 eeekcct.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-logr/logr"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/eeekcct/github-poller/api/v1alpha1"
	"github.com/eeekcct/github-poller/internal/github"
	"github.com/eeekcct/github-poller/internal/kubernetes"
	"github.com/eeekcct/github-poller/internal/tekton"
)

// ErrPassAborted is returned when a pass stops on an unexpected failure.
var ErrPassAborted = errors.New("poll pass aborted")

// Action is what a pass did with one repository entry.
type Action string

const (
	ActionSkipped       Action = "skipped"
	ActionBootstrapped  Action = "bootstrapped"
	ActionUnchanged     Action = "unchanged"
	ActionTriggered     Action = "triggered"
	ActionTriggerFailed Action = "trigger-failed"
)

// EntryOutcome records the decision taken for one entry.
type EntryOutcome struct {
	Name        string
	Action      Action
	OldSHA      string
	NewSHA      string
	PipelineRun string
	Err         error
}

// advancesState reports whether the entry's lastCheckedSHA moves to NewSHA.
func (o EntryOutcome) advancesState() bool {
	return o.Action == ActionBootstrapped || o.Action == ActionTriggered
}

// PassResult summarizes one poll pass.
type PassResult struct {
	Entries []EntryOutcome

	// Persisted is true when updated commit state was written back.
	Persisted bool
	// PersistError is set when writing state failed; the pass itself still succeeded.
	PersistError error
}

// Names returns the names of entries that ended with action, in config order.
func (r PassResult) Names(action Action) []string {
	var names []string
	for _, o := range r.Entries {
		if o.Action == action {
			names = append(names, o.Name)
		}
	}
	return names
}

// PollReconciler runs one poll pass: load the config, resolve each entry's
// head commit, trigger a pipeline on change and persist the new state.
//
// It assumes it is the only writer of the config. Two pollers sharing a
// ConfigMap can lose updates or trigger the same change twice.
type PollReconciler struct {
	Store   kubernetes.ConfigStore
	Commits github.CommitSource
	Trigger tekton.PipelineTrigger

	// CallTimeout bounds every call to Store, Commits and Trigger. Zero disables it.
	CallTimeout time.Duration
	// DryRun computes updates without persisting them.
	DryRun bool
}

type shaUpdate struct {
	index int
	sha   string
}

// Poll runs a single pass. The returned error is fatal for the process: the
// config could not be loaded or the pass was aborted. Per-entry failures and a
// failed state write are reported in the result instead.
func (r *PollReconciler) Poll(ctx context.Context) (result PassResult, err error) {
	log := logf.FromContext(ctx)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPassAborted, p)
			log.Error(err, "Poll pass panicked", "stack", string(debug.Stack()))
		}
	}()

	cfg, err := r.loadConfig(ctx)
	if err != nil {
		return result, err
	}
	if len(cfg.Repositories) == 0 {
		log.Info("No repositories configured")
		return result, nil
	}

	log.Info("Polling repositories", "count", len(cfg.Repositories))

	var updates []shaUpdate
	for i, entry := range cfg.Repositories {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("%w: %w", ErrPassAborted, err)
		}
		outcome := r.reconcileEntry(ctx, log, entry)
		result.Entries = append(result.Entries, outcome)
		if outcome.advancesState() {
			updates = append(updates, shaUpdate{index: i, sha: outcome.NewSHA})
		}
	}

	defer func() {
		log.Info("Polling completed",
			"bootstrapped", len(result.Names(ActionBootstrapped)),
			"triggered", len(result.Names(ActionTriggered)),
			"triggerFailed", len(result.Names(ActionTriggerFailed)),
			"unchanged", len(result.Names(ActionUnchanged)),
			"skipped", len(result.Names(ActionSkipped)),
			"persisted", result.Persisted)
	}()

	if len(updates) == 0 {
		return result, nil
	}
	if r.DryRun {
		log.Info("Dry run, not persisting commit state", "updates", len(updates))
		return result, nil
	}

	if err := r.saveConfig(ctx, applyUpdates(cfg, updates)); err != nil {
		log.Error(err, "Failed to persist commit state, affected repositories will be evaluated again on the next pass")
		result.PersistError = err
		return result, nil
	}
	result.Persisted = true
	return result, nil
}

func (r *PollReconciler) reconcileEntry(ctx context.Context, log logr.Logger, entry v1alpha1.RepositoryEntry) EntryOutcome {
	branch := entry.Branch
	if branch == "" {
		branch = v1alpha1.DefaultBranch
	}
	log = log.WithValues("repository", entry.Name, "branch", branch)
	outcome := EntryOutcome{Name: entry.Name, OldSHA: entry.LastCheckedSHA}

	if entry.URL == "" {
		log.Info("Repository has no URL, skipping", "action", ActionSkipped)
		outcome.Action = ActionSkipped
		return outcome
	}

	sha, err := r.latestCommit(ctx, entry.URL, branch)
	if err != nil {
		log.Error(err, "Could not resolve head commit, skipping", "action", ActionSkipped)
		outcome.Action = ActionSkipped
		outcome.Err = err
		return outcome
	}
	outcome.NewSHA = sha

	switch entry.LastCheckedSHA {
	case "":
		log.Info("First check, recording commit", "newSHA", shortSHA(sha), "action", ActionBootstrapped)
		outcome.Action = ActionBootstrapped
		return outcome
	case sha:
		log.Info("No changes detected", "sha", shortSHA(sha), "action", ActionUnchanged)
		outcome.Action = ActionUnchanged
		return outcome
	}

	log.Info("Change detected", "oldSHA", shortSHA(entry.LastCheckedSHA), "newSHA", shortSHA(sha))
	run, err := r.submit(ctx, entry)
	if err != nil {
		log.Error(err, "Failed to trigger pipeline, keeping previous commit",
			"oldSHA", shortSHA(entry.LastCheckedSHA),
			"newSHA", shortSHA(sha),
			"action", ActionTriggerFailed)
		outcome.Action = ActionTriggerFailed
		outcome.Err = err
		return outcome
	}

	log.Info("Triggered pipeline",
		"oldSHA", shortSHA(entry.LastCheckedSHA),
		"newSHA", shortSHA(sha),
		"pipelineRun", run,
		"action", ActionTriggered)
	outcome.Action = ActionTriggered
	outcome.PipelineRun = run
	return outcome
}

func (r *PollReconciler) loadConfig(ctx context.Context) (*v1alpha1.PollerConfig, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return r.Store.Get(ctx)
}

func (r *PollReconciler) saveConfig(ctx context.Context, cfg *v1alpha1.PollerConfig) error {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return r.Store.Put(ctx, cfg)
}

func (r *PollReconciler) latestCommit(ctx context.Context, url, branch string) (string, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return r.Commits.LatestCommit(ctx, url, branch)
}

func (r *PollReconciler) submit(ctx context.Context, entry v1alpha1.RepositoryEntry) (string, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return r.Trigger.Submit(ctx, entry)
}

func (r *PollReconciler) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.CallTimeout)
}

// applyUpdates returns a copy of cfg with the collected commit updates applied.
func applyUpdates(cfg *v1alpha1.PollerConfig, updates []shaUpdate) *v1alpha1.PollerConfig {
	next := cfg.Clone()
	for _, u := range updates {
		next.Repositories[u.index].LastCheckedSHA = u.sha
	}
	return next
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
