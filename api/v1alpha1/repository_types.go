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

package v1alpha1

// DefaultBranch is the branch tracked when an entry does not name one.
const DefaultBranch = "main"

// Param is a single PipelineRun parameter.
type Param struct {
	// +required
	Name string `json:"name" yaml:"name"`

	// Value is a string, a list or a map. Only string values are expanded.
	// +required
	Value any `json:"value" yaml:"value"`
}

// WorkspaceBinding binds a pipeline workspace to an existing PersistentVolumeClaim.
type WorkspaceBinding struct {
	// +required
	Name string `json:"name" yaml:"name"`

	// +required
	ClaimName string `json:"claimName" yaml:"claimName"`
}

// RepositoryEntry is one tracked repository in the poller configuration.
type RepositoryEntry struct {
	// Name identifies the entry in labels and generated PipelineRun names.
	// +required
	Name string `json:"name" yaml:"name"`

	// URL of the repository, e.g. https://github.com/org/repo(.git).
	// Entries without a URL are skipped.
	// +optional
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Branch is the tracked ref. Defaults to "main".
	// +optional
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`

	// PipelineRef names the Tekton Pipeline to run. Without it the entry
	// is never triggered.
	// +optional
	PipelineRef string `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`

	// +optional
	ServiceAccount string `json:"serviceAccount,omitempty" yaml:"serviceAccount,omitempty"`

	// +optional
	Params []Param `json:"params,omitempty" yaml:"params,omitempty"`

	// +optional
	Workspaces []WorkspaceBinding `json:"workspaces,omitempty" yaml:"workspaces,omitempty"`

	// Timeout is a duration string passed to the PipelineRun as is (e.g. "1h30m").
	// +optional
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// LastCheckedSHA is the last commit that was fully processed.
	// Empty means the repository has never been observed.
	// +optional
	LastCheckedSHA string `json:"lastCheckedSHA" yaml:"lastCheckedSHA"`

	// Extra keeps keys this version does not know about so a save does not drop them.
	Extra map[string]any `json:"-" yaml:",inline"`
}

// PollerConfig is the document stored in the poller ConfigMap.
type PollerConfig struct {
	Repositories []RepositoryEntry `json:"repositories" yaml:"repositories"`

	Extra map[string]any `json:"-" yaml:",inline"`
}

// Default fills in defaults that are applied once at load time.
func (c *PollerConfig) Default() {
	for i := range c.Repositories {
		if c.Repositories[i].Branch == "" {
			c.Repositories[i].Branch = DefaultBranch
		}
	}
}

// Clone returns a copy of the config whose entries can be modified without
// touching the receiver. Params, workspaces and unknown keys are shared.
func (c *PollerConfig) Clone() *PollerConfig {
	if c == nil {
		return nil
	}
	out := &PollerConfig{Extra: c.Extra}
	if c.Repositories != nil {
		out.Repositories = make([]RepositoryEntry, len(c.Repositories))
		copy(out.Repositories, c.Repositories)
	}
	return out
}
