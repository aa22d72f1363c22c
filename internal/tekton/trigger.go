package tekton

import (
	"context"
	"errors"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/eeekcct/github-poller/api/v1alpha1"
)

// ErrNoPipeline is returned for entries that do not name a pipeline.
var ErrNoPipeline = errors.New("no pipeline specified")

const (
	APIVersionV1Beta1 = "tekton.dev/v1beta1"
	APIVersionV1      = "tekton.dev/v1"

	pipelineRunKind = "PipelineRun"

	managedByLabel  = "app.kubernetes.io/managed-by"
	managedByValue  = "github-poller"
	repositoryLabel = "github-poller/repository"
	pipelineLabel   = "tekton.dev/pipeline"
)

// PipelineTrigger starts a pipeline run for a repository entry and returns its name.
type PipelineTrigger interface {
	Submit(ctx context.Context, entry v1alpha1.RepositoryEntry) (string, error)
}

// Trigger creates Tekton PipelineRuns. Every call creates a new run; nothing
// is deduplicated against earlier submissions.
type Trigger struct {
	client     client.Client
	namespace  string
	apiVersion string
	clock      clock.PassiveClock

	// DryRun sends creates with server-side dry run.
	DryRun bool
}

var _ PipelineTrigger = (*Trigger)(nil)

func NewTrigger(c client.Client, namespace, apiVersion string, clk clock.PassiveClock) *Trigger {
	if apiVersion == "" {
		apiVersion = APIVersionV1Beta1
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Trigger{
		client:     c,
		namespace:  namespace,
		apiVersion: apiVersion,
		clock:      clk,
	}
}

// Submit creates a PipelineRun for entry. It fails without calling the API
// when the entry has no pipeline, and never retries.
func (t *Trigger) Submit(ctx context.Context, entry v1alpha1.RepositoryEntry) (string, error) {
	log := logf.FromContext(ctx).WithValues("repository", entry.Name)

	run, err := t.BuildPipelineRun(entry)
	if err != nil {
		log.Error(err, "Cannot build PipelineRun")
		return "", err
	}

	var opts []client.CreateOption
	if t.DryRun {
		opts = append(opts, client.DryRunAll)
	}

	log.Info("Creating PipelineRun", "pipelineRun", run.GetName(), "pipeline", entry.PipelineRef, "dryRun", t.DryRun)
	log.V(1).Info("PipelineRun spec", "spec", run.Object["spec"])

	if err := t.client.Create(ctx, run, opts...); err != nil {
		kv := []any{"pipelineRun", run.GetName()}
		var status apierrors.APIStatus
		if errors.As(err, &status) {
			s := status.Status()
			kv = append(kv, "code", s.Code, "reason", s.Reason, "message", s.Message)
		}
		log.Error(err, "Failed to create PipelineRun", kv...)
		return "", fmt.Errorf("failed to create PipelineRun %s: %w", run.GetName(), err)
	}

	log.Info("PipelineRun created", "pipelineRun", run.GetName())
	return run.GetName(), nil
}

// BuildPipelineRun renders the PipelineRun for entry without submitting it.
func (t *Trigger) BuildPipelineRun(entry v1alpha1.RepositoryEntry) (*unstructured.Unstructured, error) {
	if entry.PipelineRef == "" {
		return nil, fmt.Errorf("%w for repository %q", ErrNoPipeline, entry.Name)
	}

	spec := map[string]any{
		"pipelineRef": map[string]any{"name": entry.PipelineRef},
	}
	if entry.ServiceAccount != "" {
		if t.apiVersion == APIVersionV1 {
			spec["taskRunTemplate"] = map[string]any{"serviceAccountName": entry.ServiceAccount}
		} else {
			spec["serviceAccountName"] = entry.ServiceAccount
		}
	}
	if params := buildParams(entry); len(params) > 0 {
		spec["params"] = params
	}
	if workspaces := buildWorkspaces(entry); len(workspaces) > 0 {
		spec["workspaces"] = workspaces
	}
	if entry.Timeout != "" {
		if t.apiVersion == APIVersionV1 {
			spec["timeouts"] = map[string]any{"pipeline": entry.Timeout}
		} else {
			spec["timeout"] = entry.Timeout
		}
	}

	run := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": t.apiVersion,
		"kind":       pipelineRunKind,
		"spec":       spec,
	}}
	run.SetName(RunName(entry.PipelineRef, entry.Name, t.clock.Now()))
	run.SetNamespace(t.namespace)
	run.SetLabels(buildLabels(entry))
	return run, nil
}

func buildLabels(entry v1alpha1.RepositoryEntry) map[string]string {
	labels := map[string]string{managedByLabel: managedByValue}
	for key, value := range map[string]string{
		repositoryLabel: entry.Name,
		pipelineLabel:   entry.PipelineRef,
	} {
		// the API server rejects the whole object for one bad label value
		if len(validation.IsValidLabelValue(value)) == 0 {
			labels[key] = value
		}
	}
	return labels
}

func buildParams(entry v1alpha1.RepositoryEntry) []any {
	var params []any
	for _, p := range entry.Params {
		if p.Name == "" || p.Value == nil {
			continue
		}
		var value any
		if s, ok := p.Value.(string); ok {
			value = ExpandPlaceholders(s, entry)
		} else {
			value = jsonValue(p.Value)
		}
		params = append(params, map[string]any{"name": p.Name, "value": value})
	}
	return params
}

func buildWorkspaces(entry v1alpha1.RepositoryEntry) []any {
	var workspaces []any
	for _, ws := range entry.Workspaces {
		if ws.Name == "" || ws.ClaimName == "" {
			continue
		}
		workspaces = append(workspaces, map[string]any{
			"name":                  ws.Name,
			"persistentVolumeClaim": map[string]any{"claimName": ws.ClaimName},
		})
	}
	return workspaces
}

// jsonValue converts YAML-decoded values into the types unstructured objects
// accept (int64, float64, string, bool, []any, map[string]any).
func jsonValue(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return float64(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = jsonValue(v[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = jsonValue(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = jsonValue(val)
		}
		return out
	default:
		return v
	}
}
