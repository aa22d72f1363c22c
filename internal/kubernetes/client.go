package kubernetes

import (
	"time"

	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"
)

// NewClient creates a Kubernetes client from the in-cluster config, falling
// back to the local kubeconfig. Every request is bounded by timeout.
func NewClient(timeout time.Duration) (client.Client, error) {
	restConfig, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	restConfig.Timeout = timeout

	// PipelineRuns are sent as unstructured objects, so only the built-in
	// types need to be registered.
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, err
	}

	return client.New(restConfig, client.Options{
		Scheme: scheme,
	})
}
