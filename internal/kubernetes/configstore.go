package kubernetes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/eeekcct/github-poller/api/v1alpha1"
)

var (
	// ErrConfigUnavailable means the configuration could not be read or parsed.
	ErrConfigUnavailable = errors.New("poller configuration unavailable")
	// ErrStatePersist means updated commit state could not be written back.
	ErrStatePersist = errors.New("failed to persist poller state")
)

// ConfigStore loads and saves the poller configuration document.
type ConfigStore interface {
	Get(ctx context.Context) (*v1alpha1.PollerConfig, error)
	Put(ctx context.Context, cfg *v1alpha1.PollerConfig) error
}

// ConfigMapStore keeps the configuration as YAML under one key of a ConfigMap.
//
// Writes are last-writer-wins on that key: only one poller may run against a
// ConfigMap at a time, otherwise commit updates can be lost or runs triggered twice.
type ConfigMapStore struct {
	client  client.Client
	key     client.ObjectKey
	dataKey string
}

var _ ConfigStore = (*ConfigMapStore)(nil)

func NewConfigMapStore(c client.Client, namespace, name, dataKey string) *ConfigMapStore {
	return &ConfigMapStore{
		client:  c,
		key:     client.ObjectKey{Namespace: namespace, Name: name},
		dataKey: dataKey,
	}
}

func (s *ConfigMapStore) Get(ctx context.Context) (*v1alpha1.PollerConfig, error) {
	var cm corev1.ConfigMap
	if err := s.client.Get(ctx, s.key, &cm); err != nil {
		return nil, fmt.Errorf("%w: failed to get ConfigMap %s: %w", ErrConfigUnavailable, s.key, err)
	}
	cfg, err := DecodeConfig(cm.Data[s.dataKey])
	if err != nil {
		return nil, fmt.Errorf("%w: ConfigMap %s key %q: %w", ErrConfigUnavailable, s.key, s.dataKey, err)
	}
	return cfg, nil
}

// Put replaces the data key with cfg, leaving other keys of the ConfigMap untouched.
func (s *ConfigMapStore) Put(ctx context.Context, cfg *v1alpha1.PollerConfig) error {
	log := logf.FromContext(ctx)

	data, err := EncodeConfig(cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStatePersist, err)
	}

	err = retry.RetryOnConflict(retry.DefaultRetry, func() error {
		var cm corev1.ConfigMap
		if err := s.client.Get(ctx, s.key, &cm); err != nil {
			return err
		}
		if cm.Data == nil {
			cm.Data = map[string]string{}
		}
		cm.Data[s.dataKey] = string(data)
		return s.client.Update(ctx, &cm)
	})
	if err != nil {
		return fmt.Errorf("%w: failed to update ConfigMap %s: %w", ErrStatePersist, s.key, err)
	}

	log.Info("Updated ConfigMap", "configMap", s.key.String())
	return nil
}

// DecodeConfig parses the YAML document and applies defaults. Blank input is
// an empty configuration.
func DecodeConfig(raw string) (*v1alpha1.PollerConfig, error) {
	cfg := &v1alpha1.PollerConfig{}
	if strings.TrimSpace(raw) == "" {
		return cfg, nil
	}
	if err := yaml.Unmarshal([]byte(raw), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	cfg.Default()
	return cfg, nil
}

func EncodeConfig(cfg *v1alpha1.PollerConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return buf.Bytes(), nil
}
