package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"NAMESPACE", "CONFIGMAP_NAME", "CONFIGMAP_KEY", "PIPELINERUN_API_VERSION",
		"REQUEST_TIMEOUT", "GITHUB_TOKEN_REFRESH_MARGIN", "GITHUB_AUTH_TYPE",
		"GITHUB_API_URL", "GITHUB_TOKEN", "GITHUB_TOKEN_FILE",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "default", cfg.Namespace)
	require.Equal(t, "github-poller-config", cfg.ConfigMapName)
	require.Equal(t, "config.yaml", cfg.ConfigMapKey)
	require.Equal(t, "tekton.dev/v1beta1", cfg.PipelineRunAPIVersion)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout)
	require.Equal(t, AuthModeApp, cfg.GitHub.AuthMode)
	require.Equal(t, 5*time.Minute, cfg.GitHub.RefreshMargin)
	require.Equal(t, "/secrets/github-token", cfg.GitHub.Token.File)
	require.Equal(t, "/secrets/app-id", cfg.GitHub.AppID.File)
	require.Equal(t, "/secrets/installation-id", cfg.GitHub.InstallationID.File)
	require.Equal(t, "/secrets/private-key", cfg.GitHub.PrivateKey.File)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("NAMESPACE", "ci")
	t.Setenv("CONFIGMAP_NAME", "poller")
	t.Setenv("GITHUB_AUTH_TYPE", "pat")
	t.Setenv("GITHUB_TOKEN", "ghp_env")
	t.Setenv("REQUEST_TIMEOUT", "10")
	t.Setenv("PIPELINERUN_API_VERSION", "tekton.dev/v1")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "ci", cfg.Namespace)
	require.Equal(t, "poller", cfg.ConfigMapName)
	require.Equal(t, AuthModePAT, cfg.GitHub.AuthMode)
	require.Equal(t, "ghp_env", cfg.GitHub.Token.Value)
	require.Equal(t, 10*time.Second, cfg.RequestTimeout)
	require.Equal(t, "tekton.dev/v1", cfg.PipelineRunAPIVersion)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "unknown auth mode", key: "GITHUB_AUTH_TYPE", val: "oauth"},
		{name: "bad duration", key: "REQUEST_TIMEOUT", val: "soon"},
		{name: "zero timeout", key: "REQUEST_TIMEOUT", val: "0s"},
		{name: "unsupported api version", key: "PIPELINERUN_API_VERSION", val: "tekton.dev/v1alpha1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}
