package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// AuthMode selects how the poller authenticates against the GitHub API.
type AuthMode string

const (
	AuthModePAT AuthMode = "pat"
	AuthModeApp AuthMode = "app"
)

// SecretSource locates one secret: an inline value (from the environment)
// and a file to read when the value is empty.
type SecretSource struct {
	Value string
	File  string
}

type GitHubConfig struct {
	AuthMode       AuthMode `validate:"oneof=pat app"`
	APIURL         string   `validate:"omitempty,url"`
	Token          SecretSource
	AppID          SecretSource
	InstallationID SecretSource
	PrivateKey     SecretSource
	RefreshMargin  time.Duration `validate:"gte=0"`
}

type Config struct {
	Namespace             string        `validate:"required"`
	ConfigMapName         string        `validate:"required"`
	ConfigMapKey          string        `validate:"required"`
	PipelineRunAPIVersion string        `validate:"oneof=tekton.dev/v1beta1 tekton.dev/v1"`
	RequestTimeout        time.Duration `validate:"gt=0"`
	GitHub                GitHubConfig
}

// LoadConfig reads the process configuration from the environment and validates it.
func LoadConfig() (*Config, error) {
	requestTimeout, err := getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	refreshMargin, err := getEnvAsDuration("GITHUB_TOKEN_REFRESH_MARGIN", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Namespace:             getEnv("NAMESPACE", "default"),
		ConfigMapName:         getEnv("CONFIGMAP_NAME", "github-poller-config"),
		ConfigMapKey:          getEnv("CONFIGMAP_KEY", "config.yaml"),
		PipelineRunAPIVersion: getEnv("PIPELINERUN_API_VERSION", "tekton.dev/v1beta1"),
		RequestTimeout:        requestTimeout,
		GitHub: GitHubConfig{
			AuthMode: AuthMode(getEnv("GITHUB_AUTH_TYPE", string(AuthModeApp))),
			APIURL:   getEnv("GITHUB_API_URL", ""),
			Token: SecretSource{
				Value: os.Getenv("GITHUB_TOKEN"),
				File:  getEnv("GITHUB_TOKEN_FILE", "/secrets/github-token"),
			},
			AppID: SecretSource{
				Value: os.Getenv("GITHUB_APP_ID"),
				File:  getEnv("GITHUB_APP_ID_FILE", "/secrets/app-id"),
			},
			InstallationID: SecretSource{
				Value: os.Getenv("GITHUB_INSTALLATION_ID"),
				File:  getEnv("GITHUB_INSTALLATION_ID_FILE", "/secrets/installation-id"),
			},
			PrivateKey: SecretSource{
				Value: os.Getenv("GITHUB_PRIVATE_KEY"),
				File:  getEnv("GITHUB_PRIVATE_KEY_FILE", "/secrets/private-key"),
			},
			RefreshMargin: refreshMargin,
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}
	// bare numbers are seconds
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration for %s: %q", key, value)
}
