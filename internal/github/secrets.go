package github

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/eeekcct/github-poller/internal/config"
)

// ErrSecretNotFound is returned when a secret is neither set inline nor present on disk.
var ErrSecretNotFound = errors.New("secret not found")

// secretLookup reports the secret value and whether the source had one.
type secretLookup func() (string, bool, error)

func inlineLookup(value string) secretLookup {
	return func() (string, bool, error) {
		value := strings.TrimSpace(value)
		return value, value != "", nil
	}
}

func fileLookup(path string) secretLookup {
	return func() (string, bool, error) {
		if path == "" {
			return "", false, nil
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		value := strings.TrimSpace(string(data))
		return value, value != "", nil
	}
}

// readSecret tries the inline value first and the file second.
func readSecret(name string, src config.SecretSource) (string, error) {
	for _, lookup := range []secretLookup{inlineLookup(src.Value), fileLookup(src.File)} {
		value, ok, err := lookup()
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		if ok {
			return value, nil
		}
	}
	if src.File != "" {
		return "", fmt.Errorf("%w: %s (no value set and %s not found)", ErrSecretNotFound, name, src.File)
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}
