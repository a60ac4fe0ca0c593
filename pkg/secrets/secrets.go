// Package secrets loads adapter credentials (an NVD-style API key, for
// example) from environment variables, key files, or the OS keychain so
// that nothing sensitive is ever hardcoded or logged. Adapted from the
// teacher's pkg/secrets/multi_manager.go: the same named-backend,
// fallback-order shape, trimmed from a four-backend cache-and-rotation
// manager (env/vault/aws/k8s) down to the two backends a local CLI
// actually needs plus an OS-keychain backend.
package secrets

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
)

// Backend resolves a named secret. Implementations must not log the
// resolved value.
type Backend interface {
	Get(key string) (string, error)
	Name() string
}

// Config configures a Manager's backend fallback order.
type Config struct {
	// FallbackOrder lists backend names ("env", "file", "keyring") to
	// try in order. Defaults to ["env", "file"] if empty; "keyring" is
	// only tried when explicitly listed, since it requires OS support.
	FallbackOrder []string `yaml:"fallback_order"`

	// EnvPrefix is prepended (upper-cased, with "/" -> "_") to form the
	// environment variable name, e.g. prefix "THREATFEED_" + key
	// "nvd_api_key" -> "THREATFEED_NVD_API_KEY".
	EnvPrefix string `yaml:"env_prefix"`

	// FileDir holds one file per secret, named after the key, whose
	// trimmed contents are the secret value.
	FileDir string `yaml:"file_dir"`

	// KeyringService names the OS-keychain service bucket secrets are
	// stored under (all keys share this one service).
	KeyringService string `yaml:"keyring_service"`
}

func (c Config) order() []string {
	if len(c.FallbackOrder) > 0 {
		return c.FallbackOrder
	}
	return []string{"env", "file"}
}

// Manager resolves secrets by trying each configured backend in order
// until one succeeds.
type Manager struct {
	logger   *logrus.Logger
	backends map[string]Backend
	order    []string
}

// New constructs a Manager with the configured backend fallback order.
func New(config Config, logger *logrus.Logger) *Manager {
	backends := map[string]Backend{
		"env":  NewEnvBackend(config.EnvPrefix),
		"file": NewFileBackend(config.FileDir),
	}
	if config.KeyringService != "" {
		backends["keyring"] = NewKeyringBackend(config.KeyringService)
	}

	return &Manager{
		logger:   logger,
		backends: backends,
		order:    config.order(),
	}
}

// Get resolves key by trying each backend in fallback order, returning
// the first success. The individual backend errors are folded into one
// message; none of them, nor the resolved value, are logged.
func (m *Manager) Get(key string) (string, error) {
	var tried []string

	for _, name := range m.order {
		backend, ok := m.backends[name]
		if !ok {
			continue
		}
		value, err := backend.Get(key)
		if err == nil && value != "" {
			if m.logger != nil {
				m.logger.WithFields(logrus.Fields{
					"key":     key,
					"backend": name,
				}).Debug("secret resolved")
			}
			return value, nil
		}
		tried = append(tried, name)
	}

	return "", fmt.Errorf("secret %q not found in any backend (tried: %s)", key, strings.Join(tried, ", "))
}

// ResolveKeyRef resolves an explicit key reference rather than going
// through the fallback order, for config values that name their source
// directly:
//
//	env:VARIABLE_NAME
//	file:///path/to/key
//	keyring://<service>/<key>
func (m *Manager) ResolveKeyRef(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "env:"):
		envVar := strings.TrimPrefix(ref, "env:")
		if val := os.Getenv(envVar); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("environment variable %q is not set", envVar)

	case strings.HasPrefix(ref, "file://"):
		return readSecretFile(strings.TrimPrefix(ref, "file://"))

	case strings.HasPrefix(ref, "keyring://"):
		path := strings.TrimPrefix(ref, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference %q (expected keyring://<service>/<key>)", ref)
		}
		return NewKeyringBackend(parts[0]).Get(parts[1])

	default:
		return "", fmt.Errorf("unrecognized key reference %q (expected env:, file://, or keyring:// prefix)", ref)
	}
}

// EnvBackend resolves secrets from environment variables.
type EnvBackend struct {
	prefix string
}

// NewEnvBackend constructs an EnvBackend with the given variable prefix.
func NewEnvBackend(prefix string) *EnvBackend {
	return &EnvBackend{prefix: prefix}
}

func (eb *EnvBackend) Name() string { return "env" }

func (eb *EnvBackend) Get(key string) (string, error) {
	envKey := eb.prefix + strings.ToUpper(strings.ReplaceAll(key, "/", "_"))
	if value := os.Getenv(envKey); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("environment variable not set: %s", envKey)
}

// FileBackend resolves secrets from one file per key under a directory.
type FileBackend struct {
	dir string
}

// NewFileBackend constructs a FileBackend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

func (fb *FileBackend) Name() string { return "file" }

func (fb *FileBackend) Get(key string) (string, error) {
	if fb.dir == "" {
		return "", fmt.Errorf("file backend has no directory configured")
	}
	return readSecretFile(fb.dir + "/" + key)
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading secret file %q: %w", path, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("secret file %q is empty", path)
	}
	return value, nil
}

// KeyringBackend resolves secrets from the OS keychain (macOS Keychain,
// Windows Credential Manager, Secret Service on Linux).
type KeyringBackend struct {
	service string
}

// NewKeyringBackend constructs a KeyringBackend under the given service
// bucket.
func NewKeyringBackend(service string) *KeyringBackend {
	return &KeyringBackend{service: service}
}

func (kb *KeyringBackend) Name() string { return "keyring" }

func (kb *KeyringBackend) Get(key string) (string, error) {
	value, err := keyring.Get(kb.service, key)
	if err != nil {
		return "", fmt.Errorf("keyring lookup for %s/%s: %w", kb.service, key, err)
	}
	return value, nil
}

// Set stores key in the OS keychain under the backend's service name.
func (kb *KeyringBackend) Set(key, value string) error {
	return keyring.Set(kb.service, key, value)
}
