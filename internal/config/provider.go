package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SecretProvider is one source of configuration values
type SecretProvider interface {
	// GetSecret returns the value for key, or "" when the source does not set it
	GetSecret(ctx context.Context, key string) (string, error)

	Name() string

	// IsAvailable reports whether the source can be consulted at all
	IsAvailable(ctx context.Context) bool
}

// ChainProvider asks providers in order and returns the first non-empty value
type ChainProvider struct {
	providers []SecretProvider
}

// NewChainProvider creates a chain; earlier providers take precedence
func NewChainProvider(providers ...SecretProvider) *ChainProvider {
	return &ChainProvider{
		providers: providers,
	}
}

// GetSecret returns the first non-empty value from an available provider
func (c *ChainProvider) GetSecret(ctx context.Context, key string) (string, error) {
	var lastErr error

	for _, provider := range c.providers {
		if !provider.IsAvailable(ctx) {
			continue
		}

		value, err := provider.GetSecret(ctx, key)
		if err == nil && value != "" {
			return value, nil
		}
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", provider.Name(), err)
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("all providers failed, last error: %w", lastErr)
	}
	return "", fmt.Errorf("no available provider found for key: %s", key)
}

// Name returns the chain provider name
func (c *ChainProvider) Name() string {
	return "chain"
}

// IsAvailable reports whether any provider in the chain is available
func (c *ChainProvider) IsAvailable(ctx context.Context) bool {
	for _, provider := range c.providers {
		if provider.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

// EnvProvider reads environment variables
type EnvProvider struct{}

func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

func (e *EnvProvider) GetSecret(ctx context.Context, key string) (string, error) {
	return os.Getenv(key), nil
}

func (e *EnvProvider) Name() string {
	return "env"
}

func (e *EnvProvider) IsAvailable(ctx context.Context) bool {
	return true
}

// FileProvider reads one file per key from a mounted secrets directory.
// CLAUDE_API_KEY is read from <dir>/claude-api-key.
type FileProvider struct {
	secretsPath string
}

// NewFileProvider creates a provider over secretsPath
func NewFileProvider(secretsPath string) *FileProvider {
	return &FileProvider{
		secretsPath: secretsPath,
	}
}

// SecretFileName maps a key to its file name
func SecretFileName(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", "-"))
}

// GetSecret returns the trimmed file contents, or "" when the file is missing
func (f *FileProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if f.secretsPath == "" {
		return "", fmt.Errorf("secrets path not configured")
	}

	path := filepath.Join(f.secretsPath, SecretFileName(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}

	return strings.TrimSpace(string(data)), nil
}

func (f *FileProvider) Name() string {
	return "file"
}

// IsAvailable reports whether the secrets directory exists
func (f *FileProvider) IsAvailable(ctx context.Context) bool {
	if f.secretsPath == "" {
		return false
	}
	info, err := os.Stat(f.secretsPath)
	if err != nil {
		return false
	}
	return info.IsDir()
}

const (
	serviceAccountDir     = "/var/run/secrets/kubernetes.io/serviceaccount"
	defaultK8sSecretsPath = "/var/secrets"
)

// K8sProvider reads secrets mounted into a pod. It is only available when
// a service account token is present.
type K8sProvider struct {
	fileProvider      *FileProvider
	namespace         string
	serviceAccountDir string
}

// NewK8sProvider creates a provider over secretsPath (default /var/secrets).
// An empty namespace is read from the service account, falling back to "default".
func NewK8sProvider(secretsPath, namespace string) *K8sProvider {
	return newK8sProvider(secretsPath, namespace, serviceAccountDir)
}

func newK8sProvider(secretsPath, namespace, accountDir string) *K8sProvider {
	if secretsPath == "" {
		secretsPath = defaultK8sSecretsPath
	}
	if namespace == "" {
		namespace = "default"
		if ns, err := os.ReadFile(filepath.Join(accountDir, "namespace")); err == nil {
			if trimmed := strings.TrimSpace(string(ns)); trimmed != "" {
				namespace = trimmed
			}
		}
	}
	return &K8sProvider{
		fileProvider:      NewFileProvider(secretsPath),
		namespace:         namespace,
		serviceAccountDir: accountDir,
	}
}

func (k *K8sProvider) GetSecret(ctx context.Context, key string) (string, error) {
	return k.fileProvider.GetSecret(ctx, key)
}

func (k *K8sProvider) Name() string {
	return "kubernetes"
}

func (k *K8sProvider) IsAvailable(ctx context.Context) bool {
	if _, err := os.Stat(filepath.Join(k.serviceAccountDir, "token")); err != nil {
		return false
	}
	return k.fileProvider.IsAvailable(ctx)
}

// Namespace returns the pod namespace
func (k *K8sProvider) Namespace() string {
	return k.namespace
}
