package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// ViperProvider reads settings from an optional config file (config.yaml,
// config.toml or config.json) found in one of the search directories.
//
// Keys are looked up flat and nested, so ROUTER_THRESHOLD matches both
//
//	router_threshold: 0.8
//
// and
//
//	router:
//	  threshold: 0.8
type ViperProvider struct {
	v     *viper.Viper
	dirs  []string
	once  sync.Once
	found bool
	err   error
}

// NewViperProvider creates a provider searching dirs for a file named config.
// A missing file is not an error; the provider just reports unavailable.
func NewViperProvider(dirs ...string) *ViperProvider {
	v := viper.New()
	v.SetConfigName("config")
	for _, dir := range dirs {
		if dir != "" {
			v.AddConfigPath(dir)
		}
	}
	return &ViperProvider{v: v, dirs: dirs}
}

// NewViperProviderFromFile reads one explicit config file
func NewViperProviderFromFile(path string) *ViperProvider {
	v := viper.New()
	v.SetConfigFile(path)
	return &ViperProvider{v: v}
}

func (p *ViperProvider) load() {
	p.once.Do(func() {
		if len(p.dirs) == 0 && p.v.ConfigFileUsed() == "" {
			return
		}
		if err := p.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return
			}
			p.err = fmt.Errorf("failed to read config file: %w", err)
			return
		}
		p.found = true
	})
}

// GetSecret returns the value for key, or an empty string when the file
// does not set it
func (p *ViperProvider) GetSecret(ctx context.Context, key string) (string, error) {
	p.load()
	if p.err != nil {
		return "", p.err
	}
	if !p.found {
		return "", nil
	}

	flat := strings.ToLower(key)
	if p.v.IsSet(flat) {
		return p.v.GetString(flat), nil
	}

	// DB_POOL_SIZE -> db.pool_size
	if i := strings.Index(flat, "_"); i > 0 {
		nested := flat[:i] + "." + flat[i+1:]
		if p.v.IsSet(nested) {
			return p.v.GetString(nested), nil
		}
	}
	return "", nil
}

// Name returns the provider name
func (p *ViperProvider) Name() string {
	return "viper"
}

// IsAvailable reports whether a config file was found and parsed
func (p *ViperProvider) IsAvailable(ctx context.Context) bool {
	p.load()
	return p.found
}

// ConfigFile returns the path of the file in use, if any
func (p *ViperProvider) ConfigFile() string {
	p.load()
	if !p.found {
		return ""
	}
	return p.v.ConfigFileUsed()
}
