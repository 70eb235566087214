package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the YAML configuration overlay. Only the sections that are
// awkward to express as environment variables live here.
type File struct {
	Providers []CloudProviderConfig `yaml:"providers"`
	Routing   *RoutingFile          `yaml:"routing"`
}

// RoutingFile mirrors RoutingConfig with optional fields so a file can
// override a subset.
type RoutingFile struct {
	DefaultProvider *string  `yaml:"default_provider"`
	DefaultModel    *string  `yaml:"default_model"`
	FallbackOrder   []string `yaml:"fallback_order"`
	MaxAttempts     *int     `yaml:"max_attempts"`
	MockEnabled     *bool    `yaml:"mock_enabled"`
	RequestTimeout  string   `yaml:"request_timeout"`
}

// ReadFile parses the YAML file at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses YAML bytes.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if f.Routing != nil && f.Routing.RequestTimeout != "" {
		if _, err := time.ParseDuration(f.Routing.RequestTimeout); err != nil {
			return nil, fmt.Errorf("invalid routing.request_timeout: %w", err)
		}
	}
	return &f, nil
}

// Apply overlays the file on cfg. Providers listed in the file replace the
// defaults wholesale.
func (f *File) Apply(cfg *Config) {
	if len(f.Providers) > 0 {
		cfg.Provider.Cloud = f.Providers
	}
	if f.Routing != nil {
		cfg.Routing = f.Routing.Merge(cfg.Routing)
		if f.Routing.RequestTimeout != "" {
			d, _ := time.ParseDuration(f.Routing.RequestTimeout)
			cfg.Provider.RequestTimeout = d
		}
	}
}

// Merge returns base with the fields set in r applied.
func (r *RoutingFile) Merge(base RoutingConfig) RoutingConfig {
	out := base
	if r.DefaultProvider != nil {
		out.DefaultProvider = *r.DefaultProvider
	}
	if r.DefaultModel != nil {
		out.DefaultModel = *r.DefaultModel
	}
	if len(r.FallbackOrder) > 0 {
		out.FallbackOrder = append([]string(nil), r.FallbackOrder...)
	}
	if r.MaxAttempts != nil {
		out.MaxAttempts = *r.MaxAttempts
	}
	if r.MockEnabled != nil {
		out.MockEnabled = *r.MockEnabled
	}
	return out
}
