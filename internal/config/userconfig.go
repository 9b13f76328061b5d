package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// UserConfig represents ~/.sandworm/config.yaml.
type UserConfig struct {
	CurrentProfile string                 `yaml:"current-profile"`
	Profiles       map[string]UserProfile `yaml:"profiles"`
}

// UserProfile is one named set of CLI defaults.
type UserProfile struct {
	APIKey  string `yaml:"api-key,omitempty"`
	BaseURL string `yaml:"base-url,omitempty"`
	Output  string `yaml:"output,omitempty"`
}

// ActiveProfile returns the named profile, or current-profile when name is
// empty. Unknown names yield an empty profile.
func (c *UserConfig) ActiveProfile(name string) UserProfile {
	if c == nil {
		return UserProfile{}
	}
	if name == "" {
		name = c.CurrentProfile
	}
	return c.Profiles[name]
}

func DefaultUserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sandworm", "config.yaml")
}

// LoadUserConfig reads path. A missing file is an empty config.
func LoadUserConfig(path string) (*UserConfig, error) {
	cfg := &UserConfig{Profiles: map[string]UserProfile{}}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse user config %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]UserProfile{}
	}
	return cfg, nil
}

func SaveUserConfig(path string, cfg *UserConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal user config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ApplyUserProfile fills API settings from profile. Values set through the
// environment win over the file.
func ApplyUserProfile(cfg *Config, profile UserProfile, lookup LookupFunc) error {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	if profile.APIKey != "" && !isSet(lookup, "SANDWORM_API_KEY", "DUNE_API_KEY") {
		cfg.API.Key = profile.APIKey
	}
	if profile.BaseURL != "" && !isSet(lookup, "SANDWORM_BASE_URL") {
		cfg.API.BaseURL = profile.BaseURL
	}
	if profile.Output != "" && !isSet(lookup, "SANDWORM_OUTPUT") {
		switch profile.Output {
		case "json", "csv":
			cfg.API.Output = profile.Output
		default:
			return fmt.Errorf("invalid profile output: %q", profile.Output)
		}
	}
	return nil
}

// isSet reports whether any of keys holds a non-blank value.
func isSet(lookup LookupFunc, keys ...string) bool {
	for _, key := range keys {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			return true
		}
	}
	return false
}
