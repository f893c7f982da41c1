package auth

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the inputs for a session: which provider to talk to, where
// it redirects back, and optionally a static client identity that skips
// dynamic registration.
type Config struct {
	Issuer       string   `yaml:"issuer"`
	RedirectURI  string   `yaml:"redirect_uri"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
	StateDir     string   `yaml:"state_dir"`
}

// DefaultScopes is used when the configuration names none.
var DefaultScopes = []string{"openid", "profile"}

// LoadConfig reads a YAML config file and applies environment overrides.
// An empty path skips the file and uses environment and defaults only.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if len(cfg.Scopes) == 0 {
		cfg.Scopes = append([]string(nil), DefaultScopes...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from OIDCFLOW_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("OIDCFLOW_ISSUER"); v != "" {
		c.Issuer = v
	}
	if v := os.Getenv("OIDCFLOW_REDIRECT_URI"); v != "" {
		c.RedirectURI = v
	}
	if v := os.Getenv("OIDCFLOW_CLIENT_ID"); v != "" {
		c.ClientID = v
	}
	if v := os.Getenv("OIDCFLOW_CLIENT_SECRET"); v != "" {
		c.ClientSecret = v
	}
	if v := os.Getenv("OIDCFLOW_SCOPES"); v != "" {
		c.Scopes = strings.Fields(v)
	}
	if v := os.Getenv("OIDCFLOW_STATE_DIR"); v != "" {
		c.StateDir = v
	}
}

// Validate checks that the required fields are present.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("redirect_uri is required")
	}
	return nil
}

// UseDynamicRegistration reports whether the client must register itself:
// no static client ID was configured.
func (c *Config) UseDynamicRegistration() bool {
	return c.ClientID == ""
}
