package config

import (
	"fmt"
	"time"
)

const (
	// DefaultAPIListen is the default listen address of the API server.
	DefaultAPIListen = ":9480"

	// DefaultRateLimitPerMinute is the default per-IP request budget.
	DefaultRateLimitPerMinute = 120

	// DefaultIndexInterval is how often stored reports are scanned for
	// runs missing from the index.
	DefaultIndexInterval = 60 * time.Second
)

// APIConfig contains the settings of the run-history API server.
type APIConfig struct {
	Listen        string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins   []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit     RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	Auth          APIAuthConfig   `yaml:"auth,omitempty" mapstructure:"auth"`
	IndexInterval time.Duration   `yaml:"index_interval" mapstructure:"index_interval"`
}

// RateLimitConfig contains per-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig contains HTTP basic authentication settings. When no users
// are configured the API is served without authentication.
type APIAuthConfig struct {
	Users []BasicAuthUser `yaml:"users,omitempty" mapstructure:"users"`
}

// BasicAuthUser is a user allowed to access the API. PasswordHash is a
// bcrypt hash.
type BasicAuthUser struct {
	Username     string `yaml:"username" mapstructure:"username"`
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash"`
}

// ValidateAPI checks the settings needed to serve the API.
func (c *Config) ValidateAPI() error {
	if c.API.Listen == "" {
		return fmt.Errorf("api: listen address is required")
	}

	if c.API.IndexInterval <= 0 {
		return fmt.Errorf("api: index_interval must be positive")
	}

	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("api.rate_limit: requests_per_minute must be positive")
	}

	seen := make(map[string]struct{}, len(c.API.Auth.Users))

	for i, user := range c.API.Auth.Users {
		if user.Username == "" {
			return fmt.Errorf("api.auth: user %d: username is required", i)
		}

		if _, exists := seen[user.Username]; exists {
			return fmt.Errorf("api.auth: duplicate user %q", user.Username)
		}

		seen[user.Username] = struct{}{}

		if user.PasswordHash == "" {
			return fmt.Errorf("api.auth: user %q: password_hash is required", user.Username)
		}
	}

	if !c.Results.Index.Enabled {
		return fmt.Errorf("api: results.index must be enabled to serve run history")
	}

	return c.Results.Index.Database.Validate()
}
