package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// redacted replaces secret values in rendered configuration.
const redacted = "<redacted>"

// Redacted returns a copy of the configuration with credentials masked.
func (c *Config) Redacted() *Config {
	out := *c

	if out.Results.S3.SecretAccessKey != "" {
		out.Results.S3.SecretAccessKey = redacted
	}

	if out.Results.Index.Database.Postgres.Password != "" {
		out.Results.Index.Database.Postgres.Password = redacted
	}

	if len(c.API.Auth.Users) > 0 {
		out.API.Auth.Users = make([]BasicAuthUser, len(c.API.Auth.Users))

		for i, user := range c.API.Auth.Users {
			user.PasswordHash = redacted
			out.API.Auth.Users[i] = user
		}
	}

	return &out
}

// Dump renders the effective configuration as YAML with credentials
// masked. The output can be fed back to Load.
func (c *Config) Dump() ([]byte, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}

	return data, nil
}
