package config

import (
	"errors"
	"fmt"
	"strings"

	"annolab/internal/identity"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateAuth()
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

func roleNames() string {
	roles := identity.AllRoles()
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	return strings.Join(names, ", ")
}

func (c *Config) validateAuth() error {
	seen := make(map[string]struct{}, len(c.Auth.Tokens))
	for i, token := range c.Auth.Tokens {
		if token.Token == "" {
			return fmt.Errorf("auth.tokens[%d]: token must be set", i)
		}
		if _, dup := seen[token.Token]; dup {
			return errors.New("auth.tokens: duplicate token value")
		}
		seen[token.Token] = struct{}{}
		if token.UserID <= 0 {
			return fmt.Errorf("auth.tokens[%d]: user_id must be positive", i)
		}
		if _, ok := identity.ParseRole(token.Role); !ok {
			return fmt.Errorf("auth.tokens[%d]: unknown role %q (valid: %s)", i, token.Role, roleNames())
		}
	}
	return nil
}
