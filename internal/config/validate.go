package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"grimm.is/toggled/internal/logging"
	"grimm.is/toggled/internal/toggle"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.PollInterval != "" {
		if d, err := time.ParseDuration(c.PollInterval); err != nil {
			add("poll_interval", "invalid duration %q", c.PollInterval)
		} else if d < time.Second {
			add("poll_interval", "must be at least 1s, got %s", d)
		}
	}

	switch {
	case c.Router == nil && c.Simulator == nil:
		add("router", "a router or simulator block is required")
	case c.Router != nil && c.Simulator != nil:
		add("simulator", "cannot be combined with a router block")
	}

	if r := c.Router; r != nil {
		if r.Address == "" {
			add("router.address", "is required")
		}
		if r.Username == "" {
			add("router.username", "is required")
		}
		if r.Timeout != "" {
			if _, err := time.ParseDuration(r.Timeout); err != nil {
				add("router.timeout", "invalid duration %q", r.Timeout)
			}
		}
		if fp := strings.ReplaceAll(r.Fingerprint, ":", ""); fp != "" && len(fp) != 64 {
			add("router.fingerprint", "must be a SHA-256 hex digest")
		}
	}
	if c.Simulator != nil && c.Simulator.Fixture == "" {
		add("simulator.fixture", "is required")
	}

	for _, name := range c.Entities {
		if _, ok := toggle.LookupType(name); !ok {
			add("entities", "unknown type %q (known: %s)", name, strings.Join(toggle.TypeNames(), ", "))
		}
	}

	if c.API != nil && c.API.Listen != "" {
		if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
			add("api.listen", "invalid address %q", c.API.Listen)
		}
	}
	if c.API != nil && c.API.APIKeyHash != "" {
		if c.API.APIKey != "" {
			add("api.api_key_hash", "cannot be combined with api_key")
		}
		if _, err := bcrypt.Cost([]byte(c.API.APIKeyHash)); err != nil {
			add("api.api_key_hash", "not a bcrypt hash: %v", err)
		}
	}

	if _, err := c.API.TrustedProxyPrefixes(); err != nil {
		add("api.trusted_proxies", "%v", err)
	}

	if c.Audit != nil && c.Audit.RetentionDays < 0 {
		add("audit.retention_days", "must not be negative")
	}

	seen := make(map[string]bool)
	for _, n := range c.Notify {
		field := "notify." + n.Name
		if seen[n.Name] {
			add(field, "duplicate channel name")
		}
		seen[n.Name] = true
		switch n.Type {
		case "webhook", "slack", "discord":
		case "ntfy":
			if n.Topic == "" {
				add(field+".topic", "is required for ntfy")
			}
		default:
			add(field+".type", "unknown type %q (known: webhook, slack, discord, ntfy)", n.Type)
		}
		if u, err := url.Parse(n.URL); err != nil || u.Scheme == "" || u.Host == "" {
			add(field+".url", "invalid URL %q", n.URL)
		}
		switch n.Level {
		case "", "info", "warning", "critical":
		default:
			add(field+".level", "unknown level %q", n.Level)
		}
	}

	if c.Logging != nil && c.Logging.Level != "" {
		if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
			add("logging.level", "%v", err)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
