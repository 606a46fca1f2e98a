// Package config loads the daemon's HCL configuration.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"grimm.is/toggled/internal/brand"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultPollInterval  = 30 * time.Second
	DefaultRouterTimeout = 10 * time.Second
	DefaultListen        = "127.0.0.1:8089"
	DefaultLogLevel      = "info"
	DefaultRateLimit     = 30
)

// Config is the top-level configuration.
type Config struct {
	// How often the router is polled, as a Go duration ("30s").
	PollInterval string `hcl:"poll_interval,optional" json:"poll_interval,omitempty"`

	// Entity types to expose. Empty exposes every built-in type.
	Entities []string `hcl:"entities,optional" json:"entities,omitempty"`

	Router    *RouterConfig    `hcl:"router,block" json:"router,omitempty"`
	Simulator *SimulatorConfig `hcl:"simulator,block" json:"simulator,omitempty"`
	API       *APIConfig       `hcl:"api,block" json:"api,omitempty"`
	Audit     *AuditConfig     `hcl:"audit,block" json:"audit,omitempty"`
	Logging   *LoggingConfig   `hcl:"logging,block" json:"logging,omitempty"`
	Notify    []NotifyConfig   `hcl:"notify,block" json:"notify,omitempty"`
}

// RouterConfig addresses the RouterOS REST API.
type RouterConfig struct {
	Address     string `hcl:"address" json:"address"`
	Username    string `hcl:"username" json:"username"`
	Password    string `hcl:"password,optional" json:"-"`
	InsecureTLS bool   `hcl:"insecure_tls,optional" json:"insecure_tls,omitempty"`
	// SHA-256 of the router certificate, hex, colons allowed.
	Fingerprint string `hcl:"fingerprint,optional" json:"fingerprint,omitempty"`
	Timeout     string `hcl:"timeout,optional" json:"timeout,omitempty"`
}

// SimulatorConfig replaces the router with an in-memory device loaded
// from a YAML fixture.
type SimulatorConfig struct {
	Fixture string `hcl:"fixture" json:"fixture"`
}

// APIConfig configures the HTTP API. It is enabled unless Enabled is
// explicitly false.
type APIConfig struct {
	Enabled *bool  `hcl:"enabled,optional" json:"enabled,omitempty"`
	Listen  string `hcl:"listen,optional" json:"listen,omitempty"`

	// When set, toggle requests must carry it in X-API-Key.
	APIKey string `hcl:"api_key,optional" json:"-"`

	// bcrypt hash of the API key, as printed by "toggled hash-key".
	APIKeyHash string `hcl:"api_key_hash,optional" json:"-"`

	// Toggle requests allowed per client per minute. Negative disables.
	RateLimit int `hcl:"rate_limit,optional" json:"rate_limit,omitempty"`

	// Peers whose X-Forwarded-For and X-Real-IP headers are believed, as
	// addresses or CIDR prefixes. Other peers are keyed on their own address.
	TrustedProxies []string `hcl:"trusted_proxies,optional" json:"trusted_proxies,omitempty"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a
// single-host prefix.
func (a *APIConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	if a == nil {
		return nil, nil
	}
	out := make([]netip.Prefix, 0, len(a.TrustedProxies))
	for _, entry := range a.TrustedProxies {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled       bool   `hcl:"enabled,optional" json:"enabled"`
	Path          string `hcl:"path,optional" json:"path,omitempty"`
	RetentionDays int    `hcl:"retention_days,optional" json:"retention_days,omitempty"`
}

// NotifyConfig is one outbound notification channel. Type is webhook,
// slack, discord or ntfy; ntfy appends Topic to URL. Level is the minimum
// level sent: info, warning or critical.
type NotifyConfig struct {
	Name    string            `hcl:"name,label" json:"name"`
	Type    string            `hcl:"type" json:"type"`
	URL     string            `hcl:"url" json:"url"`
	Topic   string            `hcl:"topic,optional" json:"topic,omitempty"`
	Level   string            `hcl:"level,optional" json:"level,omitempty"`
	Headers map[string]string `hcl:"headers,optional" json:"headers,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `hcl:"level,optional" json:"level,omitempty"`
	JSON  bool   `hcl:"json,optional" json:"json,omitempty"`
}

// ApplyDefaults fills unset optional values in place.
func (c *Config) ApplyDefaults() {
	if c.PollInterval == "" {
		c.PollInterval = DefaultPollInterval.String()
	}
	if c.Router != nil && c.Router.Timeout == "" {
		c.Router.Timeout = DefaultRouterTimeout.String()
	}
	if c.API == nil {
		c.API = &APIConfig{}
	}
	if c.API.Listen == "" {
		c.API.Listen = DefaultListen
	}
	if c.API.RateLimit == 0 {
		c.API.RateLimit = DefaultRateLimit
	}
	if c.Audit != nil && c.Audit.Path == "" {
		c.Audit.Path = brand.AuditPath()
	}
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}

// Interval returns the parsed poll interval.
func (c *Config) Interval() time.Duration {
	return parseDuration(c.PollInterval, DefaultPollInterval)
}

// RouterTimeout returns the parsed router timeout.
func (c *Config) RouterTimeout() time.Duration {
	if c.Router == nil {
		return DefaultRouterTimeout
	}
	return parseDuration(c.Router.Timeout, DefaultRouterTimeout)
}

// APIEnabled reports whether the HTTP API should be served.
func (c *Config) APIEnabled() bool {
	return c.API == nil || c.API.Enabled == nil || *c.API.Enabled
}

// AuditEnabled reports whether toggle attempts are persisted.
func (c *Config) AuditEnabled() bool {
	return c.Audit != nil && c.Audit.Enabled
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
