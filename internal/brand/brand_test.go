package brand

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	b := Get()
	assert.Equal(t, "Toggled", b.Name)
	assert.Equal(t, "toggled", LowerName)
	assert.Equal(t, "TOGGLED", ConfigEnvPrefix)
	assert.NotEmpty(t, Version)
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "Toggled/1.0.0", UserAgent("1.0.0"))
	assert.Equal(t, "Toggled/dev", UserAgent(""))
}

func TestDirectories(t *testing.T) {
	t.Setenv(ConfigEnvPrefix+"_PREFIX", "")
	t.Setenv(ConfigEnvPrefix+"_CONFIG_DIR", "")
	t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "")

	assert.Equal(t, DefaultConfigDir, GetConfigDir())
	assert.Equal(t, DefaultStateDir, GetStateDir())
	assert.Equal(t, filepath.Join(DefaultConfigDir, "toggled.hcl"), ConfigPath())

	t.Setenv(ConfigEnvPrefix+"_PREFIX", "/opt/toggled")
	assert.Equal(t, "/opt/toggled/config", GetConfigDir())
	assert.Equal(t, "/opt/toggled/state/audit.db", AuditPath())

	t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "/tmp/state")
	assert.Equal(t, "/tmp/state", GetStateDir())
}
