package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, int64(100_000_000), cfg.Registry.CreationFee)
	assert.Equal(t, 30, cfg.Registry.RoyaltyPercent)
	assert.Equal(t, "@every 1m", cfg.Registry.ReportSchedule)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 9090
registry:
  mint_fee: 123
  system_owner: treasury
rate_limit:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(123), cfg.Registry.MintFee)
	assert.Equal(t, "treasury", cfg.Registry.SystemOwner)
	assert.False(t, cfg.RateLimit.Enabled)
	// Untouched sections keep their defaults.
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "avatar-layer-v1", cfg.Registry.ImplementationID)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AVATAR_LAYER_PORT", "7070")
	t.Setenv("AVATAR_LAYER_DB_DSN", "postgres://db/avatars")
	t.Setenv("AVATAR_LAYER_SALT", "deployment-salt")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres://db/avatars", cfg.Database.DSN)
	assert.Equal(t, "deployment-salt", cfg.Registry.Salt)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Server.Port = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Registry.RoyaltyPercent = 101
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Registry.SystemOwner = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Registry.Salt = ""
	assert.Error(t, bad.Validate())
}
