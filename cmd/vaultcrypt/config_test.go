package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/vaultcrypt/internal/validation"
)

var configEnv = []string{
	"VAULTCRYPT_DB_PATH",
	"VAULTCRYPT_LOG_LEVEL",
	"VAULTCRYPT_KDF_WORKERS",
	"VAULTCRYPT_DEFAULT_VAULT_ID",
	"VAULTCRYPT_AUDIT_RETENTION",
	"VAULTCRYPT_AUDIT_PRUNE_SCHEDULE",
	"VAULTCRYPT_MASTER_PASSWORD",
	"VAULTCRYPT_PASSWORD",
}

// isolateHome points HOME at a temp dir and clears vaultcrypt env vars.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range configEnv {
		t.Setenv(k, "")
	}
	return home
}

func writeSettings(t *testing.T, home, content string) {
	t.Helper()
	dir := filepath.Join(home, ".vaultcrypt")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(content), 0o600))
}

func testValidator(t *testing.T) validation.Validator {
	t.Helper()
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func TestLoadConfig_Defaults(t *testing.T) {
	home := isolateHome(t)

	cfg, warnings := loadConfig(testValidator(t))
	assert.Empty(t, warnings)
	assert.Equal(t, filepath.Join(home, ".vaultcrypt", "vaultcrypt.db"), cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Zero(t, cfg.KDFWorkers)
	assert.Equal(t, "default", cfg.DefaultVaultID)
	assert.Equal(t, Duration(720*time.Hour), cfg.AuditRetention)
	assert.Equal(t, "@daily", cfg.AuditPruneSchedule)
	assert.Empty(t, cfg.MasterPassword)
}

func TestLoadConfig_Settings(t *testing.T) {
	home := isolateHome(t)
	writeSettings(t, home, `{
		"db_path": "/srv/vault.db",
		"log_level": "debug",
		"kdf_workers": 3,
		"default_vault_id": "prod",
		"audit_retention": "24h",
		"audit_prune_schedule": "0 3 * * *"
	}`)

	cfg, warnings := loadConfig(testValidator(t))
	assert.Empty(t, warnings)
	assert.Equal(t, "/srv/vault.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.KDFWorkers)
	assert.Equal(t, "prod", cfg.DefaultVaultID)
	assert.Equal(t, Duration(24*time.Hour), cfg.AuditRetention)
	assert.Equal(t, "0 3 * * *", cfg.AuditPruneSchedule)
}

func TestLoadConfig_PartialSettingsKeepDefaults(t *testing.T) {
	home := isolateHome(t)
	writeSettings(t, home, `{"log_level": "warn"}`)

	cfg, warnings := loadConfig(testValidator(t))
	assert.Empty(t, warnings)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "default", cfg.DefaultVaultID)
}

func TestLoadConfig_InvalidSettingsIgnored(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown field", `{"log_level": "debug", "password": "oops"}`},
		{"wrong type", `{"kdf_workers": "four"}`},
		{"not json", `{log_level`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := isolateHome(t)
			writeSettings(t, home, tt.content)

			cfg, warnings := loadConfig(testValidator(t))
			require.Len(t, warnings, 1)
			assert.Contains(t, warnings[0], "settings.json")
			assert.Equal(t, defaultConfig(), cfg)
		})
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	home := isolateHome(t)
	writeSettings(t, home, `{"default_vault_id": "from-file", "log_level": "debug"}`)

	t.Setenv("VAULTCRYPT_DB_PATH", "/tmp/env.db")
	t.Setenv("VAULTCRYPT_DEFAULT_VAULT_ID", "from-env")
	t.Setenv("VAULTCRYPT_KDF_WORKERS", "2")
	t.Setenv("VAULTCRYPT_AUDIT_RETENTION", "90m")
	t.Setenv("VAULTCRYPT_AUDIT_PRUNE_SCHEDULE", "@hourly")
	t.Setenv("VAULTCRYPT_MASTER_PASSWORD", "m")

	cfg, warnings := loadConfig(testValidator(t))
	assert.Empty(t, warnings)
	assert.Equal(t, "/tmp/env.db", cfg.DBPath)
	assert.Equal(t, "from-env", cfg.DefaultVaultID)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2, cfg.KDFWorkers)
	assert.Equal(t, Duration(90*time.Minute), cfg.AuditRetention)
	assert.Equal(t, "@hourly", cfg.AuditPruneSchedule)
	assert.Equal(t, "m", cfg.MasterPassword)
}

func TestLoadConfig_BadEnvValues(t *testing.T) {
	isolateHome(t)
	t.Setenv("VAULTCRYPT_KDF_WORKERS", "-1")
	t.Setenv("VAULTCRYPT_AUDIT_RETENTION", "forever")

	cfg, warnings := loadConfig(testValidator(t))
	assert.Len(t, warnings, 2)
	assert.Zero(t, cfg.KDFWorkers)
	assert.Equal(t, Duration(720*time.Hour), cfg.AuditRetention)
}

func TestDuration_JSON(t *testing.T) {
	b, err := json.Marshal(Duration(36 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, `"36h0m0s"`, string(b))

	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"15m"`), &d))
	assert.Equal(t, Duration(15*time.Minute), d)

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`15`), &d))
}
