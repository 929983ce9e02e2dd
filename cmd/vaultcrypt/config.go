package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rendis/vaultcrypt/internal/validation"
)

// Config holds all vaultcrypt configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath             string   `json:"db_path"`
	LogLevel           string   `json:"log_level"`
	KDFWorkers         int      `json:"kdf_workers"`
	DefaultVaultID     string   `json:"default_vault_id"`
	AuditRetention     Duration `json:"audit_retention"`
	AuditPruneSchedule string   `json:"audit_prune_schedule"`

	// MasterPassword unlocks the password store. Env only, never persisted.
	MasterPassword string `json:"-"`
}

// Duration is a time.Duration that reads and writes as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func defaultConfig() Config {
	return Config{
		DBPath:             filepath.Join(vaultcryptDir(), "vaultcrypt.db"),
		LogLevel:           "info",
		DefaultVaultID:     "default",
		AuditRetention:     Duration(720 * time.Hour),
		AuditPruneSchedule: "@daily",
	}
}

func vaultcryptDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vaultcrypt"
	}
	return filepath.Join(home, ".vaultcrypt")
}

func settingsPath() string {
	return filepath.Join(vaultcryptDir(), "settings.json")
}

// loadConfig layers settings.json and env vars over the defaults. Problems
// are returned as warnings: an invalid settings file or env value is skipped,
// never fatal.
func loadConfig(v validation.Validator) (Config, []string) {
	cfg := defaultConfig()
	var warnings []string

	// Layer 2: settings.json (ignore if missing, skip if invalid).
	path := settingsPath()
	if data, err := os.ReadFile(path); err == nil {
		if err := v.ValidateSettings(data); err != nil {
			warnings = append(warnings, fmt.Sprintf("ignoring %s: %v", path, err))
		} else {
			next := cfg
			if err := json.Unmarshal(data, &next); err != nil {
				warnings = append(warnings, fmt.Sprintf("ignoring %s: %v", path, err))
			} else {
				cfg = next
			}
		}
	}

	// Layer 3: env vars override.
	if v := os.Getenv("VAULTCRYPT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("VAULTCRYPT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("VAULTCRYPT_KDF_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.KDFWorkers = n
		} else {
			warnings = append(warnings, fmt.Sprintf("ignoring VAULTCRYPT_KDF_WORKERS=%q: not a positive integer", v))
		}
	}
	if v := os.Getenv("VAULTCRYPT_DEFAULT_VAULT_ID"); v != "" {
		cfg.DefaultVaultID = v
	}
	if v := os.Getenv("VAULTCRYPT_AUDIT_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.AuditRetention = Duration(d)
		} else {
			warnings = append(warnings, fmt.Sprintf("ignoring VAULTCRYPT_AUDIT_RETENTION=%q: not a positive duration", v))
		}
	}
	if v := os.Getenv("VAULTCRYPT_AUDIT_PRUNE_SCHEDULE"); v != "" {
		cfg.AuditPruneSchedule = v
	}
	cfg.MasterPassword = os.Getenv("VAULTCRYPT_MASTER_PASSWORD")

	return cfg, warnings
}
