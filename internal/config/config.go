// Package config holds daemon-level settings: where user databases live, how
// aggressively the writer retries, and the actor tuning knobs. Values resolve
// in viper's usual order: explicit flag, TMINUS_* environment variable,
// config.yaml, built-in default.
//
// Per-user state (constraints, policy edges, relationships) never lives here;
// it belongs to the user's own database.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config keys. Nested keys use dots in yaml and underscores in env vars
// (engine.hold-ttl <-> TMINUS_ENGINE_HOLD_TTL).
const (
	KeyDataDir  = "data-dir"
	KeyLogFile  = "log-file"
	KeyLogLevel = "log-level"
	KeyJSON     = "json"

	KeyEngineSalt           = "engine.salt"
	KeyEngineHoldTTL        = "engine.hold-ttl"
	KeyEngineSweepInterval  = "engine.sweep-interval"
	KeyEngineHighWatermark  = "engine.high-watermark"
	KeyEngineLowWatermark   = "engine.low-watermark"
	KeyEngineRetryAfter     = "engine.retry-after"
	KeyEngineMailboxSize    = "engine.mailbox-size"
	KeyEngineForeignMarkers = "engine.foreign-markers"

	KeyWriterWorkers     = "writer.workers"
	KeyWriterMaxAttempts = "writer.max-attempts"

	KeyOtelEnabled = "otel.enabled"
	KeyOtelStdout  = "otel.stdout"
)

var v *viper.Viper

// Initialize builds the viper instance: defaults, then config.yaml from the
// tminus home directory (if present), then TMINUS_* environment variables.
// Safe to call repeatedly; tests rely on that for isolation.
func Initialize() error {
	nv := viper.New()

	nv.SetDefault(KeyDataDir, defaultDataDir())
	nv.SetDefault(KeyLogFile, "")
	nv.SetDefault(KeyLogLevel, "info")
	nv.SetDefault(KeyJSON, false)

	nv.SetDefault(KeyEngineSalt, "tminus")
	nv.SetDefault(KeyEngineHoldTTL, 10*time.Minute)
	nv.SetDefault(KeyEngineSweepInterval, time.Minute)
	nv.SetDefault(KeyEngineHighWatermark, 512)
	nv.SetDefault(KeyEngineLowWatermark, 128)
	nv.SetDefault(KeyEngineRetryAfter, 30*time.Second)
	nv.SetDefault(KeyEngineMailboxSize, 256)
	nv.SetDefault(KeyEngineForeignMarkers, []string{})

	nv.SetDefault(KeyWriterWorkers, 4)
	nv.SetDefault(KeyWriterMaxAttempts, 8)

	nv.SetDefault(KeyOtelEnabled, false)
	nv.SetDefault(KeyOtelStdout, false)

	nv.SetEnvPrefix("TMINUS")
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()

	nv.SetConfigName("config")
	nv.SetConfigType("yaml")
	nv.AddConfigPath(Home())
	nv.AddConfigPath(".")
	if err := nv.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("config: read config.yaml: %w", err)
		}
	}

	v = nv
	return nil
}

// Home returns the tminus home directory (TMINUS_HOME or ~/.tminus).
func Home() string {
	if h := os.Getenv("TMINUS_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tminus"
	}
	return filepath.Join(home, ".tminus")
}

func defaultDataDir() string {
	return filepath.Join(Home(), "users")
}

// UserDBPath returns the database path for one user id under data-dir.
func UserDBPath(userID string) string {
	return filepath.Join(GetString(KeyDataDir), userID+".db")
}

// Getters are nil-safe: before Initialize they return zero values, so early
// startup code never panics on config access.

func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

func GetStringSlice(key string) []string {
	if v == nil {
		return nil
	}
	return v.GetStringSlice(key)
}

// Set overrides a value in the live instance (flag binding, tests).
func Set(key string, value any) {
	if v == nil {
		return
	}
	v.Set(key, value)
}

// AllSettings returns the resolved configuration tree.
func AllSettings() map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v.AllSettings()
}
