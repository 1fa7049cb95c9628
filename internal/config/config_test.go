package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInitialize(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if v == nil {
		t.Fatal("viper instance is nil after Initialize()")
	}
}

func TestDefaults(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	tests := []struct {
		key      string
		expected interface{}
		getter   func(string) interface{}
	}{
		{KeyJSON, false, func(k string) interface{} { return GetBool(k) }},
		{KeyLogLevel, "info", func(k string) interface{} { return GetString(k) }},
		{KeyEngineSalt, "tminus", func(k string) interface{} { return GetString(k) }},
		{KeyEngineHoldTTL, 10 * time.Minute, func(k string) interface{} { return GetDuration(k) }},
		{KeyEngineHighWatermark, 512, func(k string) interface{} { return GetInt(k) }},
		{KeyEngineLowWatermark, 128, func(k string) interface{} { return GetInt(k) }},
		{KeyWriterMaxAttempts, 8, func(k string) interface{} { return GetInt(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := tt.getter(tt.key)
			if got != tt.expected {
				t.Errorf("GetXXX(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestEnvironmentBinding(t *testing.T) {
	tests := []struct {
		envVar   string
		key      string
		value    string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"TMINUS_JSON", KeyJSON, "true", true, func(k string) interface{} { return GetBool(k) }},
		{"TMINUS_LOG_LEVEL", KeyLogLevel, "debug", "debug", func(k string) interface{} { return GetString(k) }},
		{"TMINUS_ENGINE_SALT", KeyEngineSalt, "pepper", "pepper", func(k string) interface{} { return GetString(k) }},
		{"TMINUS_ENGINE_HOLD_TTL", KeyEngineHoldTTL, "5m", 5 * time.Minute, func(k string) interface{} { return GetDuration(k) }},
		{"TMINUS_ENGINE_HIGH_WATERMARK", KeyEngineHighWatermark, "64", 64, func(k string) interface{} { return GetInt(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.envVar, func(t *testing.T) {
			t.Setenv(tt.envVar, tt.value)

			if err := Initialize(); err != nil {
				t.Fatalf("Initialize() returned error: %v", err)
			}
			got := tt.getter(tt.key)
			if got != tt.expected {
				t.Errorf("GetXXX(%q) with %s=%s = %v, want %v", tt.key, tt.envVar, tt.value, got, tt.expected)
			}
		})
	}
}

func TestConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
log-level: warn
engine:
  salt: filesalt
  mailbox-size: 32
`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("TMINUS_HOME", tmpDir)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	if got := GetString(KeyLogLevel); got != "warn" {
		t.Errorf("log-level = %q, want warn", got)
	}
	if got := GetString(KeyEngineSalt); got != "filesalt" {
		t.Errorf("engine.salt = %q, want filesalt", got)
	}
	if got := GetInt(KeyEngineMailboxSize); got != 32 {
		t.Errorf("engine.mailbox-size = %d, want 32", got)
	}
	// Defaults still fill unset keys.
	if got := GetInt(KeyEngineHighWatermark); got != 512 {
		t.Errorf("engine.high-watermark = %d, want 512", got)
	}
}

func TestUserDBPath(t *testing.T) {
	t.Setenv("TMINUS_HOME", "/srv/tminus")
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	got := UserDBPath("u_123")
	want := filepath.Join("/srv/tminus", "users", "u_123.db")
	if got != want {
		t.Errorf("UserDBPath = %q, want %q", got, want)
	}
}

func TestNilSafety(t *testing.T) {
	saved := v
	v = nil
	defer func() { v = saved }()

	if got := GetString(KeyLogLevel); got != "" {
		t.Errorf("GetString with nil viper = %q, want \"\"", got)
	}
	if got := GetBool(KeyJSON); got != false {
		t.Errorf("GetBool with nil viper = %v, want false", got)
	}
	if got := GetInt(KeyEngineHighWatermark); got != 0 {
		t.Errorf("GetInt with nil viper = %d, want 0", got)
	}
	if got := GetDuration(KeyEngineHoldTTL); got != 0 {
		t.Errorf("GetDuration with nil viper = %v, want 0", got)
	}
	if got := AllSettings(); len(got) != 0 {
		t.Errorf("AllSettings with nil viper = %v, want empty map", got)
	}
}
