package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsMatchDeployedApp(t *testing.T) {
	t.Setenv("VENTANA_LINK_DIR", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Secret != 0x5A {
		t.Errorf("Expected secret 0x5A, got %#x", cfg.Secret)
	}
	if cfg.Reconnect().BaseDelay != 3*time.Second {
		t.Errorf("Expected 3s base delay, got %s", cfg.Reconnect().BaseDelay)
	}
	service, control, telemetry := cfg.UUIDs()
	if service.String() != DefaultServiceUUID || control.String() != DefaultControlUUID || telemetry.String() != DefaultTelemetryUUID {
		t.Errorf("Unexpected UUIDs %s %s %s", service, control, telemetry)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ventana.json")
	body := `{"address":"AA:BB:CC:DD:EE:FF","transport":"bluez","max_attempts":3,"reconnect_delay_ms":2000}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VENTANA_MAX_ATTEMPTS", "7")
	t.Setenv("VENTANA_SECRET", "0x33")
	t.Setenv("VENTANA_PROBE_INTERFACE", "wlan0")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Address != "AA:BB:CC:DD:EE:FF" || cfg.Transport != TransportBlueZ {
		t.Errorf("File values not applied: %+v", cfg)
	}
	if cfg.MaxAttempts != 7 {
		t.Errorf("Env should override file, got %d", cfg.MaxAttempts)
	}
	if cfg.ProbeInterface != "wlan0" {
		t.Errorf("Expected probe interface wlan0, got %q", cfg.ProbeInterface)
	}
	if cfg.SecretByte() != 0x33 {
		t.Errorf("Expected secret 0x33, got %#x", cfg.SecretByte())
	}
	if cfg.Reconnect().BaseDelay != 2*time.Second {
		t.Errorf("Expected 2s, got %s", cfg.Reconnect().BaseDelay)
	}
}

func TestMissingFileUsesDefaults(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Fatalf("Missing file should not fail: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad uuid", func(c *Config) { c.ControlUUID = "not-a-uuid" }},
		{"secret range", func(c *Config) { c.Secret = 300 }},
		{"transport", func(c *Config) { c.Transport = "usb" }},
		{"attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"probe interval", func(c *Config) { c.ProbeIntervalMs = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestBadEnvInteger(t *testing.T) {
	t.Setenv("VENTANA_MAX_ATTEMPTS", "lots")
	if _, err := Load(""); err == nil {
		t.Fatal("Expected parse error")
	}
}
