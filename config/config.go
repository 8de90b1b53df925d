// Package config loads the client configuration.
//
// Values come from defaults, then an optional JSON file, then VENTANA_* environment
// variables. Command-line flags are applied by the caller on top of the result.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/user/ventana-link/protocol"
	"github.com/user/ventana-link/reconnect"
	"github.com/user/ventana-link/util"
)

// GATT layout of the deployed window controller
const (
	DefaultServiceUUID   = "12345678-90ab-cdef-1234-567890abcdef"
	DefaultControlUUID   = "abcdef02-1234-5678-90ab-cdef12345678"
	DefaultTelemetryUUID = "abcdef01-1234-5678-90ab-cdef12345678"
)

// Transport names
const (
	TransportSim   = "sim"
	TransportBlueZ = "bluez"
	TransportGoBLE = "goble"
)

const envPrefix = "VENTANA_"

// Config is the full client configuration
type Config struct {
	Address       string `json:"address"`
	ServiceUUID   string `json:"service_uuid"`
	ControlUUID   string `json:"control_uuid"`
	TelemetryUUID string `json:"telemetry_uuid"`
	Secret        int    `json:"secret"`

	MaxAttempts      int `json:"max_attempts"`
	ReconnectDelayMs int `json:"reconnect_delay_ms"`

	Transport string `json:"transport"`
	Adapter   string `json:"adapter"`

	LogLevel     string `json:"log_level"`
	HubAddr      string `json:"hub_addr"`
	DatabasePath string `json:"database_path"`

	RemoteURL       string `json:"remote_url"`
	ProbeHost       string `json:"probe_host"`
	ProbeInterface  string `json:"probe_interface"`
	ProbeIntervalMs int    `json:"probe_interval_ms"`
}

// Default returns the configuration of the deployed app
func Default() *Config {
	rc := reconnect.DefaultConfig()
	return &Config{
		ServiceUUID:      DefaultServiceUUID,
		ControlUUID:      DefaultControlUUID,
		TelemetryUUID:    DefaultTelemetryUUID,
		Secret:           int(protocol.DefaultSecret),
		MaxAttempts:      rc.MaxAttempts,
		ReconnectDelayMs: int(rc.BaseDelay / time.Millisecond),
		Transport:        TransportSim,
		LogLevel:         "INFO",
		DatabasePath:     util.DatabasePath(),
		ProbeHost:        "8.8.8.8",
		ProbeIntervalMs:  10000,
	}
}

// Load reads path (skipped when empty or missing), applies env overrides and validates
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrapf(err, "parse %s", path)
			}
		case os.IsNotExist(err):
		default:
			return nil, errors.Wrapf(err, "read %s", path)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ADDRESS":         &c.Address,
		"SERVICE_UUID":    &c.ServiceUUID,
		"CONTROL_UUID":    &c.ControlUUID,
		"TELEMETRY_UUID":  &c.TelemetryUUID,
		"TRANSPORT":       &c.Transport,
		"ADAPTER":         &c.Adapter,
		"LOG_LEVEL":       &c.LogLevel,
		"HUB_ADDR":        &c.HubAddr,
		"DATABASE_PATH":   &c.DatabasePath,
		"REMOTE_URL":      &c.RemoteURL,
		"PROBE_HOST":      &c.ProbeHost,
		"PROBE_INTERFACE": &c.ProbeInterface,
	}
	for name, dst := range strs {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SECRET":             &c.Secret,
		"MAX_ATTEMPTS":       &c.MaxAttempts,
		"RECONNECT_DELAY_MS": &c.ReconnectDelayMs,
		"PROBE_INTERVAL_MS":  &c.ProbeIntervalMs,
	}
	for name, dst := range ints {
		v, ok := lookup(envPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 0, 64)
		if err != nil {
			return errors.Wrapf(err, "%s%s", envPrefix, name)
		}
		*dst = int(n)
	}
	return nil
}

// Validate checks UUIDs and ranges
func (c *Config) Validate() error {
	for name, s := range map[string]string{
		"service_uuid":   c.ServiceUUID,
		"control_uuid":   c.ControlUUID,
		"telemetry_uuid": c.TelemetryUUID,
	} {
		if _, err := uuid.Parse(s); err != nil {
			return errors.Wrapf(err, "config: %s", name)
		}
	}
	if c.Secret < 0 || c.Secret > 0xFF {
		return errors.Errorf("config: secret %d out of byte range", c.Secret)
	}
	switch c.Transport {
	case TransportSim, TransportBlueZ, TransportGoBLE:
	default:
		return errors.Errorf("config: unknown transport %q", c.Transport)
	}
	if c.ProbeIntervalMs <= 0 {
		return errors.New("config: probe_interval_ms must be positive")
	}
	return errors.Wrap(c.Reconnect().Validate(), "config")
}

// Reconnect returns the backoff policy configuration
func (c *Config) Reconnect() reconnect.Config {
	return reconnect.Config{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   time.Duration(c.ReconnectDelayMs) * time.Millisecond,
	}
}

// ProbeInterval returns how often reachability is checked
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalMs) * time.Millisecond
}

// SecretByte returns the obfuscation key
func (c *Config) SecretByte() byte {
	return byte(c.Secret)
}

// UUIDs returns the parsed service, control and telemetry identifiers. Call after Validate.
func (c *Config) UUIDs() (service, control, telemetry uuid.UUID) {
	return uuid.MustParse(c.ServiceUUID), uuid.MustParse(c.ControlUUID), uuid.MustParse(c.TelemetryUUID)
}
