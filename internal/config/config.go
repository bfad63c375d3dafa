// Package config loads device settings from defaults, an optional YAML file,
// an optional .env file and TRACE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRACE_"

// Config is the device configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Storage StorageConfig `yaml:"storage"`
	Device  DeviceConfig  `yaml:"device"`
	Log     LogConfig     `yaml:"log"`
	// MetricsAddr serves /metrics when set.
	MetricsAddr string `yaml:"metricsAddr"`
}

type BackendConfig struct {
	Addr   string `yaml:"addr"`
	CACert string `yaml:"caCert"`
	// Insecure skips certificate verification.
	Insecure bool `yaml:"insecure"`
	// Plaintext disables TLS, for a local stub backend.
	Plaintext bool `yaml:"plaintext"`
}

type StorageConfig struct {
	// DSN selects Postgres repositories; empty keeps state in memory.
	DSN string `yaml:"dsn"`
	// Passphrase seals key material at rest. Required with a DSN.
	Passphrase string `yaml:"passphrase"`
}

type DeviceConfig struct {
	Type            int           `yaml:"type"`
	PollInterval    time.Duration `yaml:"pollInterval"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	DailyKeyRefresh time.Duration `yaml:"dailyKeyRefresh"`
	WakeBudget      time.Duration `yaml:"wakeBudget"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dev   bool   `yaml:"dev"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Backend: BackendConfig{Addr: "localhost:8443"},
		Device: DeviceConfig{
			Type:            0,
			PollInterval:    30 * time.Second,
			RetryDelay:      time.Second,
			DailyKeyRefresh: 12 * time.Hour,
			WakeBudget:      25 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Options tells Load where to look.
type Options struct {
	// File is a YAML file. A missing file is an error when set.
	File string
	// EnvFile is a .env file. A missing file is ignored.
	EnvFile string
	// Lookup reads the environment; os.LookupEnv when nil.
	Lookup func(string) (string, bool)
}

// Load builds the configuration. Values from the process environment win
// over the .env file.
func Load(opts Options) (Config, error) {
	cfg := Default()

	if opts.File != "" {
		raw, err := os.ReadFile(opts.File)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", opts.File, err)
		}
	}

	dotenv := map[string]string{}
	if opts.EnvFile != "" {
		m, err := godotenv.Read(opts.EnvFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read %s: %w", opts.EnvFile, err)
		}
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			return strings.TrimSpace(v), true
		}
		v, ok := dotenv[EnvPrefix+key]
		return strings.TrimSpace(v), ok
	}

	if err := applyEnv(&cfg, env); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, env func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := env(key); ok {
			*dst = v
		}
	}
	str("BACKEND_ADDR", &cfg.Backend.Addr)
	str("BACKEND_CA_CERT", &cfg.Backend.CACert)
	str("DB_DSN", &cfg.Storage.DSN)
	str("STORAGE_PASSPHRASE", &cfg.Storage.Passphrase)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("METRICS_ADDR", &cfg.MetricsAddr)

	flags := []struct {
		key string
		dst *bool
	}{
		{"BACKEND_INSECURE", &cfg.Backend.Insecure},
		{"BACKEND_PLAINTEXT", &cfg.Backend.Plaintext},
		{"LOG_DEV", &cfg.Log.Dev},
	}
	for _, f := range flags {
		v, ok := env(f.key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, f.key, err)
		}
		*f.dst = b
	}
	if v, ok := env("DEVICE_TYPE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sDEVICE_TYPE: %w", EnvPrefix, err)
		}
		cfg.Device.Type = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"POLL_INTERVAL", &cfg.Device.PollInterval},
		{"RETRY_DELAY", &cfg.Device.RetryDelay},
		{"DAILY_KEY_REFRESH", &cfg.Device.DailyKeyRefresh},
		{"WAKE_BUDGET", &cfg.Device.WakeBudget},
	}
	for _, d := range durations {
		v, ok := env(d.key)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Backend.Addr == "":
		return errors.New("backend.addr: required")
	case c.Device.Type < 0 || c.Device.Type > 2:
		return fmt.Errorf("device.type: %d is not one of 0 (ios), 1 (android), 2 (static)", c.Device.Type)
	case c.Device.PollInterval <= 0:
		return errors.New("device.pollInterval: must be positive")
	case c.Device.RetryDelay <= 0:
		return errors.New("device.retryDelay: must be positive")
	case c.Device.DailyKeyRefresh <= 0:
		return errors.New("device.dailyKeyRefresh: must be positive")
	case c.Device.WakeBudget <= 0:
		return errors.New("device.wakeBudget: must be positive")
	case c.Storage.DSN != "" && c.Storage.Passphrase == "":
		return errors.New("storage.passphrase: required with storage.dsn")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	return nil
}
