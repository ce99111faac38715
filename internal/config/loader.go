package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreKind selects the concrete store behind the gateway.
type StoreKind string

const (
	StoreLocal       StoreKind = "local"
	StoreEmbeddedSQL StoreKind = "embedded-sql"
	StoreHostedA     StoreKind = "hosted-a"
	StoreHostedB     StoreKind = "hosted-b"
	StoreHostedC     StoreKind = "hosted-c"
)

// Valid reports whether k is a known store kind.
func (k StoreKind) Valid() bool {
	switch k {
	case StoreLocal, StoreEmbeddedSQL, StoreHostedA, StoreHostedB, StoreHostedC:
		return true
	}
	return false
}

// Hosted reports whether k is shared between devices.
func (k StoreKind) Hosted() bool {
	return k == StoreHostedA || k == StoreHostedB || k == StoreHostedC
}

// Backend is the backend binding. It may be read from a YAML file and is
// overridden field by field by the environment.
type Backend struct {
	Store    StoreKind `yaml:"store"`
	Endpoint string    `yaml:"endpoint"`
	APIKey   string    `yaml:"apiKey"`
	Table    string    `yaml:"table"`
	Region   string    `yaml:"region"`
	Prefix   string    `yaml:"prefix"`
}

// Config captures environment driven configuration values for the check-in service.
type Config struct {
	HTTPPort          int
	DataDir           string
	DeviceID          string
	Backend           Backend
	ProbeTimeout      time.Duration
	SyncInterval      time.Duration
	AdminPasswordHash string
	LogLevel          slog.Level
}

// Load parses configuration values from the current process environment.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Config{
		HTTPPort:     8080,
		DataDir:      "data",
		Backend:      Backend{Store: StoreLocal},
		ProbeTimeout: 3 * time.Second,
		SyncInterval: 2 * time.Second,
		LogLevel:     slog.LevelInfo,
	}

	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 2)
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	if path := env("CHECKIN_BACKEND_FILE"); path != "" {
		backend, err := readBackendFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg.Backend = backend
	}

	if portValue := env("CHECKIN_HTTP_PORT"); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "CHECKIN_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dir := env("CHECKIN_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	cfg.DeviceID = env("CHECKIN_DEVICE_ID")

	for key, field := range map[string]*string{
		"CHECKIN_ENDPOINT": &cfg.Backend.Endpoint,
		"CHECKIN_API_KEY":  &cfg.Backend.APIKey,
		"CHECKIN_TABLE":    &cfg.Backend.Table,
		"CHECKIN_REGION":   &cfg.Backend.Region,
		"CHECKIN_PREFIX":   &cfg.Backend.Prefix,
	} {
		if value := env(key); value != "" {
			*field = value
		}
	}
	if store := env("CHECKIN_STORE"); store != "" {
		cfg.Backend.Store = StoreKind(store)
	}
	if cfg.Backend.Store == "" {
		cfg.Backend.Store = StoreLocal
	}
	if !cfg.Backend.Store.Valid() {
		invalid = append(invalid, "CHECKIN_STORE")
	} else if !cfg.Backend.Placeholder() {
		missing = append(missing, cfg.Backend.missingFields()...)
	}

	for key, field := range map[string]*time.Duration{
		"CHECKIN_PROBE_TIMEOUT": &cfg.ProbeTimeout,
		"CHECKIN_SYNC_INTERVAL": &cfg.SyncInterval,
	} {
		if value := env(key); value != "" {
			d, err := time.ParseDuration(value)
			if err != nil || d <= 0 {
				invalid = append(invalid, key)
			} else {
				*field = d
			}
		}
	}

	if hash := env("CHECKIN_ADMIN_PASSWORD_HASH"); hash == "" {
		missing = append(missing, "CHECKIN_ADMIN_PASSWORD_HASH")
	} else {
		cfg.AdminPasswordHash = hash
	}

	if level := env("CHECKIN_LOG_LEVEL"); level != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
			invalid = append(invalid, "CHECKIN_LOG_LEVEL")
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return Config{}, fmt.Errorf("invalid environment variable values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func readBackendFile(path string) (Backend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Backend{}, fmt.Errorf("read backend file: %w", err)
	}
	var backend Backend
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&backend); err != nil && !errors.Is(err, io.EOF) {
		return Backend{}, fmt.Errorf("parse backend file %s: %w", path, err)
	}
	return backend, nil
}

// missingFields lists the environment variables a hosted store still needs.
func (b Backend) missingFields() []string {
	var out []string
	switch b.Store {
	case StoreHostedA, StoreHostedB:
		if b.Endpoint == "" {
			out = append(out, "CHECKIN_ENDPOINT")
		}
	case StoreHostedC:
		if b.Table == "" {
			out = append(out, "CHECKIN_TABLE")
		}
	}
	return out
}

var placeholderMarkers = []string{"placeholder", "mock-", "mock_", "your-", "your_", "changeme", "example.invalid"}

// IsPlaceholder reports whether value looks like an unfilled credential such
// as "YOUR_API_KEY", "<endpoint>" or "mock-key".
func IsPlaceholder(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return false
	}
	if strings.HasPrefix(v, "<") && strings.HasSuffix(v, ">") {
		return true
	}
	for _, marker := range placeholderMarkers {
		if strings.Contains(v, marker) {
			return true
		}
	}
	return false
}

// Placeholder reports whether a hosted binding carries placeholder values.
func (b Backend) Placeholder() bool {
	if !b.Store.Hosted() {
		return false
	}
	return IsPlaceholder(b.Endpoint) || IsPlaceholder(b.APIKey) || IsPlaceholder(b.Table)
}

// EffectiveStore is the store to use: local whenever placeholders are present.
func (b Backend) EffectiveStore() StoreKind {
	if b.Placeholder() {
		return StoreLocal
	}
	return b.Store
}
