package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoader_ParseEnvironment(t *testing.T) {
	t.Parallel()

	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		t.Parallel()
		cfg, err := load(envFrom(map[string]string{"CHECKIN_ADMIN_PASSWORD_HASH": "$2a$10$hash"}))
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.HTTPPort)
		assert.Equal(t, "data", cfg.DataDir)
		assert.Equal(t, StoreLocal, cfg.Backend.Store)
		assert.Equal(t, 3*time.Second, cfg.ProbeTimeout)
		assert.Equal(t, 2*time.Second, cfg.SyncInterval)
		assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
		assert.Equal(t, "$2a$10$hash", cfg.AdminPasswordHash)
	})

	t.Run("errors when required values are missing", func(t *testing.T) {
		t.Parallel()
		_, err := load(envFrom(nil))
		require.EqualError(t, err, "required environment variables are not set: CHECKIN_ADMIN_PASSWORD_HASH")
	})

	t.Run("parses numeric, duration and backend fields", func(t *testing.T) {
		t.Parallel()
		cfg, err := load(envFrom(map[string]string{
			"CHECKIN_ADMIN_PASSWORD_HASH": "hash",
			"CHECKIN_HTTP_PORT":           "9090",
			"CHECKIN_DATA_DIR":            "/var/lib/checkin",
			"CHECKIN_DEVICE_ID":           "device_front-desk",
			"CHECKIN_STORE":               "hosted-b",
			"CHECKIN_ENDPOINT":            "redis://cache.internal:6379/0",
			"CHECKIN_API_KEY":             "s3cret",
			"CHECKIN_PREFIX":              "spring",
			"CHECKIN_PROBE_TIMEOUT":       "500ms",
			"CHECKIN_SYNC_INTERVAL":       "5s",
			"CHECKIN_LOG_LEVEL":           "debug",
		}))
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.HTTPPort)
		assert.Equal(t, "/var/lib/checkin", cfg.DataDir)
		assert.Equal(t, "device_front-desk", cfg.DeviceID)
		assert.Equal(t, Backend{Store: StoreHostedB, Endpoint: "redis://cache.internal:6379/0", APIKey: "s3cret", Prefix: "spring"}, cfg.Backend)
		assert.Equal(t, 500*time.Millisecond, cfg.ProbeTimeout)
		assert.Equal(t, 5*time.Second, cfg.SyncInterval)
		assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	})

	t.Run("reports every invalid value", func(t *testing.T) {
		t.Parallel()
		_, err := load(envFrom(map[string]string{
			"CHECKIN_ADMIN_PASSWORD_HASH": "hash",
			"CHECKIN_HTTP_PORT":           "-1",
			"CHECKIN_STORE":               "floppy",
			"CHECKIN_PROBE_TIMEOUT":       "soon",
			"CHECKIN_LOG_LEVEL":           "loud",
		}))
		require.EqualError(t, err, "invalid environment variable values: CHECKIN_HTTP_PORT, CHECKIN_LOG_LEVEL, CHECKIN_PROBE_TIMEOUT, CHECKIN_STORE")
	})

	t.Run("hosted stores require their coordinates", func(t *testing.T) {
		t.Parallel()
		_, err := load(envFrom(map[string]string{"CHECKIN_ADMIN_PASSWORD_HASH": "hash", "CHECKIN_STORE": "hosted-a"}))
		require.EqualError(t, err, "required environment variables are not set: CHECKIN_ENDPOINT")

		_, err = load(envFrom(map[string]string{"CHECKIN_ADMIN_PASSWORD_HASH": "hash", "CHECKIN_STORE": "hosted-c"}))
		require.EqualError(t, err, "required environment variables are not set: CHECKIN_TABLE")
	})
}

func TestLoader_BackendFile(t *testing.T) {
	t.Parallel()

	write := func(t *testing.T, body string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "backend.yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	t.Run("environment overrides the file", func(t *testing.T) {
		t.Parallel()
		path := write(t, "store: hosted-c\ntable: checkin\nregion: eu-west-1\nprefix: spring\n")
		cfg, err := load(envFrom(map[string]string{
			"CHECKIN_ADMIN_PASSWORD_HASH": "hash",
			"CHECKIN_BACKEND_FILE":        path,
			"CHECKIN_REGION":              "us-east-1",
		}))
		require.NoError(t, err)
		assert.Equal(t, Backend{Store: StoreHostedC, Table: "checkin", Region: "us-east-1", Prefix: "spring"}, cfg.Backend)
	})

	t.Run("an empty file keeps the local default", func(t *testing.T) {
		t.Parallel()
		cfg, err := load(envFrom(map[string]string{
			"CHECKIN_ADMIN_PASSWORD_HASH": "hash",
			"CHECKIN_BACKEND_FILE":        write(t, ""),
		}))
		require.NoError(t, err)
		assert.Equal(t, StoreLocal, cfg.Backend.Store)
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		t.Parallel()
		_, err := load(envFrom(map[string]string{
			"CHECKIN_ADMIN_PASSWORD_HASH": "hash",
			"CHECKIN_BACKEND_FILE":        write(t, "store: local\nbucket: nope\n"),
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse backend file")
	})

	t.Run("missing file is an error", func(t *testing.T) {
		t.Parallel()
		_, err := load(envFrom(map[string]string{
			"CHECKIN_ADMIN_PASSWORD_HASH": "hash",
			"CHECKIN_BACKEND_FILE":        filepath.Join(t.TempDir(), "absent.yaml"),
		}))
		require.ErrorContains(t, err, "read backend file")
	})
}

func TestPlaceholderDetection(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"":                         false,
		"redis://cache:6379":       false,
		"YOUR_API_KEY":             true,
		"your-project.example.com": true,
		"mock-key":                 true,
		"<endpoint>":               true,
		"changeme":                 true,
		"https://placeholder.host": true,
	}
	for value, want := range cases {
		assert.Equal(t, want, IsPlaceholder(value), "value %q", value)
	}

	t.Run("placeholders force the local store", func(t *testing.T) {
		t.Parallel()
		cfg, err := load(envFrom(map[string]string{
			"CHECKIN_ADMIN_PASSWORD_HASH": "hash",
			"CHECKIN_STORE":               "hosted-a",
			"CHECKIN_ENDPOINT":            "postgres://YOUR_HOST/checkin",
		}))
		require.NoError(t, err)
		assert.True(t, cfg.Backend.Placeholder())
		assert.Equal(t, StoreLocal, cfg.Backend.EffectiveStore())
	})

	t.Run("local stores are never placeholders", func(t *testing.T) {
		t.Parallel()
		b := Backend{Store: StoreLocal, APIKey: "mock-key"}
		assert.False(t, b.Placeholder())
		assert.Equal(t, StoreLocal, b.EffectiveStore())
	})

	t.Run("hosted placeholders skip the coordinate check", func(t *testing.T) {
		t.Parallel()
		cfg, err := load(envFrom(map[string]string{
			"CHECKIN_ADMIN_PASSWORD_HASH": "hash",
			"CHECKIN_STORE":               "hosted-c",
			"CHECKIN_API_KEY":             "<api-key>",
		}))
		require.NoError(t, err)
		assert.Equal(t, StoreLocal, cfg.Backend.EffectiveStore())
	})
}
