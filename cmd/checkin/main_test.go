package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/event-checkin/internal/app"
	"github.com/example/event-checkin/internal/auth"
	"github.com/example/event-checkin/internal/config"
	httptransport "github.com/example/event-checkin/internal/http"
)

func TestHashPassword(t *testing.T) {
	t.Parallel()

	t.Run("argument", func(t *testing.T) {
		t.Parallel()
		var out bytes.Buffer
		require.NoError(t, hashPassword([]string{"front-desk"}, strings.NewReader(""), &out))
		assert.NoError(t, auth.VerifyPassword(strings.TrimSpace(out.String()), "front-desk"))
	})

	t.Run("stdin", func(t *testing.T) {
		t.Parallel()
		var out bytes.Buffer
		require.NoError(t, hashPassword(nil, strings.NewReader("front-desk\n"), &out))
		assert.NoError(t, auth.VerifyPassword(strings.TrimSpace(out.String()), "front-desk"))
	})

	t.Run("rejects empty and extra arguments", func(t *testing.T) {
		t.Parallel()
		assert.Error(t, hashPassword(nil, strings.NewReader("\n"), &bytes.Buffer{}))
		assert.Error(t, hashPassword([]string{"a", "b"}, strings.NewReader(""), &bytes.Buffer{}))
	})
}

func TestHandlerServesLocalDevice(t *testing.T) {
	t.Parallel()

	hash, err := auth.HashPassword("front-desk", auth.Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	device, err := app.New(app.Options{
		Config: config.Config{
			DataDir:           t.TempDir(),
			DeviceID:          "device_main",
			Backend:           config.Backend{Store: config.StoreLocal},
			ProbeTimeout:      time.Second,
			SyncInterval:      20 * time.Millisecond,
			AdminPasswordHash: hash,
		},
		Logger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = device.Close() })
	require.NoError(t, device.Start(t.Context()))

	events := httptransport.NewEventStream(func() any { return device.Status() }, logger)
	t.Cleanup(events.Close)
	handler := newHandler(device, events, hash, logger)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/attendees", strings.NewReader(`{"name":"Ana","group":"Sales"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "local-only", status["state"])
	assert.Equal(t, "local", status["store"])
	assert.Equal(t, "device_main", status["deviceId"])

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/attendees?confirm=true", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Len(t, device.Gateway().Attendees(), 1)
}
