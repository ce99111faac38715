package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/event-checkin/internal/auth"
	"github.com/example/event-checkin/internal/logging"
)

func TestRequireAdmin(t *testing.T) {
	t.Parallel()

	hash, err := auth.HashPassword(adminPassword, cheapParams)
	require.NoError(t, err)

	tests := []struct {
		name           string
		hash           string
		password       string
		expectedStatus int
		expectedCalls  int
	}{
		{name: "missing header", hash: hash, expectedStatus: http.StatusUnauthorized},
		{name: "wrong password", hash: hash, password: "guess", expectedStatus: http.StatusForbidden},
		{name: "matching password", hash: hash, password: adminPassword, expectedStatus: http.StatusNoContent, expectedCalls: 1},
		{name: "unusable hash", hash: "plaintext", password: adminPassword, expectedStatus: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodDelete, "/attendees?confirm=true", nil)
			if tc.password != "" {
				req.Header.Set(AdminPasswordHeader, tc.password)
			}
			rec := httptest.NewRecorder()
			RequireAdmin(tc.hash, nil)(next).ServeHTTP(rec, req)

			assert.Equal(t, tc.expectedStatus, rec.Code)
			assert.Equal(t, tc.expectedCalls, calls)
			if tc.expectedStatus >= http.StatusBadRequest {
				var body errorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.NotEmpty(t, body.Message)
			}
		})
	}
}

func TestRequestLoggerAttachesLogger(t *testing.T) {
	t.Parallel()

	var seen bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.FromContext(r.Context()) != nil
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	RequestLogger(nil)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, seen, "handlers should find the request logger in the context")
}
