package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestIdentity_MissingHeader(t *testing.T) {
	handler := Identity(http.HandlerFunc(okHandler))

	req := httptest.NewRequest("GET", "/api/v1/drafts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "missing X-User-ID header", body["error"])
}

func TestIdentity_SetsUserID(t *testing.T) {
	var got string
	handler := Identity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetUserID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/api/v1/drafts", nil)
	req.Header.Set(UserHeader, " u1 ")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "u1", got)
}

func TestProviderSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{"match", "s3cret", "s3cret", http.StatusOK},
		{"mismatch", "s3cret", "guess", http.StatusUnauthorized},
		{"missing", "s3cret", "", http.StatusUnauthorized},
		{"unconfigured", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := ProviderSecret(tt.secret)(http.HandlerFunc(okHandler))
			req := httptest.NewRequest("POST", "/internal/v1/provider/events", nil)
			if tt.header != "" {
				req.Header.Set(SecretHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestStatusWriter_RecordsStatusAndFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	ww := &statusWriter{ResponseWriter: rec, status: http.StatusOK}

	ww.WriteHeader(http.StatusAccepted)
	ww.Flush()

	assert.Equal(t, http.StatusAccepted, ww.status)
	assert.True(t, rec.Flushed)
	assert.Same(t, rec, ww.Unwrap())
}

func TestRoutePattern_Unmatched(t *testing.T) {
	req := httptest.NewRequest("GET", "/nope", nil)
	assert.Equal(t, "unmatched", routePattern(req))
}
