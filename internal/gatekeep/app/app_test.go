package app

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, vars map[string]string) *Application {
	t.Helper()

	base := map[string]string{
		"GATEKEEP_ADMIN_JWT_SECRET": testSecret,
		"GATEKEEP_SQLITE_FILE":      filepath.Join(t.TempDir(), "gatekeep.db"),
		"GATEKEEP_ALLOWED_ORIGINS":  "https://app.example.com, https://admin.example.com/",
		"GATEKEEP_LOG_LEVEL":        "error",
	}
	for k, v := range vars {
		base[k] = v
	}

	cfg, err := ParseConfig(base)
	require.NoError(t, err)

	application, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.db.Close() })
	return application
}

func TestNewRejectsUnreachableStore(t *testing.T) {
	cfg, err := ParseConfig(map[string]string{
		"GATEKEEP_ADMIN_JWT_SECRET": testSecret,
		"GATEKEEP_SQLITE_FILE":      filepath.Join(t.TempDir(), "missing", "dir", "gatekeep.db"),
	})
	require.NoError(t, err)

	_, err = New(cfg)
	require.Error(t, err)
}

func TestHandlerAppliesBrowserPolicies(t *testing.T) {
	application := newTestApp(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set("Origin", "https://app.example.com")
	application.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	h := rec.Header()
	require.Equal(t, "https://app.example.com", h.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", h.Get("Access-Control-Allow-Credentials"))
	require.Contains(t, h.Values("Vary"), "Origin")
	require.NotEmpty(t, h.Get("Content-Security-Policy"))
	require.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	require.NotEmpty(t, h.Get("X-Request-ID"))
	require.NotEmpty(t, h.Get("X-RateLimit-Limit"))
}

func TestHandlerRefusesUnknownOrigin(t *testing.T) {
	application := newTestApp(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	application.Handler().ServeHTTP(rec, req)

	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandlerAnswersPreflight(t *testing.T) {
	application := newTestApp(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/v1/invitations/verify", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	application.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
}

func TestProductionPolicyUsesNonce(t *testing.T) {
	application := newTestApp(t, map[string]string{
		"GATEKEEP_ENV":            "production",
		"GATEKEEP_ANALYTICS_HOST": "https://us.i.posthog.com",
	})

	rec := httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

	policy := rec.Header().Get("Content-Security-Policy")
	require.Contains(t, policy, "'nonce-")
	require.Contains(t, policy, "https://us-assets.i.posthog.com")
}
