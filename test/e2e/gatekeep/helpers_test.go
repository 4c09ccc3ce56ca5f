package gatekeep_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/app"
	"github.com/aussiebroadwan/gatekeep/pkg/gatekeepsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * End-to-end tests run the full application (config, store driver, limiter
 * pools, browser policies, router) against a real Redis in a container and
 * drive it through the SDK.
 */

const (
	adminSecret  = "e2e-admin-secret-0123456789abcdef"
	adminSubject = "e2e-operator"
	appOrigin    = "https://app.example.com"
)

// setupRedis starts a Redis container and returns its URL.
func setupRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("e2e tests need docker")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

// setupGatekeep serves the application over httptest with a Redis store.
// overrides replace GATEKEEP_* defaults.
func setupGatekeep(t *testing.T, overrides map[string]string) string {
	t.Helper()

	vars := map[string]string{
		"GATEKEEP_ENV":              "production",
		"GATEKEEP_LOG_LEVEL":        "error",
		"GATEKEEP_STORE_DRIVER":     "redis",
		"GATEKEEP_REDIS_URL":        setupRedis(t),
		"GATEKEEP_ADMIN_JWT_SECRET": adminSecret,
		"GATEKEEP_ALLOWED_ORIGINS":  appOrigin,
		"GATEKEEP_REDIRECT_HOSTS":   "app.example.com",
		// Relaxed so unrelated tests never trip the invitation pool.
		"GATEKEEP_RATELIMIT_INVITATION_MAX": "1000",
	}
	for k, v := range overrides {
		vars[k] = v
	}

	cfg, err := app.ParseConfig(vars)
	require.NoError(t, err)

	application, err := app.New(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(srv.Close)

	return srv.URL
}

// adminClient returns an SDK client carrying a fresh admin token.
func adminClient(t *testing.T, baseURL string) *gatekeepsdk.Client {
	t.Helper()

	signer, err := jwtx.NewSignerHS256([]byte(adminSecret))
	require.NoError(t, err)

	claims := jwtx.NewClaims(adminSubject, "ADMIN", time.Hour, "gatekeep", []string{"gatekeep-admin"}, time.Now())
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	return gatekeepsdk.NewClient(baseURL, gatekeepsdk.WithAdminToken(token))
}

// assertHealthy verifies a health check response is OK.
func assertHealthy(t *testing.T, health *gatekeepsdk.HealthResponse, err error) {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, health)
	require.Equal(t, "ok", health.Status)
}

// assertInvalidInvitation checks for the one generic public failure.
func assertInvalidInvitation(t *testing.T, err error) {
	t.Helper()

	var apiErr *gatekeepsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 400, apiErr.StatusCode)
	require.Equal(t, gatekeepsdk.ErrorCodeInvalidInvitation, apiErr.Code)
}
