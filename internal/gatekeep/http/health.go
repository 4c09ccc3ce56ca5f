package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/pkg/gatekeepsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// storePingTimeout bounds how long /readyz waits on the backing store.
const storePingTimeout = 2 * time.Second

func healthBody(status string, startTime time.Time, version string) gatekeepsdk.HealthResponse {
	return gatekeepsdk.HealthResponse{
		Status:  status,
		Uptime:  time.Since(startTime).Truncate(time.Second).String(),
		Version: version,
	}
}

// LivezHandler godoc
//
//	@Summary		Health Check Endpoint
//	@Description	Liveness probe endpoint returning basic service health status, uptime, and version information
//	@Description	This endpoint always returns 200 OK if the service is running
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	gatekeepsdk.HealthResponse	"status, uptime, version"
//	@Router			/livez [get].
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, healthBody("ok", startTime, version))
	}
}

// ReadyzHandler godoc
//
//	@Summary		Readiness Check Endpoint
//	@Description	Readiness probe endpoint returning service health status and the status of the backing store
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	gatekeepsdk.HealthResponse	"status, uptime, version, checks"
//	@Failure		503	{object}	gatekeepsdk.HealthResponse	"status, uptime, version, checks - service not ready"
//	@Router			/readyz [get].
func ReadyzHandler(startTime time.Time, version string, st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := healthBody("ok", startTime, version)
		body.Checks = &gatekeepsdk.HealthChecks{Store: "ok"}
		code := http.StatusOK

		ctx, cancel := context.WithTimeout(r.Context(), storePingTimeout)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			// Detail goes to the log only; the probe is unauthenticated.
			slogx.FromContext(r.Context()).Error("readiness: store ping failed", "err", err)
			body.Status = "degraded"
			body.Checks.Store = "error"
			code = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, code, body)
	}
}
