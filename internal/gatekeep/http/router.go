package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/metrics"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/service"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeep/pkg/ratelimit"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/aussiebroadwan/gatekeep/api/docs" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware
	handler     http.Handler

	verifier     jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store
	limiters     *ratelimit.Registry

	// RedirectHosts are the absolute-URL hosts accept may redirect to.
	RedirectHosts     []string
	InvitationService *service.InvitationService
	// TrustedProxies may report the client address for rate limit keys.
	TrustedProxies httpx.TrustedProxies
}

func NewRouter(
	verifier jwtx.Verifier,
	buildVersion string,
	st store.Store,
	limiters *ratelimit.Registry,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		limiters:     limiters,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

// Use appends global middleware. The first registered runs outermost. Call it
// before ApplyRoutes; the chain is frozen there.
func (r *Router) Use(mws ...httpx.Middleware) {
	r.middlewares = append(r.middlewares, mws...)
}

// ApplyRoutes registers every route and builds the global chain once.
func (r *Router) ApplyRoutes() {
	r.registerInvitations()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())

	r.handler = httpx.Chain(r.Mux, r.middlewares...)
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Gatekeep API
//	@version		0.1.0
//	@description	Invitation tokens behind rate limiting, CORS and CSP.
//	@description
//	@description				Admin endpoints take an HS256 JWT carrying role ADMIN.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/gatekeep
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Admin JWT. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.handler == nil {
		// ApplyRoutes not called yet
		httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
		return
	}
	r.handler.ServeHTTP(w, req)
}

// limitOpts are the options shared by every limiter mounted for pool.
func (r *Router) limitOpts(pool string) []httpx.RateLimitOption {
	return []httpx.RateLimitOption{
		countDecisions(pool),
		httpx.WithTrustedProxies(r.TrustedProxies),
	}
}

// countDecisions records every limiter decision for pool.
func countDecisions(pool string) httpx.RateLimitOption {
	return httpx.WithDecisionHook(func(_ *http.Request, d ratelimit.Decision) {
		outcome := metrics.OutcomeAllowed
		if !d.Allowed {
			outcome = metrics.OutcomeDenied
		}
		metrics.RateLimitDecisions.WithLabelValues(pool, outcome).Inc()
	})
}

func (r *Router) registerInvitations() {
	admin := func(h http.Handler) http.Handler {
		return httpx.Chain(h,
			httpx.AuthnMiddleware(r.verifier), // verify JWT (iss/aud/exp)
			httpx.RequireRole(string(domain.RoleAdmin)),
			httpx.RateLimitByUser(r.limiters.MustGet(ratelimit.PoolAPI), r.limitOpts(ratelimit.PoolAPI)...),
		)
	}

	mint := &InvitationMintHandler{InvitationService: r.InvitationService}
	lookup := &InvitationLookupHandler{InvitationService: r.InvitationService}

	r.Mux.Handle("POST /v1/invitations", admin(mint))
	r.Mux.Handle("GET /v1/invitations/{email}", admin(http.HandlerFunc(lookup.HandleGet)))
	r.Mux.Handle("DELETE /v1/invitations/{email}", admin(http.HandlerFunc(lookup.HandleDelete)))

	// Public endpoints: strict limit per IP + email so a single client
	// cannot brute force one invitation or sweep many emails.
	verify := &InvitationVerifyHandler{InvitationService: r.InvitationService}
	accept := &InvitationAcceptHandler{
		InvitationService: r.InvitationService,
		RedirectHosts:     r.RedirectHosts,
	}

	byEmail := httpx.RateLimitByIPAndJSONField(
		r.limiters.MustGet(ratelimit.PoolInvitation), "email",
		r.limitOpts(ratelimit.PoolInvitation)...,
	)
	r.Mux.Handle("POST /v1/invitations/verify", httpx.Chain(verify, byEmail))
	r.Mux.Handle("POST /v1/invitations/accept", httpx.Chain(accept, byEmail))
}

func (r *Router) registerSystem() {
	byIP := httpx.RateLimitByIP(r.limiters.MustGet(ratelimit.PoolAPI), r.limitOpts(ratelimit.PoolAPI)...)

	// Health check endpoints - monitoring systems may poll frequently
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			byIP,
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			byIP,
		),
	)
	r.Mux.Handle("GET /metrics", promhttp.Handler())
}
