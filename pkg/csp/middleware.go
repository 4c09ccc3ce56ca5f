package csp

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/gatekeep/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// HeaderName is the response header carrying the policy.
const HeaderName = "Content-Security-Policy"

type nonceKey struct{}

// NonceFromContext returns the nonce the middleware issued for this request.
func NonceFromContext(ctx context.Context) string {
	v, _ := ctx.Value(nonceKey{}).(string)
	return v
}

// WithNonce stores nonce in ctx.
func WithNonce(ctx context.Context, nonce string) context.Context {
	return context.WithValue(ctx, nonceKey{}, nonce)
}

// Middleware sets the Content-Security-Policy header on every response. When
// the builder uses nonces a fresh one is generated per request with gen
// (cryptox.GenerateNonce when nil) and exposed through NonceFromContext.
// If generation fails the nonce-free policy is sent.
func Middleware(b *Builder, gen func() (string, error)) func(http.Handler) http.Handler {
	if gen == nil {
		gen = cryptox.GenerateNonce
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var nonce string
			if b.UsesNonce() {
				n, err := gen()
				if err != nil {
					slogx.FromContext(r.Context()).Error("csp nonce generation failed", "err", err)
				} else {
					nonce = n
					r = r.WithContext(WithNonce(r.Context(), nonce))
				}
			}

			w.Header().Set(HeaderName, b.GetCSP(nonce))
			next.ServeHTTP(w, r)
		})
	}
}
