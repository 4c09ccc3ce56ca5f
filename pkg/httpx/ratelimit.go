package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/ratelimit"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitErrorCode is the machine readable code in a 429 body.
const RateLimitErrorCode = "RATE_LIMIT_EXCEEDED"

// RateLimitError is the JSON body written with a 429 response.
type RateLimitError struct {
	Success bool              `json:"success"`
	Error   RateLimitErrorBody `json:"error"`
}

type RateLimitErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// KeyExtractor is a function that extracts a unique key from the request
// for rate limiting purposes (e.g., IP address, user ID, client ID, etc.)
type KeyExtractor func(*http.Request) string

// Common key extractors

// IPKeyExtractor keys on the TCP peer address. Forwarding headers are
// ignored; use TrustedProxies.KeyExtractor behind a reverse proxy.
func IPKeyExtractor(r *http.Request) string {
	return TrustedProxies(nil).ClientIP(r)
}

// UserIDKeyExtractor extracts the user ID from the request context.
// Returns empty string if no user ID is found.
func UserIDKeyExtractor(r *http.Request) string {
	return UserID(r.Context())
}

// CompositeKeyExtractor combines multiple key extractors with a separator.
// Example: CompositeKeyExtractor(":", IPKeyExtractor, UserIDKeyExtractor)
// would produce keys like "192.168.1.1:user123"
func CompositeKeyExtractor(sep string, extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		var parts []string
		for _, extractor := range extractors {
			if key := extractor(r); key != "" {
				parts = append(parts, key)
			}
		}
		return strings.Join(parts, sep)
	}
}

// FormFieldKeyExtractor extracts a key from a form field (works for both GET and POST).
// Use this for extracting username, client_id, etc. from request parameters.
func FormFieldKeyExtractor(fieldName string) KeyExtractor {
	return func(r *http.Request) string {
		// Try to parse form (handles both URL params and POST body)
		if err := r.ParseForm(); err == nil {
			return r.FormValue(fieldName)
		}
		return ""
	}
}

// JSONFieldKeyExtractor extracts a top-level string field from a JSON body,
// lowercased and trimmed. The body is buffered (up to MaxJSONBodyBytes) and
// restored so the handler can still decode it.
func JSONFieldKeyExtractor(fieldName string) KeyExtractor {
	return func(r *http.Request) string {
		if r.Body == nil {
			return ""
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, MaxJSONBodyBytes+1))
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if err != nil {
			return ""
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return ""
		}
		var v string
		if err := json.Unmarshal(fields[fieldName], &v); err != nil {
			return ""
		}
		return strings.ToLower(strings.TrimSpace(v))
	}
}

type RateLimitOption func(*rateLimitOptions)

type rateLimitOptions struct {
	onDecision func(r *http.Request, d ratelimit.Decision)
	logEvery   time.Duration
	proxies    TrustedProxies
}

func newRateLimitOptions(opts []RateLimitOption) rateLimitOptions {
	o := rateLimitOptions{logEvery: time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDecisionHook registers a callback invoked for every decision (metrics).
func WithDecisionHook(fn func(r *http.Request, d ratelimit.Decision)) RateLimitOption {
	return func(o *rateLimitOptions) { o.onDecision = fn }
}

// WithTrustedProxies lets the By* helpers read the client address from
// forwarding headers sent by these peers. Other callers are keyed on their
// TCP peer address.
func WithTrustedProxies(p TrustedProxies) RateLimitOption {
	return func(o *rateLimitOptions) { o.proxies = p }
}

// WithDenyLogInterval sets the minimum gap between "rate limit exceeded" log
// lines for one middleware. A flood of denied requests then costs one line
// per interval instead of one per request.
func WithDenyLogInterval(d time.Duration) RateLimitOption {
	return func(o *rateLimitOptions) { o.logEvery = d }
}

// RateLimitMiddleware admits requests through limiter, grouped by keyExtractor.
// Every response carries the X-RateLimit-* headers; denied requests get 429
// with Retry-After.
func RateLimitMiddleware(limiter *ratelimit.Limiter, keyExtractor KeyExtractor, opts ...RateLimitOption) Middleware {
	o := newRateLimitOptions(opts)
	denyLog := &rate.Sometimes{First: 1, Interval: o.logEvery}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			// Extract the key for this request
			key := keyExtractor(r)
			if key == "" {
				// If we can't extract a key, allow the request but log it
				log.Warn("rate limit: unable to extract key, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			d := limiter.Check(key)
			if o.onDecision != nil {
				o.onDecision(r, d)
			}
			WriteRateLimitHeaders(w, d)

			if !d.Allowed {
				retryAfter := limiter.RetryAfter(d)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				denyLog.Do(func() {
					log.Warn("rate limit exceeded",
						"key", key,
						"endpoint", r.URL.Path,
						"retry_after", retryAfter,
					)
				})

				WriteJSON(w, http.StatusTooManyRequests, RateLimitError{
					Success: false,
					Error: RateLimitErrorBody{
						Code:    RateLimitErrorCode,
						Message: "Too many requests. Please try again later.",
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteRateLimitHeaders sets X-RateLimit-Limit, -Remaining and -Reset.
func WriteRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt, 10))
}

// Convenience functions for common rate limiting scenarios

// RateLimitByIP creates a rate limiter that limits by IP address only.
func RateLimitByIP(limiter *ratelimit.Limiter, opts ...RateLimitOption) Middleware {
	ip := newRateLimitOptions(opts).proxies.KeyExtractor()
	return RateLimitMiddleware(limiter, ip, opts...)
}

// RateLimitByUser creates a rate limiter that limits by authenticated user ID.
// Falls back to IP if no user is authenticated.
func RateLimitByUser(limiter *ratelimit.Limiter, opts ...RateLimitOption) Middleware {
	ip := newRateLimitOptions(opts).proxies.KeyExtractor()
	return RateLimitMiddleware(limiter, CompositeKeyExtractor(":",
		UserIDKeyExtractor,
		ip,
	), opts...)
}

// RateLimitByIPAndFormField creates a rate limiter that limits by IP + form field.
// Useful for limiting login attempts by IP + username.
func RateLimitByIPAndFormField(limiter *ratelimit.Limiter, fieldName string, opts ...RateLimitOption) Middleware {
	ip := newRateLimitOptions(opts).proxies.KeyExtractor()
	return RateLimitMiddleware(limiter, CompositeKeyExtractor(":",
		ip,
		FormFieldKeyExtractor(fieldName),
	), opts...)
}

// RateLimitByIPAndJSONField limits by IP + a field of a JSON body, e.g. the
// email an unauthenticated caller is probing.
func RateLimitByIPAndJSONField(limiter *ratelimit.Limiter, fieldName string, opts ...RateLimitOption) Middleware {
	ip := newRateLimitOptions(opts).proxies.KeyExtractor()
	return RateLimitMiddleware(limiter, CompositeKeyExtractor(":",
		ip,
		JSONFieldKeyExtractor(fieldName),
	), opts...)
}
