// Package cors decides which browser origins may read API responses and
// decorates responses accordingly.
//
// Matching is exact: scheme, host and port must equal a configured origin
// byte for byte. There is no wildcard and no suffix matching. A request that
// is not allowed simply gets no CORS headers, and the browser does the rest.
package cors

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Allowed is an origin allow-list. Use Origin, Origins or OriginFunc.
type Allowed interface {
	allows(origin string) bool
}

// Origin allows exactly one origin.
type Origin string

func (o Origin) allows(origin string) bool { return string(o) == origin }

// Origins allows any origin in the list. An empty list allows nothing.
type Origins []string

func (o Origins) allows(origin string) bool { return slices.Contains(o, origin) }

// OriginFunc delegates the decision to a predicate.
type OriginFunc func(origin string) bool

func (f OriginFunc) allows(origin string) bool {
	if f == nil {
		return false
	}
	return f(origin)
}

// Options configures header decoration and preflight handling.
type Options struct {
	Allowed          Allowed
	AllowCredentials bool
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	MaxAge           time.Duration

	// OnDenied, when set, is called with every origin that was refused.
	OnDenied func(origin string)
}

var defaultMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// IsAllowed reports whether origin may access the resource. An absent
// origin or a nil allow-list is never allowed.
func IsAllowed(origin string, allowed Allowed) bool {
	if origin == "" || allowed == nil {
		return false
	}
	return allowed.allows(origin)
}

// SetHeaders echoes the request origin when it is allowed and reports whether
// it did. Denied origins get no CORS headers at all.
func SetHeaders(w http.ResponseWriter, r *http.Request, opts Options) bool {
	origin := r.Header.Get("Origin")
	if !IsAllowed(origin, opts.Allowed) {
		if origin != "" && opts.OnDenied != nil {
			opts.OnDenied(origin)
		}
		return false
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
	if opts.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(opts.ExposeHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(opts.ExposeHeaders, ", "))
	}
	return true
}

// Preflight answers an OPTIONS preflight with 204 and no body.
func Preflight(w http.ResponseWriter, r *http.Request, opts Options) {
	if SetHeaders(w, r, opts) {
		h := w.Header()
		methods := opts.AllowMethods
		if len(methods) == 0 {
			methods = defaultMethods
		}
		h.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))

		if len(opts.AllowHeaders) > 0 {
			h.Set("Access-Control-Allow-Headers", strings.Join(opts.AllowHeaders, ", "))
		} else if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
			h.Set("Access-Control-Allow-Headers", req)
		}

		if opts.MaxAge > 0 {
			h.Set("Access-Control-Max-Age", strconv.Itoa(int(opts.MaxAge.Seconds())))
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// Middleware handles preflights and decorates every other response.
func Middleware(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPreflight(r) {
				Preflight(w, r, opts)
				return
			}
			SetHeaders(w, r, opts)
			next.ServeHTTP(w, r)
		})
	}
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}

// ParseOrigins splits a comma separated list, trimming blanks and trailing
// slashes. Browsers never send a trailing slash in Origin.
func ParseOrigins(csv string) Origins {
	var out Origins
	for part := range strings.SplitSeq(csv, ",") {
		part = strings.TrimRight(strings.TrimSpace(part), "/")
		if part == "" || slices.Contains(out, part) {
			continue
		}
		out = append(out, part)
	}
	return out
}
