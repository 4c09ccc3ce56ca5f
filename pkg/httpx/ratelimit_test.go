package httpx_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/ratelimit"
	"github.com/stretchr/testify/require"
)

func TestIPKeyExtractor(t *testing.T) {
	t.Run("extracts from RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"

		ip := httpx.IPKeyExtractor(req)
		require.Equal(t, "192.168.1.1", ip)
	})

	t.Run("ignores forwarding headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Forwarded-For", "203.0.113.1")
		req.Header.Set("X-Real-IP", "203.0.113.2")

		require.Equal(t, "192.168.1.1", httpx.IPKeyExtractor(req))
	})
}

func TestFormFieldKeyExtractor(t *testing.T) {
	t.Run("extracts from GET params", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?username=alice", nil)

		extractor := httpx.FormFieldKeyExtractor("username")
		username := extractor(req)
		require.Equal(t, "alice", username)
	})

	t.Run("extracts from POST form", func(t *testing.T) {
		form := url.Values{}
		form.Set("username", "bob")

		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		extractor := httpx.FormFieldKeyExtractor("username")
		username := extractor(req)
		require.Equal(t, "bob", username)
	})

	t.Run("returns empty for missing field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		extractor := httpx.FormFieldKeyExtractor("username")
		username := extractor(req)
		require.Equal(t, "", username)
	})
}

func TestJSONFieldKeyExtractor(t *testing.T) {
	t.Run("extracts and normalises the field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"  Ada@Example.com ","token":"x"}`))

		key := httpx.JSONFieldKeyExtractor("email")(req)
		require.Equal(t, "ada@example.com", key)
	})

	t.Run("body is still readable afterwards", func(t *testing.T) {
		body := `{"email":"ada@example.com"}`
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

		_ = httpx.JSONFieldKeyExtractor("email")(req)

		var got map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		require.Equal(t, "ada@example.com", got["email"])
	})

	t.Run("non-string or missing field is empty", func(t *testing.T) {
		for _, body := range []string{`{"email":42}`, `{}`, `not json`, ``} {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
			require.Empty(t, httpx.JSONFieldKeyExtractor("email")(req), body)
		}
	})
}

func TestCompositeKeyExtractor(t *testing.T) {
	t.Run("combines multiple extractors", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?username=alice", nil)
		req.RemoteAddr = "192.168.1.1:12345"

		extractor := httpx.CompositeKeyExtractor(":",
			httpx.IPKeyExtractor,
			httpx.FormFieldKeyExtractor("username"),
		)

		key := extractor(req)
		require.Equal(t, "192.168.1.1:alice", key)
	})

	t.Run("skips empty values", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil) // no username param
		req.RemoteAddr = "192.168.1.1:12345"

		extractor := httpx.CompositeKeyExtractor(":",
			httpx.IPKeyExtractor,
			httpx.FormFieldKeyExtractor("username"),
		)

		key := extractor(req)
		require.Equal(t, "192.168.1.1", key)
	})
}

func newLimiter(t testing.TB, max int, window time.Duration) *ratelimit.Limiter {
	t.Helper()
	l, err := ratelimit.New(ratelimit.Config{Interval: window, MaxRequests: max})
	require.NoError(t, err)
	return l
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serveFrom(h http.Handler, remoteAddr, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("allows requests under limit", func(t *testing.T) {
		h := httpx.RateLimitMiddleware(newLimiter(t, 5, time.Second), httpx.IPKeyExtractor)(okHandler)

		for i := range 5 {
			rec := serveFrom(h, "192.168.1.1:12345", "/")
			require.Equal(t, http.StatusOK, rec.Code, "request %d should succeed", i+1)
			require.Equal(t, strconv.Itoa(4-i), rec.Header().Get("X-RateLimit-Remaining"))
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		h := httpx.RateLimitMiddleware(newLimiter(t, 3, time.Minute), httpx.IPKeyExtractor)(okHandler)

		for i := range 3 {
			rec := serveFrom(h, "192.168.1.1:12345", "/")
			require.Equal(t, http.StatusOK, rec.Code, "request %d should succeed", i+1)
		}

		rec := serveFrom(h, "192.168.1.1:12345", "/")
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.NotEmpty(t, rec.Header().Get("Retry-After"))
	})

	t.Run("different keys are tracked separately", func(t *testing.T) {
		h := httpx.RateLimitMiddleware(newLimiter(t, 2, time.Minute), httpx.IPKeyExtractor)(okHandler)

		for range 2 {
			require.Equal(t, http.StatusOK, serveFrom(h, "192.168.1.1:12345", "/").Code)
		}
		require.Equal(t, http.StatusTooManyRequests, serveFrom(h, "192.168.1.1:12345", "/").Code)

		// But IP2 should still be allowed
		require.Equal(t, http.StatusOK, serveFrom(h, "192.168.1.2:12345", "/").Code)
	})

	t.Run("allows request when key extractor returns empty", func(t *testing.T) {
		emptyExtractor := func(r *http.Request) string { return "" }
		l := newLimiter(t, 1, time.Minute)
		h := httpx.RateLimitMiddleware(l, emptyExtractor)(okHandler)

		for range 3 {
			rec := serveFrom(h, "192.168.1.1:12345", "/")
			require.Equal(t, http.StatusOK, rec.Code)
			require.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
		}
		require.Equal(t, 0, l.Len())
	})

	t.Run("decision hook sees every request", func(t *testing.T) {
		var allowed, denied int
		hook := httpx.WithDecisionHook(func(_ *http.Request, d ratelimit.Decision) {
			if d.Allowed {
				allowed++
			} else {
				denied++
			}
		})
		h := httpx.RateLimitMiddleware(newLimiter(t, 1, time.Minute), httpx.IPKeyExtractor, hook)(okHandler)

		for range 4 {
			serveFrom(h, "10.0.0.1:1", "/")
		}
		require.Equal(t, 1, allowed)
		require.Equal(t, 3, denied)
	})
}

func TestRateLimitByIP(t *testing.T) {
	h := httpx.RateLimitByIP(newLimiter(t, 2, time.Minute))(okHandler)

	for range 2 {
		require.Equal(t, http.StatusOK, serveFrom(h, "192.168.1.1:12345", "/").Code)
	}
	require.Equal(t, http.StatusTooManyRequests, serveFrom(h, "192.168.1.1:12345", "/").Code)
}

func TestRateLimitByIPAndFormField(t *testing.T) {
	h := httpx.RateLimitByIPAndFormField(newLimiter(t, 2, time.Minute), "email")(okHandler)

	for range 2 {
		require.Equal(t, http.StatusOK, serveFrom(h, "192.168.1.1:12345", "/?email=alice@example.com").Code)
	}
	require.Equal(t, http.StatusTooManyRequests, serveFrom(h, "192.168.1.1:12345", "/?email=alice@example.com").Code)

	// Same IP with a different email has its own quota.
	require.Equal(t, http.StatusOK, serveFrom(h, "192.168.1.1:12345", "/?email=bob@example.com").Code)
}

func TestRateLimitByIPAndJSONField(t *testing.T) {
	h := httpx.RateLimitByIPAndJSONField(newLimiter(t, 1, time.Minute), "email")(okHandler)

	post := func(email string) int {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"`+email+`"}`))
		req.RemoteAddr = "192.168.1.1:12345"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, post("alice@example.com"))
	require.Equal(t, http.StatusTooManyRequests, post("ALICE@example.com"))
	require.Equal(t, http.StatusOK, post("bob@example.com"))
}

func TestRateLimitByUser(t *testing.T) {
	h := httpx.RateLimitByUser(newLimiter(t, 1, time.Minute))(okHandler)

	withUser := func(id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1"
		req = req.WithContext(context.WithValue(req.Context(), httpx.CtxKeyUserID, id))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, withUser("op-1").Code)
	require.Equal(t, http.StatusTooManyRequests, withUser("op-1").Code)
	require.Equal(t, http.StatusOK, withUser("op-2").Code)
}

func TestRateLimitHeaders(t *testing.T) {
	h := httpx.RateLimitMiddleware(newLimiter(t, 1, time.Minute), httpx.IPKeyExtractor)(okHandler)

	rec1 := serveFrom(h, "192.168.1.1:12345", "/")
	require.Equal(t, http.StatusOK, rec1.Code)
	require.Equal(t, "1", rec1.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rec1.Header().Get("X-RateLimit-Remaining"))

	reset, err := strconv.ParseInt(rec1.Header().Get("X-RateLimit-Reset"), 10, 64)
	require.NoError(t, err)
	require.InDelta(t, time.Now().Add(time.Minute).Unix(), reset, 2)

	rec2 := serveFrom(h, "192.168.1.1:12345", "/")
	require.Equal(t, http.StatusTooManyRequests, rec2.Code)
	require.Equal(t, "1", rec2.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rec2.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, "application/json", rec2.Header().Get("Content-Type"))

	retry, err := strconv.Atoi(rec2.Header().Get("Retry-After"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, retry, 1)
	require.LessOrEqual(t, retry, 61)

	var body httpx.RateLimitError
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.Equal(t, httpx.RateLimitErrorCode, body.Error.Code)
	require.NotEmpty(t, body.Error.Message)
}

// Benchmark rate limiting overhead
func BenchmarkRateLimitMiddleware(b *testing.B) {
	h := httpx.RateLimitByIP(newLimiter(b, 1_000_000, time.Minute))(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.1:12345"

	for b.Loop() {
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
}

func BenchmarkRateLimitManyIPs(b *testing.B) {
	h := httpx.RateLimitByIP(newLimiter(b, 1000, time.Minute))(okHandler)

	for i := 0; b.Loop(); i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = fmt.Sprintf("192.168.%d.%d:12345", i%255, (i/255)%255)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
}
