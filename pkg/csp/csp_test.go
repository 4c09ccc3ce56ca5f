package csp_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aussiebroadwan/gatekeep/pkg/csp"
	"github.com/stretchr/testify/require"
)

const prodPolicy = "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data: https:; font-src 'self'; connect-src 'self'; frame-ancestors 'none'; " +
	"form-action 'self'; base-uri 'self'; object-src 'none'"

func TestBuildCSP_FixedOrder(t *testing.T) {
	d := csp.Directives{
		csp.ObjectSrc:  {csp.None},
		csp.ReportURI:  {"/csp-report"},
		csp.DefaultSrc: {csp.Self},
		csp.ScriptSrc:  {csp.Self, "https://cdn.example.com"},
	}

	require.Equal(t,
		"default-src 'self'; script-src 'self' https://cdn.example.com; object-src 'none'; report-uri /csp-report",
		csp.BuildCSP(d))
}

func TestBuildCSP_UnknownAndEmpty(t *testing.T) {
	d := csp.Directives{
		csp.DefaultSrc: {csp.Self, csp.Self},
		csp.ImgSrc:     {},
		"worker-src":   {"blob:"},
		"media-src":    {csp.Self},
		"manifest-src": nil,
	}

	require.Equal(t, "default-src 'self'; media-src 'self'; worker-src blob:", csp.BuildCSP(d))
	require.Empty(t, csp.BuildCSP(nil))
}

func TestBuildCSP_Stable(t *testing.T) {
	d := csp.ProductionProfile()
	first := csp.BuildCSP(d)
	for range 20 {
		require.Equal(t, first, csp.BuildCSP(d))
	}
	require.Equal(t, prodPolicy, first)
}

func TestProfiles(t *testing.T) {
	dev := csp.DevelopmentProfile()
	require.Contains(t, dev[csp.ScriptSrc], csp.UnsafeEval)
	require.Contains(t, dev[csp.ScriptSrc], csp.UnsafeInline)

	prod := csp.ProductionProfile()
	require.NotContains(t, prod[csp.ScriptSrc], csp.UnsafeEval)
	require.NotContains(t, prod[csp.ScriptSrc], csp.UnsafeInline)
	require.Equal(t, []string{csp.None}, prod[csp.ObjectSrc])

}

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		in      string
		want    csp.Environment
		wantErr bool
	}{
		{in: "production", want: csp.Production},
		{in: "PROD", want: csp.Production},
		{in: " development ", want: csp.Development},
		{in: "dev", want: csp.Development},
		{in: "prd", wantErr: true},
		{in: "staging", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := csp.ParseEnvironment(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, csp.ErrUnknownEnvironment)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestGetCSP_Nonce(t *testing.T) {
	t.Run("production appends nonce to script-src", func(t *testing.T) {
		b := csp.NewBuilder(csp.Config{Environment: csp.Production})

		got := b.GetCSP("abc123")
		require.Contains(t, got, "script-src 'self' 'nonce-abc123';")
		require.Equal(t, prodPolicy, b.GetCSP(""))
	})

	t.Run("development ignores nonce", func(t *testing.T) {
		b := csp.NewBuilder(csp.Config{Environment: csp.Development})
		require.Equal(t, b.GetCSP(""), b.GetCSP("abc123"))
		require.NotContains(t, b.GetCSP("abc123"), "nonce-")
	})

	t.Run("unknown environment gets the strict profile", func(t *testing.T) {
		b := csp.NewBuilder(csp.Config{Environment: "qa"})
		require.Equal(t, csp.Production, b.Environment())
		require.NotContains(t, b.GetCSP(""), csp.UnsafeEval)
	})

	t.Run("directives copy is isolated", func(t *testing.T) {
		b := csp.NewBuilder(csp.Config{Environment: csp.Production})
		d := b.Directives("n1")
		d[csp.ScriptSrc] = append(d[csp.ScriptSrc], "https://evil.example.com")
		require.NotContains(t, b.GetCSP(""), "evil")
		require.NotContains(t, b.GetCSP("n2"), "n1")
	})
}

func TestAnalyticsMerge(t *testing.T) {
	b := csp.NewBuilder(csp.Config{
		Environment: csp.Production,
		Analytics: &csp.Analytics{
			ScriptHost:       "https://us.i.posthog.com",
			APIHost:          "https://events.example.com",
			DeriveAssetsHost: true,
		},
		ReportURI: "https://report.example.com/csp",
	})

	d := b.Directives("")
	require.Equal(t, []string{csp.Self, "https://us.i.posthog.com", "https://us-assets.i.posthog.com"}, d[csp.ScriptSrc])
	require.Equal(t, []string{csp.Self, "https://us.i.posthog.com", "https://us-assets.i.posthog.com", "https://events.example.com"}, d[csp.ConnectSrc])

	policy := b.GetCSP("")
	require.True(t, strings.HasSuffix(policy, "; report-uri https://report.example.com/csp"))
}

func TestAssetsHost(t *testing.T) {
	require.Equal(t, "https://us-assets.i.posthog.com", csp.AssetsHost("https://us.i.posthog.com"))
	require.Equal(t, "https://eu-assets.i.posthog.com", csp.AssetsHost("https://eu.i.posthog.com/some/path?x=1"))
	require.Empty(t, csp.AssetsHost("https://localhost"))
	require.Empty(t, csp.AssetsHost("not a url"))
	require.Empty(t, csp.AssetsHost(""))
}

func TestExtendCSP(t *testing.T) {
	base := csp.Directives{
		csp.ScriptSrc: {csp.Self},
		csp.ImgSrc:    {csp.Self},
		csp.ReportURI: {"/old"},
	}

	out := csp.ExtendCSP(base, csp.Directives{
		csp.ScriptSrc: {csp.Self, "https://js.stripe.com"},
		"frame-src":   {"https://js.stripe.com"},
		csp.ReportURI: {"/new"},
	})

	require.Equal(t, []string{csp.Self, "https://js.stripe.com"}, out[csp.ScriptSrc])
	require.Equal(t, []string{csp.Self}, out[csp.ImgSrc])
	require.Equal(t, []string{"/new"}, out[csp.ReportURI])
	require.Equal(t, []string{"https://js.stripe.com"}, out["frame-src"])

	// base is untouched
	require.Equal(t, []string{csp.Self}, base[csp.ScriptSrc])
	require.Equal(t, []string{"/old"}, base[csp.ReportURI])
}

func TestBuilderExtend(t *testing.T) {
	b := csp.NewBuilder(csp.Config{Environment: csp.Production})
	got := b.Extend(csp.Directives{csp.ImgSrc: {"https://avatars.example.com"}}, "n0nce")

	require.Contains(t, got, "img-src 'self' data: https: https://avatars.example.com;")
	require.Contains(t, got, "'nonce-n0nce'")
	require.NotContains(t, b.GetCSP(""), "avatars")
}

func TestBuilderConcurrentUse(t *testing.T) {
	b := csp.NewBuilder(csp.Config{Environment: csp.Production})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_ = b.GetCSP("")
			} else {
				_ = b.Extend(csp.Directives{csp.ImgSrc: {"https://x.example.com"}}, "n")
			}
		}()
	}
	wg.Wait()
	require.Equal(t, prodPolicy, b.GetCSP(""))
}

func TestMiddleware(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = csp.NonceFromContext(r.Context())
	})

	t.Run("production issues a nonce per request", func(t *testing.T) {
		b := csp.NewBuilder(csp.Config{Environment: csp.Production})
		h := csp.Middleware(b, nil)(next)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		first := seen
		require.NotEmpty(t, first)
		require.Contains(t, rec.Header().Get(csp.HeaderName), "'nonce-"+first+"'")

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		require.NotEqual(t, first, seen)
	})

	t.Run("generator failure sends nonce-free policy", func(t *testing.T) {
		b := csp.NewBuilder(csp.Config{Environment: csp.Production})
		h := csp.Middleware(b, func() (string, error) { return "", errors.New("entropy") })(next)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Empty(t, seen)
		require.Equal(t, prodPolicy, rec.Header().Get(csp.HeaderName))
	})

	t.Run("development skips nonce generation", func(t *testing.T) {
		b := csp.NewBuilder(csp.Config{Environment: csp.Development})
		called := false
		h := csp.Middleware(b, func() (string, error) { called = true; return "x", nil })(next)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.False(t, called)
		require.Contains(t, rec.Header().Get(csp.HeaderName), "'unsafe-eval'")
	})
}
