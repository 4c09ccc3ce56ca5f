package csp

import "slices"

// Analytics describes a third-party analytics provider whose hosts must be
// reachable from the page.
type Analytics struct {
	// ScriptHost serves the tracking script, e.g. https://us.i.posthog.com.
	ScriptHost string
	// APIHost receives events. Empty means ScriptHost.
	APIHost string
	// DeriveAssetsHost adds the "-assets" sibling of ScriptHost.
	DeriveAssetsHost bool
}

// Config selects the profile and optional additions.
type Config struct {
	Environment Environment
	Analytics   *Analytics
	ReportURI   string
}

// Builder produces policy strings. It is immutable after NewBuilder and safe
// for concurrent use.
type Builder struct {
	env    Environment
	base   Directives
	cached string
}

// NewBuilder assembles the base directives for cfg and precomputes the
// nonce-free policy. Only an explicit Development gets the permissive
// profile; any other value builds the production one.
func NewBuilder(cfg Config) *Builder {
	env := cfg.Environment
	if env != Development {
		env = Production
	}

	d := Profile(env)

	if a := cfg.Analytics; a != nil && a.ScriptHost != "" {
		scripts := []string{a.ScriptHost}
		if a.DeriveAssetsHost {
			if assets := AssetsHost(a.ScriptHost); assets != "" {
				scripts = append(scripts, assets)
			}
		}
		connect := slices.Clone(scripts)
		if a.APIHost != "" {
			connect = append(connect, a.APIHost)
		}

		d = ExtendCSP(d, Directives{
			ScriptSrc:  scripts,
			ConnectSrc: connect,
		})
	}

	if cfg.ReportURI != "" {
		d[ReportURI] = []string{cfg.ReportURI}
	}

	return &Builder{env: env, base: d, cached: BuildCSP(d)}
}

// Environment reports the profile the builder was created with.
func (b *Builder) Environment() Environment { return b.env }

// UsesNonce reports whether GetCSP honours a nonce.
func (b *Builder) UsesNonce() bool { return b.env == Production }

// Directives returns a copy of the effective directives for nonce.
func (b *Builder) Directives(nonce string) Directives {
	d := b.base.Clone()
	if nonce != "" && b.UsesNonce() {
		d[ScriptSrc] = append(d[ScriptSrc], nonceSource(nonce))
	}
	return d
}

// GetCSP returns the policy string. Without a nonce, or in development where a
// nonce would switch off 'unsafe-inline', the cached string is returned.
func (b *Builder) GetCSP(nonce string) string {
	if nonce == "" || !b.UsesNonce() {
		return b.cached
	}
	return BuildCSP(b.Directives(nonce))
}

// Extend returns the policy for a route that needs extra sources.
func (b *Builder) Extend(partial Directives, nonce string) string {
	return BuildCSP(ExtendCSP(b.Directives(nonce), partial))
}
