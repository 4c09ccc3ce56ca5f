// Package csp builds Content-Security-Policy header values.
//
// A Builder is assembled once at startup from a base profile (development or
// production), optional analytics hosts and an optional report URI. The
// nonce-free policy string is computed once and reused. In production a
// per-response nonce can be threaded into script-src.
package csp

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
)

// Directive names.
const (
	DefaultSrc     = "default-src"
	ScriptSrc      = "script-src"
	StyleSrc       = "style-src"
	ImgSrc         = "img-src"
	FontSrc        = "font-src"
	ConnectSrc     = "connect-src"
	FrameAncestors = "frame-ancestors"
	FormAction     = "form-action"
	BaseURI        = "base-uri"
	ObjectSrc      = "object-src"
	ReportURI      = "report-uri"
)

// Order is the serialization order of known directives.
var Order = []string{
	DefaultSrc, ScriptSrc, StyleSrc, ImgSrc, FontSrc, ConnectSrc,
	FrameAncestors, FormAction, BaseURI, ObjectSrc, ReportURI,
}

// Source keywords.
const (
	Self         = "'self'"
	None         = "'none'"
	UnsafeInline = "'unsafe-inline'"
	UnsafeEval   = "'unsafe-eval'"
	noncePrefix  = "'nonce-"
	nonceSuffix  = "'"
	assetsSuffix = "-assets"
)

// Directives maps a directive name to its source list.
type Directives map[string][]string

// Clone returns a deep copy of d.
func (d Directives) Clone() Directives {
	out := make(Directives, len(d))
	for k, v := range d {
		out[k] = slices.Clone(v)
	}
	return out
}

// Environment selects the base profile.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// ErrUnknownEnvironment is returned by ParseEnvironment for anything other
// than a development or production name.
var ErrUnknownEnvironment = errors.New("csp: unknown environment")

// ParseEnvironment accepts "development"/"dev" and "production"/"prod",
// case-insensitively.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production", "prod":
		return Production, nil
	case "development", "dev":
		return Development, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEnvironment, s)
	}
}

// DevelopmentProfile allows eval and inline script for live-reload tooling.
func DevelopmentProfile() Directives {
	return Directives{
		DefaultSrc:     {Self},
		ScriptSrc:      {Self, UnsafeEval, UnsafeInline},
		StyleSrc:       {Self, UnsafeInline},
		ImgSrc:         {Self, "data:", "blob:", "https:"},
		FontSrc:        {Self, "data:"},
		ConnectSrc:     {Self, "ws:", "wss:"},
		FrameAncestors: {None},
		FormAction:     {Self},
		BaseURI:        {Self},
		ObjectSrc:      {None},
	}
}

// ProductionProfile forbids inline script and eval.
func ProductionProfile() Directives {
	return Directives{
		DefaultSrc:     {Self},
		ScriptSrc:      {Self},
		StyleSrc:       {Self, UnsafeInline},
		ImgSrc:         {Self, "data:", "https:"},
		FontSrc:        {Self},
		ConnectSrc:     {Self},
		FrameAncestors: {None},
		FormAction:     {Self},
		BaseURI:        {Self},
		ObjectSrc:      {None},
	}
}

// Profile returns the base directives for env.
func Profile(env Environment) Directives {
	if env == Production {
		return ProductionProfile()
	}
	return DevelopmentProfile()
}

// BuildCSP serializes d. Known directives come first in Order, unknown ones
// follow sorted by name. Empty directives are skipped and duplicate sources
// collapse to their first occurrence.
func BuildCSP(d Directives) string {
	parts := make([]string, 0, len(d))
	emit := func(name string) {
		values := dedupe(d[name])
		if len(values) == 0 {
			return
		}
		parts = append(parts, name+" "+strings.Join(values, " "))
	}

	for _, name := range Order {
		emit(name)
	}

	var extra []string
	for name := range maps.Keys(d) {
		if !slices.Contains(Order, name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	for _, name := range extra {
		emit(name)
	}

	return strings.Join(parts, "; ")
}

// ExtendCSP merges partial into a copy of base. Source lists are unioned;
// report-uri is replaced.
func ExtendCSP(base, partial Directives) Directives {
	out := base.Clone()
	for name, values := range partial {
		if name == ReportURI {
			out[name] = slices.Clone(values)
			continue
		}
		out[name] = union(out[name], values)
	}
	return out
}

// AssetsHost derives the asset host some analytics providers serve scripts
// from: the first DNS label gets an "-assets" suffix, so
// https://us.i.posthog.com becomes https://us-assets.i.posthog.com.
// It returns "" when raw has no dotted host.
func AssetsHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	label, rest, ok := strings.Cut(u.Host, ".")
	if !ok || label == "" || rest == "" {
		return ""
	}
	u.Host = label + assetsSuffix + "." + rest
	u.Path, u.RawQuery, u.Fragment = "", "", ""
	return u.String()
}

func dedupe(values []string) []string {
	return union(nil, values)
}

func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	for _, v := range slices.Concat(a, b) {
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func nonceSource(nonce string) string {
	return noncePrefix + nonce + nonceSuffix
}
