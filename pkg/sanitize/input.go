package sanitize

import (
	"path"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxFilenameBytes is the longest name Filename returns.
const MaxFilenameBytes = 255

// strict removes every element. Policies are safe for concurrent use once
// built.
var strict = bluemonday.StrictPolicy()

var (
	reservedFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespaceRun         = regexp.MustCompile(`\s+`)
	injectionPattern      = regexp.MustCompile(`(?i)<\s*script|javascript\s*:|vbscript\s*:|data\s*:\s*text/html|(^|[\s"'/<])on[a-z]+\s*=`)
)

// pollutionKeys are object keys that can rewrite prototypes when a payload is
// merged into a JavaScript object downstream.
var pollutionKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// HTML strips all markup from s. The result is HTML-escaped text.
func HTML(s string) string {
	return strict.Sanitize(s)
}

// Text trims s, drops control characters (newlines and tabs become spaces)
// and strips markup.
func Text(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(HTML(strings.TrimSpace(s)))
}

// Filename reduces raw to a safe base name: directories and traversal are
// removed, reserved and control characters dropped, leading dots trimmed and
// whitespace collapsed. An empty result becomes "file".
func Filename(raw string) string {
	name := strings.ReplaceAll(raw, "\\", "/")
	name = path.Base(path.Clean("/" + name))

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = reservedFilenameChars.ReplaceAllString(name, "")
	name = whitespaceRun.ReplaceAllString(name, " ")
	name = strings.TrimLeft(strings.TrimSpace(name), ".")
	name = strings.TrimSpace(name)

	if len(name) > MaxFilenameBytes {
		name = truncateUTF8(name, MaxFilenameBytes)
	}
	if name == "" {
		return "file"
	}
	return name
}

// Fields sanitizes a decoded JSON object. String values go through Text,
// prototype-pollution keys are dropped, nested objects and arrays are walked.
// Other values are kept as they are.
func Fields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, bad := pollutionKeys[k]; bad {
			continue
		}
		out[k] = value(v)
	}
	return out
}

func value(v any) any {
	switch t := v.(type) {
	case string:
		return Text(t)
	case map[string]any:
		return Fields(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = value(e)
		}
		return out
	default:
		return v
	}
}

// ContainsInjection reports whether s looks like a script injection attempt:
// script tags, script URLs, inline event handlers or NUL bytes.
func ContainsInjection(s string) bool {
	return strings.ContainsRune(s, 0) || injectionPattern.MatchString(s)
}

func truncateUTF8(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n])
}
