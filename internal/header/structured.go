package header

import (
	"strconv"
	"strings"
)

// Value is one comma-separated element of a structured header (e.g.
// one member of an Accept-Encoding or Accept list), with its
// semicolon-delimited parameters.
type Value struct {
	Token  string            // e.g. "gzip", "text/html"
	Params map[string]string // e.g. {"q": "0.8"}
	Q      float64           // parsed "q" parameter, defaulting to 1.0
}

// ParseStructured splits a header value on commas outside quoted
// strings and parses each element's ";"-separated parameters,
// including the "q" priority parameter. Used by Accept / Accept-Encoding
// handling (spec §4.2).
func ParseStructured(raw string) []Value {
	var out []Value
	for _, part := range splitUnquoted(raw, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pieces := splitUnquoted(part, ';')
		v := Value{Token: strings.TrimSpace(pieces[0]), Params: map[string]string{}, Q: 1.0}
		for _, p := range pieces[1:] {
			p = strings.TrimSpace(p)
			name, val, ok := strings.Cut(p, "=")
			if !ok {
				continue
			}
			name = strings.TrimSpace(name)
			val = strings.Trim(strings.TrimSpace(val), `"`)
			v.Params[strings.ToLower(name)] = val
			if strings.EqualFold(name, "q") {
				if q, err := strconv.ParseFloat(val, 64); err == nil {
					v.Q = q
				}
			}
		}
		out = append(out, v)
	}
	return out
}

// splitUnquoted splits s on sep, ignoring occurrences of sep inside
// double-quoted spans (e.g. the quoted media-type parameter values
// RFC 7231 §5.3.2 allows).
func splitUnquoted(s string, sep byte) []string {
	var parts []string
	start := 0
	inQuotes := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case sep:
			if !inQuotes {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// FormatAcceptEncoding renders the default Accept-Encoding value,
// "gzip; q=1, deflate; q=1" (spec §4.4), optionally extending it with
// a brotli offer (domain-stack addition, SPEC_FULL §DOMAIN STACK).
func FormatAcceptEncoding(withBrotli bool) string {
	if withBrotli {
		return "gzip; q=1, deflate; q=1, br; q=0.9"
	}
	return "gzip; q=1, deflate; q=1"
}
