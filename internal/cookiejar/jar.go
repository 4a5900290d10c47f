/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package cookiejar

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/karpetrosyan/aioreq/internal/uri"
)

// Jar stores cookies keyed by (domain, path, name) and serves them
// back per request, the way the teacher's cli package threads a
// cookie store through Client.Do without exposing a public jar type.
// Generalized here into its own package so Client can hold one jar per
// spec §4.3 "one jar per Client" rule; Client.Stream goes through the
// same middleware chain and so shares that jar.
type Jar struct {
	mu      sync.Mutex
	entries map[string]*Cookie // id() -> cookie
	seq     int64
}

// New returns an empty cookie jar.
func New() *Jar {
	return &Jar{entries: make(map[string]*Cookie)}
}

// SetCookies stores the cookies described by the Set-Cookie header
// values seen on a response from u, applying RFC 6265 §5.3 domain
// default-to-host-only and public-suffix-free domain acceptance (spec
// §4.3 explicitly drops public suffix checks as out of scope).
func (j *Jar) SetCookies(u *uri.URI, setCookieLines []string, now time.Time) {
	if j == nil || len(setCookieLines) == 0 {
		return
	}
	host := u.Hostname()
	defaultPath := defaultCookiePath(u.Path)

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, line := range setCookieLines {
		c, ok := parseSetCookie(line, now)
		if !ok {
			continue
		}
		if c.Domain == "" {
			c.Domain = host
			c.HostOnly = true
		} else if !domainAcceptable(c.Domain, host) {
			continue
		}
		if c.Path == "" || c.Path[0] != '/' {
			c.Path = defaultPath
		}
		j.seq++
		c.created = j.seq
		if c.isExpired(now) {
			delete(j.entries, c.id())
			continue
		}
		j.entries[c.id()] = c
	}
}

// domainAcceptable rejects a Domain attribute that isn't the request
// host itself or a parent domain of it (RFC 6265 §5.3 step 4-5,
// without the public-suffix check spec §4.3 declares out of scope).
func domainAcceptable(domain, host string) bool {
	domain = strings.ToLower(domain)
	return domain == host || hasDotSuffix(host, domain)
}

func defaultCookiePath(requestPath string) string {
	if requestPath == "" || requestPath[0] != '/' {
		return "/"
	}
	i := strings.LastIndexByte(requestPath, '/')
	if i <= 0 {
		return "/"
	}
	return requestPath[:i]
}

// Cookies returns the cookies applicable to u, ordered longest-Path
// first (ties broken by earlier creation time) per RFC 6265 §5.4, the
// order the teacher's cli.send attaches a single "Cookie:" header in.
func (j *Jar) Cookies(u *uri.URI, now time.Time) []*Cookie {
	if j == nil {
		return nil
	}
	host := u.Hostname()
	secure := strings.EqualFold(u.Scheme, "https")

	j.mu.Lock()
	defer j.mu.Unlock()

	var out []*Cookie
	for id, c := range j.entries {
		if c.isExpired(now) {
			delete(j.entries, id)
			continue
		}
		if c.shouldSend(secure, host, u.Path) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, k int) bool {
		if len(out[i].Path) != len(out[k].Path) {
			return len(out[i].Path) > len(out[k].Path)
		}
		return out[i].created < out[k].created
	})
	return out
}

// Header renders the Cookies result as a single "name=value; name2=value2"
// string suitable for one Cookie request header, matching spec §4.3's
// "attached to outgoing requests as a single Cookie header".
func Header(cookies []*Cookie) string {
	parts := make([]string, len(cookies))
	for i, c := range cookies {
		parts[i] = c.String()
	}
	return strings.Join(parts, "; ")
}

// RemoveAll clears every stored cookie.
func (j *Jar) RemoveAll() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = make(map[string]*Cookie)
}
