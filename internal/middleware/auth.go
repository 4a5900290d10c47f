/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package middleware

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/karpetrosyan/aioreq/errs"
)

// BasicAuthFromURL injects "Authorization: Basic ..." from credentials
// carried in the request URL's userinfo, unless the caller already set
// an Authorization header explicitly. Grounded on the teacher's
// cli.send, which calls basicAuth(u.User) the same way before handing
// the request to the RoundTripper.
func BasicAuthFromURL() func(Handler) Handler {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			if req.URL.User != nil && !req.Header.Has("Authorization") {
				_ = req.Header.Set("Authorization", "Basic "+basicAuth(req.URL.User.Username, req.URL.User.Password))
			}
			return next.RoundTrip(ctx, req)
		})
	}
}

// basicAuth mirrors the teacher's utils.basicAuth: colon-join then
// standard base64, per RFC 7617.
func basicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}

// DigestAuthMiddleware answers RFC 7616 Digest challenges for a single
// set of credentials, caching the server's nonce/opaque/qop per request
// host name (port and realm are not part of the key) so subsequent
// requests to the same host can send a pre-emptive
// Authorization header (bumping the nonce-count) instead of always
// eating one 401 round trip, the one deviation from the teacher (whose
// retrieved slice of cli/utils.go never reached Digest support at all,
// so this stage is original, built from RFC 7616 directly per the
// recorded Open Question decision to support MD5, MD5-sess, SHA-256
// and SHA-256-sess).
func DigestAuthMiddleware(username, password string) func(Handler) Handler {
	st := &digestState{}
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			// If the caller already set Authorization explicitly, that's
			// their policy: don't overwrite it and don't retry on 401
			// (spec §9 "Authentication middleware vs. caller-set
			// Authorization").
			if req.Header.Has("Authorization") {
				return next.RoundTrip(ctx, req)
			}

			realmKey := req.URL.Hostname()

			if ch := st.get(realmKey); ch != nil {
				if hdr, err := ch.authorization(req.Method, req.URL.RequestTarget(), username, password); err == nil {
					_ = req.Header.Set("Authorization", hdr)
				}
			}

			resp, err := next.RoundTrip(ctx, req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode != 401 {
				return resp, nil
			}

			wa := pickDigestChallenge(resp.Header.Values("Www-Authenticate"))
			if wa == "" {
				return resp, nil
			}
			ch, perr := parseDigestChallenge(wa)
			if perr != nil {
				return resp, nil
			}
			drain(resp)
			st.set(realmKey, ch)

			hdr, aerr := ch.authorization(req.Method, req.URL.RequestTarget(), username, password)
			if aerr != nil {
				return nil, &errs.AuthenticationError{Msg: aerr.Error()}
			}
			retry := req.Clone()
			_ = retry.Header.Set("Authorization", hdr)
			if retry.GetBody != nil {
				body, berr := retry.GetBody()
				if berr != nil {
					return nil, berr
				}
				retry.Body = body
			}
			return next.RoundTrip(ctx, retry)
		})
	}
}

// digestState caches one challenge per realm key (here, per host) and
// serializes nonce-count increments across concurrent requests.
type digestState struct {
	mu    sync.Mutex
	byKey map[string]*digestChallenge
}

func (s *digestState) get(key string) *digestChallenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byKey == nil {
		return nil
	}
	return s.byKey[key]
}

func (s *digestState) set(key string, ch *digestChallenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byKey == nil {
		s.byKey = make(map[string]*digestChallenge)
	}
	s.byKey[key] = ch
}

type digestChallenge struct {
	mu        sync.Mutex
	realm     string
	nonce     string
	opaque    string
	qop       string // "auth", "", never "auth-int" (bodies aren't hashed)
	algorithm string // "MD5", "MD5-sess", "SHA-256", "SHA-256-sess", "" (== MD5)
	nc        uint32
}

// pickDigestChallenge returns the first Www-Authenticate value whose
// scheme is "Digest", preferring it over any Basic challenge offered
// alongside it.
func pickDigestChallenge(values []string) string {
	for _, v := range values {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(v)), "digest") {
			return v
		}
	}
	return ""
}

// parseDigestChallenge parses the comma-separated key=value (possibly
// quoted) attributes of a WWW-Authenticate: Digest ... header.
func parseDigestChallenge(v string) (*digestChallenge, error) {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "Digest")
	v = strings.TrimPrefix(v, "digest")
	attrs := parseAuthParams(v)

	ch := &digestChallenge{
		realm:     attrs["realm"],
		nonce:     attrs["nonce"],
		opaque:    attrs["opaque"],
		algorithm: attrs["algorithm"],
	}
	if ch.nonce == "" {
		return nil, fmt.Errorf("digest challenge missing nonce")
	}
	for _, q := range strings.Split(attrs["qop"], ",") {
		if strings.TrimSpace(q) == "auth" {
			ch.qop = "auth"
			break
		}
	}
	return ch, nil
}

// parseAuthParams splits a comma-separated token=value / token="value"
// attribute list, tolerating commas inside quoted values.
func parseAuthParams(s string) map[string]string {
	out := make(map[string]string)
	var i int
	for i < len(s) {
		for i < len(s) && (s[i] == ' ' || s[i] == ',' || s[i] == '\t') {
			i++
		}
		start := i
		for i < len(s) && s[i] != '=' {
			i++
		}
		if i >= len(s) {
			break
		}
		name := strings.TrimSpace(s[start:i])
		i++ // skip '='
		var val string
		if i < len(s) && s[i] == '"' {
			i++
			vstart := i
			for i < len(s) && s[i] != '"' {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				i++
			}
			val = s[vstart:i]
			i++ // skip closing quote
		} else {
			vstart := i
			for i < len(s) && s[i] != ',' {
				i++
			}
			val = strings.TrimSpace(s[vstart:i])
		}
		out[strings.ToLower(name)] = val
	}
	return out
}

func (ch *digestChallenge) authorization(method, uri, username, password string) (string, error) {
	ch.mu.Lock()
	ch.nc++
	nc := ch.nc
	ch.mu.Unlock()

	ncStr := fmt.Sprintf("%08x", nc)
	cnonce := randomCnonce()

	hashFn, algLabel := digestHash(ch.algorithm)

	ha1 := hashFn(username + ":" + ch.realm + ":" + password)
	if strings.HasSuffix(strings.ToLower(ch.algorithm), "-sess") {
		ha1 = hashFn(ha1 + ":" + ch.nonce + ":" + cnonce)
	}
	ha2 := hashFn(method + ":" + uri)

	var response string
	if ch.qop == "auth" {
		response = hashFn(ha1 + ":" + ch.nonce + ":" + ncStr + ":" + cnonce + ":auth:" + ha2)
	} else {
		response = hashFn(ha1 + ":" + ch.nonce + ":" + ha2)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		username, ch.realm, ch.nonce, uri, response)
	if algLabel != "" {
		fmt.Fprintf(&b, `, algorithm=%s`, algLabel)
	}
	if ch.opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, ch.opaque)
	}
	if ch.qop == "auth" {
		fmt.Fprintf(&b, `, qop=auth, nc=%s, cnonce="%s"`, ncStr, cnonce)
	}
	return b.String(), nil
}

// digestHash returns the hex-digest function and wire algorithm label
// for the challenge's algorithm attribute, defaulting to MD5 per RFC
// 7616 §3.3 when the attribute is absent.
func digestHash(algorithm string) (func(string) string, string) {
	switch strings.ToUpper(algorithm) {
	case "SHA-256", "SHA-256-SESS":
		return hexHashSHA256, algorithm
	case "MD5-SESS":
		return hexHashMD5, algorithm
	default:
		return hexHashMD5, ""
	}
}

func hexHashMD5(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func hexHashSHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomCnonce() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
