/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package middleware

import (
	"context"
	"io"
	"strings"

	"github.com/karpetrosyan/aioreq/errs"
	"github.com/karpetrosyan/aioreq/internal/header"
	"github.com/karpetrosyan/aioreq/internal/uri"
)

// DefaultMaxRedirects is the redirect budget applied when RedirectConfig
// leaves MaxRedirects at zero, matching the teacher's defaultCheckRedirect
// ("stopped after 10 redirects").
const DefaultMaxRedirects = 10

// ErrUseLastResponse may be returned by a CheckRedirect callback to
// signal that the most recent response should be returned to the
// caller instead of the redirect being followed, mirroring the
// teacher's sentinel of the same name.
var ErrUseLastResponse = errUseLastResponse{}

type errUseLastResponse struct{}

func (errUseLastResponse) Error() string { return "aioreq: use last response" }

// RedirectConfig configures RedirectMiddleware.
type RedirectConfig struct {
	MaxRedirects int
	// CheckRedirect, if non-nil, is called before each redirect is
	// followed. Returning ErrUseLastResponse stops following and
	// returns the most recent response; any other non-nil error
	// aborts the whole request with that error.
	CheckRedirect func(req *Request, via []*Request) error
}

// RedirectMiddleware follows 3xx Location redirects per spec §5.2,
// grounded on the teacher's Client.Do loop and utils.redirectBehavior /
// shouldCopyHeaderOnRedirect / refererForURL.
func RedirectMiddleware(cfg RedirectConfig) func(Handler) Handler {
	max := cfg.MaxRedirects
	if max == 0 {
		max = DefaultMaxRedirects
	}
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			cur := req
			var via []*Request
			for {
				resp, err := next.RoundTrip(ctx, cur)
				if err != nil {
					return nil, err
				}

				method, shouldRedirect, includeBody := redirectBehavior(cur.Method, resp)
				if !shouldRedirect {
					return resp, nil
				}

				if len(via) >= max {
					drain(resp)
					return nil, errs.ErrTooManyRedirects
				}

				loc := resp.Header.Get("Location")
				if loc == "" {
					drain(resp)
					return nil, errs.ErrMissingLocation
				}
				dest, perr := cur.URL.ResolveReference(loc)
				if perr != nil {
					drain(resp)
					return nil, &errs.InvalidURIError{Input: loc, Err: perr}
				}

				nreq := cur.Clone()
				nreq.Method = method
				nreq.URL = dest
				nreq.Host = ""
				nreq.Via = append(append([]*Request{}, via...), cur)

				if includeBody && cur.GetBody != nil {
					body, berr := cur.GetBody()
					if berr != nil {
						drain(resp)
						return nil, berr
					}
					nreq.Body = body
				} else {
					nreq.Body = nil
					nreq.GetBody = nil
					nreq.ContentLength = 0
					nreq.Header.Del("Content-Length")
					nreq.Header.Del("Content-Type")
				}

				stripCrossOriginHeaders(nreq.Header, cur.URL.Hostname(), dest.Hostname())
				if ref := refererForURL(cur.URL, dest); ref != "" {
					_ = nreq.Header.Set("Referer", ref)
				} else {
					nreq.Header.Del("Referer")
				}

				if cfg.CheckRedirect != nil {
					if cerr := cfg.CheckRedirect(nreq, nreq.Via); cerr != nil {
						drain(resp)
						if cerr == ErrUseLastResponse {
							return resp, nil
						}
						return nil, cerr
					}
				}

				drain(resp)
				via = nreq.Via
				cur = nreq
			}
		})
	}
}

func drain(resp *Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// redirectBehavior mirrors the teacher's utils.redirectBehavior: 301,
// 302 and 303 rewrite the method to GET (except an original GET or
// HEAD, which is preserved) and drop the body; 307 and 308 preserve
// both method and body.
func redirectBehavior(reqMethod string, resp *Response) (method string, redirect, includeBody bool) {
	switch resp.StatusCode {
	case 301, 302, 303:
		redirect = true
		includeBody = false
		method = reqMethod
		if reqMethod != "GET" && reqMethod != "HEAD" {
			method = "GET"
		}
	case 307, 308:
		redirect = true
		includeBody = true
		method = reqMethod
	}
	return method, redirect, includeBody
}

// refererForURL mirrors the teacher's utils.refererForURL: never leak a
// Referer from https to plain http, and never leak userinfo.
func refererForURL(lastReq, dest *uri.URI) string {
	if lastReq.Scheme == "https" && dest.Scheme == "http" {
		return ""
	}
	stripped := *lastReq
	stripped.User = nil
	stripped.Fragment = ""
	return stripped.String()
}

// stripCrossOriginHeaders drops Authorization, WWW-Authenticate, Cookie
// and Cookie2 before a redirect crosses to a different host, mirroring
// the teacher's shouldCopyHeaderOnRedirect / isDomainOrSubdomain pair.
func stripCrossOriginHeaders(h *header.Header, fromHost, toHost string) {
	if isDomainOrSubdomain(toHost, fromHost) {
		return
	}
	for _, name := range []string{"Authorization", "Www-Authenticate", "Cookie", "Cookie2", "Proxy-Authorization"} {
		h.Del(name)
	}
}

// isDomainOrSubdomain reports whether sub is host or a subdomain of
// host, requiring a '.' boundary so "notexample.com" doesn't match
// "example.com".
func isDomainOrSubdomain(sub, host string) bool {
	if sub == host {
		return true
	}
	if !strings.HasSuffix(sub, "."+host) {
		return false
	}
	return true
}
