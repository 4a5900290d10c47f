/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package middleware

import (
	"context"
	"time"

	"github.com/karpetrosyan/aioreq/errs"
)

// TimeoutMiddleware bounds the whole request (every redirect hop, every
// retry, header send through body read) by d, distinct from the
// connect/write/read-stage timeouts internal/transport already applies
// per socket operation (spec §5.6 "overall request timeout, layered
// above the per-stage transport timeouts").
func TimeoutMiddleware(d time.Duration) func(Handler) Handler {
	if d <= 0 {
		return func(next Handler) Handler { return next }
	}
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			resp, err := next.RoundTrip(ctx, req)
			if err != nil {
				// A socket deadline taken from ctx can expire just before
				// ctx's own timer fires, so check the clock as well.
				dl, _ := ctx.Deadline()
				if ctx.Err() == context.DeadlineExceeded || !time.Now().Before(dl) {
					return nil, &errs.TimeoutError{Stage: "total"}
				}
				return nil, err
			}
			return resp, nil
		})
	}
}
