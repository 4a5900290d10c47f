/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package middleware

import (
	"context"
	"time"
)

// idempotentMethods mirrors the teacher's isReplayable notion: methods
// whose repetition has no extra side effect, so a transient transport
// failure can be safely retried.
var idempotentMethods = map[string]bool{
	"GET": true, "HEAD": true, "OPTIONS": true, "TRACE": true,
	"PUT": true, "DELETE": true,
}

// RetryConfig bounds RetryMiddleware.
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first; 0 disables retrying
	Backoff     time.Duration // delay before each retry
}

// RetryMiddleware retries an idempotent request after a transport-layer
// failure, per spec §5.1. internal/transport.Transport.RoundTrip already
// retries once, internally, when a *reused pooled connection* turns out
// to be dead (shouldRetryRequest's nothingWrittenError/ErrServerClosedIdle
// cases); this middleware sits one layer above and covers everything
// else that reaches the caller as an error — a refused or reset fresh
// dial, for instance — bounded by MaxAttempts so it cannot retry forever
// against a server that is simply down.
func RetryMiddleware(cfg RetryConfig) func(Handler) Handler {
	if cfg.MaxAttempts < 2 {
		return func(next Handler) Handler { return next }
	}
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			if !idempotentMethods[req.Method] {
				return next.RoundTrip(ctx, req)
			}

			var lastErr error
			for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
				if attempt > 0 {
					if cfg.Backoff > 0 {
						select {
						case <-time.After(cfg.Backoff):
						case <-ctx.Done():
							return nil, ctx.Err()
						}
					}
					retry := req.Clone()
					if req.GetBody != nil {
						body, err := req.GetBody()
						if err != nil {
							return nil, err
						}
						retry.Body = body
					}
					req = retry
				}

				resp, err := next.RoundTrip(ctx, req)
				if err == nil {
					return resp, nil
				}
				lastErr = err
			}
			return nil, lastErr
		})
	}
}
