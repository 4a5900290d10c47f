/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package middleware implements the request-processing chain from
// spec §5: retry, redirect-following, cookie attach/store, response
// decode, authentication, and per-request timeout, composed around a
// terminal internal/transport.Transport. Grounded on the teacher's
// cli.Client.Do loop (redirect/body-resend policy) and cli.send
// (Basic-auth-from-URL, RoundTripper error translation).
package middleware

import (
	"context"
	"io"

	"github.com/karpetrosyan/aioreq/internal/header"
	"github.com/karpetrosyan/aioreq/internal/uri"
)

// Request is the middleware-chain request shape: richer than
// internal/transport.Request since middlewares need the full URL
// (for redirect resolution and cookie domain/path matching) and a
// GetBody supplier to resend a body across a redirect or retry.
type Request struct {
	Method        string
	URL           *uri.URI
	Host          string // overrides the Host header when set; RedirectMiddleware clears it on every hop
	Header        *header.Header
	Body          io.Reader
	GetBody       func() (io.Reader, error)
	ContentLength int64 // -1 means unknown

	// Via records the chain of requests a redirect has already
	// followed, oldest first, for CheckRedirect and the
	// too-many-redirects budget.
	Via []*Request
}

// Clone returns a shallow copy of r with its own Header, suitable for
// mutating en route to the next hop of a redirect (spec §5.2).
func (r *Request) Clone() *Request {
	clone := *r
	if r.Header != nil {
		clone.Header = r.Header.Clone()
	}
	return &clone
}

// Response is the middleware-chain response shape.
type Response struct {
	StatusCode int
	Reason     string
	Header     *header.Header
	Body       io.ReadCloser
	Request    *Request // the request that produced this response

	// Trailer returns the chunked-response trailer block, or nil if
	// none was sent or Body hasn't been drained to EOF yet. Set by the
	// terminal handler from internal/transport.Response.Trailer.
	Trailer func() *header.Header
}

// Handler is one link in the middleware chain.
type Handler interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

func (f HandlerFunc) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Chain composes middlewares around terminal in application order:
// Chain(terminal, retry, redirect, cookies) builds
// retry(redirect(cookies(terminal))) — the first middleware listed is
// the outermost one a caller's RoundTrip call enters first, matching
// the teacher's Client.Do outermost-loop-calls-send-calls-RoundTrip
// layering (retry/redirect happen "above" the wire transport, auth and
// cookies happen "around" each individual hop).
func Chain(terminal Handler, mws ...func(next Handler) Handler) Handler {
	h := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
