/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package middleware

import (
	"context"

	"github.com/karpetrosyan/aioreq/internal/transport"
)

// Terminal adapts an internal/transport.Transport to a Handler, the
// innermost stage every middleware chain eventually bottoms out at.
type Terminal struct {
	Transport *transport.Transport
}

// NewTerminal wraps t as the chain's terminal Handler.
func NewTerminal(t *transport.Transport) *Terminal {
	return &Terminal{Transport: t}
}

func (h *Terminal) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	chunked := req.ContentLength < 0 && req.Body != nil
	length := req.ContentLength
	if length < 0 {
		length = 0
	}

	tresp, err := h.Transport.RoundTrip(ctx, &transport.Request{
		Method:  req.Method,
		URL:     req.URL,
		Host:    req.Host,
		Header:  req.Header,
		Body:    req.Body,
		Chunked: chunked,
		Length:  length,
	})
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: tresp.StatusCode,
		Reason:     tresp.Reason,
		Header:     tresp.Header,
		Body:       tresp.Body,
		Request:    req,
		Trailer:    tresp.Trailer,
	}, nil
}
