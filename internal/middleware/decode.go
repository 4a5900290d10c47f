/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package middleware

import (
	"context"

	"github.com/karpetrosyan/aioreq/internal/wire"
)

// DecodeConfig controls content-coding negotiation and decode.
type DecodeConfig struct {
	// AcceptEncoding is offered on every request that doesn't already
	// set one explicitly. Empty disables automatic negotiation.
	AcceptEncoding string
	// DisableDecode skips automatic body decode, leaving Content-Encoding
	// and the raw body untouched for the caller to handle itself.
	DisableDecode bool
}

// DecodeMiddleware offers Accept-Encoding and transparently decodes a
// response body per its Content-Encoding, per spec §5.5. Grounded on
// shiroyk-ski-ext/fetch/http2/patch.go's DecodeResponse, which this
// module's internal/wire.DecodeContentCoding already adapts; this stage
// only wires that decode into the request/response flow and negotiates
// Accept-Encoding up front.
func DecodeMiddleware(cfg DecodeConfig) func(Handler) Handler {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			if cfg.AcceptEncoding != "" && !req.Header.Has("Accept-Encoding") {
				_ = req.Header.Set("Accept-Encoding", cfg.AcceptEncoding)
			}

			resp, err := next.RoundTrip(ctx, req)
			if err != nil {
				return nil, err
			}
			if cfg.DisableDecode {
				return resp, nil
			}

			encoding := resp.Header.Get("Content-Encoding")
			if encoding == "" || encoding == "identity" {
				return resp, nil
			}
			decoded, derr := wire.DecodeContentCoding(resp.Body, encoding)
			if derr != nil {
				return nil, derr
			}
			resp.Body = decoded
			resp.Header.Del("Content-Encoding")
			resp.Header.Del("Content-Length")
			return resp, nil
		})
	}
}
