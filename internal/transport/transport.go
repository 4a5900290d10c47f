/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package transport drives one request end-to-end over a pooled
// connection: acquire, write, read, and release-or-close (spec §4.5).
// Grounded on the teacher's persistConn.roundTrip and Transport.getConn,
// simplified from their reqch/writech/closech goroutine-and-channel
// state machine (built for net/http's historical single persistConn
// goroutine pair) into a single synchronous call per request guarded
// by context deadlines — idiomatic for a RoundTripper that already
// runs on the caller's goroutine with no separate event loop to
// coordinate with.
package transport

import (
	"bufio"
	"context"
	"io"
	"time"

	"github.com/karpetrosyan/aioreq/errs"
	"github.com/karpetrosyan/aioreq/internal/conn"
	"github.com/karpetrosyan/aioreq/internal/header"
	"github.com/karpetrosyan/aioreq/internal/pool"
	"github.com/karpetrosyan/aioreq/internal/uri"
	"github.com/karpetrosyan/aioreq/internal/wire"
)

// Request is the wire-level shape a RoundTrip call consumes.
type Request struct {
	Method  string
	URL     *uri.URI
	Host    string // overrides the Host header when non-empty
	Header  *header.Header
	Body    io.Reader
	Chunked bool  // true if Body's length is unknown and must be chunked
	Length  int64 // body length if known, ignored when Chunked
}

// Response is the wire-level shape a RoundTrip call produces. Body
// must be closed by the caller; doing so drains any unread remainder
// and returns the underlying connection to the pool, or closes it if
// the response signalled connection close, keep-alives are disabled,
// or the drain fails.
type Response struct {
	StatusCode   int
	Reason       string
	Major, Minor int
	Header       *header.Header
	Body         io.ReadCloser
	Trailer      func() *header.Header // non-nil only after Body is drained for chunked responses

	closeSignalsClose bool // set from Connection: close / HTTP/1.0 framing
}

// Timeouts bounds each stage of a round trip, per spec §4.5.
type Timeouts struct {
	Connect      time.Duration
	Write        time.Duration
	ResponseHead time.Duration // time to receive status line + headers
	Read         time.Duration // time for the whole read, including body

	// ExpectContinue bounds how long RoundTrip waits for a "100
	// Continue" interim response after sending "Expect: 100-continue"
	// for a large request body, before sending the body anyway. Zero
	// disables Expect: 100-continue entirely.
	ExpectContinue time.Duration
}

// expectContinueThreshold is the body size at and above which a
// request with a known Content-Length offers "Expect: 100-continue",
// sparing the caller from uploading a large body the server was going
// to reject (e.g. on auth) without reading it.
const expectContinueThreshold = 1 << 20 // 1 MiB

// Transport drives requests over a pool of conn.Conn, dialing a fresh
// connection on a pool miss.
type Transport struct {
	Pool               *pool.Pool
	Timeouts           Timeouts
	TLSServerName      string // overrides SNI; empty uses the request host
	InsecureSkipVerify bool
	DisableKeepAlives  bool
	KeyLogWriter       io.Writer // SSLKEYLOGFILE sink, plumbed to every TLS dial
}

// New returns a Transport backed by pool.
func New(p *pool.Pool, timeouts Timeouts) *Transport {
	return &Transport{Pool: p, Timeouts: timeouts}
}

// RoundTrip performs one request, acquiring a pooled connection when
// available and dialing otherwise, matching the teacher's
// Transport.RoundTrip/getConn acquire-then-roundTrip shape.
func (t *Transport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	key := req.URL.ConnKey()

	c, reused := t.acquire(key)
	if c == nil {
		var err error
		c, err = t.dial(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		c.MarkInUse()
	}

	resp, err := t.roundTripOnce(ctx, c, req)
	if err != nil {
		_ = c.Close()
		if reused {
			// A pooled connection may have been closed by the peer
			// between Get and use; retry once on a fresh dial, mirroring
			// shouldRetryRequest's "idempotent request on a reused,
			// now-dead connection" case.
			c2, derr := t.dial(ctx, req.URL)
			if derr != nil {
				return nil, err
			}
			c2.MarkInUse()
			resp, err = t.roundTripOnce(ctx, c2, req)
			if err != nil {
				_ = c2.Close()
				return nil, err
			}
			t.wrapBodyForRelease(c2, key, resp)
			return resp, nil
		}
		return nil, err
	}

	t.wrapBodyForRelease(c, key, resp)
	return resp, nil
}

func (t *Transport) acquire(key uri.ConnKey) (c *conn.Conn, reused bool) {
	if t.Pool == nil {
		return nil, false
	}
	c, ok := t.Pool.Get(key)
	return c, ok
}

func (t *Transport) dial(ctx context.Context, u *uri.URI) (*conn.Conn, error) {
	serverName := t.TLSServerName
	if serverName == "" {
		serverName = u.Hostname()
	}
	cfg := conn.Config{
		Addr:                u.Addr(),
		TLS:                 u.Scheme == "https",
		ServerName:          serverName,
		InsecureSkipVerify:  t.InsecureSkipVerify,
		KeyLogWriter:        t.KeyLogWriter,
		ConnectTimeout:      t.Timeouts.Connect,
		TLSHandshakeTimeout: t.Timeouts.Connect,
	}
	return conn.Dial(ctx, cfg)
}

func (t *Transport) roundTripOnce(ctx context.Context, c *conn.Conn, req *Request) (*Response, error) {
	if t.Timeouts.Write > 0 {
		_ = c.SetWriteDeadline(time.Now().Add(t.Timeouts.Write))
	} else if dl, ok := ctx.Deadline(); ok {
		_ = c.SetWriteDeadline(dl)
	}

	host := req.Host
	if host == "" {
		host = req.URL.HostHeader()
	}
	expectContinue := t.Timeouts.ExpectContinue > 0 && !req.Chunked && req.Length >= expectContinueThreshold
	if expectContinue && !req.Header.Has("Expect") {
		_ = req.Header.Set("Expect", "100-continue")
	}
	msg := &wire.Message{
		Method: req.Method,
		Target: req.URL.RequestTarget(),
		Host:   host,
		Major:  1,
		Minor:  1,
		Header: req.Header,
		Body:   req.Body,
	}
	if err := wire.WriteRequestHead(c.Writer, msg, req.Length, req.Chunked); err != nil {
		return nil, err
	}
	if err := c.Writer.Flush(); err != nil {
		return nil, &errs.WriteError{Err: err}
	}

	var preReadHead *wire.ResponseHead
	var err error
	if expectContinue {
		preReadHead, err = waitForContinue(c, t.Timeouts.ExpectContinue)
		if err != nil {
			return nil, err
		}
	}

	if preReadHead == nil {
		if err := wire.WriteRequestBody(c.Writer, msg, req.Chunked); err != nil {
			return nil, err
		}
		if err := c.Writer.Flush(); err != nil {
			return nil, &errs.WriteError{Err: err}
		}
	}

	if t.Timeouts.ResponseHead > 0 {
		_ = c.SetReadDeadline(time.Now().Add(t.Timeouts.ResponseHead))
	} else if dl, ok := ctx.Deadline(); ok {
		_ = c.SetReadDeadline(dl)
	}

	var head *wire.ResponseHead
	if preReadHead != nil {
		head = preReadHead
	} else {
		head, err = wire.ReadResponseHead(c.Reader)
		if err != nil {
			return nil, err
		}
	}

	if t.Timeouts.Read > 0 {
		_ = c.SetReadDeadline(time.Now().Add(t.Timeouts.Read))
	} else if dl, ok := ctx.Deadline(); ok {
		_ = c.SetReadDeadline(dl)
	} else {
		_ = c.SetReadDeadline(time.Time{})
	}

	headMethod := req.Method == "HEAD"
	framing, err := wire.DetermineFraming(head.Header, head.Major, head.Minor, head.StatusCode, headMethod)
	if err != nil {
		return nil, err
	}

	body, trailerFn := bodyReaderFor(c.Reader, framing)

	resp := &Response{
		StatusCode: head.StatusCode,
		Reason:     head.Reason,
		Major:      head.Major,
		Minor:      head.Minor,
		Header:     head.Header,
		Body:       io.NopCloser(body),
		Trailer:    trailerFn,
	}
	resp.closeSignalsClose = framing.Close
	return resp, nil
}

// waitForContinue waits up to timeout for an interim response after an
// "Expect: 100-continue" request head. It returns (nil, nil) if nothing
// arrived in time (the caller proceeds to send the body, per RFC 7231
// §5.1.1's "MUST NOT wait ... indefinitely"), or the peeked head if the
// server answered with something other than 100 (e.g. 417 Expectation
// Failed, or it just jumped straight to its final response), in which
// case the caller must treat that as the final response and skip
// sending the body. Grounded on the teacher's persist_conn waitForContinue/
// continueCh pattern, adapted from its goroutine-and-channel shape to a
// direct blocking Peek since this RoundTrip has no separate read loop.
func waitForContinue(c *conn.Conn, timeout time.Duration) (*wire.ResponseHead, error) {
	_ = c.SetReadDeadline(time.Now().Add(timeout))
	_, err := c.Reader.Peek(1)
	if err != nil {
		return nil, nil
	}
	head, err := wire.ReadOneResponseHead(c.Reader)
	if err != nil {
		return nil, err
	}
	if head.StatusCode == 100 {
		return nil, nil
	}
	return head, nil
}

func bodyReaderFor(r *bufio.Reader, f wire.Framing) (io.Reader, func() *header.Header) {
	switch f.Kind {
	case wire.FrameChunked:
		cr := wire.NewChunkedReader(r)
		return cr, func() *header.Header { return cr.Trailer }
	case wire.FrameContentLength:
		return io.LimitReader(r, f.ContentLength), nil
	case wire.FrameUntilClose:
		return r, nil
	default:
		return io.LimitReader(r, 0), nil
	}
}

// wrapBodyForRelease wraps resp.Body so that Close drains any
// remaining bytes (so trailers are read and the connection is
// reusable) and returns c to the pool, or closes c outright if the
// response demanded connection closure, matching the teacher's
// body.Close / tryPutIdleConn interaction.
func (t *Transport) wrapBodyForRelease(c *conn.Conn, key uri.ConnKey, resp *Response) {
	mustClose := resp.closeSignalsClose
	inner := resp.Body
	resp.Body = &releasingBody{
		ReadCloser: inner,
		release: func() {
			if mustClose || t.DisableKeepAlives || t.Pool == nil {
				_ = c.Close()
				return
			}
			if _, err := io.Copy(io.Discard, inner); err != nil {
				_ = c.Close()
				return
			}
			t.Pool.Put(key, c)
		},
	}
}

type releasingBody struct {
	io.ReadCloser
	release func()
	done    bool
}

func (b *releasingBody) Close() error {
	if b.done {
		return nil
	}
	b.done = true
	b.release()
	return nil
}
