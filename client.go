/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package aioreq is the user-facing HTTP/1.1 client facade (spec §6):
// Client owns the connection pool, the cookie jar, and the middleware
// head, and exposes get/post/put/delete/patch/head/options/send the
// way the teacher's cli.Client does, rebuilt over this module's own
// internal/transport and internal/middleware stack instead of wrapping
// net/http.
package aioreq

import (
	"context"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/karpetrosyan/aioreq/errs"
	"github.com/karpetrosyan/aioreq/internal/cookiejar"
	"github.com/karpetrosyan/aioreq/internal/header"
	"github.com/karpetrosyan/aioreq/internal/middleware"
	"github.com/karpetrosyan/aioreq/internal/pool"
	"github.com/karpetrosyan/aioreq/internal/transport"
)

// Version is embedded in the default User-Agent request header.
const Version = "0.1.0"

// HTTP methods, mirroring the teacher's types_http.go constants.
const (
	MethodGet     = "GET"
	MethodHead    = "HEAD"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodPatch   = "PATCH"
	MethodDelete  = "DELETE"
	MethodOptions = "OPTIONS"
)

// Client is the entry point: it owns a Pool, a cookie Jar, and a
// middleware chain head, per spec §4's "Shared resources: the Client
// owns the pool, the cookie jar, and the middleware head."
type Client struct {
	mu   sync.RWMutex
	head middleware.Handler

	pool      *pool.Pool
	transport *transport.Transport
	jar       *cookiejar.Jar

	defaultHeader *header.Header
	logf          func(string, ...any)

	closed bool
}

// New constructs a Client from opts, resolving defaults the way the
// teacher's Client.transport() lazily falls back to DefaultTransport:
// everything has a usable zero value, options only override.
func New(opts ...Option) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	p := pool.New(cfg.poolConfig)
	tr := transport.New(p, cfg.timeouts)
	tr.InsecureSkipVerify = !cfg.verifyMode || !cfg.checkHostname
	tr.DisableKeepAlives = !cfg.persistentConnections

	if cfg.keylogWriter != nil {
		// internal/conn.Config.KeyLogWriter is plumbed per-dial from the
		// transport's TLS settings: Transport.dial copies its exported
		// KeyLogWriter field into every conn.Config it builds.
		tr.KeyLogWriter = cfg.keylogWriter
	}

	jar := cfg.jar
	if jar == nil {
		jar = cookiejar.New()
	}

	logf := cfg.logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	c := &Client{
		pool:          p,
		transport:     tr,
		jar:           jar,
		defaultHeader: cfg.header,
		logf:          logf,
	}

	mws := cfg.middlewares
	if mws == nil {
		mws = c.defaultMiddlewares(cfg)
	}
	c.head = middleware.Chain(middleware.NewTerminal(tr), mws...)

	return c
}

// defaultMiddlewares builds the stack spec §4.9 describes: an overall
// timeout (outermost, when set), retry, redirect, cookies, decode,
// URL-userinfo Basic auth and optional Digest auth, wrapping the
// terminal transport adapter. Order matters (spec
// §8 invariant 5): the head-most entry here is the first to see the
// request and the last to see the response.
func (c *Client) defaultMiddlewares(cfg *config) []func(middleware.Handler) middleware.Handler {
	mws := []func(middleware.Handler) middleware.Handler{
		middleware.RetryMiddleware(cfg.retry),
		middleware.RedirectMiddleware(middleware.RedirectConfig{
			MaxRedirects:  cfg.maxRedirects,
			CheckRedirect: cfg.checkRedirect,
		}),
		middleware.CookieMiddleware(c.jar),
		middleware.DecodeMiddleware(middleware.DecodeConfig{AcceptEncoding: cfg.acceptEncoding}),
		middleware.BasicAuthFromURL(),
	}
	if cfg.digestSet {
		mws = append(mws, middleware.DigestAuthMiddleware(cfg.digestUser, cfg.digestPass))
	}
	if cfg.timeout > 0 {
		mws = append([]func(middleware.Handler) middleware.Handler{middleware.TimeoutMiddleware(cfg.timeout)}, mws...)
	}
	return mws
}

// Use replaces the middleware head at runtime (spec §4.8: "Middlewares
// may be inserted or replaced at runtime by rewriting the head
// reference"), composing mws around the existing terminal transport.
func (c *Client) Use(mws ...func(middleware.Handler) middleware.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = middleware.Chain(middleware.NewTerminal(c.transport), mws...)
}

// Jar returns the Client's cookie jar.
func (c *Client) Jar() *cookiejar.Jar { return c.jar }

// Get, Post, Put, Delete, Patch, Head and Options are the convenience
// verbs from spec §6; each returns a fully materialized Response.
func (c *Client) Get(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, MethodGet, rawURL, opts...)
}

func (c *Client) Post(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, MethodPost, rawURL, opts...)
}

func (c *Client) Put(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, MethodPut, rawURL, opts...)
}

func (c *Client) Delete(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, MethodDelete, rawURL, opts...)
}

func (c *Client) Patch(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, MethodPatch, rawURL, opts...)
}

func (c *Client) Head(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, MethodHead, rawURL, opts...)
}

func (c *Client) Options(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, MethodOptions, rawURL, opts...)
}

func (c *Client) do(ctx context.Context, method, rawURL string, opts ...RequestOption) (*Response, error) {
	req, err := NewRequest(method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	p := &requestParams{}
	for _, opt := range opts {
		opt(p)
	}
	p.applyTo(req)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return c.Send(ctx, req)
}

// Send submits a prebuilt Request through the middleware head and
// returns a materialized Response (its body already read into memory
// and the connection already released), per spec §6 "Client.send
// (request) same for a prebuilt Request" (same contract as
// get/post/...). Use Stream for the scoped, connection-owning variant.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.sendRaw(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := resp.Content(); err != nil {
		return nil, err
	}
	return resp, nil
}

// Stream submits req and returns a streaming Response whose Body is
// left open: the caller owns the underlying Connection until Body is
// closed or fully drained (spec §6 "StreamClient(request, ...) is
// scoped: on entry returns a streaming Response; on exit releases its
// connection", and spec §9 "require callers to consume within a scope
// to avoid leaks"). fn is called with the open Response; its Body is
// closed when fn returns, regardless of error, so the connection is
// never leaked out of the pool.
func (c *Client) Stream(ctx context.Context, req *Request, fn func(*Response) error) error {
	resp, err := c.sendRaw(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Close()

	// Run fn alongside a watcher that force-closes Body the moment ctx
	// is canceled, so a caller blocked inside fn's Read doesn't hang
	// past the caller's own deadline. done stops the watcher once fn
	// returns on its own. Grounded on the teacher's persist_conn
	// pattern of a side goroutine racing a read against cancellation,
	// generalized here to the client's own scoped Stream instead of a
	// server-side request body.
	var g errgroup.Group
	done := make(chan struct{})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			resp.Close()
		case <-done:
		}
		return nil
	})

	fnErr := fn(resp)
	close(done)
	_ = g.Wait()

	if fnErr != nil {
		return fnErr
	}
	return ctx.Err()
}

func (c *Client) sendRaw(ctx context.Context, req *Request) (*Response, error) {
	c.mu.RLock()
	closed := c.closed
	head := c.head
	c.mu.RUnlock()
	if closed {
		return nil, errs.ErrPoolClosed
	}

	if c.defaultHeader != nil {
		c.defaultHeader.Each(func(name, value string) {
			if !req.Header.Has(name) {
				_ = req.Header.Set(name, value)
			}
		})
	}
	if !req.Header.Has("User-Agent") {
		_ = req.Header.Set("User-Agent", "aioreq/"+Version)
	}

	mwReq := &middleware.Request{
		Method:        req.Method,
		URL:           req.URL,
		Header:        req.Header,
		Body:          req.Body,
		GetBody:       req.GetBody,
		ContentLength: req.ContentLength,
	}
	resp, err := head.RoundTrip(ctx, mwReq)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Reason:     resp.Reason,
		Header:     resp.Header,
		Body:       resp.Body,
		Request:    req,
		trailer:    resp.Trailer,
	}, nil
}

// Close closes every idle pooled connection and marks c unusable for
// further requests, per spec §6 "PoolClosed — operation on a closed
// Client."
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.pool.Close()
}

func keylogWriterFromEnv() io.Writer {
	path := os.Getenv("SSLKEYLOGFILE")
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return f
}
