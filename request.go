/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package aioreq

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"time"

	"github.com/karpetrosyan/aioreq/errs"
	"github.com/karpetrosyan/aioreq/internal/header"
	"github.com/karpetrosyan/aioreq/internal/uri"
)

// Request is the user-facing request value (spec §6 "Request fields:
// url, method, headers, params, content, json, auth, timeout").
type Request struct {
	Method        string
	URL           *uri.URI
	Header        *header.Header
	Body          io.Reader
	GetBody       func() (io.Reader, error)
	ContentLength int64 // -1 means unknown/unset
}

// NewRequest builds a Request for an absolute http(s) URL.
func NewRequest(method, rawURL string, body io.Reader) (*Request, error) {
	u, err := uri.Parse(rawURL)
	if err != nil {
		return nil, &errs.InvalidURIError{Input: rawURL, Err: err}
	}
	req := &Request{
		Method:        method,
		URL:           u,
		Header:        header.New(),
		Body:          body,
		ContentLength: -1,
	}
	if rs, ok := body.(io.ReadSeeker); ok {
		req.GetBody = func() (io.Reader, error) {
			if _, err := rs.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			return rs, nil
		}
	}
	return req, nil
}

// RequestOption configures a single call to Client.Get/Post/.../Send,
// mirroring spec §6's `headers?, params?, content?, json?, auth?,
// timeout?` keyword arguments.
type RequestOption func(*requestParams)

type requestParams struct {
	headers    [][2]string
	params     []uri.Param
	content    []byte
	json       any
	authSet    bool
	authUser   string
	authPass   string
	timeout    time.Duration
	hasContent bool
}

// WithRequestHeader adds one request header.
func WithRequestHeader(name, value string) RequestOption {
	return func(p *requestParams) { p.headers = append(p.headers, [2]string{name, value}) }
}

// WithParams appends query parameters in the given order (spec §4.1's
// ordered-query-params invariant applies here too).
func WithParams(params ...uri.Param) RequestOption {
	return func(p *requestParams) { p.params = append(p.params, params...) }
}

// WithContent sets a raw request body.
func WithContent(data []byte) RequestOption {
	return func(p *requestParams) { p.content = data; p.hasContent = true }
}

// WithJSON marshals v as the request body and sets
// "Content-Type: application/json" (spec §6: "json: convenience: sets
// content + content-type: application/json").
func WithJSON(v any) RequestOption {
	return func(p *requestParams) { p.json = v }
}

// WithBasicAuth sets per-request HTTP Basic credentials (spec §6's
// `auth?` parameter), independent of any credentials embedded in the
// URL's userinfo.
func WithBasicAuth(username, password string) RequestOption {
	return func(p *requestParams) {
		p.authSet = true
		p.authUser = username
		p.authPass = password
	}
}

// WithRequestTimeout bounds this one request by d. It does not lift the
// Client's own WithTimeout deadline: when both are set, the shorter one
// applies.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(p *requestParams) { p.timeout = d }
}

func (p *requestParams) applyTo(req *Request) {
	for _, kv := range p.headers {
		_ = req.Header.Set(kv[0], kv[1])
	}
	if len(p.params) > 0 {
		req.URL.Query = append(req.URL.Query, p.params...)
	}

	switch {
	case p.json != nil:
		body, err := json.Marshal(p.json)
		if err == nil {
			req.Body = bytes.NewReader(body)
			req.ContentLength = int64(len(body))
			req.GetBody = func() (io.Reader, error) { return bytes.NewReader(body), nil }
			if !req.Header.Has("Content-Type") {
				_ = req.Header.Set("Content-Type", "application/json")
			}
		}
	case p.hasContent:
		req.Body = bytes.NewReader(p.content)
		req.ContentLength = int64(len(p.content))
		req.GetBody = func() (io.Reader, error) { return bytes.NewReader(p.content), nil }
	}

	if p.authSet {
		_ = req.Header.Set("Authorization", "Basic "+basicAuthToken(p.authUser, p.authPass))
	}
}

func basicAuthToken(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
