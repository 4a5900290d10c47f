/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package wire

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/karpetrosyan/aioreq/errs"
	"github.com/karpetrosyan/aioreq/internal/header"
)

// ResponseHead is everything about a response known before its body
// is consumed: status line and headers.
type ResponseHead struct {
	Major, Minor int
	StatusCode   int
	Reason       string
	Header       *header.Header
}

// ReadResponseHead parses the status line and header block from r,
// draining and discarding any 1xx informational responses first (spec
// §4.4's "1xx responses other than 101 are consumed transparently"),
// the way the teacher's ReadResponse/persist_conn readLoop pair
// handles 100 Continue by looping before the "real" response.
func ReadResponseHead(r *bufio.Reader) (*ResponseHead, error) {
	for {
		head, err := ReadOneResponseHead(r)
		if err != nil {
			return nil, err
		}
		if head.StatusCode >= 100 && head.StatusCode <= 199 && head.StatusCode != 101 {
			continue
		}
		return head, nil
	}
}

// ReadOneResponseHead parses a single status line and header block
// without looping past 1xx responses, letting a caller waiting on an
// "Expect: 100-continue" reply inspect that one interim response (or
// discover the server skipped straight to a final status, e.g. 417)
// before deciding whether to send the request body at all.
func ReadOneResponseHead(r *bufio.Reader) (*ResponseHead, error) {
	line, err := ReadLine(r)
	if err != nil {
		return nil, err
	}
	major, minor, status, reason, err := ParseStatusLine(line)
	if err != nil {
		return nil, err
	}
	h, err := readHeaderBlock(r)
	if err != nil {
		return nil, err
	}
	return &ResponseHead{Major: major, Minor: minor, StatusCode: status, Reason: strings.TrimSpace(reason), Header: h}, nil
}

// readHeaderBlock reads "Name: value" lines until a blank line,
// supporting obs-fold continuation lines per RFC 7230 §3.2.4 the same
// way the teacher's hdr.HeaderReader.ReadHeader does, using our own
// order-preserving store instead of textproto.MIMEHeader.
func readHeaderBlock(r *bufio.Reader) (*header.Header, error) {
	h := header.New()
	var lastName string
	for {
		raw, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil, &errs.ReadError{Err: io.ErrUnexpectedEOF}
			}
			return nil, &errs.ReadError{Err: err}
		}
		line := trimCRLF(raw)
		if line == "" {
			return h, nil
		}
		if (line[0] == ' ' || line[0] == '\t') && lastName != "" {
			// obs-fold: continuation of the previous field value.
			prev := h.Get(lastName)
			_ = h.Set(lastName, prev+" "+strings.TrimSpace(line))
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &errs.ProtocolError{Msg: "malformed header line: " + line}
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if err := h.Add(name, value); err != nil {
			return nil, err
		}
		lastName = name
	}
}

// FrameKind describes which body-delimiting strategy applies, per
// RFC 7230 §3.3.3, the teacher's fixLength/readTransferResponse logic.
type FrameKind int

const (
	FrameNone FrameKind = iota
	FrameContentLength
	FrameChunked
	FrameUntilClose
)

// Framing determines how the response body is delimited: an explicit
// Content-Length, chunked Transfer-Encoding, or read-until-close, and
// also reports whether the connection must close afterward.
type Framing struct {
	Kind          FrameKind
	ContentLength int64
	Close         bool
}

// DetermineFraming implements spec §4.4's framing precedence
// (Transfer-Encoding: chunked wins over Content-Length; a request with
// no body-bearing status and no chunked encoding is empty), and spec
// §3's request-smuggling hardening: multiple differing Content-Length
// headers are rejected outright rather than "fixed up".
func DetermineFraming(h *header.Header, major, minor, statusCode int, headMethod bool) (Framing, error) {
	closeConn := shouldClose(major, minor, h)

	if headMethod {
		return Framing{Kind: FrameNone, Close: closeConn}, nil
	}
	if statusCode/100 == 1 || statusCode == 204 || statusCode == 304 {
		return Framing{Kind: FrameNone, Close: closeConn}, nil
	}

	te := h.Get("Transfer-Encoding")
	if strings.EqualFold(te, "chunked") {
		return Framing{Kind: FrameChunked, Close: closeConn}, nil
	}

	clValues := h.Values("Content-Length")
	if len(clValues) > 1 {
		first := strings.TrimSpace(clValues[0])
		for _, v := range clValues[1:] {
			if strings.TrimSpace(v) != first {
				return Framing{}, &errs.ProtocolError{Msg: "multiple conflicting Content-Length headers"}
			}
		}
	}
	if len(clValues) > 0 {
		n, err := strconv.ParseInt(strings.TrimSpace(clValues[0]), 10, 64)
		if err != nil || n < 0 {
			return Framing{}, &errs.ProtocolError{Msg: "malformed Content-Length: " + clValues[0]}
		}
		if n == 0 {
			return Framing{Kind: FrameNone, Close: closeConn}, nil
		}
		return Framing{Kind: FrameContentLength, ContentLength: n, Close: closeConn}, nil
	}

	return Framing{Kind: FrameUntilClose, Close: true}, nil
}

func shouldClose(major, minor int, h *header.Header) bool {
	if major < 1 {
		return true
	}
	conn := strings.ToLower(h.Get("Connection"))
	hasClose := containsToken(conn, "close")
	if major == 1 && minor == 0 {
		return hasClose || !containsToken(conn, "keep-alive")
	}
	return hasClose
}

func containsToken(v, token string) bool {
	for _, part := range strings.Split(v, ",") {
		if strings.TrimSpace(part) == token {
			return true
		}
	}
	return false
}
