/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package wire

import (
	"bufio"
	"io"

	"github.com/karpetrosyan/aioreq/errs"
	"github.com/karpetrosyan/aioreq/internal/header"
)

const maxLineLength = 4096 // same bound the teacher's readChunkLine enforces

// ChunkedReader decodes an HTTP/1.1 chunked transfer-coded body,
// collecting the optional trailer into Trailer once io.EOF is reached.
// Grounded on the teacher's utils_chunks.go helpers (readChunkLine,
// removeChunkExtension, parseHexUint); the surrounding chunkedReader
// type itself was referenced by utils_transfer.go but never present in
// the retrieved pack, so its Read state machine here is an original
// implementation built on the same line-grammar helpers.
type ChunkedReader struct {
	r       *bufio.Reader
	n       uint64 // bytes remaining in the current chunk
	err     error
	Trailer *header.Header
}

// NewChunkedReader wraps r as a chunked-decoding reader.
func NewChunkedReader(r *bufio.Reader) *ChunkedReader {
	return &ChunkedReader{r: r}
}

func (c *ChunkedReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	for c.n == 0 {
		if err := c.beginChunk(); err != nil {
			c.err = err
			return 0, err
		}
		if c.n == 0 {
			if err := c.readTrailer(); err != nil {
				c.err = err
				return 0, err
			}
			c.err = io.EOF
			return 0, io.EOF
		}
	}
	if uint64(len(p)) > c.n {
		p = p[:c.n]
	}
	n, err := c.r.Read(p)
	c.n -= uint64(n)
	if (c.n == 0 && err == nil) || err == io.EOF {
		// Consume the trailing CRLF after a chunk's data.
		if _, err2 := readChunkLine(c.r); err2 != nil {
			return n, err2
		}
	}
	if err == io.EOF {
		err = nil // more chunks or trailer may follow; caller loops
	}
	return n, err
}

func (c *ChunkedReader) beginChunk() error {
	line, err := readChunkLine(c.r)
	if err != nil {
		return err
	}
	n, err := parseHexUint(line)
	if err != nil {
		return &errs.ProtocolError{Msg: "malformed chunk size"}
	}
	c.n = n
	return nil
}

func (c *ChunkedReader) readTrailer() error {
	buf, err := c.r.Peek(2)
	if err == nil && len(buf) == 2 && buf[0] == '\r' && buf[1] == '\n' {
		_, _ = c.r.Discard(2)
		return nil
	}
	h, err := readHeaderBlock(c.r)
	if err != nil {
		return err
	}
	c.Trailer = h
	return nil
}

// readChunkLine reads one CRLF-terminated chunk-size line, stripping
// any chunk-extension after ';', matching the teacher's
// readChunkLine/removeChunkExtension pair.
func readChunkLine(b *bufio.Reader) ([]byte, error) {
	p, err := b.ReadSlice('\n')
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		} else if err == bufio.ErrBufferFull {
			err = &errs.ProtocolError{Msg: "chunk line too long"}
		}
		return nil, err
	}
	if len(p) >= maxLineLength {
		return nil, &errs.ProtocolError{Msg: "chunk line too long"}
	}
	p = trimTrailingWhitespace(p)
	if semi := indexByteSlice(p, ';'); semi != -1 {
		p = p[:semi]
	}
	return p, nil
}

func trimTrailingWhitespace(b []byte) []byte {
	for len(b) > 0 && isASCIISpace(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return b
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func indexByteSlice(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// parseHexUint parses a chunk-size hex field, matching the teacher's
// parseHexUint overflow guard (at most 16 hex digits).
func parseHexUint(v []byte) (uint64, error) {
	var n uint64
	for i, b := range v {
		var digit byte
		switch {
		case '0' <= b && b <= '9':
			digit = b - '0'
		case 'a' <= b && b <= 'f':
			digit = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			digit = b - 'A' + 10
		default:
			return 0, &errs.ProtocolError{Msg: "invalid byte in chunk length"}
		}
		if i == 16 {
			return 0, &errs.ProtocolError{Msg: "chunk length too large"}
		}
		n <<= 4
		n |= uint64(digit)
	}
	return n, nil
}
