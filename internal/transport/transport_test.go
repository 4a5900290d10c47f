package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karpetrosyan/aioreq/internal/header"
	"github.com/karpetrosyan/aioreq/internal/pool"
	"github.com/karpetrosyan/aioreq/internal/uri"
)

// serveOnce accepts a single connection and writes raw to it after
// reading whatever the client sends, matching the shape of the
// teacher's th loopback harness used by its own client/server tests.
func serveOnce(t *testing.T, raw string) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		br := bufio.NewReader(c)
		for {
			line, err := br.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		_, _ = io.WriteString(c, raw)
	}()
	return ln
}

func newReq(t *testing.T, ln net.Listener, method string) *Request {
	t.Helper()
	u, err := uri.Parse("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	h := header.New()
	return &Request{Method: method, URL: u, Header: h}
}

func TestRoundTripContentLengthBody(t *testing.T) {
	ln := serveOnce(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	defer ln.Close()

	tr := New(pool.New(pool.Config{}), Timeouts{})
	resp, err := tr.RoundTrip(context.Background(), newReq(t, ln, "GET"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	require.NoError(t, resp.Body.Close())
}

func TestRoundTripChunkedBody(t *testing.T) {
	ln := serveOnce(t, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n")
	defer ln.Close()

	tr := New(pool.New(pool.Config{}), Timeouts{})
	resp, err := tr.RoundTrip(context.Background(), newReq(t, ln, "GET"))
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestRoundTripConnectionClosePreventsPooling(t *testing.T) {
	ln := serveOnce(t, "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 2\r\n\r\nhi")
	defer ln.Close()

	p := pool.New(pool.Config{})
	tr := New(p, Timeouts{})
	resp, err := tr.RoundTrip(context.Background(), newReq(t, ln, "GET"))
	require.NoError(t, err)
	_, _ = io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())

	key := uri.ConnKey{Scheme: "http", Host: ln.Addr().(*net.TCPAddr).IP.String(), Port: ln.Addr().(*net.TCPAddr).Port}
	assert.Equal(t, 0, p.IdleCount(key))
}

func TestRoundTripRespectsConnectTimeout(t *testing.T) {
	tr := New(pool.New(pool.Config{}), Timeouts{Connect: 50 * time.Millisecond})
	u, err := uri.Parse("http://127.0.0.1:1/")
	require.NoError(t, err)
	_, err = tr.RoundTrip(context.Background(), &Request{Method: "GET", URL: u, Header: header.New()})
	assert.Error(t, err)
}

// serveExpectContinue waits for the "Expect: 100-continue" header, replies
// 100, reads the declared body length, then sends the final response.
func serveExpectContinue(t *testing.T, bodyLen int) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		br := bufio.NewReader(c)
		sawExpect := false
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			if line == "\r\n" {
				break
			}
			if line == "Expect: 100-continue\r\n" {
				sawExpect = true
			}
		}
		if !sawExpect {
			_, _ = io.WriteString(c, "HTTP/1.1 417 Expectation Failed\r\nContent-Length: 0\r\n\r\n")
			return
		}
		_, _ = io.WriteString(c, "HTTP/1.1 100 Continue\r\n\r\n")
		buf := make([]byte, bodyLen)
		_, _ = io.ReadFull(br, buf)
		_, _ = io.WriteString(c, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	}()
	return ln
}

func TestRoundTripExpectContinueSendsBodyAfter100(t *testing.T) {
	const bodyLen = expectContinueThreshold
	ln := serveExpectContinue(t, bodyLen)
	defer ln.Close()

	u, err := uri.Parse("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)

	tr := New(pool.New(pool.Config{}), Timeouts{ExpectContinue: time.Second})
	req := &Request{
		Method: "PUT",
		URL:    u,
		Header: header.New(),
		Body:   io.LimitReader(zeroReader{}, bodyLen),
		Length: bodyLen,
	}
	resp, err := tr.RoundTrip(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
