package aioreq

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karpetrosyan/aioreq/errs"
	"github.com/karpetrosyan/aioreq/internal/th"
	"github.com/karpetrosyan/aioreq/internal/uri"
)

func TestClientPlainGet(t *testing.T) {
	s := th.NewServer(t, func(conn net.Conn, r *bufio.Reader) {
		_, err := th.ReadRequestLine(r)
		require.NoError(t, err)
		_, _ = io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nHello")
	})

	c := New()
	resp, err := c.Get(context.Background(), s.URL("/"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "OK", resp.Reason)
	data, err := resp.Content()
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(data))
}

func TestClientChunkedGzipStripsContentEncoding(t *testing.T) {
	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write([]byte("Hi"))
	_ = gw.Close()

	s := th.NewServer(t, func(conn net.Conn, r *bufio.Reader) {
		_, err := th.ReadRequestLine(r)
		require.NoError(t, err)
		_, _ = io.WriteString(conn, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nContent-Encoding: gzip\r\n\r\n")
		chunk := gz.Bytes()
		_, _ = io.WriteString(conn, hexLen(len(chunk))+"\r\n")
		_, _ = conn.Write(chunk)
		_, _ = io.WriteString(conn, "\r\n0\r\n\r\n")
	})

	c := New()
	resp, err := c.Get(context.Background(), s.URL("/"))
	require.NoError(t, err)
	data, err := resp.Content()
	require.NoError(t, err)
	assert.Equal(t, "Hi", string(data))
	assert.False(t, resp.Header.Has("Content-Encoding"))
}

func TestClientRedirectCarriesCookie(t *testing.T) {
	hits := 0
	s := th.NewServer(t, func(conn net.Conn, r *bufio.Reader) {
		hits++
		reqLine, err := r.ReadString('\n')
		require.NoError(t, err)
		head := ""
		for {
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			if line == "\r\n" {
				break
			}
			head += line
		}
		switch {
		case hits == 1:
			_, _ = io.WriteString(conn, "HTTP/1.1 302 Found\r\nLocation: /b\r\nSet-Cookie: k=v; Path=/\r\nContent-Length: 0\r\n\r\n")
		default:
			assert.Contains(t, reqLine, "/b")
			assert.Contains(t, head, "Cookie: k=v\r\n")
			_, _ = io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
		}
	})

	c := New()
	resp, err := c.Get(context.Background(), s.URL("/a"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 2, hits)
}

func TestClientBasicAuthChallenge(t *testing.T) {
	hits := 0
	s := th.NewServer(t, func(conn net.Conn, r *bufio.Reader) {
		hits++
		buf := make([]byte, 0, 512)
		for {
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			buf = append(buf, line...)
			if line == "\r\n" {
				break
			}
		}
		if hits == 1 {
			_, _ = io.WriteString(conn, "HTTP/1.1 401 Unauthorized\r\nWWW-Authenticate: Basic realm=\"r\"\r\nContent-Length: 0\r\n\r\n")
			return
		}
		assert.Contains(t, string(buf), "Authorization: Basic Zm9vOmJhcg==")
		_, _ = io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	})

	c := New()
	resp, err := c.Get(context.Background(), s.URL("/p"), WithBasicAuth("foo", "bar"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 2, hits)
}

func TestClientTimeoutLeavesNoIdleConnection(t *testing.T) {
	s := th.NewServer(t, func(conn net.Conn, r *bufio.Reader) {
		_, _ = th.ReadRequestLine(r)
		time.Sleep(500 * time.Millisecond)
		_, _ = io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	})

	c := New(WithTimeout(50 * time.Millisecond))
	_, err := c.Get(context.Background(), s.URL("/"))
	assert.Error(t, err)
	var te *errs.TimeoutError
	assert.ErrorAs(t, err, &te)

	u, err := uri.Parse(s.URL("/"))
	require.NoError(t, err)
	assert.Equal(t, 0, c.pool.IdleCount(u.ConnKey()))
}

func TestClientStreamingLargeBody(t *testing.T) {
	const size = 10 << 20 // 10 MiB
	s := th.NewServer(t, func(conn net.Conn, r *bufio.Reader) {
		_, err := th.ReadRequestLine(r)
		require.NoError(t, err)
		_, _ = io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: "+itoa(size)+"\r\n\r\n")
		buf := make([]byte, 32*1024)
		remaining := size
		for remaining > 0 {
			n := len(buf)
			if n > remaining {
				n = remaining
			}
			_, _ = conn.Write(buf[:n])
			remaining -= n
		}
	})

	c := New()
	req, err := NewRequest(MethodGet, s.URL("/"), nil)
	require.NoError(t, err)

	var total int
	err = c.Stream(context.Background(), req, func(resp *Response) error {
		buf := make([]byte, 64*1024)
		for {
			n, rerr := resp.Body.Read(buf)
			total += n
			if rerr == io.EOF {
				return nil
			}
			if rerr != nil {
				return rerr
			}
		}
	})
	require.NoError(t, err)
	assert.Equal(t, size, total)
}

func hexLen(n int) string {
	const hexDigits = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{hexDigits[n%16]}, b...)
		n /= 16
	}
	return string(b)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}
