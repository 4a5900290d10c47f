package pool

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karpetrosyan/aioreq/internal/conn"
	"github.com/karpetrosyan/aioreq/internal/uri"
)

func dialLoopback(t *testing.T) *conn.Conn {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
			buf := make([]byte, 1)
			_, _ = c.Read(buf)
		}
	}()
	c, err := conn.Dial(context.Background(), conn.Config{Addr: ln.Addr().String()})
	require.NoError(t, err)
	return c
}

func TestPutAndGetRoundTrip(t *testing.T) {
	p := New(Config{MaxIdlePerHost: 4})
	key := uri.ConnKey{Scheme: "http", Host: "example.com", Port: 80}
	c := dialLoopback(t)

	assert.True(t, p.Put(key, c))
	assert.Equal(t, 1, p.IdleCount(key))

	got, ok := p.Get(key)
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, 0, p.IdleCount(key))
}

func TestGetMissReturnsFalse(t *testing.T) {
	p := New(Config{})
	_, ok := p.Get(uri.ConnKey{Scheme: "http", Host: "nowhere", Port: 80})
	assert.False(t, ok)
}

func TestPutRejectsWhenPerHostLimitReached(t *testing.T) {
	p := New(Config{MaxIdlePerHost: 1})
	key := uri.ConnKey{Scheme: "http", Host: "h", Port: 80}
	c1 := dialLoopback(t)
	c2 := dialLoopback(t)

	assert.True(t, p.Put(key, c1))
	assert.False(t, p.Put(key, c2))
	assert.Equal(t, 1, p.IdleCount(key))
}

func TestPutEvictsOldestWhenTotalExceeded(t *testing.T) {
	p := New(Config{MaxIdlePerHost: 10, MaxIdleTotal: 1})
	keyA := uri.ConnKey{Scheme: "http", Host: "a", Port: 80}
	keyB := uri.ConnKey{Scheme: "http", Host: "b", Port: 80}
	ca := dialLoopback(t)
	cb := dialLoopback(t)

	require.True(t, p.Put(keyA, ca))
	require.True(t, p.Put(keyB, cb))

	assert.Equal(t, 0, p.IdleCount(keyA))
	assert.Equal(t, 1, p.IdleCount(keyB))
}

func TestCloseRejectsFurtherPuts(t *testing.T) {
	p := New(Config{})
	require.NoError(t, p.Close())

	c := dialLoopback(t)
	key := uri.ConnKey{Scheme: "http", Host: "h", Port: 80}
	assert.False(t, p.Put(key, c))

	assert.Error(t, p.Close())
}

func TestSweepEvictsIdleBeyondTimeout(t *testing.T) {
	p := New(Config{IdleTimeout: time.Millisecond})
	key := uri.ConnKey{Scheme: "http", Host: "h", Port: 80}
	c := dialLoopback(t)
	require.True(t, p.Put(key, c))

	time.Sleep(5 * time.Millisecond)
	p.Sweep()
	assert.Equal(t, 0, p.IdleCount(key))
}
