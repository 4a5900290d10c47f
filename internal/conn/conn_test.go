package conn

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialPlainConnServesData(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = c.Write([]byte("hello"))
	}()

	c, err := Dial(context.Background(), Config{Addr: ln.Addr().String(), ConnectTimeout: time.Second})
	require.NoError(t, err)
	defer c.Close()

	buf := make([]byte, 5)
	_, err = c.Reader.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestMarkInUseAndIdleTransitions(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
			_, _ = bufio.NewReader(c).ReadByte()
		}
	}()

	c, err := Dial(context.Background(), Config{Addr: ln.Addr().String()})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, StateIdle, c.State())
	c.MarkInUse()
	assert.Equal(t, StateInUse, c.State())
	c.MarkIdle()
	assert.Equal(t, StateIdle, c.State())
	assert.False(t, c.Reused())
	c.MarkInUse()
	c.MarkIdle()
	c.MarkInUse()
	assert.True(t, c.Reused())
}

func TestDialFailsOnUnreachableAddr(t *testing.T) {
	_, err := Dial(context.Background(), Config{Addr: "127.0.0.1:1", ConnectTimeout: 200 * time.Millisecond})
	assert.Error(t, err)
}
