package header

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGetCaseInsensitive(t *testing.T) {
	h := New()
	require.NoError(t, h.Set("content-type", "text/plain"))
	assert.Equal(t, "text/plain", h.Get("Content-Type"))
	assert.Equal(t, "text/plain", h.Get("CONTENT-TYPE"))
}

func TestAddPreservesOrderAndMultiValue(t *testing.T) {
	h := New()
	require.NoError(t, h.Add("Set-Cookie", "a=1"))
	require.NoError(t, h.Add("X-Trace", "1"))
	require.NoError(t, h.Add("Set-Cookie", "b=2"))

	assert.Equal(t, []string{"a=1", "b=2"}, h.Values("Set-Cookie"))
	assert.Equal(t, []string{"Set-Cookie", "X-Trace"}, h.Names())
}

func TestSetReplacesInPlace(t *testing.T) {
	h := New()
	require.NoError(t, h.Set("A", "1"))
	require.NoError(t, h.Set("B", "2"))
	require.NoError(t, h.Set("A", "3"))
	assert.Equal(t, []string{"A", "B"}, h.Names())
	assert.Equal(t, "3", h.Get("A"))
}

func TestDelRemovesEntry(t *testing.T) {
	h := New()
	h.Set("A", "1")
	h.Set("B", "2")
	h.Del("A")
	assert.False(t, h.Has("A"))
	assert.Equal(t, []string{"B"}, h.Names())
}

func TestRejectsCRLFInjection(t *testing.T) {
	h := New()
	err := h.Set("X-Evil", "value\r\nSet-Cookie: evil=1")
	assert.Error(t, err)
}

func TestWriteIsInsertionOrder(t *testing.T) {
	h := New()
	h.Set("Host", "example.com")
	h.Set("Accept", "*/*")
	var b strings.Builder
	require.NoError(t, h.Write(&b, nil))
	assert.Equal(t, "Host: example.com\r\nAccept: */*\r\n", b.String())
}

func TestParseStructuredQValues(t *testing.T) {
	vals := ParseStructured(`gzip;q=1, deflate;q=0.8, br`)
	require.Len(t, vals, 3)
	assert.Equal(t, "gzip", vals[0].Token)
	assert.Equal(t, 1.0, vals[0].Q)
	assert.Equal(t, 0.8, vals[1].Q)
	assert.Equal(t, "br", vals[2].Token)
	assert.Equal(t, 1.0, vals[2].Q)
}

func TestParseStructuredIgnoresCommaInQuotes(t *testing.T) {
	vals := ParseStructured(`text/html;param="a,b", text/plain`)
	require.Len(t, vals, 2)
	assert.Equal(t, "text/html", vals[0].Token)
	assert.Equal(t, "a,b", vals[0].Params["param"])
}
