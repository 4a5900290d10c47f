package cookiejar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karpetrosyan/aioreq/internal/uri"
)

func mustParse(t *testing.T, raw string) *uri.URI {
	t.Helper()
	u, err := uri.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestSetAndRetrieveHostOnlyCookie(t *testing.T) {
	j := New()
	u := mustParse(t, "http://example.com/a/b")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	j.SetCookies(u, []string{"sid=abc123; Path=/"}, now)

	cookies := j.Cookies(u, now)
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.Equal(t, "abc123", cookies[0].Value)
	assert.True(t, cookies[0].HostOnly)

	other := mustParse(t, "http://other.com/a/b")
	assert.Empty(t, j.Cookies(other, now))
}

func TestDomainCookieAppliesToSubdomains(t *testing.T) {
	j := New()
	u := mustParse(t, "http://www.example.com/")
	now := time.Now()

	j.SetCookies(u, []string{"a=1; Domain=example.com; Path=/"}, now)

	sub := mustParse(t, "http://api.example.com/x")
	cookies := j.Cookies(sub, now)
	require.Len(t, cookies, 1)
	assert.Equal(t, "a", cookies[0].Name)
	assert.False(t, cookies[0].HostOnly)
}

func TestDomainRejectedWhenNotSuffixOfHost(t *testing.T) {
	j := New()
	u := mustParse(t, "http://example.com/")
	now := time.Now()

	j.SetCookies(u, []string{"a=1; Domain=evil.com"}, now)
	assert.Empty(t, j.Cookies(u, now))
}

func TestMaxAgeWinsOverExpires(t *testing.T) {
	j := New()
	u := mustParse(t, "http://example.com/")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	j.SetCookies(u, []string{"a=1; Expires=Wed, 01-Jan-2099 00:00:00 GMT; Max-Age=0"}, now)
	assert.Empty(t, j.Cookies(u, now), "Max-Age=0 should expire immediately despite a future Expires")
}

func TestSecureCookieOmittedOnPlainRequest(t *testing.T) {
	j := New()
	secureURL := mustParse(t, "https://example.com/")
	now := time.Now()
	j.SetCookies(secureURL, []string{"a=1; Secure"}, now)

	plainURL := mustParse(t, "http://example.com/")
	assert.Empty(t, j.Cookies(plainURL, now))
	assert.Len(t, j.Cookies(secureURL, now), 1)
}

func TestPathMatchRestrictsCookie(t *testing.T) {
	j := New()
	u := mustParse(t, "http://example.com/admin/login")
	now := time.Now()
	j.SetCookies(u, []string{"a=1; Path=/admin"}, now)

	assert.Len(t, j.Cookies(mustParse(t, "http://example.com/admin/x"), now), 1)
	assert.Empty(t, j.Cookies(mustParse(t, "http://example.com/public"), now))
}

func TestCookiesOrderedLongestPathFirst(t *testing.T) {
	j := New()
	u := mustParse(t, "http://example.com/a/b")
	now := time.Now()
	j.SetCookies(u, []string{"short=1; Path=/"}, now)
	j.SetCookies(u, []string{"long=1; Path=/a"}, now)

	cookies := j.Cookies(mustParse(t, "http://example.com/a/b"), now)
	require.Len(t, cookies, 2)
	assert.Equal(t, "long", cookies[0].Name)
	assert.Equal(t, "short", cookies[1].Name)
}

func TestHeaderJoinsWithSemicolon(t *testing.T) {
	cookies := []*Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}
	assert.Equal(t, "a=1; b=2", Header(cookies))
}

func TestSameCookieOverwritesOnReinsert(t *testing.T) {
	j := New()
	u := mustParse(t, "http://example.com/")
	now := time.Now()
	j.SetCookies(u, []string{"a=1"}, now)
	j.SetCookies(u, []string{"a=2"}, now)

	cookies := j.Cookies(u, now)
	require.Len(t, cookies, 1)
	assert.Equal(t, "2", cookies[0].Value)
}

func TestRemoveAllClearsJar(t *testing.T) {
	j := New()
	u := mustParse(t, "http://example.com/")
	now := time.Now()
	j.SetCookies(u, []string{"a=1"}, now)
	j.RemoveAll()
	assert.Empty(t, j.Cookies(u, now))
}
