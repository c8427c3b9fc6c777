package netutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLocalNetworkIP(t *testing.T) {
	trueCases := []string{
		"10.1.2.3",
		"172.16.0.1",
		"172.31.255.255",
		"192.168.1.1",
		"127.0.0.1",
		"::1",
		"::ffff:10.0.0.1",
		"::ffff:192.168.1.1",
	}
	for _, ip := range trueCases {
		assert.True(t, IsLocalNetworkIP(ip), "expected %s to be local", ip)
	}

	falseCases := []string{
		"8.8.8.8",
		"1.1.1.1",
		"172.32.0.1", // just outside 172.16.0.0/12
		"2001:4860:4860::8888",
		"not-an-ip",
		"",
	}
	for _, ip := range falseCases {
		assert.False(t, IsLocalNetworkIP(ip), "expected %s to not be local", ip)
	}
}

func TestClientIPConnectionOnly(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.5:54321"
	r.Header.Set("X-Forwarded-For", "9.9.9.9")

	assert.Equal(t, "203.0.113.5", ClientIP(r, false))
}

func TestClientIPTrustsProxyHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.5:54321"
	r.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")

	assert.Equal(t, "9.9.9.9", ClientIP(r, true))
}
