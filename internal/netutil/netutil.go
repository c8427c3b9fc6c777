// Package netutil provides IP-classification helpers: RFC1918/loopback
// detection (spec §8
// property 8) and the client-IP trust boundary (spec §9 Open Question:
// header-trusting vs connection-only, surfaced via Config.TrustProxyHeaders
// rather than guessed). No other package in this module imports it; the
// admin router applies its own RealIP middleware instead.
package netutil

import (
	"net"
	"net/http"
	"strings"
)

var privateBlocks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"::1/128",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// IsLocalNetworkIP reports whether the well-formed address s falls within
// an RFC1918 private block, the loopback ranges, or the IPv4-mapped form of
// either. Malformed input returns false.
func IsLocalNetworkIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, block := range privateBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP extracts the caller's IP from an HTTP request. When
// trustProxyHeaders is true, X-Forwarded-For (first hop) and X-Real-IP are
// honored; otherwise only the raw connection's RemoteAddr is used. This
// mirrors the two-variant getClientIP behavior flagged in spec §9 as
// deployment-dependent, made explicit through configuration.
func ClientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
