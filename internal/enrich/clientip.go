package enrich

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP resolves the caller address. Forwarding headers are honoured only
// when the service sits behind a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := NormalizeIP(first); ip != "" {
				return ip
			}
		}
		if ip := NormalizeIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	return NormalizeIP(r.RemoteAddr)
}

// ClientIPFunc binds ClientIP to a proxy setting.
func ClientIPFunc(trustProxy bool) func(*http.Request) string {
	return func(r *http.Request) string {
		return ClientIP(r, trustProxy)
	}
}

// NormalizeIP strips ports, brackets and the IPv4-mapped IPv6 prefix.
// Anything that is not an IP address comes back empty.
func NormalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	raw = strings.Trim(raw, "[]")

	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return ""
	}
	return addr.Unmap().WithZone("").String()
}

// IsPrivateIP reports loopback, RFC 1918, link-local, unique-local and
// unspecified addresses. Those never reach a geo provider.
func IsPrivateIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsUnspecified()
}
