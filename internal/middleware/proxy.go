package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/labstack/echo/v4"
)

// TrustedProxies sets how c.RealIP() resolves the client address.
//
// The resolved address feeds the login lockout audit trail, the per-IP rate
// limiter and the IP allowlist, so a spoofed header would let a caller slip
// past all three. Forwarding headers are only read when the peer is inside
// one of trustedCIDRs, for example:
//   - "127.0.0.1/8"    local reverse proxy
//   - "10.0.0.0/8"     Docker bridge network
//   - "172.16.0.0/12"  Docker bridge network (alternative range)
//   - "fd00::/8"       IPv6 private range
func TrustedProxies(e *echo.Echo, trustedCIDRs []string) {
	e.IPExtractor = buildIPExtractor(trustedCIDRs)
}

// buildIPExtractor returns an extractor that prefers X-Real-IP, then the
// rightmost X-Forwarded-For hop that is not itself a trusted proxy.
// Malformed header values are ignored.
func buildIPExtractor(trustedCIDRs []string) echo.IPExtractor {
	var trusted []netip.Prefix
	for _, cidr := range trustedCIDRs {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			slog.Warn("ignoring invalid trusted proxy CIDR", slog.String("cidr", cidr))
			continue
		}
		trusted = append(trusted, prefix.Masked())
	}

	return func(req *http.Request) string {
		peer, ok := parseAddr(directHost(req.RemoteAddr))
		if !ok {
			return directHost(req.RemoteAddr)
		}
		if !isTrusted(peer, trusted) {
			return peer.String()
		}

		if addr, ok := parseAddr(req.Header.Get("X-Real-IP")); ok {
			return addr.String()
		}

		// Each proxy appends the address it received from, so walking
		// right to left stops at the first hop no trusted proxy vouches for.
		hops := strings.Split(req.Header.Get("X-Forwarded-For"), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr, ok := parseAddr(hops[i])
			if !ok {
				break
			}
			if !isTrusted(addr, trusted) || i == 0 {
				return addr.String()
			}
		}

		return peer.String()
	}
}

// directHost strips the port from a "host:port" RemoteAddr.
func directHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// parseAddr parses an address and unmaps IPv4-in-IPv6, so the allowlist and
// lockout records see one form per client.
func parseAddr(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
