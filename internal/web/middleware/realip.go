package middleware

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
)

// proxySet is the list of networks allowed to set forwarding headers.
type proxySet []netip.Prefix

func parseProxies(entries []string) proxySet {
	var set proxySet
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if p, err := netip.ParsePrefix(e); err == nil {
			set = append(set, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			slog.Warn("realip: skipping invalid trusted proxy", "entry", e, "error", err)
			continue
		}
		set = append(set, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return set
}

func (s proxySet) contains(addr netip.Addr) bool {
	for _, p := range s {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// TrustedRealIP rewrites RemoteAddr from X-Real-IP or X-Forwarded-For when
// the connection comes from one of the trusted proxies. X-Forwarded-For is
// read right to left and the first hop that is not itself a trusted proxy
// wins. Requests from anywhere else keep their RemoteAddr, so the per-client
// rate limit and request log cannot be spoofed.
func TrustedRealIP(trusted []string) func(http.Handler) http.Handler {
	proxies := parseProxies(trusted)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(proxies) > 0 {
				peer, err := netip.ParseAddr(clientIP(r.RemoteAddr))
				if err == nil && proxies.contains(peer.Unmap()) {
					if client, ok := forwardedClient(r.Header, proxies); ok {
						r.RemoteAddr = client.String()
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func forwardedClient(h http.Header, proxies proxySet) (netip.Addr, bool) {
	if rip := strings.TrimSpace(h.Get("X-Real-IP")); rip != "" {
		addr, err := netip.ParseAddr(rip)
		return addr, err == nil
	}

	hops := strings.Split(h.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			return netip.Addr{}, false
		}
		if i == 0 || !proxies.contains(addr.Unmap()) {
			return addr, true
		}
	}
	return netip.Addr{}, false
}
