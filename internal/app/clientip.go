package app

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// proxySet holds the peers whose X-Forwarded-For header is believed.
type proxySet []netip.Prefix

func parseProxies(entries []string) (proxySet, error) {
	var set proxySet
	for _, e := range entries {
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("app: trusted proxy %q: %w", e, err)
			}
			set = append(set, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("app: trusted proxy %q: %w", e, err)
		}
		set = append(set, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return set, nil
}

func (s proxySet) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP returns the address a request is accounted to. X-Forwarded-For is
// only consulted when the direct peer is a trusted proxy, and is walked from
// the right so that a client cannot choose its own identity.
func (s proxySet) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !s.trusted(host) {
		return host
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !s.trusted(hop) {
			return hop
		}
	}
	return host
}
