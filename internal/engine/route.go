package engine

import (
	"log"
	"net/netip"
	"strings"
)

const hostPrefix = "host:"

// hostHeader extracts the Host header value from a peeked request head. The
// whole head is lowercased first, so the returned value is the routing key
// as-is. The header must appear within the peeked window.
func hostHeader(head []byte) (string, bool) {
	content := strings.ToLower(string(head))
	for _, line := range strings.Split(content, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), hostPrefix)
		if !ok {
			continue
		}
		host := strings.TrimSpace(rest)
		return host, host != ""
	}
	return "", false
}

// route decides PROXY vs DIRECT for a lowercased Host value and yields the
// target address. Hosts in the configured set always go to the upstream
// proxy; everything else resolves to the origin.
func (s *Server) route(host string) (netip.AddrPort, error) {
	if s.cfg.Hosts.Contains(host) {
		if s.cfg.Debug {
			log.Printf("%s => PROXY", host)
		}
		routesTotal.WithLabelValues("proxy").Inc()
		return s.cfg.ProxyAddr, nil
	}

	if s.cfg.Debug {
		log.Printf("%s => DIRECT", host)
	}
	routesTotal.WithLabelValues("direct").Inc()
	return s.cfg.Resolver.Resolve(s.ctx, host)
}
