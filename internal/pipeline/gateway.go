package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Gateway is the L0 stage: client address resolution, salted hashing, and
// the message length check. Rate-limit admission on the hashed key is done by
// the orchestrator's ratelimit.Limiter. It trusts forwarded headers only from
// configured proxies, so an arbitrary peer cannot spoof its rate-limit key.
type Gateway struct {
	salt           string
	maxInputLength int
	trusted        []netip.Prefix
}

// NewGateway builds the stage. trustedProxies entries are IPs or CIDRs;
// invalid entries are rejected so a typo cannot silently widen trust.
func NewGateway(salt string, maxInputLength int, trustedProxies []string) (*Gateway, error) {
	g := &Gateway{salt: salt, maxInputLength: maxInputLength}
	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			addr, err := netip.ParseAddr(entry)
			if err != nil {
				return nil, fmt.Errorf("gateway: invalid trusted proxy %q: %w", entry, err)
			}
			g.trusted = append(g.trusted, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return nil, fmt.Errorf("gateway: invalid trusted proxy %q: %w", entry, err)
		}
		g.trusted = append(g.trusted, p)
	}
	return g, nil
}

// ClientIP resolves the effective client address. When the socket peer is a
// trusted proxy the left-most parseable entry of the forwarded chain wins;
// otherwise the peer itself is the client and the header is ignored.
func (g *Gateway) ClientIP(remoteAddr, forwardedFor string) string {
	peer := hostOnly(remoteAddr)
	if !g.isTrusted(peer) {
		return peer
	}
	for _, part := range strings.Split(forwardedFor, ",") {
		candidate := hostOnly(strings.TrimSpace(part))
		if _, err := netip.ParseAddr(candidate); err == nil {
			return candidate
		}
	}
	return peer
}

// HashIP returns the salted hash identifying a source. The raw address is
// never stored; this hash is the only persistent identifier.
func (g *Gateway) HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip + "|" + g.salt))
	return hex.EncodeToString(sum[:16])
}

// CheckLength verifies the decoded message length in characters.
func (g *Gateway) CheckLength(message string) bool {
	return len([]rune(message)) <= g.maxInputLength
}

// isTrusted reports whether addr is covered by the trusted-proxy list.
func (g *Gateway) isTrusted(addr string) bool {
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range g.trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// hostOnly strips a port from host:port forms; bare addresses pass through.
func hostOnly(s string) string {
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}
