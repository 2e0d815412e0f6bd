package security

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver extracts the caller address, trusting forwarding headers
// only when the direct peer is a known proxy.
type ClientIPResolver struct {
	trustedProxies []*net.IPNet
}

// NewClientIPResolver trusts loopback and private networks by default.
func NewClientIPResolver() *ClientIPResolver {
	return &ClientIPResolver{
		trustedProxies: []*net.IPNet{
			mustParseCIDR("127.0.0.0/8"),
			mustParseCIDR("::1/128"),
			mustParseCIDR("10.0.0.0/8"),
			mustParseCIDR("172.16.0.0/12"),
			mustParseCIDR("192.168.0.0/16"),
		},
	}
}

func mustParseCIDR(cidr string) *net.IPNet {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(fmt.Sprintf("failed to parse trusted proxy CIDR %s: %v", cidr, err))
	}
	return network
}

// AddTrustedProxy adds a trusted proxy network
func (c *ClientIPResolver) AddTrustedProxy(cidr string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}
	c.trustedProxies = append(c.trustedProxies, network)
	return nil
}

// ClientIP extracts the real client IP, validating forwarded headers
func (c *ClientIPResolver) ClientIP(r *http.Request) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}

	parsedDirectIP := net.ParseIP(directIP)
	if parsedDirectIP == nil || !c.isTrustedProxy(parsedDirectIP) {
		return directIP
	}

	// X-Forwarded-For can contain multiple IPs, the first is the client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}

	return directIP
}

func (c *ClientIPResolver) isTrustedProxy(ip net.IP) bool {
	for _, network := range c.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
