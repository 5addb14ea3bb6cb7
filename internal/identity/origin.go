// Package identity resolves client origin addresses and issues realtime
// credentials bound to them.
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// ForwardedForHeader carries the proxy chain in front of the server.
const ForwardedForHeader = "X-Forwarded-For"

type contextKey int

const originKey contextKey = iota

// OriginResolver derives the client address of a request. Forwarded headers
// are only honoured when the direct peer is a trusted proxy.
type OriginResolver struct {
	trusted []*net.IPNet
}

// NewOriginResolver creates a resolver trusting the given proxy networks.
func NewOriginResolver(trusted []*net.IPNet) *OriginResolver {
	return &OriginResolver{trusted: trusted}
}

// Resolve returns the origin address of r.
//
// The X-Forwarded-For chain is walked from the nearest hop outwards and the
// first address outside the trusted networks wins. If every hop is trusted
// the leftmost one is used.
func (o *OriginResolver) Resolve(r *http.Request) string {
	peer := IPFromRequest(r)
	if !o.isTrusted(peer) {
		return peer
	}

	hops := forwardedHops(r.Header.Values(ForwardedForHeader))
	if len(hops) == 0 {
		return peer
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !o.isTrusted(hops[i]) {
			return hops[i]
		}
	}
	return hops[0]
}

func (o *OriginResolver) isTrusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range o.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func forwardedHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			hop := normalizeAddr(part)
			if hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return hops
}

// normalizeAddr trims whitespace, ports and IPv6 brackets from an address.
func normalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	addr = strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
	if ip := net.ParseIP(addr); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
		return ip.String()
	}
	return addr
}

// Middleware stores the resolved origin address in the request context.
func (o *OriginResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithOrigin(r.Context(), o.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithOrigin returns a copy of ctx carrying addr.
func WithOrigin(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, originKey, addr)
}

// OriginFromContext extracts the origin address from the request context.
func OriginFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(originKey).(string); ok {
		return v
	}
	return ""
}

// IPFromRequest returns the normalized address of the direct peer.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return normalizeAddr(r.RemoteAddr)
	}
	return normalizeAddr(host)
}
