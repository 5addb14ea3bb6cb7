package identity

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func mustCIDRs(t *testing.T, cidrs ...string) []*net.IPNet {
	t.Helper()
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			t.Fatalf("ParseCIDR(%q): %v", c, err)
		}
		nets = append(nets, n)
	}
	return nets
}

func TestOriginResolverResolve(t *testing.T) {
	t.Parallel()

	resolver := NewOriginResolver(mustCIDRs(t, "10.0.0.0/8", "127.0.0.1/32"))

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  []string
		want       string
	}{
		{name: "direct peer", remoteAddr: "203.0.113.9:5555", want: "203.0.113.9"},
		{name: "untrusted peer ignores header", remoteAddr: "198.51.100.4:80", forwarded: []string{"1.2.3.4"}, want: "198.51.100.4"},
		{name: "trusted proxy", remoteAddr: "127.0.0.1:9000", forwarded: []string{"203.0.113.7"}, want: "203.0.113.7"},
		{name: "proxy chain skips trusted hops", remoteAddr: "10.0.0.2:9000", forwarded: []string{"6.6.6.6, 203.0.113.7, 10.1.1.1"}, want: "203.0.113.7"},
		{name: "multiple header lines", remoteAddr: "10.0.0.2:9000", forwarded: []string{"6.6.6.6", "203.0.113.8"}, want: "203.0.113.8"},
		{name: "all trusted uses leftmost", remoteAddr: "10.0.0.2:9000", forwarded: []string{"10.0.0.5, 10.0.0.6"}, want: "10.0.0.5"},
		{name: "trusted without header", remoteAddr: "127.0.0.1:9000", want: "127.0.0.1"},
		{name: "ipv6 peer", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for _, v := range tt.forwarded {
				req.Header.Add(ForwardedForHeader, v)
			}
			if got := resolver.Resolve(req); got != tt.want {
				t.Fatalf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOriginMiddlewareStoresAddress(t *testing.T) {
	t.Parallel()

	resolver := NewOriginResolver(nil)
	var got string
	h := resolver.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = OriginFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1234"
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "192.0.2.10" {
		t.Fatalf("OriginFromContext() = %q", got)
	}
}
