package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ErrForbiddenAddress is returned when a run is not allowed to reach an
// address: loopback, private, link-local and other non-public ranges.
var ErrForbiddenAddress = errors.New("forbidden address")

var reservedV4 = &net.IPNet{IP: net.IPv4(240, 0, 0, 0), Mask: net.CIDRMask(4, 32)}

// IsPrivateIP reports loopback, RFC 1918, link-local, multicast,
// unspecified and reserved addresses.
func IsPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() ||
		reservedV4.Contains(ip)
}

// IsLocalhost reports localhost and its subdomains.
func IsLocalhost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return host == "localhost" || strings.HasSuffix(host, ".localhost")
}

// publicOnlyControl is a net.Dialer Control hook. It sees the address
// after name resolution, so a public name pointing at a private address is
// refused too.
func publicOnlyControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, address)
	}
	ip := net.ParseIP(host)
	if ip == nil || IsPrivateIP(ip) {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, host)
	}
	return nil
}

// publicOnlyTransport refuses requests whose host is a private address
// literal or localhost. Proxied runs use it, since names are resolved by
// the proxy and the dialer only ever sees the proxy's address.
type publicOnlyTransport struct {
	base http.RoundTripper
}

func (t *publicOnlyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()
	if IsLocalhost(host) {
		return nil, fmt.Errorf("%w: %s", ErrForbiddenAddress, host)
	}
	if ip := net.ParseIP(host); ip != nil && IsPrivateIP(ip) {
		return nil, fmt.Errorf("%w: %s", ErrForbiddenAddress, host)
	}
	return t.base.RoundTrip(req)
}
