package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"sitegrab/internal/archivers"
	"sitegrab/internal/proxy"
)

var (
	// ErrURLRequired is returned when a request carries no url.
	ErrURLRequired = errors.New("url is required")
	// ErrInvalidURL covers malformed or non-http(s) targets.
	ErrInvalidURL = errors.New("invalid url")
	// ErrForbiddenTarget is returned for loopback and private targets.
	ErrForbiddenTarget = errors.New("target address is not allowed")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("tcpport", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Field().String())
		return err == nil && n > 0 && n < 65536
	})
	return v
}

// ParseRequest is the body of a capture request, from a form or JSON.
type ParseRequest struct {
	URL           string `json:"url" form:"url" validate:"required"`
	ProxyType     string `json:"proxyType" form:"proxyType" validate:"omitempty,oneof=http https socks5 socks5h"`
	ProxyHost     string `json:"proxyHost" form:"proxyHost" validate:"omitempty,hostname_rfc1123|ip"`
	ProxyPort     string `json:"proxyPort" form:"proxyPort" validate:"omitempty,tcpport"`
	ProxyUsername string `json:"proxyUsername" form:"proxyUsername"`
	ProxyPassword string `json:"proxyPassword" form:"proxyPassword"`
}

// Normalize trims fields and lowercases the proxy type.
func (r *ParseRequest) Normalize() {
	r.URL = strings.TrimSpace(r.URL)
	r.ProxyType = strings.ToLower(strings.TrimSpace(r.ProxyType))
	r.ProxyHost = strings.TrimSpace(r.ProxyHost)
	r.ProxyPort = strings.TrimSpace(r.ProxyPort)
}

// Validate checks the struct tags. A missing url yields ErrURLRequired.
func (r *ParseRequest) Validate() error {
	if r.URL == "" {
		return ErrURLRequired
	}
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid field %s", verrs[0].Field())
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ProxyOptions returns the run's proxy settings.
func (r *ParseRequest) ProxyOptions() proxy.Options {
	return proxy.Options{
		Type:     r.ProxyType,
		Host:     r.ProxyHost,
		Port:     r.ProxyPort,
		Username: r.ProxyUsername,
		Password: r.ProxyPassword,
	}
}

// ArchiveRequest converts the request for the archiver. target is the
// URL returned by the guard.
func (r *ParseRequest) ArchiveRequest(target *url.URL) archivers.Request {
	return archivers.Request{URL: target.String(), Proxy: r.ProxyOptions()}
}

// IPResolver looks up host addresses. *net.Resolver implements it.
type IPResolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// TargetGuard rejects capture targets the server must not reach on a
// client's behalf.
type TargetGuard struct {
	AllowPrivate bool
	Resolver     IPResolver
}

func NewTargetGuard(allowPrivate bool) *TargetGuard {
	return &TargetGuard{AllowPrivate: allowPrivate, Resolver: net.DefaultResolver}
}

// Check parses rawURL, adding https:// when no scheme is given, and
// verifies that it is an http(s) URL whose host resolves to public
// addresses only.
func (g *TargetGuard) Check(ctx context.Context, rawURL string) (*url.URL, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: only http and https are allowed", ErrInvalidURL)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: missing hostname", ErrInvalidURL)
	}
	if g.AllowPrivate {
		return u, nil
	}

	if proxy.IsLocalhost(host) {
		return nil, fmt.Errorf("%w: %s", ErrForbiddenTarget, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if proxy.IsPrivateIP(ip) {
			return nil, fmt.Errorf("%w: %s", ErrForbiddenTarget, host)
		}
		return u, nil
	}

	addrs, err := g.Resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to resolve %s: %v", ErrInvalidURL, host, err)
	}
	for _, a := range addrs {
		if proxy.IsPrivateIP(a.IP) {
			return nil, fmt.Errorf("%w: %s resolves to %s", ErrForbiddenTarget, host, a.IP)
		}
	}
	return u, nil
}
