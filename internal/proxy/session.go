// Package proxy prepares the network path an archival run takes: the proxy
// server handed to the browser and the HTTP client used for asset fetches.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// ErrUnsupportedType is returned for proxy types other than http, https,
// socks5 and socks5h.
var ErrUnsupportedType = errors.New("unsupported proxy type")

// Options describes the upstream proxy of a run. A zero Options means a
// direct connection.
type Options struct {
	Type     string `json:"proxyType" form:"proxyType"`
	Host     string `json:"proxyHost" form:"proxyHost"`
	Port     string `json:"proxyPort" form:"proxyPort"`
	Username string `json:"proxyUsername" form:"proxyUsername"`
	Password string `json:"proxyPassword" form:"proxyPassword"`
}

// Enabled reports whether a proxy is configured. Type, host and port must
// all be present.
func (o Options) Enabled() bool {
	return o.Type != "" && o.Host != "" && o.Port != ""
}

// HasCredentials reports whether the upstream needs authentication.
func (o Options) HasCredentials() bool {
	return o.Username != "" || o.Password != ""
}

// URL returns the upstream proxy URL including credentials.
func (o Options) URL() *url.URL {
	u := &url.URL{
		Scheme: strings.ToLower(o.Type),
		Host:   net.JoinHostPort(o.Host, o.Port),
	}
	if o.HasCredentials() {
		u.User = url.UserPassword(o.Username, o.Password)
	}
	return u
}

func (o Options) validate() error {
	switch strings.ToLower(o.Type) {
	case "http", "https", "socks5", "socks5h":
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedType, o.Type)
}

func (o Options) socks() bool {
	t := strings.ToLower(o.Type)
	return t == "socks5" || t == "socks5h"
}

// Config holds the service-side settings of a session.
type Config struct {
	Logger *slog.Logger
	// PublicOnly refuses asset fetches that target loopback, private or
	// link-local addresses.
	PublicOnly bool
}

// Session is the network configuration of one run.
type Session struct {
	opts      Options
	server    string
	forwarder *Forwarder
	transport *http.Transport
	client    http.RoundTripper
}

// Open prepares a session for opts. Authenticated SOCKS upstreams get a
// local forwarder, since browsers cannot authenticate to SOCKS proxies;
// the caller must Close the session to stop it.
func Open(ctx context.Context, opts Options, cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{opts: opts}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	s.transport = transport
	s.client = transport

	if !opts.Enabled() {
		if cfg.PublicOnly {
			dialer := &net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
				Control:   publicOnlyControl,
			}
			transport.DialContext = dialer.DialContext
		}
		return s, nil
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if cfg.PublicOnly {
		s.client = &publicOnlyTransport{base: transport}
	}
	upstream := opts.URL()

	if !opts.socks() {
		s.server = (&url.URL{Scheme: upstream.Scheme, Host: upstream.Host}).String()
		transport.Proxy = http.ProxyURL(upstream)
		return s, nil
	}

	var auth *xproxy.Auth
	if opts.HasCredentials() {
		auth = &xproxy.Auth{User: opts.Username, Password: opts.Password}
	}
	d, err := xproxy.SOCKS5("tcp", upstream.Host, auth, &net.Dialer{Timeout: 30 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to create socks dialer: %w", err)
	}
	dialer, ok := d.(xproxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks dialer does not support contexts")
	}
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	if auth == nil {
		// socks5h is not a scheme browsers know; socks5 already resolves
		// names on the proxy.
		s.server = "socks5://" + upstream.Host
		return s, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fw, err := NewForwarder("127.0.0.1:0", dialer, logger)
	if err != nil {
		return nil, err
	}
	s.forwarder = fw
	s.server = fw.URL()
	logger.Info("anonymized socks proxy",
		slog.String("upstream", upstream.Host), slog.String("local", fw.Addr()))
	return s, nil
}

// Enabled reports whether the run goes through a proxy.
func (s *Session) Enabled() bool {
	return s != nil && s.server != ""
}

// BrowserServer is the proxy server URL for the browser, empty when direct.
func (s *Session) BrowserServer() string {
	if s == nil {
		return ""
	}
	return s.server
}

// BrowserCredentials returns the credentials the browser must answer proxy
// auth challenges with. Forwarded SOCKS sessions need none.
func (s *Session) BrowserCredentials() (username, password string, ok bool) {
	if s == nil || s.forwarder != nil || s.opts.socks() || !s.opts.HasCredentials() {
		return "", "", false
	}
	return s.opts.Username, s.opts.Password, true
}

// Forwarder returns the local forwarder, or nil.
func (s *Session) Forwarder() *Forwarder {
	if s == nil {
		return nil
	}
	return s.forwarder
}

// HTTPClient returns a client whose requests follow the same path as the
// browser's. Timeouts are left to the caller's context.
func (s *Session) HTTPClient() *http.Client {
	if s == nil || s.client == nil {
		return &http.Client{}
	}
	return &http.Client{Transport: s.client}
}

// Close stops the forwarder, if any, and releases idle connections.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	if s.transport != nil {
		s.transport.CloseIdleConnections()
	}
	if s.forwarder != nil {
		return s.forwarder.Close()
	}
	return nil
}
