package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// Forwarder is a local SOCKS5 endpoint without authentication that relays
// every CONNECT through an upstream dialer. It lets a browser use an
// authenticated upstream proxy it cannot log into itself.
type Forwarder struct {
	upstream       xproxy.ContextDialer
	listener       net.Listener
	connectTimeout time.Duration
	logger         *slog.Logger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// ForwarderStats reports forwarder activity.
type ForwarderStats struct {
	Addr              string `json:"addr"`
	ActiveConnections int    `json:"active_connections"`
	Running           bool   `json:"running"`
}

// NewForwarder listens on listenAddr ("127.0.0.1:0" picks a free port) and
// starts serving.
func NewForwarder(listenAddr string, upstream xproxy.ContextDialer, logger *slog.Logger) (*Forwarder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	f := &Forwarder{
		upstream:       upstream,
		listener:       ln,
		connectTimeout: 30 * time.Second,
		logger:         logger,
		conns:          make(map[net.Conn]struct{}),
	}
	f.wg.Add(1)
	go f.acceptLoop()

	logger.Debug("proxy forwarder started", slog.String("addr", ln.Addr().String()))
	return f, nil
}

// Addr is the local host:port clients connect to.
func (f *Forwarder) Addr() string {
	return f.listener.Addr().String()
}

// URL is the socks5:// URL of the local endpoint.
func (f *Forwarder) URL() string {
	return "socks5://" + f.Addr()
}

// Close stops accepting, drops open relays and waits for handlers to exit.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	err := f.listener.Close()
	for c := range f.conns {
		c.Close()
	}
	f.mu.Unlock()

	f.wg.Wait()
	f.logger.Debug("proxy forwarder stopped", slog.String("addr", f.Addr()))
	return err
}

// Stats returns a snapshot of forwarder activity.
func (f *Forwarder) Stats() ForwarderStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ForwarderStats{
		Addr:              f.Addr(),
		ActiveConnections: len(f.conns),
		Running:           !f.closed,
	}
}

func (f *Forwarder) track(c net.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.conns[c] = struct{}{}
	return true
}

func (f *Forwarder) untrack(c net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, c)
}

func (f *Forwarder) acceptLoop() {
	defer f.wg.Done()
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			f.logger.Error("failed to accept connection", slog.Any("err", err))
			continue
		}
		if !f.track(conn) {
			conn.Close()
			return
		}
		f.wg.Add(1)
		go f.handle(conn)
	}
}

func (f *Forwarder) handle(client net.Conn) {
	defer f.wg.Done()
	defer f.untrack(client)
	defer client.Close()

	client.SetDeadline(time.Now().Add(f.connectTimeout))

	if err := serverHandshake(client); err != nil {
		f.logger.Debug("socks handshake failed", slog.Any("err", err))
		return
	}
	target, err := readConnect(client)
	if err != nil {
		f.logger.Debug("socks connect request failed", slog.Any("err", err))
		writeReply(client, replyCommandNotSupported)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.connectTimeout)
	upstream, err := f.upstream.DialContext(ctx, "tcp", target)
	cancel()
	if err != nil {
		f.logger.Warn("upstream proxy dial failed", slog.String("target", target), slog.Any("err", err))
		writeReply(client, replyGeneralFailure)
		return
	}
	if !f.track(upstream) {
		upstream.Close()
		return
	}
	defer f.untrack(upstream)
	defer upstream.Close()

	if err := writeReply(client, replySucceeded); err != nil {
		return
	}
	client.SetDeadline(time.Time{})
	relay(client, upstream)
}

// relay copies both ways until either side finishes.
func relay(a, b net.Conn) {
	done := make(chan struct{}, 2)
	cp := func(dst, src net.Conn) {
		io.Copy(dst, src)
		if cw, ok := dst.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
		}
		done <- struct{}{}
	}
	go cp(a, b)
	go cp(b, a)
	<-done
	<-done
}

const (
	socksVersion = 0x05

	methodNoAuth       = 0x00
	methodNoAcceptable = 0xff

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	replySucceeded           = 0x00
	replyGeneralFailure      = 0x01
	replyCommandNotSupported = 0x07
)

func serverHandshake(conn net.Conn) error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return fmt.Errorf("failed to read greeting: %w", err)
	}
	if header[0] != socksVersion {
		return fmt.Errorf("unsupported SOCKS version: %d", header[0])
	}
	methods := make([]byte, header[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return fmt.Errorf("failed to read auth methods: %w", err)
	}
	for _, m := range methods {
		if m == methodNoAuth {
			_, err := conn.Write([]byte{socksVersion, methodNoAuth})
			return err
		}
	}
	conn.Write([]byte{socksVersion, methodNoAcceptable})
	return fmt.Errorf("client does not offer the no-authentication method")
}

func readConnect(conn net.Conn) (string, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return "", fmt.Errorf("failed to read request header: %w", err)
	}
	if buf[0] != socksVersion {
		return "", fmt.Errorf("unsupported SOCKS version: %d", buf[0])
	}
	if buf[1] != cmdConnect {
		return "", fmt.Errorf("unsupported command: %d", buf[1])
	}

	var host string
	switch buf[3] {
	case atypIPv4, atypIPv6:
		size := net.IPv4len
		if buf[3] == atypIPv6 {
			size = net.IPv6len
		}
		addr := make([]byte, size)
		if _, err := io.ReadFull(conn, addr); err != nil {
			return "", fmt.Errorf("failed to read address: %w", err)
		}
		host = net.IP(addr).String()
	case atypDomain:
		n := make([]byte, 1)
		if _, err := io.ReadFull(conn, n); err != nil {
			return "", fmt.Errorf("failed to read domain length: %w", err)
		}
		domain := make([]byte, n[0])
		if _, err := io.ReadFull(conn, domain); err != nil {
			return "", fmt.Errorf("failed to read domain: %w", err)
		}
		host = string(domain)
	default:
		return "", fmt.Errorf("unsupported address type: %d", buf[3])
	}

	port := make([]byte, 2)
	if _, err := io.ReadFull(conn, port); err != nil {
		return "", fmt.Errorf("failed to read port: %w", err)
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port[0])<<8|int(port[1]))), nil
}

// writeReply answers a CONNECT with a zero bound address.
func writeReply(conn net.Conn, status byte) error {
	_, err := conn.Write([]byte{socksVersion, status, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0})
	return err
}
