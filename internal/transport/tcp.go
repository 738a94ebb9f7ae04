// Package transport provides the byte streams that carry the packet
// protocol: plain TCP, and WebSocket binary frames for clients that can
// only reach the server over HTTP.
package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ListenTCP binds the session listener. Accepted connections have Nagle's
// algorithm disabled since every packet is a few bytes and latency matters.
func ListenTCP(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{KeepAlive: 30 * time.Second}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	log.Info().Str("component", "transport").Str("addr", ln.Addr().String()).Msg("tcp listener started")
	return &noDelayListener{Listener: ln}, nil
}

type noDelayListener struct {
	net.Listener
}

func (l *noDelayListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return conn, nil
}

// Dial connects to a session server. Addresses with a ws:// or wss:// scheme
// use the WebSocket transport; anything else is host:port over TCP.
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	if IsWebSocketAddr(addr) {
		return DialWebSocket(ctx, addr, timeout)
	}
	return DialTCP(ctx, addr, timeout)
}

// DialTCP opens a TCP stream with Nagle disabled.
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return conn, nil
}

// IsWebSocketAddr reports whether addr names a WebSocket endpoint.
func IsWebSocketAddr(addr string) bool {
	return strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://")
}
