package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"shooter/internal/channel"
	"shooter/internal/protocol"
	"shooter/internal/transport"
)

// Dialer opens the byte stream to a session server.
type Dialer interface {
	Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error)
}

// NetDialer dials TCP, or WebSocket for ws:// and wss:// addresses.
type NetDialer struct {
	Timeout time.Duration
}

func (d NetDialer) Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	return transport.Dial(ctx, addr, d.Timeout)
}

var errUnexpectedPacket = errors.New("unexpected packet")

// connect dials addr and blocks for the spawn the server sends every new
// connection. The channel is shut down on any failure.
func connect(ctx context.Context, d Dialer, addr string, timeout time.Duration) (*channel.Channel, protocol.PlayerState, error) {
	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, err := d.Dial(dialCtx, addr)
	if err != nil {
		return nil, protocol.PlayerState{}, err
	}

	ch := channel.New(conn)
	p, err := ch.Receive(ctx)
	if err != nil {
		ch.Shutdown()
		return nil, protocol.PlayerState{}, fmt.Errorf("failed to receive spawn: %w", err)
	}
	spawn, ok := p.(protocol.PlayerState)
	if !ok {
		ch.Shutdown()
		return nil, protocol.PlayerState{}, fmt.Errorf("failed to receive spawn: %w: %s", errUnexpectedPacket, p.Tag())
	}
	return ch, spawn, nil
}
