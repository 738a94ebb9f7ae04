// Package channel pairs a byte stream with the packet codec. Each Channel
// owns one reader goroutine that decodes packets into a bounded queue; the
// single consumer either blocks on Receive or polls without blocking, so a
// render loop never stalls on the network.
package channel

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"shooter/internal/protocol"
)

// DefaultQueueSize bounds how many decoded packets wait for the consumer.
const DefaultQueueSize = 64

// ErrClosed is wrapped in the I/O error reported after Shutdown.
var ErrClosed = errors.New("channel shut down")

type result struct {
	pkt protocol.Packet
	err error
}

// Stats counts traffic over the lifetime of a Channel.
type Stats struct {
	PacketsIn   uint64
	PacketsOut  uint64
	CodecDrops  uint64
	QueuedLimit int
}

// Channel is a duplex packet pipe over one connection.
type Channel struct {
	rw      io.ReadWriteCloser
	queue   chan result
	closing chan struct{}
	logger  zerolog.Logger

	writeMu sync.Mutex

	mu sync.Mutex
	// err ends the read side: EOF, a reset or Shutdown. werr is the first
	// failed write; it stops Send but not the reader.
	err  error
	werr error

	closeOnce sync.Once

	packetsIn  atomic.Uint64
	packetsOut atomic.Uint64
	codecDrops atomic.Uint64
}

// Option configures a Channel.
type Option func(*Channel)

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.queue = make(chan result, n)
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// New wraps rw and starts decoding.
func New(rw io.ReadWriteCloser, opts ...Option) *Channel {
	c := &Channel{
		rw:      rw,
		queue:   make(chan result, DefaultQueueSize),
		closing: make(chan struct{}),
		logger:  log.With().Str("component", "channel").Str("remote", remoteString(rw)).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readPump()
	return c
}

func (c *Channel) readPump() {
	defer close(c.queue)
	for {
		p, err := protocol.ReadPacket(c.rw)
		r := result{pkt: p, err: err}
		select {
		case c.queue <- r:
		case <-c.closing:
			return
		}
		if err != nil && !protocol.IsCodec(err) {
			return
		}
	}
}

// Send encodes p and writes it on the calling goroutine.
func (c *Channel) Send(p protocol.Packet) error {
	if err := c.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	err := protocol.WritePacket(c.rw, p)
	c.writeMu.Unlock()
	if err != nil {
		if protocol.IsIO(err) {
			c.failWrite(err)
		}
		return err
	}
	c.packetsOut.Add(1)
	return nil
}

// Receive blocks until the next packet, a decode failure, the end of the
// stream, or ctx is done.
func (c *Channel) Receive(ctx context.Context) (protocol.Packet, error) {
	p, ok, err := c.Poll()
	if ok || err != nil {
		return p, err
	}
	select {
	case r, ok := <-c.queue:
		p, _, err := c.take(r, ok)
		return p, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Poll returns a queued packet without blocking. ok is false with a nil
// error when nothing has arrived yet. A codec error is transient; an I/O
// error is sticky and returned by every later call once the packets
// decoded before it have been consumed. A failed Send does not end the
// read side: Poll keeps returning what the peer sends until the stream
// itself ends.
func (c *Channel) Poll() (p protocol.Packet, ok bool, err error) {
	select {
	case r, open := <-c.queue:
		return c.take(r, open)
	default:
		return nil, false, c.readErr()
	}
}

func (c *Channel) take(r result, open bool) (protocol.Packet, bool, error) {
	if !open {
		err := c.readErr()
		if err == nil {
			err = &protocol.IOError{Op: "receive", Err: ErrClosed}
			c.fail(err)
		}
		return nil, false, err
	}
	if r.err != nil {
		if protocol.IsCodec(r.err) {
			c.codecDrops.Add(1)
			c.logger.Debug().Err(r.err).Msg("dropped malformed packet")
			return nil, false, r.err
		}
		c.fail(r.err)
		return nil, false, r.err
	}
	c.packetsIn.Add(1)
	return r.pkt, true, nil
}

// Inbox holds the most recent packet of each kind seen by one Drain.
type Inbox struct {
	State    *protocol.PlayerState
	Health   *protocol.Health
	Time     *protocol.Time
	GameOver *protocol.GameOver
	Packets  int
	Dropped  int
}

// Empty reports whether nothing was received.
func (in Inbox) Empty() bool {
	return in.Packets == 0
}

// Drain consumes everything currently queued, keeping the latest packet of
// each kind. Malformed packets are counted and skipped. The returned error
// is non-nil only once the read side has ended; packets decoded before the
// end are still returned.
func (c *Channel) Drain() (Inbox, error) {
	var in Inbox
	limit := cap(c.queue)
	for i := 0; i < limit; i++ {
		p, ok, err := c.Poll()
		if err != nil {
			if protocol.IsCodec(err) {
				in.Dropped++
				continue
			}
			return in, err
		}
		if !ok {
			break
		}
		in.Packets++
		switch p := p.(type) {
		case protocol.PlayerState:
			in.State = &p
		case protocol.Health:
			in.Health = &p
		case protocol.Time:
			in.Time = &p
		case protocol.GameOver:
			in.GameOver = &p
		}
	}
	return in, nil
}

type closeWriter interface {
	CloseWrite() error
}

// Shutdown closes the stream in both directions. It is safe to call more
// than once.
func (c *Channel) Shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		if cw, ok := c.rw.(closeWriter); ok {
			_ = cw.CloseWrite()
		}
		err = c.rw.Close()
		c.fail(&protocol.IOError{Op: "shutdown", Err: ErrClosed})
		c.logger.Debug().Msg("channel shut down")
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Channel) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Channel) failWrite(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.werr == nil {
		c.werr = err
	}
}

func (c *Channel) readErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Err returns the I/O failure that ended the channel, if any. The read
// side's failure wins over a failed write.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return c.werr
}

// Closed reports whether the channel has failed in either direction or
// been shut down.
func (c *Channel) Closed() bool {
	return c.Err() != nil
}

// RemoteAddr returns the peer address when the stream knows it.
func (c *Channel) RemoteAddr() string {
	return remoteString(c.rw)
}

// Stats returns a snapshot of the traffic counters.
func (c *Channel) Stats() Stats {
	return Stats{
		PacketsIn:   c.packetsIn.Load(),
		PacketsOut:  c.packetsOut.Load(),
		CodecDrops:  c.codecDrops.Load(),
		QueuedLimit: cap(c.queue),
	}
}

func remoteString(rw io.ReadWriteCloser) string {
	if rc, ok := rw.(interface{ RemoteAddr() net.Addr }); ok && rc.RemoteAddr() != nil {
		return rc.RemoteAddr().String()
	}
	return "unknown"
}
