package transport

import (
	"errors"
	"net"
	"sync"

	"go.uber.org/multierr"
)

type accepted struct {
	conn net.Conn
	err  error
}

// mergedListener hands out connections from several listeners through a
// single Accept so one sequential consumer can serve all transports.
type mergedListener struct {
	listeners []net.Listener
	ch        chan accepted
	closed    chan struct{}
	once      sync.Once
	wg        sync.WaitGroup
}

// Merge combines listeners. The first listener provides Addr. Closing the
// result closes every input.
func Merge(listeners ...net.Listener) net.Listener {
	if len(listeners) == 1 {
		return listeners[0]
	}
	m := &mergedListener{
		listeners: listeners,
		ch:        make(chan accepted),
		closed:    make(chan struct{}),
	}
	for _, ln := range listeners {
		m.wg.Add(1)
		go m.pump(ln)
	}
	return m
}

func (m *mergedListener) pump(ln net.Listener) {
	defer m.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil && errors.Is(err, net.ErrClosed) {
			return
		}
		select {
		case m.ch <- accepted{conn: conn, err: err}:
		case <-m.closed:
			if conn != nil {
				conn.Close()
			}
			return
		}
	}
}

func (m *mergedListener) Accept() (net.Conn, error) {
	select {
	case a := <-m.ch:
		return a.conn, a.err
	case <-m.closed:
		return nil, net.ErrClosed
	}
}

func (m *mergedListener) Close() error {
	var err error
	m.once.Do(func() {
		close(m.closed)
		for _, ln := range m.listeners {
			err = multierr.Append(err, ln.Close())
		}
	})
	return err
}

func (m *mergedListener) Addr() net.Addr {
	return m.listeners[0].Addr()
}
