package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shooter/internal/channel"
	"shooter/internal/game"
	"shooter/internal/protocol"
	"shooter/internal/store"
	"shooter/internal/transport"
)

const (
	testCountdown = 20 * time.Millisecond
	testRelay     = 5 * time.Millisecond
	within        = 2 * time.Second
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) of(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func startServer(t *testing.T) (*Orchestrator, *eventLog, string) {
	t.Helper()
	ln, err := transport.ListenTCP(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	return serveOn(t, ln)
}

func serveOn(t *testing.T, ln net.Listener) (*Orchestrator, *eventLog, string) {
	t.Helper()
	events := &eventLog{}
	opts := DefaultOptions()
	opts.CountdownInterval = testCountdown
	opts.RelayInterval = testRelay
	opts.Observers = []Observer{events}
	o := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(within):
			t.Error("Serve did not stop")
		}
	})
	return o, events, ln.Addr().String()
}

func connect(t *testing.T, addr string) *channel.Channel {
	t.Helper()
	conn, err := transport.DialTCP(context.Background(), addr, time.Second)
	require.NoError(t, err)
	ch := channel.New(conn)
	t.Cleanup(func() { ch.Shutdown() })
	return ch
}

func recv(t *testing.T, ch *channel.Channel) protocol.Packet {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	p, err := ch.Receive(ctx)
	require.NoError(t, err)
	return p
}

// recvUntil skips relay traffic until match accepts a packet.
func recvUntil(t *testing.T, ch *channel.Channel, match func(protocol.Packet) bool) protocol.Packet {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	for {
		p, err := ch.Receive(ctx)
		require.NoError(t, err)
		if match(p) {
			return p
		}
	}
}

func isGameOver(p protocol.Packet) bool {
	_, ok := p.(protocol.GameOver)
	return ok
}

// handshake connects two clients and consumes spawns, cross-send and the
// countdown, checking their order.
func handshake(t *testing.T, addr string) (*channel.Channel, *channel.Channel) {
	t.Helper()
	c1 := connect(t, addr)
	assert.Equal(t, game.SpawnPoints[0], recv(t, c1))

	c2 := connect(t, addr)
	assert.Equal(t, game.SpawnPoints[1], recv(t, c2))

	assert.Equal(t, game.SpawnPoints[1], recv(t, c1), "opponent state for slot 1")
	assert.Equal(t, game.SpawnPoints[0], recv(t, c2), "opponent state for slot 2")

	for _, want := range []protocol.Time{3, 2, 1, 0} {
		assert.Equal(t, want, recv(t, c1))
		assert.Equal(t, want, recv(t, c2))
	}
	return c1, c2
}

func TestSessionLifecycle(t *testing.T) {
	o, events, addr := startServer(t)
	c1, c2 := handshake(t, addr)

	ticks := events.of(EventCountdown)
	require.Len(t, ticks, 4)
	for i := 1; i < len(ticks); i++ {
		assert.GreaterOrEqual(t, ticks[i].Time.Sub(ticks[i-1].Time), testCountdown)
	}
	require.Eventually(t, func() bool { return o.Phase() == Active }, within, time.Millisecond)

	moved := protocol.PlayerState{Pos: protocol.Vec2{X: 5, Z: 10}, Target: protocol.Vec2{X: 5, Z: 0}}
	require.NoError(t, c1.Send(moved))
	require.NoError(t, c1.Send(protocol.Health(60)))

	recvUntil(t, c2, func(p protocol.Packet) bool { return p == protocol.Packet(moved) })
	recvUntil(t, c2, func(p protocol.Packet) bool { return p == protocol.Packet(protocol.Health(60)) })

	require.NoError(t, c1.Shutdown())
	p := recvUntil(t, c2, isGameOver)
	assert.Equal(t, protocol.GameOver{Winner: protocol.WinnerPlayer}, p)

	require.NoError(t, c2.Shutdown())
	require.Eventually(t, func() bool {
		return o.SessionsServed() == 1 && o.Phase() == AwaitingPlayer1
	}, within, time.Millisecond)

	ended := events.of(EventSessionEnded)
	require.Len(t, ended, 1)
	sum := ended[0].Summary
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.FirstOut)
	assert.Equal(t, 100, sum.Health1)
	assert.Equal(t, 60, sum.Health2)
	assert.Positive(t, sum.Ticks)
	assert.NotEmpty(t, sum.ID)

	assert.Len(t, events.of(EventPlayerJoined), 2)
	assert.Len(t, events.of(EventPlayerLeft), 2)
	assert.Len(t, events.of(EventGameOverSent), 1)
}

func TestSurvivorWithZeroHealthLoses(t *testing.T) {
	_, _, addr := startServer(t)
	c1, c2 := handshake(t, addr)

	require.NoError(t, c2.Send(protocol.Health(0)))
	recvUntil(t, c1, func(p protocol.Packet) bool { return p == protocol.Packet(protocol.Health(0)) })
	require.NoError(t, c2.Shutdown())

	p := recvUntil(t, c1, isGameOver)
	assert.Equal(t, protocol.GameOver{Winner: protocol.WinnerEnemy}, p)
}

// halfBroken fails every write and holds its first read back, so the
// peer's last packets arrive after the write failure.
type halfBroken struct {
	net.Conn
	delay time.Duration
	once  sync.Once
}

func (c *halfBroken) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func (c *halfBroken) Read(b []byte) (int, error) {
	c.once.Do(func() { time.Sleep(c.delay) })
	return c.Conn.Read(b)
}

// breakSecond hands out the second accepted connection as halfBroken.
type breakSecond struct {
	net.Listener
	delay    time.Duration
	accepted int
}

func (l *breakSecond) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.accepted++
	if l.accepted == 2 {
		return &halfBroken{Conn: conn, delay: l.delay}, nil
	}
	return conn, nil
}

func TestLateHealthFromWriteFailedSideDecidesWinner(t *testing.T) {
	ln, err := transport.ListenTCP(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	// The reads of slot 2 resume only after the relay has started.
	o, events, addr := serveOn(t, &breakSecond{Listener: ln, delay: 4*testCountdown + 30*time.Millisecond})

	c1 := connect(t, addr)
	assert.Equal(t, game.SpawnPoints[0], recv(t, c1))
	c2 := connect(t, addr)
	require.NoError(t, c2.Send(protocol.Health(0)))
	require.NoError(t, c2.Shutdown())

	p := recvUntil(t, c1, isGameOver)
	assert.Equal(t, protocol.GameOver{Winner: protocol.WinnerEnemy}, p)

	require.NoError(t, c1.Shutdown())
	require.Eventually(t, func() bool { return o.SessionsServed() == 1 }, within, time.Millisecond)
	ended := events.of(EventSessionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, 2, ended[0].Summary.FirstOut)
	assert.Equal(t, 0, ended[0].Summary.Health1)
}

func TestNextSessionGetsFreshSpawns(t *testing.T) {
	o, _, addr := startServer(t)
	c1, c2 := handshake(t, addr)

	require.NoError(t, c1.Send(protocol.PlayerState{Pos: protocol.Vec2{X: -7, Z: 3}}))
	require.NoError(t, c2.Send(protocol.PlayerState{Pos: protocol.Vec2{X: 7, Z: -3}}))
	recvUntil(t, c2, func(p protocol.Packet) bool {
		s, ok := p.(protocol.PlayerState)
		return ok && s.Pos.X == -7
	})

	// A third client waits at the listener while the match runs.
	c3 := connect(t, addr)
	time.Sleep(50 * time.Millisecond)
	_, ok, err := c3.Poll()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c1.Shutdown())
	require.NoError(t, c2.Shutdown())

	assert.Equal(t, game.SpawnPoints[0], recv(t, c3))
	c4 := connect(t, addr)
	assert.Equal(t, game.SpawnPoints[1], recv(t, c4))
	assert.Equal(t, game.SpawnPoints[1], recv(t, c3))
	assert.Equal(t, game.SpawnPoints[0], recv(t, c4))
	assert.EqualValues(t, 1, o.SessionsServed())
}

func TestCancelClosesLiveConnections(t *testing.T) {
	ln, err := transport.ListenTCP(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	o := New(Options{Spawns: game.SpawnPoints, RelayInterval: testRelay})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Serve(ctx, ln) }()

	c1, c2 := handshake(t, ln.Addr().String())
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(within):
		t.Fatal("Serve did not stop")
	}

	for _, c := range []*channel.Channel{c1, c2} {
		ctx, stop := context.WithTimeout(context.Background(), within)
		var err error
		for err == nil {
			_, err = c.Receive(ctx)
		}
		stop()
		assert.True(t, protocol.IsIO(err), "got %v", err)
	}
	assert.Equal(t, Terminated, o.Phase())
}

type fakeHistory struct {
	sessions []store.Session
	err      error
}

func (f fakeHistory) Recent(ctx context.Context, limit int) ([]store.Session, error) {
	if limit < len(f.sessions) {
		return f.sessions[:limit], f.err
	}
	return f.sessions, f.err
}

func TestAdminRouter(t *testing.T) {
	o := New(DefaultOptions())
	hist := fakeHistory{sessions: []store.Session{{ID: "a"}, {ID: "b"}}}
	srv := httptest.NewServer(NewAdminRouter(o, AdminOptions{History: hist}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, "awaiting_player1", st.Phase)

	resp, err = http.Get(srv.URL + "/sessions?limit=1")
	require.NoError(t, err)
	var got []store.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	resp, err = http.Get(srv.URL + "/sessions?limit=zero")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no websocket handler mounted")
}

func TestAdminSessionsErrors(t *testing.T) {
	o := New(DefaultOptions())

	srv := httptest.NewServer(NewAdminRouter(o, AdminOptions{}))
	resp, err := http.Get(srv.URL + "/sessions")
	require.NoError(t, err)
	resp.Body.Close()
	srv.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	srv = httptest.NewServer(NewAdminRouter(o, AdminOptions{History: fakeHistory{err: errors.New("disk")}}))
	defer srv.Close()
	resp, err = http.Get(srv.URL + "/sessions")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

type recorderFunc func(context.Context, store.Session) error

func (f recorderFunc) Record(ctx context.Context, s store.Session) error { return f(ctx, s) }

func TestRecordSessionsOnlyOnEnd(t *testing.T) {
	var got []string
	obs := RecordSessions(recorderFunc(func(_ context.Context, s store.Session) error {
		got = append(got, s.ID)
		return nil
	}), time.Second)

	obs.OnEvent(Event{Kind: EventPlayerJoined})
	obs.OnEvent(Event{Kind: EventSessionEnded})
	obs.OnEvent(Event{Kind: EventSessionEnded, Summary: &store.Session{ID: "s1"}})
	assert.Equal(t, []string{"s1"}, got)
}
