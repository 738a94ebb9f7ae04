package client

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shooter/internal/channel"
	"shooter/internal/game"
	"shooter/internal/protocol"
	"shooter/internal/server"
	"shooter/internal/transport"
)

const within = 3 * time.Second

var spawn = game.SpawnPoints[0]

// pipeDialer connects the client to an in-memory server end that sends the
// spawn as soon as it is dialed.
type pipeDialer struct {
	servers chan *channel.Channel
	err     error
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{servers: make(chan *channel.Channel, 4)}
}

func (d *pipeDialer) Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	if d.err != nil {
		return nil, d.err
	}
	c, s := net.Pipe()
	srv := channel.New(s)
	go srv.Send(spawn)
	d.servers <- srv
	return c, nil
}

func (d *pipeDialer) server(t *testing.T) *channel.Channel {
	t.Helper()
	select {
	case s := <-d.servers:
		t.Cleanup(func() { s.Shutdown() })
		return s
	case <-time.After(within):
		t.Fatal("client never dialed")
		return nil
	}
}

// tickUntil ticks m with f until cond holds.
func tickUntil(t *testing.T, m *Machine, f Frame, cond func(State) bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for !cond(m.State()) {
		require.True(t, time.Now().Before(deadline), "timed out in %T", m.State())
		require.True(t, m.Tick(f), "machine quit")
		time.Sleep(time.Millisecond)
	}
}

func isA[T State](s State) bool {
	_, ok := s.(T)
	return ok
}

// joined runs m from the Lobby into Play against a fake server.
func joined(t *testing.T) (*Machine, *channel.Channel) {
	t.Helper()
	d := newPipeDialer()
	m := NewMachine(Config{Dialer: d, DefaultAddr: "pipe"})

	require.True(t, m.Tick(Frame{Play: true}))
	require.IsType(t, &Wait{}, m.State())
	srv := d.server(t)

	require.NoError(t, srv.Send(game.SpawnPoints[1]))
	require.NoError(t, srv.Send(protocol.Time(0)))
	tickUntil(t, m, Frame{}, isA[*Play])
	return m, srv
}

func TestLobbyStaysOnDialFailure(t *testing.T) {
	d := newPipeDialer()
	d.err = errors.New("refused")
	m := NewMachine(Config{Dialer: d, DefaultAddr: "nowhere:1"})

	assert.True(t, m.Tick(Frame{Play: true}))
	l, ok := m.State().(*Lobby)
	require.True(t, ok)
	assert.Nil(t, l.Outcome())
	assert.Equal(t, msgConnectFailed, l.Message())
}

func TestQuitFromLobby(t *testing.T) {
	m := NewMachine(Config{Dialer: newPipeDialer()})
	assert.True(t, m.Tick(Frame{}))
	assert.False(t, m.Tick(Frame{Quit: true}))
	assert.Nil(t, m.State())
	assert.False(t, m.Tick(Frame{}))
}

func TestLobbyUsesTypedAddress(t *testing.T) {
	var dialed string
	d := dialerFunc(func(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
		dialed = addr
		return nil, errors.New("refused")
	})
	m := NewMachine(Config{Dialer: d, DefaultAddr: "default:1"})

	m.Tick(Frame{Play: true})
	assert.Equal(t, "default:1", dialed)

	// Erase the trailing "1" and type "2".
	m.Tick(Frame{Erase: true})
	m.Tick(Frame{Typed: []rune("2")})
	assert.Equal(t, "default:2", m.State().(*Lobby).Address())
	m.Tick(Frame{Play: true})
	assert.Equal(t, "default:2", dialed)
}

func TestLobbyEmptyAddressDoesNotDial(t *testing.T) {
	dials := 0
	d := dialerFunc(func(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
		dials++
		return nil, errors.New("refused")
	})
	m := NewMachine(Config{Dialer: d, DefaultAddr: "ab"})

	m.Tick(Frame{Erase: true})
	m.Tick(Frame{Erase: true})
	m.Tick(Frame{Erase: true})
	l := m.State().(*Lobby)
	assert.Empty(t, l.Address())

	m.Tick(Frame{Play: true})
	assert.Zero(t, dials)
	assert.Equal(t, msgNoAddress, l.Message())

	m.Tick(Frame{Typed: []rune("x:1\n"), Play: true})
	assert.Equal(t, 1, dials)
	assert.Equal(t, "x:1", l.Address())
}

type dialerFunc func(ctx context.Context, addr string) (io.ReadWriteCloser, error)

func (f dialerFunc) Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	return f(ctx, addr)
}

func TestCountdownStartsOnTimeZeroAlone(t *testing.T) {
	d := newPipeDialer()
	m := NewMachine(Config{Dialer: d, DefaultAddr: "pipe"})
	require.True(t, m.Tick(Frame{Play: true}))
	srv := d.server(t)

	require.NoError(t, srv.Send(game.SpawnPoints[1]))
	tickUntil(t, m, Frame{}, isA[*Countdown])
	cd := m.State().(*Countdown)
	assert.Equal(t, game.SpawnPoints[1], cd.Opponent())
	assert.Equal(t, spawn, cd.Self())

	require.NoError(t, srv.Send(protocol.Time(0)))
	tickUntil(t, m, Frame{}, isA[*Play])
}

func TestCountdownShowsServerValue(t *testing.T) {
	d := newPipeDialer()
	m := NewMachine(Config{Dialer: d, DefaultAddr: "pipe"})
	require.True(t, m.Tick(Frame{Play: true}))
	srv := d.server(t)

	require.NoError(t, srv.Send(game.SpawnPoints[1]))
	require.NoError(t, srv.Send(protocol.Time(2)))
	tickUntil(t, m, Frame{}, func(s State) bool {
		cd, ok := s.(*Countdown)
		return ok && cd.Value() == 2
	})
}

func TestPlayDamageAndReport(t *testing.T) {
	m, srv := joined(t)

	require.NoError(t, srv.Send(protocol.Health(90)))
	play := m.State().(*Play)
	tickUntil(t, m, Frame{DT: 1.0 / 60}, func(State) bool { return play.Self().Health() == 90 })
	assert.True(t, play.View().Damaged)

	// Each tick reports own state and the opponent's health.
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	p, err := srv.Receive(ctx)
	require.NoError(t, err)
	assert.IsType(t, protocol.PlayerState{}, p)
	p, err = srv.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.Health(game.MaxHealth), p)
}

func TestPlayGameOverReturnsToLobby(t *testing.T) {
	m, srv := joined(t)
	go func() {
		// Keep the pipe flowing while the client reports.
		for {
			if _, err := srv.Receive(context.Background()); err != nil {
				return
			}
		}
	}()
	require.NoError(t, srv.Send(protocol.GameOver{Winner: protocol.WinnerPlayer}))

	tickUntil(t, m, Frame{}, isA[*Lobby])
	l := m.State().(*Lobby)
	require.NotNil(t, l.Outcome())
	assert.Equal(t, protocol.WinnerPlayer, *l.Outcome())
	assert.Equal(t, "pipe", l.Address())
}

func TestPlayConnectionLost(t *testing.T) {
	m, srv := joined(t)
	require.NoError(t, srv.Shutdown())

	tickUntil(t, m, Frame{}, isA[*Lobby])
	l := m.State().(*Lobby)
	require.NotNil(t, l.Outcome())
	assert.Equal(t, protocol.WinnerNone, *l.Outcome())
	assert.Equal(t, msgConnectionLost, l.Message())
}

func TestWaitConnectionLost(t *testing.T) {
	d := newPipeDialer()
	m := NewMachine(Config{Dialer: d, DefaultAddr: "pipe"})
	require.True(t, m.Tick(Frame{Play: true}))
	require.NoError(t, d.server(t).Shutdown())

	tickUntil(t, m, Frame{}, isA[*Lobby])
	assert.Equal(t, msgConnectionLost, m.State().(*Lobby).Message())
}

func TestQuitDuringPlayClosesConnection(t *testing.T) {
	m, srv := joined(t)
	assert.False(t, m.Tick(Frame{Quit: true}))

	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	var err error
	for err == nil {
		_, err = srv.Receive(ctx)
	}
	assert.True(t, protocol.IsIO(err), "got %v", err)
}

// recorder captures which view was drawn last.
type recorder struct{ last string }

func (r *recorder) DrawLobby(LobbyView)         { r.last = "lobby" }
func (r *recorder) DrawWait(WaitView)           { r.last = "wait" }
func (r *recorder) DrawCountdown(CountdownView) { r.last = "countdown" }
func (r *recorder) DrawPlay(PlayView)           { r.last = "play" }

func TestDrawFollowsState(t *testing.T) {
	r := &recorder{}
	d := newPipeDialer()
	m := NewMachine(Config{Dialer: d, DefaultAddr: "pipe"})
	m.Draw(r)
	assert.Equal(t, "lobby", r.last)

	m.Tick(Frame{Play: true})
	m.Draw(r)
	assert.Equal(t, "wait", r.last)
	srv := d.server(t)

	require.NoError(t, srv.Send(game.SpawnPoints[1]))
	tickUntil(t, m, Frame{}, isA[*Countdown])
	m.Draw(r)
	assert.Equal(t, "countdown", r.last)

	require.NoError(t, srv.Send(protocol.Time(0)))
	tickUntil(t, m, Frame{}, isA[*Play])
	m.Draw(r)
	assert.Equal(t, "play", r.last)
}

// TestMatchAgainstServer plays a full match over TCP: player 2 shoots
// player 1 down from the opposite spawn.
func TestMatchAgainstServer(t *testing.T) {
	ln, err := transport.ListenTCP(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	opts := server.DefaultOptions()
	opts.CountdownInterval = 10 * time.Millisecond
	opts.RelayInterval = 2 * time.Millisecond
	orch := server.New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	cfg := Config{DefaultAddr: ln.Addr().String(), DialTimeout: time.Second}
	m1 := NewMachine(cfg)
	m2 := NewMachine(cfg)

	require.True(t, m1.Tick(Frame{Play: true}))
	require.IsType(t, &Wait{}, m1.State())
	require.True(t, m2.Tick(Frame{Play: true}))
	require.IsType(t, &Wait{}, m2.State())

	tickUntil(t, m1, Frame{}, isA[*Countdown])
	assert.Equal(t, game.SpawnPoints[1], m1.State().(*Countdown).Opponent())

	idle := Frame{DT: 1.0 / 60}
	fire := Frame{DT: 1.0 / 60, Fire: true}
	deadline := time.Now().Add(within)
	for {
		_, over1 := m1.State().(*Lobby)
		_, over2 := m2.State().(*Lobby)
		if over1 && over2 {
			break
		}
		require.True(t, time.Now().Before(deadline), "match did not finish: %T %T", m1.State(), m2.State())
		if !over1 {
			m1.Tick(idle)
		}
		if !over2 {
			m2.Tick(fire)
		}
		time.Sleep(time.Millisecond)
	}

	l1 := m1.State().(*Lobby)
	l2 := m2.State().(*Lobby)
	require.NotNil(t, l1.Outcome())
	require.NotNil(t, l2.Outcome())
	assert.Equal(t, protocol.WinnerEnemy, *l1.Outcome())
	assert.Equal(t, protocol.WinnerPlayer, *l2.Outcome())

	require.Eventually(t, func() bool { return orch.SessionsServed() == 1 }, within, time.Millisecond)
}
