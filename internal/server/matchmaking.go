// Package server runs the session orchestrator: it pairs the next two
// connections from a listener into a match, sends their spawns, counts
// down, then relays each player's state to the other until both leave.
// Sessions are served one at a time; later clients wait at the listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"shooter/internal/channel"
	"shooter/internal/game"
	"shooter/internal/logging"
	"shooter/internal/protocol"
)

const (
	DefaultCountdownInterval = time.Second
	DefaultRelayInterval     = time.Second / 60
	countdownStart           = 3
	acceptRetryDelay         = 50 * time.Millisecond
	// readLinger bounds how long a slot whose writes failed is still read
	// before its connection is shut down.
	readLinger               = time.Second
)

// Options configures an Orchestrator.
type Options struct {
	Spawns            [2]protocol.PlayerState
	CountdownInterval time.Duration
	RelayInterval     time.Duration
	QueueSize         int
	Observers         []Observer
}

// DefaultOptions uses the arena spawns and a 60Hz relay.
func DefaultOptions() Options {
	return Options{
		Spawns:            game.SpawnPoints,
		CountdownInterval: DefaultCountdownInterval,
		RelayInterval:     DefaultRelayInterval,
		QueueSize:         channel.DefaultQueueSize,
	}
}

// Orchestrator serves sequential two-player sessions.
type Orchestrator struct {
	opts   Options
	logger zerolog.Logger

	phase  atomic.Int32
	served atomic.Uint64
	status atomic.Pointer[Status]
}

func New(opts Options) *Orchestrator {
	if opts.RelayInterval <= 0 {
		opts.RelayInterval = DefaultRelayInterval
	}
	if opts.CountdownInterval < 0 {
		opts.CountdownInterval = 0
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = channel.DefaultQueueSize
	}
	o := &Orchestrator{
		opts:   opts,
		logger: logging.Component("server"),
	}
	o.status.Store(&Status{Phase: AwaitingPlayer1.String()})
	return o
}

// Observe adds an observer. It must be called before Serve.
func (o *Orchestrator) Observe(obs Observer) {
	o.opts.Observers = append(o.opts.Observers, obs)
}

// Phase returns the current lifecycle phase.
func (o *Orchestrator) Phase() Phase {
	return Phase(o.phase.Load())
}

// Status returns the latest published snapshot.
func (o *Orchestrator) Status() Status {
	return *o.status.Load()
}

// SessionsServed counts sessions that reached Terminated.
func (o *Orchestrator) SessionsServed() uint64 {
	return o.served.Load()
}

// Serve runs sessions until ctx is cancelled or the listener fails.
// Cancelling ctx closes the listener and any live connections; Serve then
// returns nil.
func (o *Orchestrator) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	o.logger.Info().Str("addr", ln.Addr().String()).Msg("game server started")
	for {
		o.logger.Info().Msg("waiting for new session")
		err := o.runSession(ctx, ln)
		if ctx.Err() != nil {
			o.logger.Info().Msg("game server stopped")
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (o *Orchestrator) runSession(ctx context.Context, ln net.Listener) error {
	s := newSession(o.opts.Spawns)
	o.setPhase(s, AwaitingPlayer1)

	ch, err := o.accept(ctx, ln, s, 0)
	if err != nil {
		return err
	}
	s.attach(0, ch)
	o.logger.Info().Str("session", s.ID).Msg("session started")
	if !o.send(s, 0, s.slots[0].player.state) {
		s.close()
		o.emit(s, Event{Kind: EventSessionAborted, Slot: 1})
		o.logger.Warn().Str("session", s.ID).Msg("player 1 left before the match, session aborted")
		return nil
	}
	o.logger.Info().Msg("sent player 1 initial position")

	o.setPhase(s, AwaitingPlayer2)
	ch, err = o.accept(ctx, ln, s, 1)
	if err != nil {
		s.close()
		return err
	}
	s.attach(1, ch)
	s.StartedAt = time.Now()
	if o.send(s, 1, s.slots[1].player.state) {
		o.logger.Info().Msg("sent player 2 initial position")
	}

	// Each player's state reaching the other is what ends their wait.
	o.send(s, 0, s.slots[1].player.state)
	o.send(s, 1, s.slots[0].player.state)

	o.setPhase(s, Countdown)
	err = o.countdown(ctx, s)
	if err == nil && !s.bothClosed() {
		o.setPhase(s, Active)
		o.emit(s, Event{Kind: EventMatchStarted})
		err = o.relay(ctx, s)
	}

	o.setPhase(s, Terminated)
	if closeErr := s.close(); closeErr != nil {
		o.logger.Debug().Err(closeErr).Msg("closing session connections")
	}
	summary := s.summary(time.Now())
	o.served.Add(1)
	o.emit(s, Event{Kind: EventSessionEnded, Summary: &summary})
	o.logger.Info().
		Str("session", s.ID).
		Dur("duration", summary.Duration()).
		Int64("ticks", s.ticks).
		Msg("session over")
	o.publish(s)
	return err
}

func (o *Orchestrator) accept(ctx context.Context, ln net.Listener, s *Session, i int) (*channel.Channel, error) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil, fmt.Errorf("listener closed: %w", err)
			}
			o.logger.Warn().Err(err).Msg("accept failed")
			select {
			case <-time.After(acceptRetryDelay):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		ch := channel.New(conn,
			channel.WithQueueSize(o.opts.QueueSize),
			channel.WithLogger(o.logger.With().Str("session", s.ID).Int("slot", i+1).Logger()),
		)
		o.logger.Info().Int("slot", i+1).Str("remote", ch.RemoteAddr()).Msg("connection from")
		o.emit(s, Event{Kind: EventPlayerJoined, Slot: i + 1, Remote: ch.RemoteAddr()})
		return ch, nil
	}
}

// send writes p to slot i unless it is closed. I/O failures close the slot.
func (o *Orchestrator) send(s *Session, i int, p protocol.Packet) bool {
	sl := &s.slots[i]
	if sl.closed || sl.ch == nil {
		return false
	}
	if err := sl.ch.Send(p); err != nil {
		if protocol.IsIO(err) {
			o.closeSlot(s, i, err)
		} else {
			o.logger.Warn().Err(err).Int("slot", i+1).Msg("failed to encode packet")
		}
		return false
	}
	return true
}

func (o *Orchestrator) closeSlot(s *Session, i int, err error) {
	if !s.markClosed(i) {
		return
	}
	o.logger.Info().Err(err).Int("slot", i+1).Str("remote", s.slots[i].remote).Msg("connection closed")
	o.emit(s, Event{Kind: EventPlayerLeft, Slot: i + 1, Remote: s.slots[i].remote})
}

// countdown broadcasts 3, 2, 1, 0 with a pause after every tick but the
// last. Nothing is awaited from the clients.
func (o *Orchestrator) countdown(ctx context.Context, s *Session) error {
	for v := countdownStart; v >= 0; v-- {
		tick := protocol.Time(v)
		o.send(s, 0, tick)
		o.send(s, 1, tick)
		o.emit(s, Event{Kind: EventCountdown, Tick: &tick})
		o.logger.Debug().Uint8("time", uint8(tick)).Msg("countdown")
		if v == 0 || s.bothClosed() {
			return nil
		}

		t := time.NewTimer(o.opts.CountdownInterval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return nil
}

// relay runs the active match. Every tick it writes each side its
// opponent's state and its own health, then drains what each side sent.
// A side whose opponent has finished reading is told once with GameOver.
// The loop ends when both sides have finished reading.
func (o *Orchestrator) relay(ctx context.Context, s *Session) error {
	ticker := time.NewTicker(o.opts.RelayInterval)
	defer ticker.Stop()

	for !s.bothDone() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		s.ticks++

		for i := range s.slots {
			opp := 1 - i
			o.send(s, i, s.slots[opp].player.state)
			o.send(s, i, protocol.Health(s.slots[i].player.health))

			sl := &s.slots[i]
			if s.slots[opp].readDone && !sl.closed && !sl.notified {
				w := protocol.WinnerPlayer
				if sl.player.health == 0 {
					w = protocol.WinnerEnemy
				}
				if o.send(s, i, protocol.GameOver{Winner: w}) {
					sl.notified = true
					o.emit(s, Event{Kind: EventGameOverSent, Slot: i + 1, Winner: &w})
					o.logger.Info().Int("slot", i+1).Stringer("winner", w).Msg("opponent left, game over sent")
				}
			}
		}

		// A slot closed by a failed write keeps being drained until its
		// read side ends, so a final Health(0) still decides the winner.
		for i := range s.slots {
			sl := &s.slots[i]
			if sl.ch == nil || sl.readDone {
				continue
			}
			in, err := sl.ch.Drain()
			if in.State != nil {
				sl.player.state = *in.State
			}
			if in.Health != nil {
				s.slots[1-i].player.health = uint8(*in.Health)
			}
			switch {
			case err != nil:
				o.closeSlot(s, i, err)
				sl.ch.Shutdown()
				sl.readDone = true
			case sl.closed && time.Since(sl.closedAt) > readLinger:
				o.logger.Debug().Int("slot", i+1).Msg("peer still open after write failure, shutting down")
				sl.ch.Shutdown()
			}
		}
		o.publish(s)
	}
	return nil
}

func (o *Orchestrator) setPhase(s *Session, p Phase) {
	o.phase.Store(int32(p))
	o.publish(s)
	o.logger.Debug().Str("session", s.ID).Stringer("phase", p).Msg("phase changed")
}

func (o *Orchestrator) publish(s *Session) {
	o.status.Store(s.status(o.Phase(), o.served.Load()))
}

func (o *Orchestrator) emit(s *Session, e Event) {
	e.SessionID = s.ID
	e.Phase = o.Phase().String()
	e.Time = time.Now()
	for _, obs := range o.opts.Observers {
		obs.OnEvent(e)
	}
}
