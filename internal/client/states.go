package client

import (
	"context"
	"unicode"
	"unicode/utf8"

	"shooter/internal/channel"
	"shooter/internal/game"
	"shooter/internal/protocol"
)

const (
	msgConnectFailed  = "could not connect to server"
	msgConnectionLost = "connection to server lost"
	msgNoAddress      = "enter a server address"

	maxAddressLen = 64
)

// Lobby waits for the player to start a match. It shows the result of the
// previous match, if any.
type Lobby struct {
	env     *env
	outcome *protocol.Winner
	message string
	address string
}

func newLobby(e *env, outcome *protocol.Winner, message string) *Lobby {
	addr := e.lastAddr
	if addr == "" {
		addr = e.DefaultAddr
	}
	return &Lobby{env: e, outcome: outcome, message: message, address: addr}
}

// Outcome is the previous match's result from this player's view.
func (l *Lobby) Outcome() *protocol.Winner { return l.outcome }

// Message is the last connection problem, if any.
func (l *Lobby) Message() string { return l.message }

// Address is the server the next Play will dial.
func (l *Lobby) Address() string { return l.address }

func (l *Lobby) edit(f Frame) {
	for _, r := range f.Typed {
		if unicode.IsPrint(r) && utf8.RuneCountInString(l.address) < maxAddressLen {
			l.address += string(r)
		}
	}
	if f.Erase && l.address != "" {
		_, n := utf8.DecodeLastRuneInString(l.address)
		l.address = l.address[:len(l.address)-n]
	}
}

func (l *Lobby) Tick(f Frame) State {
	if f.Quit {
		return nil
	}
	l.edit(f)
	if !f.Play {
		return l
	}
	if l.address == "" {
		l.message = msgNoAddress
		return l
	}

	l.env.logger.Info().Str("addr", l.address).Msg("connecting to server")
	ch, spawn, err := connect(context.Background(), l.env.Dialer, l.address, l.env.DialTimeout)
	if err != nil {
		l.env.logger.Warn().Err(err).Str("addr", l.address).Msg("failed to join server")
		l.message = msgConnectFailed
		return l
	}
	l.env.logger.Info().
		Float32("x", spawn.Pos.X).
		Float32("z", spawn.Pos.Z).
		Msg("received spawn, waiting for opponent")

	l.env.lastAddr = l.address

	self := game.NewPlayer()
	self.Sensitivity = l.env.Sensitivity
	self.ApplyState(spawn)
	return &Wait{env: l.env, ch: ch, self: self}
}

func (l *Lobby) Draw(r Renderer) {
	r.DrawLobby(LobbyView{
		Address: l.address,
		Outcome: l.outcome,
		Message: l.message,
		Map:     l.env.Map,
	})
}

// Wait holds the player at their spawn until the opponent's state arrives.
type Wait struct {
	env  *env
	ch   *channel.Channel
	self *game.Player
}

func (w *Wait) Tick(f Frame) State {
	if f.Quit {
		w.ch.Shutdown()
		return nil
	}
	for {
		p, ok, err := w.ch.Poll()
		if err != nil {
			if protocol.IsCodec(err) {
				continue
			}
			return disconnected(w.env, w.ch, err)
		}
		if !ok {
			return w
		}
		if s, isState := p.(protocol.PlayerState); isState {
			opp := game.NewPlayer()
			opp.ApplyState(s)
			w.env.logger.Info().Msg("opponent joined")
			return &Countdown{env: w.env, ch: w.ch, self: w.self, opponent: opp, value: 3}
		}
	}
}

func (w *Wait) Draw(r Renderer) {
	r.DrawWait(WaitView{Self: viewOf(w.self), Map: w.env.Map})
}

// Countdown shows the server's countdown. Time 0 starts the match.
type Countdown struct {
	env      *env
	ch       *channel.Channel
	self     *game.Player
	opponent *game.Player
	value    protocol.Time
}

func (c *Countdown) Self() protocol.PlayerState     { return c.self.State() }
func (c *Countdown) Opponent() protocol.PlayerState { return c.opponent.State() }
func (c *Countdown) Value() protocol.Time           { return c.value }

func (c *Countdown) Tick(f Frame) State {
	if f.Quit {
		c.ch.Shutdown()
		return nil
	}
	for {
		p, ok, err := c.ch.Poll()
		if err != nil {
			if protocol.IsCodec(err) {
				continue
			}
			return disconnected(c.env, c.ch, err)
		}
		if !ok {
			return c
		}
		switch p := p.(type) {
		case protocol.Time:
			c.value = p
			if p == 0 {
				c.env.logger.Info().Msg("match started")
				return newPlay(c.env, c.ch, c.self, c.opponent)
			}
		case protocol.PlayerState:
			c.opponent.ApplyState(p)
		}
	}
}

func (c *Countdown) Draw(r Renderer) {
	r.DrawCountdown(CountdownView{
		Value:    c.value,
		Self:     viewOf(c.self),
		Opponent: viewOf(c.opponent),
		Map:      c.env.Map,
	})
}

// Play runs the match. Each tick it applies what the server relayed, moves
// the player, resolves a shot against the opponent, then reports its own
// state and the opponent's health back.
type Play struct {
	env      *env
	ch       *channel.Channel
	self     *game.Player
	opponent *game.Player
	view     PlayView
}

func newPlay(e *env, ch *channel.Channel, self, opponent *game.Player) *Play {
	p := &Play{env: e, ch: ch, self: self, opponent: opponent}
	p.view = PlayView{Self: viewOf(self), Opponent: viewOf(opponent), Map: e.Map}
	return p
}

func (p *Play) Self() *game.Player     { return p.self }
func (p *Play) Opponent() *game.Player { return p.opponent }

// View is what the last tick produced for drawing.
func (p *Play) View() PlayView { return p.view }

func (p *Play) Tick(f Frame) State {
	if f.Quit {
		p.ch.Shutdown()
		return nil
	}

	in, recvErr := p.ch.Drain()
	if in.State != nil {
		p.opponent.ApplyState(*in.State)
	}
	damaged := false
	if in.Health != nil {
		h := uint8(*in.Health)
		damaged = h < p.self.Health()
		p.self.SetHealth(h)
	}

	shot := p.self.Update(f.intent(), p.env.Map.Obstacles())
	hit := false
	if shot != nil && p.opponent.HitBy(*shot) {
		hit = true
		left := p.opponent.TakeHit()
		p.env.logger.Debug().Uint8("opponent_health", left).Msg("hit opponent")
	}
	p.view = PlayView{
		Self:     viewOf(p.self),
		Opponent: viewOf(p.opponent),
		Map:      p.env.Map,
		Shot:     shot,
		Hit:      hit,
		Damaged:  damaged,
	}

	var sendErr error
	if recvErr == nil {
		sendErr = p.ch.Send(p.self.State())
		if sendErr == nil {
			sendErr = p.ch.Send(protocol.Health(p.opponent.Health()))
		}
	}

	switch {
	case p.self.Dead():
		return p.finish(protocol.WinnerEnemy)
	case p.opponent.Dead():
		return p.finish(protocol.WinnerPlayer)
	case in.GameOver != nil:
		return p.finish(in.GameOver.Winner)
	case recvErr != nil:
		return disconnected(p.env, p.ch, recvErr)
	case sendErr != nil && protocol.IsIO(sendErr):
		return disconnected(p.env, p.ch, sendErr)
	}
	return p
}

func (p *Play) finish(w protocol.Winner) State {
	p.env.logger.Info().Stringer("winner", w).Msg("match over")
	p.ch.Shutdown()
	return newLobby(p.env, &w, "")
}

func (p *Play) Draw(r Renderer) {
	r.DrawPlay(p.view)
}

func disconnected(e *env, ch *channel.Channel, err error) State {
	e.logger.Warn().Err(err).Msg("lost connection to server")
	ch.Shutdown()
	w := protocol.WinnerNone
	return newLobby(e, &w, msgConnectionLost)
}
