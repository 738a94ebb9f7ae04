// Package client drives one player's session: Lobby, Wait, Countdown and
// Play, then back to Lobby with the outcome. Drawing and input live behind
// the Renderer and InputSource interfaces so the machine runs headless.
package client

import (
	"time"

	"github.com/rs/zerolog"

	"shooter/internal/game"
	"shooter/internal/logging"
	"shooter/internal/protocol"
)

// Frame is one tick of player input.
type Frame struct {
	DT               float32
	MouseDX, MouseDY float32
	Forward, Back    bool
	Left, Right      bool
	Fire             bool // pressed this frame
	Play             bool
	Quit             bool
	// Typed and Erase edit the lobby's server address: the characters
	// entered this frame, then one backspace.
	Typed []rune
	Erase bool
}

func (f Frame) intent() game.Intent {
	return game.Intent{
		DT:      f.DT,
		MouseDX: f.MouseDX,
		MouseDY: f.MouseDY,
		Forward: f.Forward,
		Back:    f.Back,
		Left:    f.Left,
		Right:   f.Right,
		Fire:    f.Fire,
	}
}

// InputSource is polled once per tick.
type InputSource interface {
	Frame() Frame
}

// Renderer draws the current state. It is called once per frame.
type Renderer interface {
	DrawLobby(LobbyView)
	DrawWait(WaitView)
	DrawCountdown(CountdownView)
	DrawPlay(PlayView)
}

// PlayerView is the drawable part of a player.
type PlayerView struct {
	State  protocol.PlayerState
	Facing protocol.Vec2
	Health uint8
	Body   game.Box
}

func viewOf(p *game.Player) PlayerView {
	return PlayerView{
		State:  p.State(),
		Facing: p.Facing(),
		Health: p.Health(),
		Body:   p.Body(),
	}
}

type LobbyView struct {
	Address string
	// Outcome is nil before the first match.
	Outcome *protocol.Winner
	Message string
	Map     *game.Map
}

type WaitView struct {
	Self PlayerView
	Map  *game.Map
}

type CountdownView struct {
	Value    protocol.Time
	Self     PlayerView
	Opponent PlayerView
	Map      *game.Map
}

type PlayView struct {
	Self     PlayerView
	Opponent PlayerView
	Map      *game.Map
	// Shot is the ray fired this frame, if any.
	Shot    *game.Ray
	Hit     bool
	Damaged bool
}

// Config holds what every state needs and is handed forward unchanged.
type Config struct {
	Dialer      Dialer
	DefaultAddr string
	DialTimeout time.Duration
	Map         *game.Map
	Sensitivity float32
}

type env struct {
	Config
	logger zerolog.Logger
	// lastAddr is the address of the last successful join. A new Lobby
	// starts from it, or from DefaultAddr before the first join.
	lastAddr string
}

// State is one phase of the client. Tick consumes the state and returns
// the next one, which may be the same value; nil ends the program.
type State interface {
	Tick(f Frame) State
	Draw(r Renderer)
}

// Machine owns the single live State.
type Machine struct {
	state State
}

// NewMachine starts in the Lobby with no outcome.
func NewMachine(cfg Config) *Machine {
	if cfg.Map == nil {
		cfg.Map = game.DefaultMap()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NetDialer{Timeout: cfg.DialTimeout}
	}
	if cfg.Sensitivity <= 0 {
		cfg.Sensitivity = game.DefaultSensitivity
	}
	e := &env{Config: cfg, logger: logging.Component("client")}
	return &Machine{state: newLobby(e, nil, "")}
}

// Tick advances the machine one frame. It returns false once the player
// has quit.
func (m *Machine) Tick(f Frame) bool {
	if m.state == nil {
		return false
	}
	m.state = m.state.Tick(f)
	return m.state != nil
}

// Draw renders the live state.
func (m *Machine) Draw(r Renderer) {
	if m.state != nil {
		m.state.Draw(r)
	}
}

// State returns the live state, nil after quitting.
func (m *Machine) State() State {
	return m.state
}
