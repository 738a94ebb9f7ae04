package server

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"shooter/internal/channel"
	"shooter/internal/game"
	"shooter/internal/protocol"
	"shooter/internal/store"
)

// Phase is the lifecycle position of the session being served.
type Phase int32

const (
	AwaitingPlayer1 Phase = iota
	AwaitingPlayer2
	Countdown
	Active
	Terminated
)

func (p Phase) String() string {
	switch p {
	case AwaitingPlayer1:
		return "awaiting_player1"
	case AwaitingPlayer2:
		return "awaiting_player2"
	case Countdown:
		return "countdown"
	case Active:
		return "active"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// replica is the server's copy of one player. Health is what the server
// relays to that player: the value its opponent last reported.
type replica struct {
	state  protocol.PlayerState
	health uint8
}

type slot struct {
	ch     *channel.Channel
	remote string
	player replica
	// closed stops writes to the slot. readDone follows once everything
	// the peer sent before leaving has been relayed.
	closed   bool
	closedAt time.Time
	readDone bool
	notified bool // GameOver already sent
}

// Session pairs two connections for one match. It is owned by the
// orchestrator goroutine; other goroutines see it only through Status.
type Session struct {
	ID        string
	StartedAt time.Time

	slots    [2]slot
	ticks    int64
	firstOut int
}

func newSession(spawns [2]protocol.PlayerState) *Session {
	s := &Session{ID: uuid.NewString()}
	for i := range s.slots {
		s.slots[i].player = replica{state: spawns[i], health: game.MaxHealth}
	}
	return s
}

func (s *Session) attach(i int, ch *channel.Channel) {
	s.slots[i].ch = ch
	s.slots[i].remote = ch.RemoteAddr()
}

// markClosed records an I/O failure on slot i.
func (s *Session) markClosed(i int) bool {
	sl := &s.slots[i]
	if sl.closed {
		return false
	}
	sl.closed = true
	sl.closedAt = time.Now()
	if s.firstOut == 0 {
		s.firstOut = i + 1
	}
	return true
}

func (s *Session) bothClosed() bool {
	return s.slots[0].closed && s.slots[1].closed
}

func (s *Session) bothDone() bool {
	return s.slots[0].readDone && s.slots[1].readDone
}

// close shuts down every attached connection.
func (s *Session) close() error {
	var err error
	for i := range s.slots {
		if ch := s.slots[i].ch; ch != nil {
			err = multierr.Append(err, ch.Shutdown())
		}
		s.slots[i].closed = true
		s.slots[i].readDone = true
	}
	return err
}

func (s *Session) summary(ended time.Time) store.Session {
	return store.Session{
		ID:        s.ID,
		StartedAt: s.StartedAt,
		EndedAt:   ended,
		Player1:   s.slots[0].remote,
		Player2:   s.slots[1].remote,
		Health1:   int(s.slots[0].player.health),
		Health2:   int(s.slots[1].player.health),
		FirstOut:  s.firstOut,
		Ticks:     s.ticks,
	}
}

// SlotStatus describes one side of the current session.
type SlotStatus struct {
	Remote     string        `json:"remote,omitempty"`
	Connected  bool          `json:"connected"`
	Closed     bool          `json:"closed"`
	Pos        protocol.Vec2 `json:"pos"`
	Target     protocol.Vec2 `json:"target"`
	Health     uint8         `json:"health"`
	PacketsIn  uint64        `json:"packets_in"`
	PacketsOut uint64        `json:"packets_out"`
	CodecDrops uint64        `json:"codec_drops"`
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Phase          string        `json:"phase"`
	SessionID      string        `json:"session_id,omitempty"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	SessionsServed uint64        `json:"sessions_served"`
	Ticks          int64         `json:"ticks"`
	Slots          [2]SlotStatus `json:"slots"`
}

func (s *Session) status(phase Phase, served uint64) *Status {
	st := &Status{
		Phase:          phase.String(),
		SessionID:      s.ID,
		SessionsServed: served,
		Ticks:          s.ticks,
	}
	if !s.StartedAt.IsZero() {
		t := s.StartedAt
		st.StartedAt = &t
	}
	for i, sl := range s.slots {
		ss := SlotStatus{
			Remote:    sl.remote,
			Connected: sl.ch != nil,
			Closed:    sl.closed,
			Pos:       sl.player.state.Pos,
			Target:    sl.player.state.Target,
			Health:    sl.player.health,
		}
		if sl.ch != nil {
			stats := sl.ch.Stats()
			ss.PacketsIn, ss.PacketsOut, ss.CodecDrops = stats.PacketsIn, stats.PacketsOut, stats.CodecDrops
		}
		st.Slots[i] = ss
	}
	return st
}
