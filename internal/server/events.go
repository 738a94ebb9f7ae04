package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"shooter/internal/protocol"
	"shooter/internal/store"
)

// EventKind names a session lifecycle step.
type EventKind string

const (
	EventPlayerJoined   EventKind = "player_joined"
	EventCountdown      EventKind = "countdown"
	EventMatchStarted   EventKind = "match_started"
	EventPlayerLeft     EventKind = "player_left"
	EventGameOverSent   EventKind = "game_over_sent"
	EventSessionEnded   EventKind = "session_ended"
	EventSessionAborted EventKind = "session_aborted"
)

// Event is emitted by the orchestrator as a session progresses.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	Phase     string    `json:"phase"`
	Time      time.Time `json:"time"`
	// Slot is 1 or 2 for per-player events.
	Slot   int              `json:"slot,omitempty"`
	Remote string           `json:"remote,omitempty"`
	Tick   *protocol.Time   `json:"tick,omitempty"`
	Winner *protocol.Winner `json:"winner,omitempty"`
	// Summary is set on EventSessionEnded.
	Summary *store.Session `json:"summary,omitempty"`
}

// Observer receives lifecycle events on the orchestrator goroutine and
// must not block for long.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// SessionRecorder persists finished sessions.
type SessionRecorder interface {
	Record(ctx context.Context, s store.Session) error
}

// RecordSessions stores the summary of every session that ends.
func RecordSessions(rec SessionRecorder, timeout time.Duration) Observer {
	return ObserverFunc(func(e Event) {
		if e.Kind != EventSessionEnded || e.Summary == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := rec.Record(ctx, *e.Summary); err != nil {
			log.Error().Str("component", "server").Err(err).Str("session", e.SessionID).Msg("failed to record session")
		}
	})
}
