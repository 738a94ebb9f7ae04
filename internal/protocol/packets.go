// Package protocol implements the wire contract between the shooter server
// and its clients. Packets are a tagged union encoded the same way bincode
// encodes a Rust enum: a little-endian u32 variant index followed by the
// fields in declaration order. There is no length prefix, version or
// checksum; the layout of each variant delimits it.
package protocol

import (
	"fmt"
	"math"
)

// Tag is the u32 variant index written in front of every packet.
type Tag uint32

const (
	TagPlayerState Tag = 0
	TagTime        Tag = 1
	TagHealth      Tag = 2
	TagGameOver    Tag = 3
)

// TagSize is the size of the variant index.
const TagSize = 4

// Encoded sizes, tag included.
const (
	PlayerStateSize = TagSize + 16
	TimeSize        = TagSize + 1
	HealthSize      = TagSize + 1
	GameOverSize    = TagSize + 4
)

func (t Tag) String() string {
	switch t {
	case TagPlayerState:
		return "player_state"
	case TagTime:
		return "time"
	case TagHealth:
		return "health"
	case TagGameOver:
		return "game_over"
	default:
		return fmt.Sprintf("tag(%d)", uint32(t))
	}
}

// Vec2 is a position or look-at point on the ground plane.
type Vec2 struct {
	X float32
	Z float32
}

// Finite reports whether both components are finite numbers.
func (v Vec2) Finite() bool {
	return finite(v.X) && finite(v.Z)
}

func (v Vec2) Len() float32 {
	return float32(math.Hypot(float64(v.X), float64(v.Z)))
}

// Normalize returns v scaled to unit length. The zero vector (or anything
// too short to divide by) normalizes to the zero vector.
func (v Vec2) Normalize() Vec2 {
	l := v.Len()
	if l < 1e-6 || !finite(l) {
		return Vec2{}
	}
	return Vec2{X: v.X / l, Z: v.Z / l}
}

func finite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

// Winner is the match outcome as seen by the receiving client.
type Winner uint32

const (
	WinnerPlayer Winner = 0
	WinnerEnemy  Winner = 1
	WinnerNone   Winner = 2
)

func (w Winner) Valid() bool {
	return w <= WinnerNone
}

// Flip converts an outcome to the opponent's point of view.
func (w Winner) Flip() Winner {
	switch w {
	case WinnerPlayer:
		return WinnerEnemy
	case WinnerEnemy:
		return WinnerPlayer
	default:
		return w
	}
}

func (w Winner) String() string {
	switch w {
	case WinnerPlayer:
		return "player"
	case WinnerEnemy:
		return "enemy"
	case WinnerNone:
		return "none"
	default:
		return fmt.Sprintf("winner(%d)", uint32(w))
	}
}

// Packet is one unit of the wire protocol.
type Packet interface {
	Tag() Tag
}

// PlayerState carries the sender's position and look-at point.
type PlayerState struct {
	Pos    Vec2
	Target Vec2
}

// Time is a countdown tick. Zero means the match is active.
type Time uint8

// Health is "your health" from the server and "your opponent's health as
// I computed it" from a client.
type Health uint8

// GameOver is an authoritative end-of-match notice.
type GameOver struct {
	Winner Winner
}

func (PlayerState) Tag() Tag { return TagPlayerState }
func (Time) Tag() Tag        { return TagTime }
func (Health) Tag() Tag      { return TagHealth }
func (GameOver) Tag() Tag    { return TagGameOver }
