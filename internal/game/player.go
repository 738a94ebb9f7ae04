// Package game holds the shared simulation: per-frame movement with
// axis-separated collision, hit-scan against the opponent's body, and the
// replicated player record exchanged over the wire.
package game

import (
	"github.com/go-gl/mathgl/mgl32"

	"shooter/internal/protocol"
)

const (
	DefaultSensitivity = 0.0015
	Speed              = 90.0
	Damping            = 0.85
	EyeHeight          = 3.2
	BodyWidth          = 1.0
	BodyHeight         = 3.5
	PitchMargin        = 0.001
	HitDamage          = 10
	MaxHealth          = 100
)

var up = mgl32.Vec3{0, 1, 0}

// Intent is one frame of player input.
type Intent struct {
	DT               float32
	MouseDX, MouseDY float32
	Forward, Back    bool
	Left, Right      bool
	Fire             bool // edge, not held
}

// Player is one side of the match. The local player is simulated with
// Update; the opponent copy is only written through ApplyState.
type Player struct {
	Sensitivity float32

	eye      mgl32.Vec3
	target   mgl32.Vec3
	velocity mgl32.Vec3
	health   uint8
}

func NewPlayer() *Player {
	return &Player{
		Sensitivity: DefaultSensitivity,
		eye:         mgl32.Vec3{0, EyeHeight, 0},
		target:      mgl32.Vec3{0, EyeHeight, 1},
		health:      MaxHealth,
	}
}

// Update advances the player by one frame and returns the shot ray when the
// intent fires.
func (p *Player) Update(in Intent, obstacles []Box) *Ray {
	forward := p.target.Sub(p.eye)
	if forward.Len() < 1e-6 {
		forward = mgl32.Vec3{0, 0, 1}
	}

	yaw := -in.MouseDX * p.Sensitivity
	pitch := -in.MouseDY * p.Sensitivity

	forward = mgl32.QuatRotate(yaw, up).Rotate(forward)

	right := normalize(forward.Cross(up))
	if right.Len() > 0 {
		maxUp := angleBetween(up, forward) - PitchMargin
		if pitch > maxUp {
			pitch = maxUp
		}
		maxDown := -angleBetween(up.Mul(-1), forward) + PitchMargin
		if pitch < maxDown {
			pitch = maxDown
		}
		forward = mgl32.QuatRotate(pitch, right).Rotate(forward)
	}
	p.target = p.eye.Add(forward)
	view := normalize(forward)

	ground := normalize(mgl32.Vec3{forward.X(), 0, forward.Z()})
	step := in.DT * Speed
	if in.Forward {
		p.velocity = p.velocity.Add(ground.Mul(step))
	}
	if in.Back {
		p.velocity = p.velocity.Sub(ground.Mul(step))
	}
	if in.Right {
		p.velocity = p.velocity.Add(right.Mul(step))
	}
	if in.Left {
		p.velocity = p.velocity.Sub(right.Mul(step))
	}
	p.velocity = p.velocity.Mul(Damping)

	d := ResolveDisplacement(p.eye, p.velocity.Mul(in.DT), obstacles)
	p.eye = p.eye.Add(d)
	p.target = p.target.Add(d)

	if in.Fire && view.Len() > 0 {
		return &Ray{Origin: p.eye, Dir: view}
	}
	return nil
}

// ApplyState overwrites the horizontal position and aim; heights are kept.
func (p *Player) ApplyState(s protocol.PlayerState) {
	p.eye[0], p.eye[2] = s.Pos.X, s.Pos.Z
	p.target[0], p.target[2] = s.Target.X, s.Target.Z
}

// State is the replicated projection of the player onto the ground plane.
func (p *Player) State() protocol.PlayerState {
	return protocol.PlayerState{
		Pos:    protocol.Vec2{X: p.eye.X(), Z: p.eye.Z()},
		Target: protocol.Vec2{X: p.target.X(), Z: p.target.Z()},
	}
}

func (p *Player) Eye() mgl32.Vec3      { return p.eye }
func (p *Player) Target() mgl32.Vec3   { return p.target }
func (p *Player) Velocity() mgl32.Vec3 { return p.velocity }

// Facing is the normalized ground direction the player looks along.
func (p *Player) Facing() protocol.Vec2 {
	d := p.target.Sub(p.eye)
	return protocol.Vec2{X: d.X(), Z: d.Z()}.Normalize()
}

// Body is the box the opponent's shots are tested against.
func (p *Player) Body() Box {
	return BodyBox(p.eye)
}

// HitBy reports whether r strikes the player's body.
func (p *Player) HitBy(r Ray) bool {
	hit, _ := RayBox(r, p.Body())
	return hit
}

func (p *Player) Health() uint8 { return p.health }

func (p *Player) SetHealth(h uint8) { p.health = h }

// TakeHit applies one hit of damage, stopping at zero.
func (p *Player) TakeHit() uint8 {
	if p.health < HitDamage {
		p.health = 0
	} else {
		p.health -= HitDamage
	}
	return p.health
}

// Dead reports whether health has run out.
func (p *Player) Dead() bool { return p.health == 0 }
