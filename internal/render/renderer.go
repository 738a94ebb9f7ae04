// Package render draws the client on ebiten: a ray-cast first person view
// of the arena, a top-down minimap, and the lobby and countdown screens.
package render

import (
	"fmt"
	"image/color"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"shooter/internal/client"
	"shooter/internal/game"
	"shooter/internal/protocol"
)

const (
	FOV          = 70.0 // degrees
	RayCount     = 150
	farDistance  = 200.0
	projection   = 1.2
	minimapScale = 3.0
	minimapPad   = 10.0
	flashFrames  = 6
	// castHeight keeps wall rays just above the floor so low cover is seen.
	castHeight = 0.01
)

var (
	skyColor      = color.RGBA{200, 220, 240, 255}
	floorColor    = color.RGBA{110, 110, 100, 255}
	opponentColor = color.RGBA{180, 30, 30, 255}
	selfColor     = color.RGBA{30, 90, 200, 255}
	textColor     = color.RGBA{0, 0, 0, 255}
	damageColor   = color.RGBA{200, 0, 0, 90}
	muzzleColor   = color.RGBA{255, 210, 80, 255}
)

// Renderer implements client.Renderer onto the current frame's screen.
type Renderer struct {
	screen        *ebiten.Image
	width, height float32

	damageFlash int
	muzzleFlash int
	hitMarker   int
}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// Begin targets the screen for the next Draw call.
func (r *Renderer) Begin(screen *ebiten.Image) {
	r.screen = screen
	b := screen.Bounds()
	r.width, r.height = float32(b.Dx()), float32(b.Dy())
}

func (r *Renderer) DrawLobby(v client.LobbyView) {
	r.screen.Fill(skyColor)
	r.drawMinimap(v.Map, nil, nil)

	y := int(r.height / 3)
	x := int(r.width/2) - 120
	if v.Outcome != nil {
		ebitenutil.DebugPrintAt(r.screen, outcomeText(*v.Outcome), x, y-40)
	}
	ebitenutil.DebugPrintAt(r.screen, "Server: "+v.Address+"_", x, y)
	ebitenutil.DebugPrintAt(r.screen, "ENTER to play, ESC to quit", x, y+20)
	if v.Message != "" {
		ebitenutil.DebugPrintAt(r.screen, v.Message, x, y+50)
	}
}

func outcomeText(w protocol.Winner) string {
	switch w {
	case protocol.WinnerPlayer:
		return "YOU WON"
	case protocol.WinnerEnemy:
		return "YOU LOSE"
	default:
		return "NO CONTEST"
	}
}

func (r *Renderer) DrawWait(v client.WaitView) {
	r.drawView(v.Self, nil, v.Map)
	r.drawMinimap(v.Map, &v.Self, nil)
	r.center("Waiting for opponent...")
}

func (r *Renderer) DrawCountdown(v client.CountdownView) {
	r.drawView(v.Self, &v.Opponent, v.Map)
	r.drawMinimap(v.Map, &v.Self, &v.Opponent)
	r.center(fmt.Sprintf("%d", v.Value))
}

func (r *Renderer) DrawPlay(v client.PlayView) {
	if v.Damaged {
		r.damageFlash = flashFrames
	}
	if v.Shot != nil {
		r.muzzleFlash = flashFrames / 2
	}
	if v.Hit {
		r.hitMarker = flashFrames
	}

	r.drawView(v.Self, &v.Opponent, v.Map)
	r.drawMinimap(v.Map, &v.Self, &v.Opponent)
	r.drawCrosshair()
	r.drawHUD(v.Self.Health, v.Opponent.Health)

	if r.damageFlash > 0 {
		vector.DrawFilledRect(r.screen, 0, 0, r.width, r.height, damageColor, false)
		r.damageFlash--
	}
	if r.muzzleFlash > 0 {
		vector.DrawFilledCircle(r.screen, r.width/2, r.height-40, 18, muzzleColor, true)
		r.muzzleFlash--
	}
}

// drawView casts one ray per screen column against every obstacle in the
// ground plane. A box's own height sets how tall its slice is drawn.
func (r *Renderer) drawView(self client.PlayerView, opp *client.PlayerView, m *game.Map) {
	horizon := r.height / 2
	vector.DrawFilledRect(r.screen, 0, 0, r.width, horizon, skyColor, false)
	vector.DrawFilledRect(r.screen, 0, horizon, r.width, r.height-horizon, floorColor, false)

	yaw := yawOf(self.Facing)
	focal := r.height * projection
	column := r.width / RayCount
	depth := make([]float32, RayCount)

	for i := 0; i < RayCount; i++ {
		offset := (float32(i)+0.5)/RayCount*FOV - FOV/2
		angle := yaw + mgl32.DegToRad(offset)
		dir := mgl32.Vec3{cos(angle), 0, sin(angle)}
		origin := mgl32.Vec3{self.State.Pos.X, castHeight, self.State.Pos.Z}

		dist, top := nearest(game.Ray{Origin: origin, Dir: dir}, m.Obstacles())
		depth[i] = dist
		if dist >= farDistance {
			continue
		}
		// Perpendicular distance avoids the fisheye bulge.
		perp := dist * cos(mgl32.DegToRad(offset))
		if perp < 0.05 {
			perp = 0.05
		}
		y0 := horizon - (top-game.EyeHeight)*focal/perp
		y1 := horizon + game.EyeHeight*focal/perp

		shade := uint8(230 - min(perp*4, 180))
		c := color.RGBA{shade, shade, shade, 255}
		vector.DrawFilledRect(r.screen, float32(i)*column, y0, column+1, y1-y0, c, false)
	}

	if opp != nil {
		r.drawOpponent(self, *opp, yaw, focal, depth)
	}
}

func (r *Renderer) drawOpponent(self, opp client.PlayerView, yaw, focal float32, depth []float32) {
	dx := opp.State.Pos.X - self.State.Pos.X
	dz := opp.State.Pos.Z - self.State.Pos.Z
	dist := float32(math.Hypot(float64(dx), float64(dz)))
	if dist <= 0.1 || dist > farDistance {
		return
	}

	angleDiff := mgl32.RadToDeg(wrap(atan2(dz, dx) - yaw))
	if angleDiff < -FOV/2 || angleDiff > FOV/2 {
		return
	}

	col := int((angleDiff + FOV/2) / FOV * RayCount)
	if col >= 0 && col < len(depth) && depth[col] < dist {
		return
	}

	perp := dist * cos(mgl32.DegToRad(angleDiff))
	horizon := r.height / 2
	screenX := r.width/2 + angleDiff*(r.width/FOV)
	feet := horizon + game.EyeHeight*focal/perp
	head := horizon - (game.BodyHeight-game.EyeHeight)*focal/perp
	width := game.BodyWidth * focal / perp

	headRadius := width / 2
	vector.StrokeLine(r.screen, screenX, head+2*headRadius, screenX, feet, max(width/4, 1), opponentColor, false)
	vector.DrawFilledCircle(r.screen, screenX, head+headRadius, headRadius, opponentColor, true)
}

// nearest returns the distance to the first obstacle along ray and that
// obstacle's top.
func nearest(ray game.Ray, obstacles []game.Box) (float32, float32) {
	best, top := float32(farDistance), float32(0)
	for _, b := range obstacles {
		if hit, t := game.RayBox(ray, b); hit && t < best {
			best, top = t, b.Max.Y()
		}
	}
	return best, top
}

func (r *Renderer) drawMinimap(m *game.Map, self, opp *client.PlayerView) {
	if m == nil {
		return
	}
	originX := float32(minimapPad + game.MapWidth/2*minimapScale)
	originY := float32(minimapPad + game.MapLength/2*minimapScale)
	toScreen := func(x, z float32) (float32, float32) {
		return originX + x*minimapScale, originY + z*minimapScale
	}

	for _, b := range m.Obstacles() {
		x, y := toScreen(b.Min.X(), b.Min.Z())
		size := b.Size()
		shade := uint8(200 - min(b.Max.Y()*25, 160))
		vector.DrawFilledRect(r.screen, x, y, size.X()*minimapScale, size.Z()*minimapScale, color.RGBA{shade, shade, shade, 255}, false)
	}
	dot := func(p *client.PlayerView, c color.Color) {
		x, y := toScreen(p.State.Pos.X, p.State.Pos.Z)
		vector.DrawFilledCircle(r.screen, x, y, 3, c, true)
		vector.StrokeLine(r.screen, x, y, x+p.Facing.X*8, y+p.Facing.Z*8, 1, c, true)
	}
	if opp != nil {
		dot(opp, opponentColor)
	}
	if self != nil {
		dot(self, selfColor)
	}
}

func (r *Renderer) drawCrosshair() {
	c := color.Color(textColor)
	if r.hitMarker > 0 {
		c = opponentColor
		r.hitMarker--
	}
	vector.DrawFilledCircle(r.screen, r.width/2, r.height/2, 3, c, false)
}

func (r *Renderer) drawHUD(self, opp uint8) {
	ebitenutil.DebugPrintAt(r.screen, fmt.Sprintf("HP %d", self), 10, int(r.height)-20)
	ebitenutil.DebugPrintAt(r.screen, fmt.Sprintf("ENEMY %d", opp), int(r.width)-80, int(r.height)-20)
}

func (r *Renderer) center(msg string) {
	ebitenutil.DebugPrintAt(r.screen, msg, int(r.width/2)-3*len(msg), int(r.height/2)-40)
}

func yawOf(f protocol.Vec2) float32 {
	if f.X == 0 && f.Z == 0 {
		return math.Pi / 2
	}
	return atan2(f.Z, f.X)
}

func wrap(a float32) float32 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

func cos(a float32) float32      { return float32(math.Cos(float64(a))) }
func sin(a float32) float32      { return float32(math.Sin(float64(a))) }
func atan2(y, x float32) float32 { return float32(math.Atan2(float64(y), float64(x))) }
