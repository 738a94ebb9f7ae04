package render

import (
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"shooter/internal/client"
)

// Input reads the keyboard and mouse into client frames. The cursor is
// captured while playing; Escape releases it and a right click takes it
// back.
type Input struct {
	lastX    int
	lastY    int
	hasLast  bool
	lastTime time.Time
	runes    []rune
}

func NewInput() *Input {
	return &Input{}
}

// lobbyFrame passes address keystrokes to the Lobby and watches for play
// or quit.
func (in *Input) lobbyFrame() client.Frame {
	in.runes = ebiten.AppendInputChars(in.runes[:0])
	f := client.Frame{
		Erase: inpututil.IsKeyJustPressed(ebiten.KeyBackspace),
		Play:  inpututil.IsKeyJustPressed(ebiten.KeyEnter),
		Quit:  inpututil.IsKeyJustPressed(ebiten.KeyEscape),
	}
	if len(in.runes) > 0 {
		f.Typed = append([]rune(nil), in.runes...)
	}
	return f
}

func (in *Input) gameFrame() client.Frame {
	now := time.Now()
	dt := float32(1.0 / float64(ebiten.TPS()))
	if !in.lastTime.IsZero() {
		dt = float32(now.Sub(in.lastTime).Seconds())
	}
	in.lastTime = now

	captured := ebiten.CursorMode() == ebiten.CursorModeCaptured
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		ebiten.SetCursorMode(ebiten.CursorModeVisible)
		captured = false
	}
	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonRight) {
		ebiten.SetCursorMode(ebiten.CursorModeCaptured)
		in.hasLast = false
		captured = true
	}

	f := client.Frame{
		DT:      dt,
		Forward: ebiten.IsKeyPressed(ebiten.KeyW),
		Back:    ebiten.IsKeyPressed(ebiten.KeyS),
		Left:    ebiten.IsKeyPressed(ebiten.KeyA),
		Right:   ebiten.IsKeyPressed(ebiten.KeyD),
	}
	x, y := ebiten.CursorPosition()
	if captured {
		if in.hasLast {
			f.MouseDX = float32(x - in.lastX)
			f.MouseDY = float32(y - in.lastY)
		}
		f.Fire = inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft)
	}
	in.lastX, in.lastY, in.hasLast = x, y, true
	return f
}

// Game adapts a client.Machine to ebiten's update and draw loop.
type Game struct {
	machine  *client.Machine
	renderer *Renderer
	input    *Input
	width    int
	height   int
	playing  bool
}

func NewGame(m *client.Machine, in *Input, width, height int) *Game {
	return &Game{machine: m, renderer: NewRenderer(), input: in, width: width, height: height}
}

func (g *Game) Update() error {
	_, inLobby := g.machine.State().(*client.Lobby)
	var f client.Frame
	if inLobby {
		f = g.input.lobbyFrame()
	} else {
		f = g.input.gameFrame()
	}
	if ebiten.IsWindowBeingClosed() {
		f.Quit = true
	}

	if !g.machine.Tick(f) {
		return ebiten.Termination
	}

	_, playing := g.machine.State().(*client.Play)
	if playing != g.playing {
		g.playing = playing
		if playing {
			ebiten.SetCursorMode(ebiten.CursorModeCaptured)
		} else {
			ebiten.SetCursorMode(ebiten.CursorModeVisible)
		}
		g.input.hasLast = false
		g.input.lastTime = time.Time{}
	}
	return nil
}

func (g *Game) Draw(screen *ebiten.Image) {
	g.renderer.Begin(screen)
	g.machine.Draw(g.renderer)
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.width, g.height
}

// Run opens the window and blocks until the player quits.
func Run(g *Game, title string) error {
	ebiten.SetWindowSize(g.width, g.height)
	ebiten.SetWindowTitle(title)
	ebiten.SetWindowClosingHandled(true)
	return ebiten.RunGame(g)
}
