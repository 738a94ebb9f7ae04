package game

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	"shooter/internal/protocol"
)

const (
	MapWidth   = 40.0
	MapLength  = 40.0
	MapUnit    = 2.0
	WallHeight = MapUnit * 2
)

//go:embed layouts/default.txt
var defaultLayout []byte

// SpawnPoints are the server-assigned starting states for slot 1 and slot 2.
// Each slot faces the other across the map.
var SpawnPoints = [2]protocol.PlayerState{
	{Pos: protocol.Vec2{X: 0, Z: 18}, Target: protocol.Vec2{X: 0, Z: -1}},
	{Pos: protocol.Vec2{X: 0, Z: -18}, Target: protocol.Vec2{X: 0, Z: 1}},
}

// Map is the static arena: a floor enclosed by four walls, with cover
// blocks placed from a digit grid.
type Map struct {
	Walls  []Box
	Blocks []Box

	obstacles []Box
}

// DefaultMap returns the arena built from the embedded layout.
func DefaultMap() *Map {
	m, err := ParseLayout(bytes.NewReader(defaultLayout))
	if err != nil {
		panic(fmt.Sprintf("embedded layout is invalid: %v", err))
	}
	return m
}

// LoadMap reads a layout file. An empty path selects the embedded layout.
func LoadMap(path string) (*Map, error) {
	if path == "" {
		return DefaultMap(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open layout: %w", err)
	}
	defer f.Close()

	m, err := ParseLayout(f)
	if err != nil {
		return nil, fmt.Errorf("layout %s: %w", path, err)
	}
	return m, nil
}

// ParseLayout builds a map from a grid of digits. Row i, column j with digit
// h places a block of height h*MapUnit on the cell at that grid position;
// 0 leaves the cell open.
func ParseLayout(r io.Reader) (*Map, error) {
	m := &Map{Walls: boundaryWalls()}

	half := float32(MapWidth / 2)
	sc := bufio.NewScanner(r)
	row := 0
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		for col, ch := range line {
			if ch < '0' || ch > '9' {
				return nil, fmt.Errorf("row %d column %d: invalid cell %q", row+1, col+1, ch)
			}
			h := float32(ch - '0')
			if h == 0 {
				continue
			}
			size := mgl32.Vec3{MapUnit, MapUnit * h, MapUnit}
			center := mgl32.Vec3{
				float32(col)*MapUnit - half + MapUnit/2,
				size.Y() / 2,
				float32(row)*MapUnit - half + MapUnit/2,
			}
			m.Blocks = append(m.Blocks, BoxAt(center, size))
		}
		row++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read layout: %w", err)
	}

	m.obstacles = append(append([]Box{}, m.Walls...), m.Blocks...)
	return m, nil
}

func boundaryWalls() []Box {
	offset := float32(MapLength/2 + MapUnit/2)
	return []Box{
		BoxAt(mgl32.Vec3{offset, MapUnit, 0}, mgl32.Vec3{MapUnit, WallHeight, MapWidth}),
		BoxAt(mgl32.Vec3{-offset, MapUnit, 0}, mgl32.Vec3{MapUnit, WallHeight, MapWidth}),
		BoxAt(mgl32.Vec3{0, MapUnit, offset}, mgl32.Vec3{MapLength, WallHeight, MapUnit}),
		BoxAt(mgl32.Vec3{0, MapUnit, -offset}, mgl32.Vec3{MapLength, WallHeight, MapUnit}),
	}
}

// Obstacles returns every box a player collides with.
func (m *Map) Obstacles() []Box {
	return m.obstacles
}
