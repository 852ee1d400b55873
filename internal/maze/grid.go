// internal/maze/grid.go

/*
Package maze holds the immutable character grid a race is played on, the
pure movement validator that checks moves against it, and the Provider
contract used to obtain a grid for a lobby.

A grid is width x height cells. WallChar marks a wall and every other
character is open floor. Coordinates are (x, y) with x the column and y the
row, both zero based from the top-left corner.
*/
package maze

import (
	"errors"
	"fmt"
	"strings"
)

// WallChar is the reserved grid character for an impassable cell.
const WallChar = '#'

var (
	ErrEmptyGrid      = errors.New("maze grid is empty")
	ErrRaggedGrid     = errors.New("maze rows have different widths")
	ErrStartNotOpen   = errors.New("start cell is a wall or out of bounds")
	ErrGoalNotOpen    = errors.New("goal cell is a wall or out of bounds")
	ErrStartEqualGoal = errors.New("start and goal cells are the same")
)

// Position is a cell coordinate.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String renders the position as "x,y".
func (p Position) String() string {
	return fmt.Sprintf("%d,%d", p.X, p.Y)
}

// Grid is an immutable maze. Nothing in this package mutates a Grid after
// NewGrid returns, so a *Grid can be shared freely between goroutines.
type Grid struct {
	width  int
	height int
	start  Position
	goal   Position
	rows   []string
}

// NewGrid validates rows and returns a grid. Every row must have the same
// width and both start and goal must be open cells.
func NewGrid(rows []string, start, goal Position) (*Grid, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrEmptyGrid
	}
	width := len(rows[0])
	cp := make([]string, len(rows))
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d: %w", i, ErrRaggedGrid)
		}
		cp[i] = row
	}

	g := &Grid{
		width:  width,
		height: len(rows),
		start:  start,
		goal:   goal,
		rows:   cp,
	}
	if !g.IsOpen(start) {
		return nil, ErrStartNotOpen
	}
	if !g.IsOpen(goal) {
		return nil, ErrGoalNotOpen
	}
	if start == goal {
		return nil, ErrStartEqualGoal
	}
	return g, nil
}

// MustGrid is NewGrid for fixed layouts known to be valid. It panics on error.
func MustGrid(rows []string, start, goal Position) *Grid {
	g, err := NewGrid(rows, start, goal)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Grid) Width() int { return g.width }
func (g *Grid) Height() int { return g.height }
func (g *Grid) Start() Position { return g.start }
func (g *Grid) Goal() Position { return g.goal }
func (g *Grid) Rows() []string { return append([]string(nil), g.rows...) }
func (g *Grid) At(p Position) byte { return g.rows[p.Y][p.X] }

// InBounds reports whether p lies within [0,width) x [0,height).
func (g *Grid) InBounds(p Position) bool {
	return p.X >= 0 && p.X < g.width && p.Y >= 0 && p.Y < g.height
}

// IsWall reports whether p is a wall. Out of bounds cells are not walls.
func (g *Grid) IsWall(p Position) bool {
	return g.InBounds(p) && g.rows[p.Y][p.X] == WallChar
}

// IsOpen reports whether p is inside the grid and not a wall.
func (g *Grid) IsOpen(p Position) bool {
	return g.InBounds(p) && g.rows[p.Y][p.X] != WallChar
}

// OpenCells lists every open cell in row-major order.
func (g *Grid) OpenCells() []Position {
	cells := make([]Position, 0, g.width*g.height)
	for y, row := range g.rows {
		for x := 0; x < len(row); x++ {
			if row[x] != WallChar {
				cells = append(cells, Position{X: x, Y: y})
			}
		}
	}
	return cells
}

// String returns the grid as newline separated rows.
func (g *Grid) String() string {
	return strings.Join(g.rows, "\n")
}
