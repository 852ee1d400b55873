package maze

import (
	"errors"
	"strings"
)

// Direction is one of the four cardinal moves.
type Direction string

const (
	Up    Direction = "UP"
	Down  Direction = "DOWN"
	Left  Direction = "LEFT"
	Right Direction = "RIGHT"
)

// Rejection reasons returned by TryMove. The messages are the reasons
// surfaced to clients.
var (
	ErrInvalidDirection = errors.New("invalid direction")
	ErrOutOfBounds      = errors.New("out of bounds")
	ErrBlocked          = errors.New("blocked")
)

var deltas = map[Direction]Position{
	Up:    {X: 0, Y: -1},
	Down:  {X: 0, Y: 1},
	Left:  {X: -1, Y: 0},
	Right: {X: 1, Y: 0},
}

// ParseDirection accepts a direction name in any case.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := deltas[d]; !ok {
		return "", ErrInvalidDirection
	}
	return d, nil
}

// Delta returns the coordinate offset of d and false for unknown directions.
func (d Direction) Delta() (Position, bool) {
	delta, ok := deltas[d]
	return delta, ok
}

// Opposite returns the reverse direction. Unknown directions are returned unchanged.
func (d Direction) Opposite() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	case Left:
		return Right
	case Right:
		return Left
	}
	return d
}

// TryMove computes the cell reached by moving one step from pos in dir.
// It never mutates the grid; committing the result is the caller's job.
func TryMove(g *Grid, pos Position, dir Direction) (Position, error) {
	delta, ok := deltas[Direction(strings.ToUpper(string(dir)))]
	if !ok {
		return pos, ErrInvalidDirection
	}
	next := Position{X: pos.X + delta.X, Y: pos.Y + delta.Y}
	if !g.InBounds(next) {
		return pos, ErrOutOfBounds
	}
	if g.IsWall(next) {
		return pos, ErrBlocked
	}
	return next, nil
}
