package maze

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// SizeClass names a requested maze size.
type SizeClass string

const (
	Small  SizeClass = "small"
	Medium SizeClass = "medium"
	Large  SizeClass = "large"
)

var sizeDims = map[SizeClass]int{
	Small:  11,
	Medium: 21,
	Large:  31,
}

// ParseSizeClass falls back to Small for unknown names.
func ParseSizeClass(s string) SizeClass {
	if _, ok := sizeDims[SizeClass(s)]; ok {
		return SizeClass(s)
	}
	return Small
}

// Provider hands out a grid for a match. Implementations must return a grid
// whose start and goal are open.
type Provider interface {
	Generate(ctx context.Context, size SizeClass) (*Grid, error)
}

// StaticProvider always returns the same grid regardless of size class.
type StaticProvider struct {
	Grid *Grid
}

func (p StaticProvider) Generate(_ context.Context, _ SizeClass) (*Grid, error) {
	if p.Grid == nil {
		return nil, ErrEmptyGrid
	}
	return p.Grid, nil
}

// RandomProvider carves a perfect maze with an iterative recursive
// backtracker. Start is the top-left corridor cell and goal the bottom-right.
type RandomProvider struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomProvider seeds the generator. Pass 0 to seed from the clock-based
// global source.
func NewRandomProvider(seed int64) *RandomProvider {
	if seed == 0 {
		seed = rand.Int63()
	}
	return &RandomProvider{rng: rand.New(rand.NewSource(seed))}
}

func (p *RandomProvider) Generate(ctx context.Context, size SizeClass) (*Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dim, ok := sizeDims[size]
	if !ok {
		return nil, fmt.Errorf("unknown maze size %q", size)
	}

	cells := make([][]byte, dim)
	for y := range cells {
		cells[y] = make([]byte, dim)
		for x := range cells[y] {
			cells[y][x] = WallChar
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	steps := []Position{{X: 0, Y: -2}, {X: 0, Y: 2}, {X: -2, Y: 0}, {X: 2, Y: 0}}
	start := Position{X: 1, Y: 1}
	cells[start.Y][start.X] = '.'
	stack := []Position{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		var options []Position
		for _, s := range steps {
			n := Position{X: cur.X + s.X, Y: cur.Y + s.Y}
			if n.X > 0 && n.X < dim-1 && n.Y > 0 && n.Y < dim-1 && cells[n.Y][n.X] == WallChar {
				options = append(options, n)
			}
		}
		if len(options) == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		next := options[p.rng.Intn(len(options))]
		cells[(cur.Y+next.Y)/2][(cur.X+next.X)/2] = '.'
		cells[next.Y][next.X] = '.'
		stack = append(stack, next)
	}

	rows := make([]string, dim)
	for y := range cells {
		rows[y] = string(cells[y])
	}
	return NewGrid(rows, start, Position{X: dim - 2, Y: dim - 2})
}
