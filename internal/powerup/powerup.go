// internal/powerup/powerup.go
package powerup

import (
	"math/rand"
	"sort"
	"time"

	"github.com/jason-s-yu/mazerush/internal/maze"
)

// Type names a power-up and the effect it applies on pickup.
type Type string

const (
	FogClear  Type = "fog_clear"
	Freeze    Type = "freeze"
	Confusion Type = "confusion"
)

// TargetsOpponents reports whether the effect of t lands on the collector's
// opponents rather than the collector.
func (t Type) TargetsOpponents() bool {
	return t == Freeze || t == Confusion
}

// PowerUp is an uncollected pickup on the grid.
type PowerUp struct {
	Type            Type          `json:"type"`
	Position        maze.Position `json:"position"`
	DurationSeconds int           `json:"durationSeconds"`
}

// Duration returns the effect duration.
func (p PowerUp) Duration() time.Duration {
	return time.Duration(p.DurationSeconds) * time.Second
}

// Config holds the per-type quota and the duration range in seconds.
// Order fixes the sequence in which quotas are filled, so a short pool
// starves the later types first.
type Config struct {
	Quota      map[Type]int
	Order      []Type
	MinSeconds int
	MaxSeconds int
}

// DefaultConfig places 1 fog clear, 2 freezes and 1 confusion lasting 5-10s.
func DefaultConfig() Config {
	return Config{
		Quota: map[Type]int{
			FogClear:  1,
			Freeze:    2,
			Confusion: 1,
		},
		Order:      []Type{FogClear, Freeze, Confusion},
		MinSeconds: 5,
		MaxSeconds: 10,
	}
}

// Total is the number of power-ups the quota asks for.
func (c Config) Total() int {
	n := 0
	for _, q := range c.Quota {
		if q > 0 {
			n += q
		}
	}
	return n
}

// order returns c.Order followed by any quota types it does not mention,
// built-in types first and the rest by name.
func (c Config) order() []Type {
	seen := make(map[Type]bool, len(c.Order))
	out := make([]Type, 0, len(c.Quota))
	for _, t := range c.Order {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range []Type{FogClear, Freeze, Confusion} {
		if _, ok := c.Quota[t]; ok && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	var rest []Type
	for t := range c.Quota {
		if !seen[t] {
			rest = append(rest, t)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}

// Generate picks positions for the configured quota from the free cells of
// g. A free cell is open, not the start, not the goal and not in occupied.
// Positions are drawn without replacement. When the pool runs out the rest
// of the quota is skipped. Generate never fails; a grid with no free cells
// yields an empty slice.
func Generate(g *maze.Grid, occupied []maze.Position, cfg Config, rng *rand.Rand) []PowerUp {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	taken := make(map[maze.Position]bool, len(occupied)+2)
	taken[g.Start()] = true
	taken[g.Goal()] = true
	for _, p := range occupied {
		taken[p] = true
	}

	var free []maze.Position
	for _, c := range g.OpenCells() {
		if !taken[c] {
			free = append(free, c)
		}
	}
	rng.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })

	minS, maxS := cfg.MinSeconds, cfg.MaxSeconds
	if minS < 1 {
		minS = 1
	}
	if maxS < minS {
		maxS = minS
	}

	out := make([]PowerUp, 0, min(cfg.Total(), len(free)))
	for _, t := range cfg.order() {
		for i := 0; i < cfg.Quota[t] && len(free) > 0; i++ {
			pos := free[len(free)-1]
			free = free[:len(free)-1]
			out = append(out, PowerUp{
				Type:            t,
				Position:        pos,
				DurationSeconds: minS + rng.Intn(maxS-minS+1),
			})
		}
	}
	return out
}
