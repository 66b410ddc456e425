package game

import (
	"math"
	"time"
)

// Arena dimensions in world units. The origin sits at the centre of the map,
// so positions range over [-BoundaryX, BoundaryX] x [-BoundaryY, BoundaryY].
const (
	BoundaryX = 16384.0
	BoundaryY = BoundaryX / 2

	WorldWidth  = 2 * BoundaryX
	WorldHeight = 2 * BoundaryY
)

// Occupancy grid constants
const (
	CellSize   = 64
	GridWidth  = 512
	GridHeight = GridWidth / 2
)

// Pursuit tuning
const (
	FireRange        = 500.0                  // Fire only when the target is closer than this
	PathfindRange    = 16                     // Obstacles further than this (grid cells) skip A*
	ThrustInterval   = 500 * time.Millisecond // Forward thrust is re-asserted this often
	MinTickInterval  = 10 * time.Millisecond
	MaxTickInterval  = 1000 * time.Millisecond
	LoginHorizon     = 3000
	ProtocolVersion  = 5
	DefaultLoginFlag = "UN"
)

// Position is a point in world space
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Player is a read-only view of another participant in the arena
type Player struct {
	ID   uint16   `json:"id"`
	Name string   `json:"name"`
	Pos  Position `json:"pos"`
}

// Distance returns the straight-line distance between two world positions
func Distance(a, b Position) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// TickInterval converts a measured round-trip latency into the pause between
// two pursuit iterations: twice the latency, clamped to [10ms, 1s].
func TickInterval(ping time.Duration) time.Duration {
	d := 2 * ping
	if d < MinTickInterval {
		return MinTickInterval
	}
	if d > MaxTickInterval {
		return MaxTickInterval
	}
	return d
}
