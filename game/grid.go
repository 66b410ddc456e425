package game

import (
	"fmt"
	"math"
)

// GridPosition is a cell in the occupancy grid
type GridPosition struct {
	X int
	Y int
}

func (p GridPosition) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Manhattan returns the Manhattan distance between two cells
func (p GridPosition) Manhattan(o GridPosition) int {
	return absInt(p.X-o.X) + absInt(p.Y-o.Y)
}

// Grid is an immutable boolean terrain map. Once built it is never written,
// so a single Grid is shared by every wingman without locking.
type Grid struct {
	width   int
	height  int
	blocked []bool
}

// NewGrid builds a grid of the given size. blocked is read row-major
// (index y*width+x) and copied, so the caller may reuse it.
func NewGrid(width, height int, blocked []bool) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid grid size %dx%d", width, height)
	}
	if len(blocked) != width*height {
		return nil, fmt.Errorf("grid %dx%d needs %d cells, got %d", width, height, width*height, len(blocked))
	}
	cells := make([]bool, len(blocked))
	copy(cells, blocked)
	return &Grid{width: width, height: height, blocked: cells}, nil
}

// ParseGrid builds a grid from rows of text where '#' marks a blocked cell.
// All rows must have the same length.
func ParseGrid(rows ...string) (*Grid, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty grid")
	}
	width := len(rows[0])
	blocked := make([]bool, 0, width*len(rows))
	for y, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has length %d, want %d", y, len(row), width)
		}
		for _, c := range row {
			blocked = append(blocked, c == '#')
		}
	}
	return NewGrid(width, len(rows), blocked)
}

// Width returns the number of columns
func (g *Grid) Width() int { return g.width }

// Height returns the number of rows
func (g *Grid) Height() int { return g.height }

// InRange reports whether the cell lies inside the grid
func (g *Grid) InRange(p GridPosition) bool {
	return p.X >= 0 && p.X < g.width && p.Y >= 0 && p.Y < g.height
}

// Occupied reports whether a cell is impassable. Cells outside the grid
// are always occupied.
func (g *Grid) Occupied(p GridPosition) bool {
	if !g.InRange(p) {
		return true
	}
	return g.blocked[p.Y*g.width+p.X]
}

// Neighbors returns the unoccupied cells among the 8 cells surrounding p.
// The scan runs top row to bottom row, left to right, which fixes the
// order callers see.
func (g *Grid) Neighbors(p GridPosition) []GridPosition {
	out := make([]GridPosition, 0, 8)
	for y := p.Y - 1; y <= p.Y+1; y++ {
		for x := p.X - 1; x <= p.X+1; x++ {
			if x == p.X && y == p.Y {
				continue
			}
			n := GridPosition{X: x, Y: y}
			if !g.Occupied(n) {
				out = append(out, n)
			}
		}
	}
	return out
}

// FreeNeighbor returns the first unoccupied neighbour of p, in Neighbors order
func (g *Grid) FreeNeighbor(p GridPosition) (GridPosition, bool) {
	n := g.Neighbors(p)
	if len(n) == 0 {
		return GridPosition{}, false
	}
	return n[0], true
}

// ToGrid converts a world position to the cell containing it. The result is
// clamped into the grid, so any input (including NaN or far out-of-bounds
// coordinates) lands on a valid cell.
func (g *Grid) ToGrid(pos Position) GridPosition {
	return GridPosition{
		X: clampCell((pos.X+BoundaryX)/CellSize, g.width),
		Y: clampCell((pos.Y+BoundaryY)/CellSize, g.height),
	}
}

// ToWorld returns the world-space centre of a cell
func (g *Grid) ToWorld(p GridPosition) Position {
	return Position{
		X: float64(p.X*CellSize) + CellSize/2 - BoundaryX,
		Y: float64(p.Y*CellSize) + CellSize/2 - BoundaryY,
	}
}

// OccupiedCount returns how many in-range cells are blocked
func (g *Grid) OccupiedCount() int {
	n := 0
	for _, b := range g.blocked {
		if b {
			n++
		}
	}
	return n
}

func clampCell(v float64, limit int) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v >= float64(limit-1) {
		return limit - 1
	}
	return int(v)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
