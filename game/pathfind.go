package game

import "container/heap"

// Line rasterizes the segment between two cells with Bresenham's algorithm.
// Both endpoints are included. The walk always starts from the smaller
// endpoint (by X, then Y) so Line(a, b) and Line(b, a) visit the same cells,
// the second in reverse.
func Line(a, b GridPosition) []GridPosition {
	if b.X < a.X || (b.X == a.X && b.Y < a.Y) {
		pts := bresenham(b, a)
		for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
		return pts
	}
	return bresenham(a, b)
}

func bresenham(a, b GridPosition) []GridPosition {
	dx := absInt(b.X - a.X)
	dy := absInt(b.Y - a.Y)
	stepX, stepY := 1, 1
	if b.X < a.X {
		stepX = -1
	}
	if b.Y < a.Y {
		stepY = -1
	}

	pts := make([]GridPosition, 0, max(dx, dy)+1)
	err := dx - dy
	x, y := a.X, a.Y
	for {
		pts = append(pts, GridPosition{X: x, Y: y})
		if x == b.X && y == b.Y {
			return pts
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x += stepX
		}
		if e2 < dx {
			err += dx
			y += stepY
		}
	}
}

// LineBlocked returns the first occupied cell on the line from a to b,
// endpoints included. ok is false when the line is clear.
func (g *Grid) LineBlocked(a, b GridPosition) (GridPosition, bool) {
	for _, p := range Line(a, b) {
		if g.Occupied(p) {
			return p, true
		}
	}
	return GridPosition{}, false
}

// --- A* search ---

type pathNode struct {
	pos   GridPosition
	g     int
	f     int
	index int
}

type openList []*pathNode

func (ol openList) Len() int { return len(ol) }

// Lowest estimate first; on ties prefer the node that has travelled further.
func (ol openList) Less(i, j int) bool {
	if ol[i].f != ol[j].f {
		return ol[i].f < ol[j].f
	}
	return ol[i].g > ol[j].g
}

func (ol openList) Swap(i, j int) {
	ol[i], ol[j] = ol[j], ol[i]
	ol[i].index = i
	ol[j].index = j
}

func (ol *openList) Push(x any) {
	n := x.(*pathNode)
	n.index = len(*ol)
	*ol = append(*ol, n)
}

func (ol *openList) Pop() any {
	old := *ol
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*ol = old[:len(old)-1]
	return n
}

// FindPath runs A* from start to goal over unoccupied 8-neighbours with a
// uniform step cost of 1 and the Manhattan distance as heuristic. The
// heuristic overestimates diagonal moves, which is intentional: it keeps the
// search greedy and matches the path choices the pursuit loop was tuned for.
//
// The returned path includes both endpoints. nil means goal is unreachable.
func (g *Grid) FindPath(start, goal GridPosition) []GridPosition {
	best := map[GridPosition]int{start: 0}
	parent := make(map[GridPosition]GridPosition)

	ol := &openList{{pos: start, g: 0, f: start.Manhattan(goal)}}
	heap.Init(ol)

	for ol.Len() > 0 {
		cur := heap.Pop(ol).(*pathNode)
		if cur.pos == goal {
			return buildPath(parent, start, goal)
		}
		// Stale entry, a cheaper route to this cell was queued later
		if cur.g > best[cur.pos] {
			continue
		}

		for _, n := range g.Neighbors(cur.pos) {
			ng := cur.g + 1
			if prev, ok := best[n]; ok && ng >= prev {
				continue
			}
			best[n] = ng
			parent[n] = cur.pos
			heap.Push(ol, &pathNode{pos: n, g: ng, f: ng + n.Manhattan(goal)})
		}
	}
	return nil
}

func buildPath(parent map[GridPosition]GridPosition, start, goal GridPosition) []GridPosition {
	path := []GridPosition{goal}
	for p := goal; p != start; {
		p = parent[p]
		path = append(path, p)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
