package motionplan

import (
	"container/heap"
	"image"

	"github.com/golang/geo/r2"

	"github.com/saptadeb/botLab-sub001/occupancygrid"
)

// unsetDistance marks free cells the wavefront has not reached yet.
const unsetDistance = -1

// ObstacleDistanceGrid stores, for every cell of an occupancy grid, the distance in meters to the
// nearest obstacle. Any cell with log-odds >= 0 is an obstacle, so unknown space is treated as
// blocked. The grid has the same shape and placement as the map it was computed from.
type ObstacleDistanceGrid struct {
	width         int
	height        int
	metersPerCell float64
	cellsPerMeter float64
	origin        r2.Point
	cells         []float64
}

// NewObstacleDistanceGrid returns an empty distance grid. Call SetDistances before using it.
func NewObstacleDistanceGrid() *ObstacleDistanceGrid {
	return &ObstacleDistanceGrid{metersPerCell: 0.05, cellsPerMeter: 20}
}

// WidthInCells returns the number of columns.
func (g *ObstacleDistanceGrid) WidthInCells() int { return g.width }

// HeightInCells returns the number of rows.
func (g *ObstacleDistanceGrid) HeightInCells() int { return g.height }

// MetersPerCell returns the cell size.
func (g *ObstacleDistanceGrid) MetersPerCell() float64 { return g.metersPerCell }

// CellsPerMeter returns the inverse of the cell size.
func (g *ObstacleDistanceGrid) CellsPerMeter() float64 { return g.cellsPerMeter }

// Origin returns the world position of the corner of cell (0, 0).
func (g *ObstacleDistanceGrid) Origin() r2.Point { return g.origin }

// IsCellInGrid reports whether (x, y) indexes a cell.
func (g *ObstacleDistanceGrid) IsCellInGrid(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.width && y < g.height
}

// Distance returns the obstacle distance of cell (x, y). Cells outside the grid are at distance 0.
func (g *ObstacleDistanceGrid) Distance(x, y int) float64 {
	if !g.IsCellInGrid(x, y) {
		return 0
	}
	return g.cells[y*g.width+x]
}

// DistanceAt returns the obstacle distance of the cell containing a world point.
func (g *ObstacleDistanceGrid) DistanceAt(point r2.Point) float64 {
	cell := occupancygrid.GlobalToCell(point, g)
	return g.Distance(cell.X, cell.Y)
}

// MaxDistance is the distance given to free cells no obstacle can reach, for example in a map
// without any obstacles.
func (g *ObstacleDistanceGrid) MaxDistance() float64 {
	return float64(g.width+g.height) * g.metersPerCell
}

// SetDistances recomputes every distance from grid. Distances grow by one cell size per
// 4-connected step away from the nearest obstacle.
func (g *ObstacleDistanceGrid) SetDistances(grid *occupancygrid.Grid) {
	g.resetGrid(grid)

	queue := &distanceQueue{}
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			if grid.At(x, y) >= 0 {
				g.cells[y*g.width+x] = 0
				*queue = append(*queue, distanceNode{cell: image.Point{x, y}})
			} else {
				g.cells[y*g.width+x] = unsetDistance
			}
		}
	}
	heap.Init(queue)

	for queue.Len() > 0 {
		node := heap.Pop(queue).(distanceNode)
		for _, delta := range fourNeighbors {
			next := node.cell.Add(delta)
			if !g.IsCellInGrid(next.X, next.Y) || g.cells[next.Y*g.width+next.X] != unsetDistance {
				continue
			}
			d := node.distance + g.metersPerCell
			g.cells[next.Y*g.width+next.X] = d
			heap.Push(queue, distanceNode{cell: next, distance: d})
		}
	}

	maxDistance := g.MaxDistance()
	for i, d := range g.cells {
		if d == unsetDistance {
			g.cells[i] = maxDistance
		}
	}
}

func (g *ObstacleDistanceGrid) resetGrid(grid *occupancygrid.Grid) {
	g.metersPerCell = grid.MetersPerCell()
	g.cellsPerMeter = grid.CellsPerMeter()
	g.origin = grid.Origin()
	if g.width == grid.WidthInCells() && g.height == grid.HeightInCells() {
		return
	}
	g.width = grid.WidthInCells()
	g.height = grid.HeightInCells()
	g.cells = make([]float64, g.width*g.height)
}

var fourNeighbors = [...]image.Point{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

type distanceNode struct {
	cell     image.Point
	distance float64
}

// distanceQueue is a min-heap of nodes ordered by distance.
type distanceQueue []distanceNode

func (q distanceQueue) Len() int            { return len(q) }
func (q distanceQueue) Less(i, j int) bool  { return q[i].distance < q[j].distance }
func (q distanceQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *distanceQueue) Push(x interface{}) { *q = append(*q, x.(distanceNode)) }

func (q *distanceQueue) Pop() interface{} {
	old := *q
	n := len(old)
	node := old[n-1]
	*q = old[:n-1]
	return node
}
