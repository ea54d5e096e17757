package motionplan

import (
	"container/heap"
	"image"
	"math"

	"github.com/saptadeb/botLab-sub001/occupancygrid"
	"github.com/saptadeb/botLab-sub001/spatialmath"
	"github.com/saptadeb/botLab-sub001/utils"
)

// Step costs on the 8-connected grid, scaled so that a diagonal is roughly sqrt(2) times a
// straight move.
const (
	straightStepCost = 10
	diagonalStepCost = 14
)

// SearchParams tunes the A* search.
type SearchParams struct {
	// Cells at or below this obstacle distance collide with the robot and are never entered.
	MinDistanceToObstacle float64 `json:"min_distance_to_obstacle" mapstructure:"min_distance_to_obstacle" yaml:"min_distance_to_obstacle"`
	// Cells closer than this to an obstacle cost extra, which pushes paths away from walls
	// unless a path has to pass close to them.
	MaxDistanceWithCost float64 `json:"max_distance_with_cost" mapstructure:"max_distance_with_cost" yaml:"max_distance_with_cost"`
	// Exponent of the proximity cost (MaxDistanceWithCost - distance)^DistanceCostExponent.
	DistanceCostExponent float64 `json:"distance_cost_exponent" mapstructure:"distance_cost_exponent" yaml:"distance_cost_exponent"`
}

var eightNeighbors = [...]image.Point{
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
	{1, 1}, {1, -1}, {-1, 1}, {-1, -1},
}

// SearchForPath runs A* from start to goal through cells that are far enough from obstacles. The
// path starts with start itself followed by the centers of the cells leading to the goal cell.
// When no path exists, or start and goal share a cell, the path holds only start.
func SearchForPath(
	start, goal spatialmath.Pose,
	distances *ObstacleDistanceGrid,
	params SearchParams,
) []spatialmath.Pose {
	failed := []spatialmath.Pose{start}

	startCell := occupancygrid.GlobalToCell(start.Point(), distances)
	goalCell := occupancygrid.GlobalToCell(goal.Point(), distances)
	if !isTraversable(goalCell, distances, params) || !isTraversable(startCell, distances, params) {
		return failed
	}
	if startCell == goalCell {
		return failed
	}

	s := newSearch(distances, params, goalCell)
	cells, ok := s.run(startCell)
	if !ok {
		return failed
	}
	return makePath(start, cells, distances)
}

func isTraversable(cell image.Point, distances *ObstacleDistanceGrid, params SearchParams) bool {
	return distances.IsCellInGrid(cell.X, cell.Y) && distances.Distance(cell.X, cell.Y) > params.MinDistanceToObstacle
}

// search keeps its per-cell state in flat arrays indexed like the grid.
type search struct {
	distances *ObstacleDistanceGrid
	params    SearchParams
	goal      image.Point

	gCost  []float64
	parent []int
	closed []bool
	open   searchQueue
}

func newSearch(distances *ObstacleDistanceGrid, params SearchParams, goal image.Point) *search {
	n := distances.WidthInCells() * distances.HeightInCells()
	s := &search{
		distances: distances,
		params:    params,
		goal:      goal,
		gCost:     make([]float64, n),
		parent:    make([]int, n),
		closed:    make([]bool, n),
	}
	for i := range s.gCost {
		s.gCost[i] = math.Inf(1)
		s.parent[i] = -1
	}
	return s
}

func (s *search) index(cell image.Point) int {
	return cell.Y*s.distances.WidthInCells() + cell.X
}

func (s *search) cell(index int) image.Point {
	w := s.distances.WidthInCells()
	return image.Point{X: index % w, Y: index / w}
}

// run returns the cells after start up to and including the goal.
func (s *search) run(start image.Point) ([]image.Point, bool) {
	startIdx := s.index(start)
	s.gCost[startIdx] = 0
	heap.Push(&s.open, searchNode{index: startIdx, fCost: s.heuristic(start)})

	goalIdx := s.index(s.goal)
	for s.open.Len() > 0 {
		node := heap.Pop(&s.open).(searchNode)
		if s.closed[node.index] {
			// Stale entry left behind by a later, cheaper push.
			continue
		}
		if node.index == goalIdx {
			return s.reconstruct(startIdx, goalIdx), true
		}
		s.closed[node.index] = true
		s.expand(node.index)
	}
	return nil, false
}

func (s *search) expand(index int) {
	current := s.cell(index)
	for _, delta := range eightNeighbors {
		next := current.Add(delta)
		if !isTraversable(next, s.distances, s.params) {
			continue
		}
		nextIdx := s.index(next)
		if s.closed[nextIdx] {
			continue
		}

		step := float64(straightStepCost)
		if delta.X != 0 && delta.Y != 0 {
			step = diagonalStepCost
		}
		g := s.gCost[index] + step + s.obstacleCost(next)
		if g >= s.gCost[nextIdx] {
			continue
		}
		s.gCost[nextIdx] = g
		s.parent[nextIdx] = index
		heap.Push(&s.open, searchNode{index: nextIdx, fCost: g + s.heuristic(next)})
	}
}

// heuristic is the octile distance to the goal in step-cost units.
func (s *search) heuristic(cell image.Point) float64 {
	dx := utils.AbsInt(cell.X - s.goal.X)
	dy := utils.AbsInt(cell.Y - s.goal.Y)
	if dx < dy {
		dx, dy = dy, dx
	}
	return float64(diagonalStepCost*dy + straightStepCost*(dx-dy))
}

func (s *search) obstacleCost(cell image.Point) float64 {
	d := s.distances.Distance(cell.X, cell.Y)
	if d > s.params.MinDistanceToObstacle && d < s.params.MaxDistanceWithCost {
		return math.Pow(s.params.MaxDistanceWithCost-d, s.params.DistanceCostExponent)
	}
	return 0
}

func (s *search) reconstruct(startIdx, goalIdx int) []image.Point {
	var reversed []image.Point
	for idx := goalIdx; idx != startIdx; idx = s.parent[idx] {
		reversed = append(reversed, s.cell(idx))
	}
	cells := make([]image.Point, len(reversed))
	for i, c := range reversed {
		cells[len(reversed)-1-i] = c
	}
	return cells
}

// makePath turns cells into waypoints at the cell centers. Every waypoint faces the next one and
// the last waypoint keeps the heading it arrived with. The start keeps its own heading.
func makePath(start spatialmath.Pose, cells []image.Point, distances *ObstacleDistanceGrid) []spatialmath.Pose {
	path := make([]spatialmath.Pose, 0, len(cells)+1)
	path = append(path, start)
	for _, c := range cells {
		center := occupancygrid.CellToGlobal(c, distances)
		path = append(path, spatialmath.NewPose(start.Utime, center.X, center.Y, 0))
	}
	for i := 1; i < len(path); i++ {
		from, to := path[i-1], path[i]
		if i < len(path)-1 {
			from, to = path[i], path[i+1]
		}
		path[i].Theta = math.Atan2(to.Y-from.Y, to.X-from.X)
	}
	return path
}

type searchNode struct {
	index int
	fCost float64
}

// searchQueue is a min-heap of nodes ordered by f-cost.
type searchQueue []searchNode

func (q searchQueue) Len() int            { return len(q) }
func (q searchQueue) Less(i, j int) bool  { return q[i].fCost < q[j].fCost }
func (q searchQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *searchQueue) Push(x interface{}) { *q = append(*q, x.(searchNode)) }

func (q *searchQueue) Pop() interface{} {
	old := *q
	n := len(old)
	node := old[n-1]
	*q = old[:n-1]
	return node
}
