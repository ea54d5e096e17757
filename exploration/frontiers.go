package exploration

import (
	"image"
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/samber/lo"

	"github.com/saptadeb/botLab-sub001/motionplan"
	"github.com/saptadeb/botLab-sub001/occupancygrid"
	"github.com/saptadeb/botLab-sub001/spatialmath"
)

// Cells with log-odds in [minFrontierOdds, maxFrontierOdds] can be part of a frontier. The band
// reaches below zero because mapping noise leaves slightly negative values in unexplored space.
const (
	minFrontierOdds occupancygrid.CellOdds = -5
	maxFrontierOdds occupancygrid.CellOdds = 0
)

// Frontier is a connected run of cells on the boundary between explored free space and
// unexplored space.
type Frontier struct {
	// Cells holds the world position of each frontier cell.
	Cells []r2.Point `json:"cells"`
}

// Length returns the frontier's extent in meters as cell count times cell size.
func (f Frontier) Length(metersPerCell float64) float64 {
	return float64(len(f.Cells)) * metersPerCell
}

var (
	fourNeighbors  = [...]image.Point{{-1, 0}, {1, 0}, {0, 1}, {0, -1}}
	eightNeighbors = [...]image.Point{{-1, 0}, {-1, 1}, {-1, -1}, {1, 0}, {1, 1}, {1, -1}, {0, 1}, {0, -1}}
)

// FindMapFrontiers returns the frontiers reachable from robotPose through free space (log-odds
// below zero). Frontiers shorter than minFrontierLength meters are dropped.
func FindMapFrontiers(grid *occupancygrid.Grid, robotPose spatialmath.Pose, minFrontierLength float64) []Frontier {
	var frontiers []Frontier
	visited := map[image.Point]struct{}{}

	robotCell := occupancygrid.GlobalToCell(robotPose.Point(), grid)
	queue := []image.Point{robotCell}
	visited[robotCell] = struct{}{}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		for _, delta := range fourNeighbors {
			neighbor := next.Add(delta)
			if _, seen := visited[neighbor]; seen || !grid.IsCellInGrid(neighbor.X, neighbor.Y) {
				continue
			}
			switch {
			case isFrontierCell(neighbor, grid):
				f := growFrontier(neighbor, grid, visited)
				if f.Length(grid.MetersPerCell()) >= minFrontierLength {
					frontiers = append(frontiers, f)
				}
			case grid.At(neighbor.X, neighbor.Y) < 0:
				visited[neighbor] = struct{}{}
				queue = append(queue, neighbor)
			}
		}
	}
	return frontiers
}

// isFrontierCell reports whether cell is unexplored and touches free space.
func isFrontierCell(cell image.Point, grid *occupancygrid.Grid) bool {
	if !grid.IsCellInGrid(cell.X, cell.Y) {
		return false
	}
	if odds := grid.At(cell.X, cell.Y); odds > maxFrontierOdds || odds < minFrontierOdds {
		return false
	}
	for _, delta := range fourNeighbors {
		// LogOdds is 0 outside the grid, so edge cells need no special case.
		if n := cell.Add(delta); grid.LogOdds(n.X, n.Y) < 0 {
			return true
		}
	}
	return false
}

// growFrontier collects every frontier cell 8-connected to seed. Cells are marked in visited.
func growFrontier(seed image.Point, grid *occupancygrid.Grid, visited map[image.Point]struct{}) Frontier {
	var frontier Frontier
	queue := []image.Point{seed}
	visited[seed] = struct{}{}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		frontier.Cells = append(frontier.Cells, occupancygrid.CellToGlobal(next, grid))

		for _, delta := range eightNeighbors {
			neighbor := next.Add(delta)
			if _, seen := visited[neighbor]; seen || !isFrontierCell(neighbor, grid) {
				continue
			}
			visited[neighbor] = struct{}{}
			queue = append(queue, neighbor)
		}
	}
	return frontier
}

// PlanPathToFrontier plans a path from robotPose toward the nearest frontier. Frontier cells are
// rarely drivable, so the goal is the closest cell within searchRadius meters of the chosen
// frontier cell that is a valid goal with a safe path. Frontiers are tried nearest first. The
// planner must already hold the current map. A path holding only robotPose means no frontier can
// be reached.
func PlanPathToFrontier(
	frontiers []Frontier,
	robotPose spatialmath.Pose,
	grid *occupancygrid.Grid,
	planner *motionplan.MotionPlanner,
	searchRadius float64,
) []spatialmath.Pose {
	failed := []spatialmath.Pose{robotPose}
	if len(frontiers) == 0 {
		return failed
	}

	robot := robotPose.Point()
	type candidate struct {
		frontier int
		target   r2.Point
		distance float64
	}
	candidates := lo.Map(frontiers, func(f Frontier, i int) candidate {
		nearest := lo.MinBy(f.Cells, func(a, b r2.Point) bool {
			return a.Sub(robot).Norm() < b.Sub(robot).Norm()
		})
		return candidate{frontier: i, target: nearest, distance: nearest.Sub(robot).Norm()}
	})
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })

	for _, c := range candidates {
		if path, ok := searchNearTarget(c.target, robotPose, grid, planner, searchRadius); ok {
			return path
		}
	}
	return failed
}

// searchNearTarget tries cells around target in order of increasing distance.
func searchNearTarget(
	target r2.Point,
	robotPose spatialmath.Pose,
	grid *occupancygrid.Grid,
	planner *motionplan.MotionPlanner,
	searchRadius float64,
) ([]spatialmath.Pose, bool) {
	center := occupancygrid.GlobalToCell(target, grid)
	radiusCells := int(math.Ceil(searchRadius * grid.CellsPerMeter()))

	type ringCell struct {
		cell     image.Point
		distance float64
	}
	var cells []ringCell
	for dy := -radiusCells; dy <= radiusCells; dy++ {
		for dx := -radiusCells; dx <= radiusCells; dx++ {
			c := center.Add(image.Point{dx, dy})
			d := math.Hypot(float64(dx), float64(dy)) * grid.MetersPerCell()
			if d > searchRadius || !grid.IsCellInGrid(c.X, c.Y) {
				continue
			}
			cells = append(cells, ringCell{cell: c, distance: d})
		}
	}
	sort.SliceStable(cells, func(i, j int) bool { return cells[i].distance < cells[j].distance })

	distances := planner.ObstacleDistances()
	minClearance := planner.SearchParams().MinDistanceToObstacle
	for _, rc := range cells {
		if distances.Distance(rc.cell.X, rc.cell.Y) <= minClearance {
			continue
		}
		position := occupancygrid.CellToGlobal(rc.cell, grid)
		goal := spatialmath.NewPose(robotPose.Utime, position.X, position.Y, robotPose.Theta)
		if !planner.IsValidGoal(goal) {
			continue
		}
		path := planner.PlanPath(robotPose, goal)
		// A two pose path only turns in place next to the robot.
		if len(path) >= 3 && planner.IsPathSafe(path) {
			return path, true
		}
	}
	return nil, false
}
