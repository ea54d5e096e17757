// Package motionplan plans collision-free paths for a circular robot through an occupancy grid.
package motionplan

import (
	"github.com/saptadeb/botLab-sub001/logging"
	"github.com/saptadeb/botLab-sub001/occupancygrid"
	"github.com/saptadeb/botLab-sub001/spatialmath"
)

// Config configures a MotionPlanner.
type Config struct {
	// RobotRadius is the clearance a goal needs from the nearest obstacle. It includes some slop
	// so paths do not hug walls.
	RobotRadius float64 `json:"robot_radius" mapstructure:"robot_radius" yaml:"robot_radius"`
}

// DefaultConfig returns the planner parameters used on the robot.
func DefaultConfig() Config {
	return Config{RobotRadius: 0.2}
}

// SearchParams derives the A* parameters from the robot radius.
func (cfg Config) SearchParams() SearchParams {
	return SearchParams{
		MinDistanceToObstacle: cfg.RobotRadius,
		MaxDistanceWithCost:   10 * cfg.RobotRadius,
		DistanceCostExponent:  1,
	}
}

// MotionPlanner finds paths with A* over the obstacle distances of the last map given to SetMap.
// It is not safe for concurrent use.
type MotionPlanner struct {
	logger       logging.Logger
	cfg          Config
	searchParams SearchParams
	distances    *ObstacleDistanceGrid
}

// NewMotionPlanner returns a planner with search parameters derived from cfg.
func NewMotionPlanner(cfg Config, logger logging.Logger) *MotionPlanner {
	return NewMotionPlannerWithParams(cfg, cfg.SearchParams(), logger)
}

// NewMotionPlannerWithParams returns a planner with explicit search parameters.
func NewMotionPlannerWithParams(cfg Config, params SearchParams, logger logging.Logger) *MotionPlanner {
	return &MotionPlanner{
		logger:       logger,
		cfg:          cfg,
		searchParams: params,
		distances:    NewObstacleDistanceGrid(),
	}
}

// SetMap recomputes the obstacle distances from grid. Call it again whenever the map changes.
func (mp *MotionPlanner) SetMap(grid *occupancygrid.Grid) {
	mp.distances.SetDistances(grid)
}

// SetConfig replaces the planner configuration and the search parameters derived from it.
func (mp *MotionPlanner) SetConfig(cfg Config) {
	mp.cfg = cfg
	mp.searchParams = cfg.SearchParams()
}

// SearchParams returns the parameters used by PlanPath.
func (mp *MotionPlanner) SearchParams() SearchParams {
	return mp.searchParams
}

// ObstacleDistances returns the distance grid used for planning. It must not be modified.
func (mp *MotionPlanner) ObstacleDistances() *ObstacleDistanceGrid {
	return mp.distances
}

// PlanPath plans from start to goal with the planner's search parameters. A path of length 1,
// holding only start, means planning failed.
func (mp *MotionPlanner) PlanPath(start, goal spatialmath.Pose) []spatialmath.Pose {
	return mp.PlanPathWithParams(start, goal, mp.searchParams)
}

// PlanPathWithParams is PlanPath with explicit search parameters.
func (mp *MotionPlanner) PlanPathWithParams(start, goal spatialmath.Pose, params SearchParams) []spatialmath.Pose {
	if !mp.IsValidGoal(goal) {
		mp.logger.Debugw("path rejected due to invalid goal", "goal", goal)
		return []spatialmath.Pose{start}
	}
	path := SearchForPath(start, goal, mp.distances, params)
	if len(path) < 2 {
		mp.logger.Debugw("no path found", "start", start, "goal", goal)
	}
	return path
}

// IsValidGoal reports whether goal lies in the map and at least a robot radius from every
// obstacle. A valid goal may still be unreachable.
func (mp *MotionPlanner) IsValidGoal(goal spatialmath.Pose) bool {
	cell := occupancygrid.GlobalToCell(goal.Point(), mp.distances)
	if !mp.distances.IsCellInGrid(cell.X, cell.Y) {
		return false
	}
	return mp.distances.Distance(cell.X, cell.Y) > mp.cfg.RobotRadius
}

// IsPathSafe checks a previously planned path against the current obstacle distances.
func (mp *MotionPlanner) IsPathSafe(path []spatialmath.Pose) bool {
	for _, pose := range path {
		cell := occupancygrid.GlobalToCell(pose.Point(), mp.distances)
		if !mp.distances.IsCellInGrid(cell.X, cell.Y) ||
			mp.distances.Distance(cell.X, cell.Y) <= mp.searchParams.MinDistanceToObstacle {
			return false
		}
	}
	return true
}
