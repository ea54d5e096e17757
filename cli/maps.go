package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/saptadeb/botLab-sub001/exploration"
	"github.com/saptadeb/botLab-sub001/motionplan"
	"github.com/saptadeb/botLab-sub001/occupancygrid"
	"github.com/saptadeb/botLab-sub001/spatialmath"
)

var gridTypes = []string{gridTypeEmpty, gridTypeFilled, gridTypeNarrow, gridTypeWide}

// Default openings of the constricted maps, in meters.
const (
	narrowOpening = 0.1
	wideOpening   = 0.5
)

// GridGenAction writes one of the generated test maps.
func GridGenAction(c *cli.Context) error {
	width, height := c.Float64(gridgenFlagWidth), c.Float64(gridgenFlagHeight)
	metersPerCell := c.Float64(gridgenFlagCell)
	opening := c.Float64(gridgenFlagOpening)

	var grid *occupancygrid.Grid
	var err error
	switch kind := c.String(gridgenFlagType); kind {
	case gridTypeEmpty:
		grid, err = occupancygrid.NewUniformGrid(width, height, metersPerCell, occupancygrid.GeneratedFreeOdds)
	case gridTypeFilled:
		grid, err = occupancygrid.NewUniformGrid(width, height, metersPerCell, occupancygrid.GeneratedOccupiedOdds)
	case gridTypeNarrow:
		if !c.IsSet(gridgenFlagOpening) {
			opening = narrowOpening
		}
		grid, err = occupancygrid.NewConstrictedGrid(width, height, metersPerCell, opening)
	case gridTypeWide:
		if !c.IsSet(gridgenFlagOpening) {
			opening = wideOpening
		}
		grid, err = occupancygrid.NewConstrictedGrid(width, height, metersPerCell, opening)
	default:
		return errors.Errorf("unknown grid type %q, expected one of %s", kind, strings.Join(gridTypes, ", "))
	}
	if err != nil {
		return err
	}

	out := c.Path(gridgenFlagOut)
	if err := grid.SaveToFile(out); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %dx%d %s map to %s\n",
		grid.WidthInCells(), grid.HeightInCells(), c.String(gridgenFlagType), out)
	return nil
}

// RenderAction draws a map file, or its obstacle distances, to a PNG.
func RenderAction(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, rt.Close())
	}()

	mapPath := c.Path(renderFlagMap)
	grid, err := occupancygrid.LoadFromFile(mapPath)
	if err != nil {
		return err
	}
	sc := scene{grid: grid, scale: c.Int(renderFlagScale), label: filepath.Base(mapPath)}
	if c.Bool(renderFlagDistances) {
		planner := motionplan.NewMotionPlanner(rt.cfg.Planner, rt.logger.Sublogger("planner"))
		planner.SetMap(grid)
		sc.distances = planner.ObstacleDistances()
		sc.maxDistance = planner.SearchParams().MaxDistanceWithCost
	}
	if c.Bool(renderFlagFrontiers) {
		sc.frontiers = exploration.FindMapFrontiers(grid, spatialmath.Pose{}, rt.cfg.Exploration.MinFrontierLength)
		sc.label = fmt.Sprintf("%s  %d frontiers", sc.label, len(sc.frontiers))
	}

	out := c.Path(renderFlagOut)
	if err := renderScene(out, sc); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "rendered %s to %s\n", mapPath, out)
	return nil
}

// PlanAction plans a single path on a map file and prints its waypoints.
func PlanAction(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, rt.Close())
	}()

	grid, err := occupancygrid.LoadFromFile(c.Path(planFlagMap))
	if err != nil {
		return err
	}
	start, err := parsePose(c.String(planFlagStart))
	if err != nil {
		return err
	}
	goal, err := parsePose(c.String(planFlagGoal))
	if err != nil {
		return err
	}

	planner := motionplan.NewMotionPlanner(rt.cfg.Planner, rt.logger.Sublogger("planner"))
	planner.SetMap(grid)
	if !planner.IsValidGoal(goal) {
		return errors.Errorf("goal %s is outside the map or closer than %.2fm to an obstacle",
			goal, rt.cfg.Planner.RobotRadius)
	}
	path := planner.PlanPath(start, goal)
	if len(path) < 2 {
		return errors.Errorf("no path from %s to %s", start, goal)
	}

	fmt.Fprintln(c.App.Writer, pathTable(path, planner.ObstacleDistances()))
	fmt.Fprintf(c.App.Writer, "%d waypoints, %.2fm\n", len(path), pathLength(path))

	if out := c.Path(planFlagRender); out != "" {
		return renderScene(out, scene{
			grid:      grid,
			path:      path,
			pose:      &start,
			robotSize: rt.cfg.Planner.RobotRadius,
			label:     fmt.Sprintf("%s -> %s", start, goal),
		})
	}
	return nil
}

// parsePose parses "x,y" or "x,y,theta".
func parsePose(s string) (spatialmath.Pose, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return spatialmath.Pose{}, errors.Errorf("pose %q must be x,y or x,y,theta", s)
	}
	var values [3]float64
	for i, part := range parts {
		v, err := cast.ToFloat64E(strings.TrimSpace(part))
		if err != nil {
			return spatialmath.Pose{}, errors.Wrapf(err, "invalid pose %q", s)
		}
		values[i] = v
	}
	return spatialmath.NewPose(0, values[0], values[1], values[2]), nil
}

func pathTable(path []spatialmath.Pose, distances *motionplan.ObstacleDistanceGrid) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "X", "Y", "Theta", "Clearance"})
	for i, pose := range path {
		t.AppendRow(table.Row{
			i,
			fmt.Sprintf("%.3f", pose.X),
			fmt.Sprintf("%.3f", pose.Y),
			fmt.Sprintf("%.3f", pose.Theta),
			fmt.Sprintf("%.3f", distances.DistanceAt(pose.Point())),
		})
	}
	return t.Render()
}

func pathLength(path []spatialmath.Pose) float64 {
	var length float64
	for i := 1; i < len(path); i++ {
		length += path[i-1].DistanceTo(path[i])
	}
	return length
}
