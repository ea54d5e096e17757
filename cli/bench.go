package cli

import (
	"fmt"
	"image"
	"math/rand"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/saptadeb/botLab-sub001/motionplan"
	"github.com/saptadeb/botLab-sub001/occupancygrid"
	"github.com/saptadeb/botLab-sub001/spatialmath"
)

const (
	benchHistogramBins  = 10
	benchHistogramWidth = 40
)

// BenchAction plans between random pairs of valid poses on a map and reports planning times.
func BenchAction(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, rt.Close())
	}()

	iterations := c.Int(benchFlagIterations)
	if iterations < 1 {
		return errors.Errorf("--%s must be at least 1", benchFlagIterations)
	}
	grid, err := occupancygrid.LoadFromFile(c.Path(benchFlagMap))
	if err != nil {
		return err
	}
	planner := motionplan.NewMotionPlanner(rt.cfg.Planner, rt.logger.Sublogger("planner"))
	planner.SetMap(grid)

	poses := validPoses(grid, planner)
	if len(poses) < 2 {
		return errors.New("map has fewer than two poses the robot fits in")
	}

	//nolint:gosec
	rng := rand.New(rand.NewSource(c.Int64(benchFlagSeed)))
	times := make([]float64, 0, iterations)
	found := 0
	for i := 0; i < iterations; i++ {
		start := poses[rng.Intn(len(poses))]
		goal := poses[rng.Intn(len(poses))]
		begin := rt.clock.Now()
		path := planner.PlanPath(start, goal)
		times = append(times, float64(rt.clock.Since(begin).Microseconds())/1000)
		if len(path) > 1 {
			found++
		}
	}

	summary, err := benchTable(times, found)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, summary)
	if err := histogram.Fprint(c.App.Writer, histogram.Hist(benchHistogramBins, times), histogram.Linear(benchHistogramWidth)); err != nil {
		return err
	}
	if out := c.Path(benchFlagPlot); out != "" {
		return savePlanTimePlot(out, times)
	}
	return nil
}

// validPoses returns the center of every cell the robot fits in.
func validPoses(grid *occupancygrid.Grid, planner *motionplan.MotionPlanner) []spatialmath.Pose {
	var poses []spatialmath.Pose
	for y := 0; y < grid.HeightInCells(); y++ {
		for x := 0; x < grid.WidthInCells(); x++ {
			center := occupancygrid.CellToGlobal(image.Point{X: x, Y: y}, grid)
			pose := spatialmath.NewPose(0, center.X, center.Y, 0)
			if planner.IsValidGoal(pose) {
				poses = append(poses, pose)
			}
		}
	}
	return poses
}

func benchTable(times []float64, found int) (string, error) {
	mean, err := stats.Mean(times)
	if err != nil {
		return "", err
	}
	median, err := stats.Median(times)
	if err != nil {
		return "", err
	}
	p95, err := stats.Percentile(times, 95)
	if err != nil {
		return "", err
	}
	maxTime, err := stats.Max(times)
	if err != nil {
		return "", err
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Plans", "Found", "Mean (ms)", "Median (ms)", "P95 (ms)", "Max (ms)"})
	t.AppendRow(table.Row{
		len(times),
		found,
		fmt.Sprintf("%.3f", mean),
		fmt.Sprintf("%.3f", median),
		fmt.Sprintf("%.3f", p95),
		fmt.Sprintf("%.3f", maxTime),
	})
	return t.Render(), nil
}

func savePlanTimePlot(path string, times []float64) error {
	p := plot.New()
	p.Title.Text = "Planning time"
	p.X.Label.Text = "ms"
	p.Y.Label.Text = "plans"

	hist, err := plotter.NewHist(plotter.Values(times), benchHistogramBins)
	if err != nil {
		return errors.Wrap(err, "failed to build planning time histogram")
	}
	p.Add(hist)
	return errors.Wrapf(p.Save(6*vg.Inch, 4*vg.Inch, path), "failed to save %q", path)
}
