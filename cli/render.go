package cli

import (
	"github.com/saptadeb/botLab-sub001/exploration"
	"github.com/saptadeb/botLab-sub001/motionplan"
	"github.com/saptadeb/botLab-sub001/occupancygrid"
	"github.com/saptadeb/botLab-sub001/slam/particlefilter"
	"github.com/saptadeb/botLab-sub001/spatialmath"
	"github.com/saptadeb/botLab-sub001/visualize"
)

const defaultRenderScale = 4

// scene is everything a command may draw over a map. Unset fields are skipped.
type scene struct {
	grid *occupancygrid.Grid
	// Drawn instead of the log-odds when set.
	distances   *motionplan.ObstacleDistanceGrid
	maxDistance float64

	path      []spatialmath.Pose
	particles []particlefilter.Particle
	frontiers []exploration.Frontier
	pose      *spatialmath.Pose
	robotSize float64
	scale     int
	label     string
}

func renderScene(path string, sc scene) error {
	scale := sc.scale
	if scale == 0 {
		scale = defaultRenderScale
	}
	canvas, err := visualize.NewCanvas(sc.grid, scale)
	if err != nil {
		return err
	}
	if sc.distances != nil {
		canvas.DrawDistances(sc.distances, sc.maxDistance)
	} else {
		canvas.DrawGrid(sc.grid)
	}
	canvas.DrawFrontiers(sc.frontiers)
	canvas.DrawParticles(sc.particles)
	if len(sc.path) > 1 {
		canvas.DrawPath(sc.path, visualize.PathColor)
	}
	if sc.pose != nil {
		canvas.DrawPose(*sc.pose, sc.robotSize)
	}
	if sc.label != "" {
		canvas.DrawLabel(sc.label)
	}
	return canvas.SavePNG(path)
}
