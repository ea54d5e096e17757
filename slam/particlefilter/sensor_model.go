package particlefilter

import (
	"image"
	"math"

	"github.com/golang/geo/r2"

	"github.com/saptadeb/botLab-sub001/lidar"
	"github.com/saptadeb/botLab-sub001/occupancygrid"
)

// partialHitFraction is the share of a neighbouring cell's odds credited to a ray whose endpoint
// misses an obstacle by one cell.
const partialHitFraction = 0.5

// SensorModel scores particles by how well a laser scan's endpoints land on occupied cells.
type SensorModel struct {
	RayStride int
}

// Likelihood returns the unnormalized score of the scan seen from the particle. The scan is
// motion-compensated over the particle's parent pose to its pose.
func (sm SensorModel) Likelihood(sample Particle, scan *lidar.LaserScan, grid *occupancygrid.Grid) float64 {
	var score float64
	for _, ray := range lidar.NewMovingLaserScan(scan, sample.ParentPose, sample.Pose, sm.RayStride) {
		score += ScoreRay(ray, grid)
	}
	return score
}

// ScoreRay returns the odds of the cell at the ray's endpoint when it is occupied. Otherwise it
// probes one cell back toward the sensor and then one cell further along the ray, crediting half
// of the first occupied probe's odds.
func ScoreRay(ray lidar.AdjustedRay, grid *occupancygrid.Grid) float64 {
	start := occupancygrid.GlobalToGridPosition(ray.Origin, grid)
	sin, cos := math.Sincos(ray.Theta)
	dir := r2.Point{X: cos, Y: sin}.Mul(ray.Range * grid.CellsPerMeter())

	end := floorCell(start.Add(dir))
	if odds := grid.LogOdds(end.X, end.Y); odds > 0 {
		return float64(odds)
	}

	back := occupancygrid.StepToward(end, floorCell(start))
	if odds := grid.LogOdds(back.X, back.Y); odds > 0 {
		return partialHitFraction * float64(odds)
	}
	beyond := occupancygrid.StepToward(end, floorCell(start.Add(dir.Mul(2))))
	if odds := grid.LogOdds(beyond.X, beyond.Y); odds > 0 {
		return partialHitFraction * float64(odds)
	}
	return 0
}

func floorCell(p r2.Point) image.Point {
	return image.Point{X: int(math.Floor(p.X)), Y: int(math.Floor(p.Y))}
}
