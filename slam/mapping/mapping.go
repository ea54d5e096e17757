// Package mapping accumulates laser scans into an occupancy grid.
package mapping

import (
	"image"
	"math"

	"github.com/golang/geo/r2"

	"github.com/saptadeb/botLab-sub001/lidar"
	"github.com/saptadeb/botLab-sub001/occupancygrid"
	"github.com/saptadeb/botLab-sub001/spatialmath"
)

// Config holds the mapping parameters.
type Config struct {
	// MaxLaserDistance is the longest range trusted as an obstacle hit, in meters. Free space is
	// never traced further than this.
	MaxLaserDistance float64
	HitOdds          int
	MissOdds         int
	RayStride        int
}

// DefaultConfig returns the mapping parameters used on the robot.
func DefaultConfig() Config {
	return Config{MaxLaserDistance: 5.0, HitOdds: 3, MissOdds: 1, RayStride: 1}
}

// Mapping updates an occupancy grid from laser scans taken at known poses. It remembers the pose
// of the previous scan so each scan can be motion-compensated. It is not safe for concurrent use.
type Mapping struct {
	cfg Config

	initialized  bool
	previousPose spatialmath.Pose
}

// New returns a mapper with no previous pose.
func New(cfg Config) *Mapping {
	return &Mapping{cfg: cfg}
}

// UpdateMap adds the evidence of one scan ending at pose to grid. Every endpoint within range
// gains HitOdds, then every cell a ray passes through before its endpoint loses MissOdds. Both
// updates saturate. The first scan is compensated over a zero-length motion.
func (m *Mapping) UpdateMap(scan *lidar.LaserScan, pose spatialmath.Pose, grid *occupancygrid.Grid) {
	if !m.initialized {
		m.previousPose = pose
	}
	rays := lidar.NewMovingLaserScan(scan, m.previousPose, pose, m.cfg.RayStride)

	for _, ray := range rays {
		m.scoreEndpoint(ray, grid)
	}
	for _, ray := range rays {
		m.scoreRay(ray, grid)
	}

	m.initialized = true
	m.previousPose = pose
}

// PreviousPose returns the pose of the last scan added, and false before the first scan.
func (m *Mapping) PreviousPose() (spatialmath.Pose, bool) {
	return m.previousPose, m.initialized
}

func (m *Mapping) scoreEndpoint(ray lidar.AdjustedRay, grid *occupancygrid.Grid) {
	if ray.Range > m.cfg.MaxLaserDistance {
		return
	}
	_, end := rayCells(ray, ray.Range, grid)
	grid.AddLogOdds(end.X, end.Y, m.cfg.HitOdds)
}

func (m *Mapping) scoreRay(ray lidar.AdjustedRay, grid *occupancygrid.Grid) {
	start, end := rayCells(ray, math.Min(ray.Range, m.cfg.MaxLaserDistance), grid)
	occupancygrid.TraceLine(start, end, func(x, y int) {
		grid.AddLogOdds(x, y, -m.cfg.MissOdds)
	})
}

// rayCells returns the cells holding the ray's origin and the point length meters along it.
func rayCells(ray lidar.AdjustedRay, length float64, grid *occupancygrid.Grid) (image.Point, image.Point) {
	start := occupancygrid.GlobalToGridPosition(ray.Origin, grid)
	sin, cos := math.Sincos(ray.Theta)
	end := start.Add(r2.Point{X: cos, Y: sin}.Mul(length * grid.CellsPerMeter()))
	return floorCell(start), floorCell(end)
}

func floorCell(p r2.Point) image.Point {
	return image.Point{X: int(math.Floor(p.X)), Y: int(math.Floor(p.Y))}
}
