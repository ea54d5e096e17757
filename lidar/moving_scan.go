package lidar

import (
	"math"

	"github.com/golang/geo/r2"

	"github.com/saptadeb/botLab-sub001/spatialmath"
)

// MinValidRange is the shortest trusted range. Shorter returns hit the robot itself.
const MinValidRange = 0.15

// AdjustedRay is a single ray expressed in the world frame: it starts at Origin and travels Range
// meters along the world heading Theta.
type AdjustedRay struct {
	Origin r2.Point
	Range  float64
	Theta  float64
}

// End returns the world position the ray hits.
func (r AdjustedRay) End() r2.Point {
	sin, cos := math.Sincos(r.Theta)
	return r.Origin.Add(r2.Point{X: r.Range * cos, Y: r.Range * sin})
}

// MovingLaserScan is a scan whose rays were reprojected into the world using the robot's motion
// over the capture interval.
type MovingLaserScan []AdjustedRay

// NewMovingLaserScan reprojects every stride-th ray of scan. Each ray's origin is the pose
// interpolated at its capture time between begin and end. Rays shorter than MinValidRange and
// rays with a NaN or infinite range or bearing are dropped. A stride below one is treated as one.
func NewMovingLaserScan(scan *LaserScan, begin, end spatialmath.Pose, stride int) MovingLaserScan {
	if scan == nil || len(scan.Ranges) == 0 {
		return nil
	}
	if stride < 1 {
		stride = 1
	}

	n := len(scan.Ranges)
	if len(scan.Thetas) < n {
		n = len(scan.Thetas)
	}
	rays := make(MovingLaserScan, 0, (n+stride-1)/stride)
	for i := 0; i < n; i += stride {
		if !isUsableRay(scan.Ranges[i], scan.Thetas[i]) {
			continue
		}
		rayTime := scan.Utime
		if i < len(scan.Times) {
			rayTime = scan.Times[i]
		}
		rayPose := spatialmath.Interpolate(begin, end, rayTime)
		rays = append(rays, AdjustedRay{
			Origin: rayPose.Point(),
			Range:  scan.Ranges[i],
			Theta:  spatialmath.WrapToPi(rayPose.Theta - scan.Thetas[i]),
		})
	}
	return rays
}

func isUsableRay(rng, theta float64) bool {
	if math.IsNaN(rng) || math.IsInf(rng, 0) || math.IsNaN(theta) || math.IsInf(theta, 0) {
		return false
	}
	return rng > MinValidRange
}
