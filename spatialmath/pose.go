// Package spatialmath defines planar poses, angle arithmetic and time-indexed pose traces.
package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
)

// Pose is a rigid 2D transform captured at Utime (microseconds). Poses are values: an update
// always produces a new Pose.
type Pose struct {
	Utime int64   `json:"utime" mapstructure:"utime" yaml:"utime"`
	X     float64 `json:"x" mapstructure:"x" yaml:"x"`
	Y     float64 `json:"y" mapstructure:"y" yaml:"y"`
	Theta float64 `json:"theta" mapstructure:"theta" yaml:"theta"`
}

// NewPose returns a pose with its heading wrapped into (-pi, pi].
func NewPose(utime int64, x, y, theta float64) Pose {
	return Pose{Utime: utime, X: x, Y: y, Theta: WrapToPi(theta)}
}

// Point returns the position of the pose.
func (p Pose) Point() r2.Point {
	return r2.Point{X: p.X, Y: p.Y}
}

// DistanceTo returns the euclidean distance between the positions of two poses.
func (p Pose) DistanceTo(other Pose) float64 {
	return p.Point().Sub(other.Point()).Norm()
}

// WithUtime returns a copy of the pose stamped with a new time.
func (p Pose) WithUtime(utime int64) Pose {
	p.Utime = utime
	return p
}

// IsFinite reports whether every component of the pose is a real number.
func (p Pose) IsFinite() bool {
	for _, v := range []float64{p.X, p.Y, p.Theta} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (p Pose) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f @ %d)", p.X, p.Y, p.Theta, p.Utime)
}

// Interpolate returns the pose at utime on the segment between a and b. Position is interpolated
// linearly and heading along the shortest angular path. If both poses share a timestamp, a is
// returned.
func Interpolate(a, b Pose, utime int64) Pose {
	if a.Utime == b.Utime {
		return a.WithUtime(utime)
	}
	frac := float64(utime-a.Utime) / float64(b.Utime-a.Utime)
	return Pose{
		Utime: utime,
		X:     a.X + frac*(b.X-a.X),
		Y:     a.Y + frac*(b.Y-a.Y),
		Theta: WrapToPi(a.Theta + frac*AngleDiff(b.Theta, a.Theta)),
	}
}
