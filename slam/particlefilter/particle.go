// Package particlefilter implements Monte Carlo localization against an occupancy grid: an
// odometry action model, a laser sensor model and a low-variance resampling particle filter.
package particlefilter

import "github.com/saptadeb/botLab-sub001/spatialmath"

// Particle is a weighted pose hypothesis. ParentPose is the pose the particle had before its last
// motion sample, which is the interval its laser scan is motion-compensated over.
type Particle struct {
	Pose       spatialmath.Pose `json:"pose"`
	ParentPose spatialmath.Pose `json:"parent_pose"`
	Weight     float64          `json:"weight"`
}
