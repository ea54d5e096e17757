package particlefilter

import (
	"math"
	"math/rand"

	"github.com/saptadeb/botLab-sub001/spatialmath"
)

const (
	// Translations shorter than this are treated as in-place rotations.
	minTranslation = 1e-4
	// Motions with |translation| + |final rotation| below this are treated as standing still.
	minMotion = 1e-5
)

// ActionModelConfig holds the standard deviations of the noise sampled around each motion term.
type ActionModelConfig struct {
	RotationStdDev    float64 `json:"rotation_std_dev" mapstructure:"rotation_std_dev" yaml:"rotation_std_dev"`
	TranslationStdDev float64 `json:"translation_std_dev" mapstructure:"translation_std_dev" yaml:"translation_std_dev"`
}

// DefaultActionModelConfig returns the fixed odometry noise used by the robot.
func DefaultActionModelConfig() ActionModelConfig {
	return ActionModelConfig{RotationStdDev: 0.05, TranslationStdDev: 0.005}
}

// ActionModel decomposes the motion between consecutive odometry poses into rotate, translate,
// rotate and samples noisy versions of that motion for each particle.
type ActionModel struct {
	cfg ActionModelConfig
	rng *rand.Rand

	initialized      bool
	previousOdometry spatialmath.Pose

	rot1, trans, rot2 float64
	moved             bool
	utime             int64
}

// NewActionModel returns an action model drawing noise from rng.
func NewActionModel(cfg ActionModelConfig, rng *rand.Rand) *ActionModel {
	return &ActionModel{cfg: cfg, rng: rng}
}

// UpdateAction computes the motion since the previous odometry pose and reports whether the robot
// moved. The first call only records the pose.
func (am *ActionModel) UpdateAction(odometry spatialmath.Pose) bool {
	if !am.initialized {
		am.previousOdometry = odometry
		am.initialized = true
	}

	dx := odometry.X - am.previousOdometry.X
	dy := odometry.Y - am.previousOdometry.Y
	dTheta := spatialmath.AngleDiff(odometry.Theta, am.previousOdometry.Theta)
	direction := 1.0

	am.trans = math.Hypot(dx, dy)
	am.rot1 = spatialmath.AngleDiff(math.Atan2(dy, dx), am.previousOdometry.Theta)
	switch {
	case math.Abs(am.trans) < minTranslation:
		am.rot1 = 0
	case math.Abs(am.rot1) > math.Pi/2:
		// Driving backwards.
		am.rot1 = -spatialmath.AngleDiff(math.Pi, am.rot1)
		direction = -1
	}
	am.trans *= direction
	am.rot2 = spatialmath.AngleDiff(dTheta, am.rot1)

	am.moved = math.Abs(am.trans)+math.Abs(am.rot2) >= minMotion
	am.utime = odometry.Utime
	am.previousOdometry = odometry
	return am.moved
}

// Moved reports whether the last UpdateAction saw any motion.
func (am *ActionModel) Moved() bool {
	return am.moved
}

// ApplyAction returns a new particle moved by a noisy sample of the last motion. The particle's
// current pose becomes the new particle's parent. When the robot did not move only the timestamp
// changes.
func (am *ActionModel) ApplyAction(sample Particle) Particle {
	next := Particle{
		Pose:       sample.Pose,
		ParentPose: sample.Pose,
		Weight:     sample.Weight,
	}
	next.Pose.Utime = am.utime
	if !am.moved {
		return next
	}

	rot1 := am.rot1 + am.rng.NormFloat64()*am.cfg.RotationStdDev
	trans := am.trans + am.rng.NormFloat64()*am.cfg.TranslationStdDev
	rot2 := am.rot2 + am.rng.NormFloat64()*am.cfg.RotationStdDev

	sin, cos := math.Sincos(sample.Pose.Theta + rot1)
	next.Pose.X += trans * cos
	next.Pose.Y += trans * sin
	next.Pose.Theta = spatialmath.WrapToPi(sample.Pose.Theta + rot1 + rot2)
	return next
}
