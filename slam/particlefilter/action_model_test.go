package particlefilter

import (
	"math"
	"math/rand"
	"testing"

	"go.viam.com/test"

	"github.com/saptadeb/botLab-sub001/spatialmath"
)

func noiselessActionModel() *ActionModel {
	//nolint:gosec
	return NewActionModel(ActionModelConfig{}, rand.New(rand.NewSource(1)))
}

func TestActionModelDecomposition(t *testing.T) {
	for _, tc := range []struct {
		description string
		to          spatialmath.Pose
		start       spatialmath.Pose
		moved       bool
		expected    spatialmath.Pose
	}{
		{
			description: "forward",
			to:          spatialmath.NewPose(10, 1, 0, 0),
			start:       spatialmath.NewPose(0, 0, 0, math.Pi/2),
			moved:       true,
			expected:    spatialmath.NewPose(10, 0, 1, math.Pi/2),
		},
		{
			description: "backward",
			to:          spatialmath.NewPose(10, -1, 0, 0),
			start:       spatialmath.NewPose(0, 2, 3, 0),
			moved:       true,
			expected:    spatialmath.NewPose(10, 1, 3, 0),
		},
		{
			description: "turn in place",
			to:          spatialmath.NewPose(10, 0, 0, 0.5),
			start:       spatialmath.NewPose(0, 1, 1, -0.25),
			moved:       true,
			expected:    spatialmath.NewPose(10, 1, 1, 0.25),
		},
		{
			description: "arc",
			to:          spatialmath.NewPose(10, 1, 1, math.Pi/2),
			start:       spatialmath.NewPose(0, 0, 0, 0),
			moved:       true,
			expected:    spatialmath.NewPose(10, 1, 1, math.Pi/2),
		},
		{
			description: "standing still",
			to:          spatialmath.NewPose(10, 0, 0, 0),
			start:       spatialmath.NewPose(0, 4, 5, 1),
			moved:       false,
			expected:    spatialmath.NewPose(10, 4, 5, 1),
		},
	} {
		t.Run(tc.description, func(t *testing.T) {
			am := noiselessActionModel()
			test.That(t, am.UpdateAction(spatialmath.NewPose(0, 0, 0, 0)), test.ShouldBeFalse)
			test.That(t, am.UpdateAction(tc.to), test.ShouldEqual, tc.moved)
			test.That(t, am.Moved(), test.ShouldEqual, tc.moved)

			next := am.ApplyAction(Particle{Pose: tc.start, ParentPose: tc.start, Weight: 0.5})
			test.That(t, next.Pose.Utime, test.ShouldEqual, tc.expected.Utime)
			test.That(t, next.Pose.X, test.ShouldAlmostEqual, tc.expected.X, 1e-9)
			test.That(t, next.Pose.Y, test.ShouldAlmostEqual, tc.expected.Y, 1e-9)
			test.That(t, next.Pose.Theta, test.ShouldAlmostEqual, tc.expected.Theta, 1e-9)
			test.That(t, next.ParentPose, test.ShouldResemble, tc.start)
			test.That(t, next.Weight, test.ShouldEqual, 0.5)
		})
	}
}

func TestActionModelNoise(t *testing.T) {
	//nolint:gosec
	am := NewActionModel(DefaultActionModelConfig(), rand.New(rand.NewSource(3)))
	am.UpdateAction(spatialmath.NewPose(0, 0, 0, 0))
	test.That(t, am.UpdateAction(spatialmath.NewPose(1, 1, 0, 0)), test.ShouldBeTrue)

	start := Particle{Pose: spatialmath.NewPose(0, 0, 0, 0)}
	a := am.ApplyAction(start)
	b := am.ApplyAction(start)
	test.That(t, a.Pose.X, test.ShouldNotEqual, b.Pose.X)
	test.That(t, a.Pose.X, test.ShouldAlmostEqual, 1.0, 0.05)
	test.That(t, a.Pose.Theta, test.ShouldAlmostEqual, 0.0, 0.5)

	// Standing still injects no noise at all.
	test.That(t, am.UpdateAction(spatialmath.NewPose(2, 1, 0, 0)), test.ShouldBeFalse)
	still := am.ApplyAction(a)
	test.That(t, still.Pose.X, test.ShouldEqual, a.Pose.X)
	test.That(t, still.Pose.Theta, test.ShouldEqual, a.Pose.Theta)
	test.That(t, still.Pose.Utime, test.ShouldEqual, int64(2))
}
