package spatialmath

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"

	"github.com/saptadeb/botLab-sub001/logging"
)

// frameTransform rotates a pose about the world origin by Rotation and then translates it.
type frameTransform struct {
	Rotation    float64
	Translation r2.Point
}

func (ft frameTransform) apply(p Pose) Pose {
	sin, cos := math.Sincos(ft.Rotation)
	return Pose{
		Utime: p.Utime,
		X:     cos*p.X - sin*p.Y + ft.Translation.X,
		Y:     sin*p.X + cos*p.Y + ft.Translation.Y,
		Theta: WrapToPi(p.Theta + ft.Rotation),
	}
}

// transformOnto returns the transform taking `from` onto `to`.
func transformOnto(from, to Pose) frameTransform {
	rotation := AngleDiff(to.Theta, from.Theta)
	sin, cos := math.Sincos(rotation)
	return frameTransform{
		Rotation: rotation,
		Translation: r2.Point{
			X: to.X - (cos*from.X - sin*from.Y),
			Y: to.Y - (sin*from.X + cos*from.Y),
		},
	}
}

// PoseTrace is an append-only, time-ordered sequence of poses that can be queried at arbitrary
// times. It is not safe for concurrent use; the owner is expected to hold its own lock.
//
// Poses are stored as they were added. When a reference pose is set, every read goes through the
// reference transform, which is always computed against the very first pose ever added. Setting
// the reference again therefore replaces the transform rather than composing with it.
type PoseTrace struct {
	logger logging.Logger

	poses []Pose

	haveFirst bool
	first     Pose

	haveReference bool
	reference     Pose
	transform     frameTransform
}

// NewPoseTrace returns an empty trace. Out-of-range queries are reported on logger.
func NewPoseTrace(logger logging.Logger) *PoseTrace {
	return &PoseTrace{logger: logger}
}

// AddPose appends a pose. Poses are expected in non-decreasing time order.
func (pt *PoseTrace) AddPose(pose Pose) {
	if !pt.haveFirst {
		pt.first = pose
		pt.haveFirst = true
		if pt.haveReference {
			pt.transform = transformOnto(pt.first, pt.reference)
		}
	}
	pt.poses = append(pt.poses, pose)
}

// SetReferencePose realigns the trace so that its first pose maps onto origin. All stored poses
// and all poses added later are read through the same transform. When the trace is still empty
// the transform is computed as soon as the first pose arrives.
func (pt *PoseTrace) SetReferencePose(origin Pose) {
	pt.reference = origin
	pt.haveReference = true
	if pt.haveFirst {
		pt.transform = transformOnto(pt.first, origin)
	}
}

func (pt *PoseTrace) at(idx int) Pose {
	if pt.haveReference && pt.haveFirst {
		return pt.transform.apply(pt.poses[idx])
	}
	return pt.poses[idx]
}

// Len returns the number of stored poses.
func (pt *PoseTrace) Len() int {
	return len(pt.poses)
}

// Empty reports whether the trace holds no poses.
func (pt *PoseTrace) Empty() bool {
	return len(pt.poses) == 0
}

// Front returns the oldest pose. It must not be called on an empty trace.
func (pt *PoseTrace) Front() Pose {
	return pt.at(0)
}

// Back returns the newest pose. It must not be called on an empty trace.
func (pt *PoseTrace) Back() Pose {
	return pt.at(len(pt.poses) - 1)
}

// Poses returns a copy of every pose in the trace's current frame.
func (pt *PoseTrace) Poses() []Pose {
	out := make([]Pose, len(pt.poses))
	for i := range pt.poses {
		out[i] = pt.at(i)
	}
	return out
}

// ContainsPoseAtTime reports whether utime lies within [front, back]. Check this before
// calling PoseAt.
func (pt *PoseTrace) ContainsPoseAtTime(utime int64) bool {
	if pt.Empty() {
		return false
	}
	return pt.poses[0].Utime <= utime && utime <= pt.poses[len(pt.poses)-1].Utime
}

// PoseAt returns the pose interpolated at utime. Outside the trace's time span the nearest
// endpoint is returned and a warning is logged; the trace never extrapolates. The zero Pose is
// returned for an empty trace.
func (pt *PoseTrace) PoseAt(utime int64) Pose {
	if pt.Empty() {
		pt.logger.Warnw("pose requested from an empty trace", "utime", utime)
		return Pose{Utime: utime}
	}

	front, back := pt.poses[0], pt.poses[len(pt.poses)-1]
	if utime < front.Utime {
		pt.logger.Warnw("requested pose is before the start of the trace, using the first pose",
			"utime", utime, "front", front.Utime)
		return pt.at(0)
	}
	if utime > back.Utime {
		pt.logger.Warnw("requested pose is after the end of the trace, using the last pose",
			"utime", utime, "back", back.Utime)
		return pt.at(len(pt.poses) - 1)
	}

	// First pose at or after utime.
	after := sort.Search(len(pt.poses), func(i int) bool { return pt.poses[i].Utime >= utime })
	if pt.poses[after].Utime == utime || after == 0 {
		return pt.at(after)
	}
	return Interpolate(pt.at(after-1), pt.at(after), utime)
}

// EraseTraceUntil drops every pose strictly older than utime and returns how many were removed.
func (pt *PoseTrace) EraseTraceUntil(utime int64) int {
	removed := sort.Search(len(pt.poses), func(i int) bool { return pt.poses[i].Utime >= utime })
	if removed == 0 {
		return 0
	}
	pt.poses = append(pt.poses[:0:0], pt.poses[removed:]...)
	return removed
}

// TimeAtOrBefore returns the time of the newest pose taken at or before utime.
func (pt *PoseTrace) TimeAtOrBefore(utime int64) (int64, bool) {
	i := sort.Search(len(pt.poses), func(i int) bool { return pt.poses[i].Utime > utime })
	if i == 0 {
		return 0, false
	}
	return pt.poses[i-1].Utime, true
}
