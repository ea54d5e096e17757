package spatialmath

import "math"

// WrapToPi normalizes an angle into (-pi, pi]. Angles already in range are returned untouched.
func WrapToPi(angle float64) float64 {
	if angle > -math.Pi && angle <= math.Pi {
		return angle
	}
	wrapped := math.Mod(angle+math.Pi, 2*math.Pi)
	if wrapped <= 0 {
		wrapped += 2 * math.Pi
	}
	return wrapped - math.Pi
}

// AngleDiff returns the shortest signed rotation taking b onto a, in (-pi, pi].
func AngleDiff(a, b float64) float64 {
	return WrapToPi(a - b)
}
