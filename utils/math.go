package utils

import "math"

// AbsInt returns the absolute value of n.
func AbsInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// SaturatingAddInt8 adds delta to v, clamping the result to the int8 range instead of wrapping.
// Log-odds cells rely on this so repeated hits pin at 127 rather than overflowing to -128.
func SaturatingAddInt8(v int8, delta int) int8 {
	sum := int(v) + delta
	switch {
	case sum > math.MaxInt8:
		return math.MaxInt8
	case sum < math.MinInt8:
		return math.MinInt8
	default:
		return int8(sum)
	}
}
