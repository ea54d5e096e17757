// Package lidar defines planar laser scans and their motion-compensated form.
package lidar

import (
	"github.com/pkg/errors"
)

// LaserScan is one sweep of a planar lidar. The slices are parallel: ray i has range Ranges[i]
// (meters) at bearing Thetas[i] (radians, measured clockwise in the sensor frame as the rplidar
// reports it), with intensity Intensities[i], captured at Times[i] (microseconds).
type LaserScan struct {
	Utime       int64     `json:"utime"`
	Ranges      []float64 `json:"ranges"`
	Thetas      []float64 `json:"thetas"`
	Intensities []float64 `json:"intensities"`
	Times       []int64   `json:"times"`
}

// NumRanges returns the number of rays in the scan.
func (s *LaserScan) NumRanges() int {
	return len(s.Ranges)
}

// Validate checks that the per-ray slices line up. Intensities are optional.
func (s *LaserScan) Validate() error {
	n := len(s.Ranges)
	if len(s.Thetas) != n || len(s.Times) != n {
		return errors.Errorf("laser scan has %d ranges, %d thetas and %d times", n, len(s.Thetas), len(s.Times))
	}
	if len(s.Intensities) != 0 && len(s.Intensities) != n {
		return errors.Errorf("laser scan has %d ranges but %d intensities", n, len(s.Intensities))
	}
	return nil
}

// FirstTime returns the capture time of the first ray, or the scan time if it has no rays.
func (s *LaserScan) FirstTime() int64 {
	if len(s.Times) == 0 {
		return s.Utime
	}
	return s.Times[0]
}

// LastTime returns the capture time of the last ray, or the scan time if it has no rays.
func (s *LaserScan) LastTime() int64 {
	if len(s.Times) == 0 {
		return s.Utime
	}
	return s.Times[len(s.Times)-1]
}

// Clone returns a deep copy of the scan.
func (s *LaserScan) Clone() *LaserScan {
	return &LaserScan{
		Utime:       s.Utime,
		Ranges:      append([]float64(nil), s.Ranges...),
		Thetas:      append([]float64(nil), s.Thetas...),
		Intensities: append([]float64(nil), s.Intensities...),
		Times:       append([]int64(nil), s.Times...),
	}
}
