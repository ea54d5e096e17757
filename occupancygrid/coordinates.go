package occupancygrid

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
)

// Frame describes how a grid sits in the world. Both Grid and derived grids of the same shape
// implement it.
type Frame interface {
	WidthInCells() int
	HeightInCells() int
	MetersPerCell() float64
	CellsPerMeter() float64
	Origin() r2.Point
}

// GlobalToGridPosition converts a world point into continuous cell coordinates.
func GlobalToGridPosition(point r2.Point, frame Frame) r2.Point {
	return point.Sub(frame.Origin()).Mul(frame.CellsPerMeter())
}

// GlobalToCell returns the cell containing a world point. Points outside the grid produce cells
// that fail IsCellInGrid.
func GlobalToCell(point r2.Point, frame Frame) image.Point {
	pos := GlobalToGridPosition(point, frame)
	return image.Point{X: int(math.Floor(pos.X)), Y: int(math.Floor(pos.Y))}
}

// GridPositionToGlobal converts continuous cell coordinates into a world point.
func GridPositionToGlobal(pos r2.Point, frame Frame) r2.Point {
	return pos.Mul(frame.MetersPerCell()).Add(frame.Origin())
}

// CellToGlobal returns the world position of the center of a cell, so that converting it back
// with GlobalToCell always lands in the same cell.
func CellToGlobal(cell image.Point, frame Frame) r2.Point {
	return GridPositionToGlobal(r2.Point{X: float64(cell.X) + 0.5, Y: float64(cell.Y) + 0.5}, frame)
}
