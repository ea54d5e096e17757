package occupancygrid

import (
	"image"

	"github.com/saptadeb/botLab-sub001/utils"
)

// lineStepper walks the cells of an integer Bresenham line.
type lineStepper struct {
	x, y   int
	dx, dy int
	sx, sy int
	err    int
}

func newLineStepper(from, to image.Point) lineStepper {
	s := lineStepper{
		x:  from.X,
		y:  from.Y,
		dx: utils.AbsInt(to.X - from.X),
		dy: utils.AbsInt(to.Y - from.Y),
		sx: -1,
		sy: -1,
	}
	if from.X < to.X {
		s.sx = 1
	}
	if from.Y < to.Y {
		s.sy = 1
	}
	s.err = s.dx - s.dy
	return s
}

func (s *lineStepper) step() {
	e2 := 2 * s.err
	if e2 >= -s.dy {
		s.err -= s.dy
		s.x += s.sx
	}
	if e2 <= s.dx {
		s.err += s.dx
		s.y += s.sy
	}
}

// TraceLine calls visit for every cell on the line from `from` to `to`, excluding `to` itself.
func TraceLine(from, to image.Point, visit func(x, y int)) {
	s := newLineStepper(from, to)
	for s.x != to.X || s.y != to.Y {
		visit(s.x, s.y)
		s.step()
	}
}

// StepToward returns the cell one Bresenham step from `from` in the direction of `to`.
func StepToward(from, to image.Point) image.Point {
	if from == to {
		return from
	}
	s := newLineStepper(from, to)
	s.step()
	return image.Point{X: s.x, Y: s.y}
}

// AddLogOdds adds delta to cell (x, y), saturating at the CellOdds limits. Cells outside the grid
// are ignored.
func (g *Grid) AddLogOdds(x, y, delta int) {
	if !g.IsCellInGrid(x, y) {
		return
	}
	i := y*g.width + x
	g.cells[i] = utils.SaturatingAddInt8(g.cells[i], delta)
}
