// Package occupancygrid implements a fixed-size 2D log-odds occupancy map.
package occupancygrid

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// CellOdds is the log-odds occupancy of a single cell. Zero means unknown, positive values are
// likely occupied and negative values likely free.
type CellOdds = int8

// ErrInvalidDimensions is returned when a grid would have no cells or a non-positive cell size.
var ErrInvalidDimensions = errors.New("occupancy grid dimensions must be positive")

// Grid is a width x height array of log-odds values with a cell size and a world origin. The
// origin is the world position of the corner of cell (0, 0).
type Grid struct {
	width         int
	height        int
	metersPerCell float64
	cellsPerMeter float64
	origin        r2.Point
	cells         []CellOdds
}

// New creates a grid covering widthMeters x heightMeters, centered on the world origin.
func New(widthMeters, heightMeters, metersPerCell float64) (*Grid, error) {
	if metersPerCell <= 0 || math.IsNaN(metersPerCell) {
		return nil, errors.Wrapf(ErrInvalidDimensions, "meters per cell %v", metersPerCell)
	}
	width := int(math.Round(widthMeters / metersPerCell))
	height := int(math.Round(heightMeters / metersPerCell))
	origin := r2.Point{X: -float64(width) * metersPerCell / 2, Y: -float64(height) * metersPerCell / 2}
	return NewWithCells(width, height, metersPerCell, origin)
}

// NewWithCells creates a grid with explicit cell counts and origin. All cells start unknown.
func NewWithCells(width, height int, metersPerCell float64, origin r2.Point) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrInvalidDimensions, "%d x %d cells", width, height)
	}
	if metersPerCell <= 0 || math.IsNaN(metersPerCell) {
		return nil, errors.Wrapf(ErrInvalidDimensions, "meters per cell %v", metersPerCell)
	}
	return &Grid{
		width:         width,
		height:        height,
		metersPerCell: metersPerCell,
		cellsPerMeter: 1 / metersPerCell,
		origin:        origin,
		cells:         make([]CellOdds, width*height),
	}, nil
}

// NewFromCells creates a grid from row-major cell values. The slice is copied.
func NewFromCells(width, height int, metersPerCell float64, origin r2.Point, cells []CellOdds) (*Grid, error) {
	grid, err := NewWithCells(width, height, metersPerCell, origin)
	if err != nil {
		return nil, err
	}
	if len(cells) != width*height {
		return nil, errors.Errorf("expected %d cells for a %d x %d grid, got %d", width*height, width, height, len(cells))
	}
	copy(grid.cells, cells)
	return grid, nil
}

// WidthInCells returns the number of columns.
func (g *Grid) WidthInCells() int { return g.width }

// HeightInCells returns the number of rows.
func (g *Grid) HeightInCells() int { return g.height }

// MetersPerCell returns the cell size.
func (g *Grid) MetersPerCell() float64 { return g.metersPerCell }

// CellsPerMeter returns the inverse of the cell size.
func (g *Grid) CellsPerMeter() float64 { return g.cellsPerMeter }

// Origin returns the world position of the corner of cell (0, 0).
func (g *Grid) Origin() r2.Point { return g.origin }

// SetOrigin moves the grid in the world without touching its cells.
func (g *Grid) SetOrigin(origin r2.Point) { g.origin = origin }

// IsCellInGrid reports whether (x, y) indexes a cell.
func (g *Grid) IsCellInGrid(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.width && y < g.height
}

// LogOdds returns the value of cell (x, y), or 0 (unknown) outside the grid.
func (g *Grid) LogOdds(x, y int) CellOdds {
	if !g.IsCellInGrid(x, y) {
		return 0
	}
	return g.cells[y*g.width+x]
}

// SetLogOdds sets cell (x, y). Writes outside the grid are ignored.
func (g *Grid) SetLogOdds(x, y int, value CellOdds) {
	if g.IsCellInGrid(x, y) {
		g.cells[y*g.width+x] = value
	}
}

// At returns cell (x, y) without a bounds check against the grid's width. The caller must
// guarantee the cell is in the grid.
func (g *Grid) At(x, y int) CellOdds {
	return g.cells[y*g.width+x]
}

// Set writes cell (x, y) without a bounds check against the grid's width. The caller must
// guarantee the cell is in the grid.
func (g *Grid) Set(x, y int, value CellOdds) {
	g.cells[y*g.width+x] = value
}

// Reset marks every cell unknown.
func (g *Grid) Reset() {
	g.Fill(0)
}

// Fill sets every cell to value.
func (g *Grid) Fill(value CellOdds) {
	for i := range g.cells {
		g.cells[i] = value
	}
}

// Cells returns a row-major copy of the cell values.
func (g *Grid) Cells() []CellOdds {
	out := make([]CellOdds, len(g.cells))
	copy(out, g.cells)
	return out
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	clone := *g
	clone.cells = g.Cells()
	return &clone
}

// Bounds returns the grid's cell rectangle.
func (g *Grid) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.width, g.height)
}
