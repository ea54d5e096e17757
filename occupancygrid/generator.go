package occupancygrid

import "math"

// Log-odds used by the generated test maps.
const (
	GeneratedFreeOdds     CellOdds = -10
	GeneratedOccupiedOdds CellOdds = 10
)

// NewUniformGrid returns a centered grid with every cell set to odds.
func NewUniformGrid(widthMeters, heightMeters, metersPerCell float64, odds CellOdds) (*Grid, error) {
	grid, err := New(widthMeters, heightMeters, metersPerCell)
	if err != nil {
		return nil, err
	}
	grid.Fill(odds)
	return grid, nil
}

// NewConstrictedGrid returns a free grid split by a wall along its middle row. The wall leaves an
// opening of openingWidth meters (at least one cell) at the left edge.
func NewConstrictedGrid(widthMeters, heightMeters, metersPerCell, openingWidth float64) (*Grid, error) {
	grid, err := NewUniformGrid(widthMeters, heightMeters, metersPerCell, GeneratedFreeOdds)
	if err != nil {
		return nil, err
	}
	wallRow := grid.HeightInCells() / 2
	opening := int(math.Max(math.Floor(openingWidth*grid.CellsPerMeter()), 1))
	for x := opening; x < grid.WidthInCells(); x++ {
		grid.Set(x, wallRow, GeneratedOccupiedOdds)
	}
	return grid, nil
}
