package slam

import (
	"sync"

	"github.com/saptadeb/botLab-sub001/occupancygrid"
)

// SharedMap guards an occupancy grid that has one writer and many readers. The grid may be
// absent until the first scan is mapped or a map is loaded.
type SharedMap struct {
	mu   sync.RWMutex
	grid *occupancygrid.Grid
	have bool
}

// NewSharedMap wraps grid. have reports whether grid already holds a usable map.
func NewSharedMap(grid *occupancygrid.Grid, have bool) *SharedMap {
	return &SharedMap{grid: grid, have: have}
}

// Have reports whether the map holds any evidence yet.
func (sm *SharedMap) Have() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.have
}

// Mutate runs mutator with exclusive access to the grid and marks the map as present.
func (sm *SharedMap) Mutate(mutator func(grid *occupancygrid.Grid)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	mutator(sm.grid)
	sm.have = true
}

// Replace swaps in a new grid.
func (sm *SharedMap) Replace(grid *occupancygrid.Grid) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.grid = grid
	sm.have = true
}

// View runs viewer with shared access to the grid. viewer must not keep or modify the grid. It
// returns false without calling viewer when there is no map yet.
func (sm *SharedMap) View(viewer func(grid *occupancygrid.Grid)) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if !sm.have {
		return false
	}
	viewer(sm.grid)
	return true
}

// Snapshot returns a deep copy of the grid, or false when there is no map yet.
func (sm *SharedMap) Snapshot() (*occupancygrid.Grid, bool) {
	var clone *occupancygrid.Grid
	ok := sm.View(func(grid *occupancygrid.Grid) {
		clone = grid.Clone()
	})
	return clone, ok
}
