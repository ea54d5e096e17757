package messaging

import (
	"encoding/json"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/saptadeb/botLab-sub001/occupancygrid"
	"github.com/saptadeb/botLab-sub001/slam/particlefilter"
	"github.com/saptadeb/botLab-sub001/spatialmath"
)

// Particles is the particle set published alongside each pose estimate.
type Particles struct {
	Utime     int64                     `json:"utime"`
	Particles []particlefilter.Particle `json:"particles"`
}

// OccupancyGrid is the wire form of a map.
type OccupancyGrid struct {
	Utime         int64                    `json:"utime"`
	OriginX       float64                  `json:"origin_x"`
	OriginY       float64                  `json:"origin_y"`
	MetersPerCell float64                  `json:"meters_per_cell"`
	Width         int                      `json:"width"`
	Height        int                      `json:"height"`
	Cells         []occupancygrid.CellOdds `json:"cells"`
}

// NewOccupancyGrid copies grid into a message stamped with utime.
func NewOccupancyGrid(utime int64, grid *occupancygrid.Grid) *OccupancyGrid {
	return &OccupancyGrid{
		Utime:         utime,
		OriginX:       grid.Origin().X,
		OriginY:       grid.Origin().Y,
		MetersPerCell: grid.MetersPerCell(),
		Width:         grid.WidthInCells(),
		Height:        grid.HeightInCells(),
		Cells:         grid.Cells(),
	}
}

// ToGrid rebuilds the grid carried by the message.
func (m *OccupancyGrid) ToGrid() (*occupancygrid.Grid, error) {
	return occupancygrid.NewFromCells(m.Width, m.Height, m.MetersPerCell, r2.Point{X: m.OriginX, Y: m.OriginY}, m.Cells)
}

// Path is an ordered list of waypoints for the motion controller. A path with a single pose means
// no path was found.
type Path struct {
	Utime int64              `json:"utime"`
	ID    string             `json:"id"`
	Path  []spatialmath.Pose `json:"path"`
}

// Confirmation acknowledges that a message was received by a consumer.
type Confirmation struct {
	Utime        int64  `json:"utime"`
	CreationTime int64  `json:"creation_time"`
	Channel      string `json:"channel"`
	ID           string `json:"id"`
}

// ExplorationState is a state of the exploration state machine.
type ExplorationState string

// Exploration states.
const (
	StateInitializing         ExplorationState = "INITIALIZING"
	StateExploringMap         ExplorationState = "EXPLORING_MAP"
	StateReturningHome        ExplorationState = "RETURNING_HOME"
	StateCompletedExploration ExplorationState = "COMPLETED_EXPLORATION"
	StateFailedExploration    ExplorationState = "FAILED_EXPLORATION"
)

// ExplorationStatusCode reports how a state is going.
type ExplorationStatusCode string

// Status codes.
const (
	StatusInProgress ExplorationStatusCode = "IN_PROGRESS"
	StatusComplete   ExplorationStatusCode = "COMPLETE"
	StatusFailed     ExplorationStatusCode = "FAILED"
)

// ExplorationStatus is published whenever exploration changes state and while a state is active.
type ExplorationStatus struct {
	Utime      int64                 `json:"utime"`
	TeamNumber int                   `json:"team_number"`
	State      ExplorationState      `json:"state"`
	Status     ExplorationStatusCode `json:"status"`
}

// Decode unmarshals a JSON payload into a T.
func Decode[T any](payload []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, errors.Wrapf(err, "failed to decode %T", msg)
	}
	return msg, nil
}
