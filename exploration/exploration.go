// Package exploration drives the robot through unexplored space. It finds frontiers in the SLAM
// map, sends paths to them to the motion controller and returns home once the map is complete.
package exploration

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/saptadeb/botLab-sub001/logging"
	"github.com/saptadeb/botLab-sub001/messaging"
	"github.com/saptadeb/botLab-sub001/motionplan"
	"github.com/saptadeb/botLab-sub001/occupancygrid"
	"github.com/saptadeb/botLab-sub001/spatialmath"
)

// Config configures an Exploration.
type Config struct {
	TeamNumber int `json:"team_number" mapstructure:"team_number" yaml:"team_number"`
	// Frontiers shorter than this, in meters, are ignored.
	MinFrontierLength float64 `json:"min_frontier_length" mapstructure:"min_frontier_length" yaml:"min_frontier_length"`
	// How far from a frontier cell to look for a drivable goal, in meters.
	FrontierSearchRadius float64 `json:"frontier_search_radius" mapstructure:"frontier_search_radius" yaml:"frontier_search_radius"`
	// Exploration fails after this many planning failures in a row.
	MaxPlanningFailures int `json:"max_planning_failures" mapstructure:"max_planning_failures" yaml:"max_planning_failures"`
	// The robot is home once it is within this many meters of the home pose.
	HomeTolerance float64           `json:"home_tolerance" mapstructure:"home_tolerance" yaml:"home_tolerance"`
	UpdatePeriod  time.Duration     `json:"update_period" mapstructure:"update_period" yaml:"update_period"`
	Planner       motionplan.Config `json:"planner" mapstructure:"planner" yaml:"planner"`
}

// DefaultConfig returns the exploration parameters used on the robot.
func DefaultConfig() Config {
	return Config{
		TeamNumber:           -1,
		MinFrontierLength:    0.35,
		FrontierSearchRadius: 0.5,
		MaxPlanningFailures:  10,
		HomeTolerance:        0.05,
		UpdatePeriod:         100 * time.Millisecond,
		Planner:              motionplan.DefaultConfig(),
	}
}

// Exploration runs the exploration state machine. Bus callbacks only store the newest pose and
// map; the state machine runs on the goroutine calling ExploreEnvironment.
type Exploration struct {
	logger logging.Logger
	bus    messaging.Bus
	clock  clock.Clock
	cfg    Config
	subs   []messaging.Subscription

	dataMu       sync.Mutex
	incomingPose spatialmath.Pose
	incomingMap  *occupancygrid.Grid
	haveNewPose  bool
	haveNewMap   bool
	haveHomePose bool
	homePose     spatialmath.Pose

	currentPathID string
	pathConfirmed atomic.Bool

	// Owned by the exploring goroutine.
	planner       *motionplan.MotionPlanner
	state         atomic.String
	currentPose   spatialmath.Pose
	currentMap    *occupancygrid.Grid
	currentPath   []spatialmath.Pose
	currentTarget spatialmath.Pose
	haveTarget    bool
	frontiers     []Frontier
	failures      int
}

// New subscribes to the SLAM map, SLAM pose and confirmation channels on bus.
func New(cfg Config, bus messaging.Bus, clk clock.Clock, logger logging.Logger) (*Exploration, error) {
	if cfg.MaxPlanningFailures < 1 {
		return nil, errors.Errorf("max planning failures must be at least 1, got %d", cfg.MaxPlanningFailures)
	}
	e := &Exploration{
		logger:  logger,
		bus:     bus,
		clock:   clk,
		cfg:     cfg,
		planner: motionplan.NewMotionPlanner(cfg.Planner, logger.Sublogger("planner")),
	}
	e.state.Store(string(messaging.StateInitializing))

	handlers := map[string]messaging.Handler{
		messaging.SLAMMapChannel:        e.handleMap,
		messaging.SLAMPoseChannel:       e.handlePose,
		messaging.MessageConfirmChannel: e.handleConfirmation,
	}
	for channel, handler := range handlers {
		sub, err := bus.Subscribe(channel, handler)
		if err != nil {
			messaging.Unsubscribe(e.subs)
			return nil, errors.Wrapf(err, "failed to subscribe to %s", channel)
		}
		e.subs = append(e.subs, sub)
	}
	return e, nil
}

// State returns the current state of the state machine.
func (e *Exploration) State() messaging.ExplorationState {
	return messaging.ExplorationState(e.state.Load())
}

// PathConfirmed reports whether the controller acknowledged the last published path.
func (e *Exploration) PathConfirmed() bool {
	return e.pathConfirmed.Load()
}

// HomePose returns the first pose received, if any.
func (e *Exploration) HomePose() (spatialmath.Pose, bool) {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	return e.homePose, e.haveHomePose
}

// Close unsubscribes from the bus.
func (e *Exploration) Close() error {
	messaging.Unsubscribe(e.subs)
	e.subs = nil
	return nil
}

// ExploreEnvironment runs the state machine until it reaches a terminal state and reports whether
// exploration completed. It returns early with the context's error when ctx is done.
func (e *Exploration) ExploreEnvironment(ctx context.Context) (bool, error) {
	for {
		if e.isReadyToUpdate() {
			e.runExploration()
		}
		switch e.State() {
		case messaging.StateCompletedExploration:
			return true, nil
		case messaging.StateFailedExploration:
			return false, nil
		default:
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-e.clock.After(e.cfg.UpdatePeriod):
		}
	}
}

// RunIteration runs one step of the state machine if new data has arrived and reports whether it
// did.
func (e *Exploration) RunIteration() bool {
	if !e.isReadyToUpdate() {
		return false
	}
	e.runExploration()
	return true
}

func (e *Exploration) isReadyToUpdate() bool {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	haveData := (e.currentMap != nil || e.incomingMap != nil) && e.haveHomePose
	return haveData && (e.haveNewPose || e.haveNewMap)
}

func (e *Exploration) runExploration() {
	e.copyDataForUpdate()
	e.executeStateMachine()
}

func (e *Exploration) copyDataForUpdate() {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	if e.haveNewPose {
		e.currentPose = e.incomingPose
		e.haveNewPose = false
	}
	if e.haveNewMap {
		e.currentMap = e.incomingMap
		e.haveNewMap = false
	}
}

func (e *Exploration) executeStateMachine() {
	state := e.State()
	var next messaging.ExplorationState
	switch state {
	case messaging.StateInitializing:
		next = e.executeInitializing()
	case messaging.StateExploringMap:
		next = e.executeExploringMap()
	case messaging.StateReturningHome:
		next = e.executeReturningHome()
	case messaging.StateCompletedExploration:
		next = e.executeCompleted()
	case messaging.StateFailedExploration:
		next = e.executeFailed()
	default:
		e.logger.Errorw("unknown exploration state", "state", state)
		next = messaging.StateFailedExploration
	}

	if next != state {
		e.logger.Infow("exploration state changed", "from", state, "to", next)
		e.failures = 0
		e.haveTarget = false
		e.state.Store(string(next))
		if next == messaging.StateCompletedExploration || next == messaging.StateFailedExploration {
			// Terminal states are entered and announced in the same step.
			e.executeStateMachine()
		}
	}
}

func (e *Exploration) executeInitializing() messaging.ExplorationState {
	e.publishStatus(messaging.StateInitializing, messaging.StatusComplete)
	return messaging.StateExploringMap
}

func (e *Exploration) executeExploringMap() messaging.ExplorationState {
	e.planner.SetMap(e.currentMap)
	e.frontiers = FindMapFrontiers(e.currentMap, e.currentPose, e.cfg.MinFrontierLength)

	if len(e.frontiers) == 0 {
		e.logger.Info("no frontiers remain, returning home")
		e.publishStatus(messaging.StateExploringMap, messaging.StatusComplete)
		return messaging.StateReturningHome
	}

	if e.needsNewPath() {
		path := PlanPathToFrontier(e.frontiers, e.currentPose, e.currentMap, e.planner, e.cfg.FrontierSearchRadius)
		if len(path) < 2 {
			e.failures++
			e.logger.Warnw("failed to plan a path to a frontier",
				"frontiers", len(e.frontiers), "consecutive_failures", e.failures)
			if e.failures > e.cfg.MaxPlanningFailures {
				e.publishStatus(messaging.StateExploringMap, messaging.StatusFailed)
				return messaging.StateFailedExploration
			}
		} else {
			e.failures = 0
			e.followPath(path)
		}
	}
	e.publishStatus(messaging.StateExploringMap, messaging.StatusInProgress)
	return messaging.StateExploringMap
}

func (e *Exploration) executeReturningHome() messaging.ExplorationState {
	home, _ := e.HomePose()
	arrived := e.currentPose.DistanceTo(home) <= e.cfg.HomeTolerance ||
		(e.haveTarget && e.currentPose.DistanceTo(e.currentTarget) <= e.cfg.HomeTolerance)
	if arrived {
		e.publishStatus(messaging.StateReturningHome, messaging.StatusComplete)
		return messaging.StateCompletedExploration
	}

	e.planner.SetMap(e.currentMap)
	if !e.haveTarget || !e.isCurrentPathSafe() {
		path := e.planner.PlanPath(e.currentPose, home)
		if len(path) < 2 {
			// Home may have become too close to a wall as the map filled in. Settle for the
			// nearest reachable spot around it.
			if nearby, ok := searchNearTarget(home.Point(), e.currentPose, e.currentMap, e.planner, e.cfg.FrontierSearchRadius); ok {
				path = nearby
			}
		}
		if len(path) < 2 {
			e.failures++
			e.logger.Warnw("failed to plan a path home", "consecutive_failures", e.failures)
			if e.failures > e.cfg.MaxPlanningFailures {
				e.publishStatus(messaging.StateReturningHome, messaging.StatusFailed)
				return messaging.StateFailedExploration
			}
		} else {
			e.failures = 0
			e.followPath(path)
		}
	}
	e.publishStatus(messaging.StateReturningHome, messaging.StatusInProgress)
	return messaging.StateReturningHome
}

func (e *Exploration) executeCompleted() messaging.ExplorationState {
	e.stop()
	e.publishStatus(messaging.StateCompletedExploration, messaging.StatusComplete)
	return messaging.StateCompletedExploration
}

func (e *Exploration) executeFailed() messaging.ExplorationState {
	e.stop()
	e.publishStatus(messaging.StateFailedExploration, messaging.StatusFailed)
	return messaging.StateFailedExploration
}

// needsNewPath reports whether the current frontier path is finished or no longer usable.
func (e *Exploration) needsNewPath() bool {
	if !e.haveTarget || len(e.currentPath) < 2 {
		return true
	}
	if e.currentPose.DistanceTo(e.currentTarget) <= e.cfg.HomeTolerance {
		return true
	}
	return !e.isCurrentPathSafe()
}

// isCurrentPathSafe checks the path ahead of its starting pose, which is where the robot was when
// it was planned.
func (e *Exploration) isCurrentPathSafe() bool {
	if len(e.currentPath) < 2 {
		return false
	}
	return e.planner.IsPathSafe(e.currentPath[1:])
}

// followPath publishes path unless it leads to the target already being driven to.
func (e *Exploration) followPath(path []spatialmath.Pose) {
	target := path[len(path)-1]
	if e.haveTarget && target.DistanceTo(e.currentTarget) == 0 && e.isCurrentPathSafe() {
		return
	}
	e.currentPath = path
	e.currentTarget = target
	e.haveTarget = true
	e.publishPath(path)
}

// stop holds the robot at its current pose.
func (e *Exploration) stop() {
	e.currentPath = []spatialmath.Pose{e.currentPose}
	e.haveTarget = false
	e.publishPath(e.currentPath)
}

func (e *Exploration) publishPath(path []spatialmath.Pose) {
	id := uuid.NewString()
	e.dataMu.Lock()
	e.currentPathID = id
	e.dataMu.Unlock()
	e.pathConfirmed.Store(false)

	msg := messaging.Path{Utime: e.clock.Now().UnixMicro(), ID: id, Path: path}
	if err := e.bus.Publish(messaging.ControllerPathChannel, msg); err != nil {
		e.logger.Warnw("failed to publish path", "error", err)
	}
}

func (e *Exploration) publishStatus(state messaging.ExplorationState, status messaging.ExplorationStatusCode) {
	msg := messaging.ExplorationStatus{
		Utime:      e.clock.Now().UnixMicro(),
		TeamNumber: e.cfg.TeamNumber,
		State:      state,
		Status:     status,
	}
	if err := e.bus.Publish(messaging.ExplorationStatusChannel, msg); err != nil {
		e.logger.Warnw("failed to publish exploration status", "error", err)
	}
}

// Frontiers returns the frontiers found in the last exploring step.
func (e *Exploration) Frontiers() []Frontier {
	return e.frontiers
}

// CurrentPath returns the last path sent to the controller.
func (e *Exploration) CurrentPath() []spatialmath.Pose {
	return e.currentPath
}

func (e *Exploration) handleMap(_ string, payload []byte) {
	msg, err := messaging.Decode[messaging.OccupancyGrid](payload)
	if err != nil {
		e.logger.Warnw("dropping map", "error", err)
		return
	}
	grid, err := msg.ToGrid()
	if err != nil {
		e.logger.Warnw("dropping map", "error", err)
		return
	}
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	e.incomingMap = grid
	e.haveNewMap = true
}

func (e *Exploration) handlePose(_ string, payload []byte) {
	pose, err := messaging.Decode[spatialmath.Pose](payload)
	if err != nil {
		e.logger.Warnw("dropping pose", "error", err)
		return
	}
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	e.incomingPose = pose
	e.haveNewPose = true
	if !e.haveHomePose {
		e.homePose = pose
		e.haveHomePose = true
		e.logger.Infow("home pose set", "pose", pose)
	}
}

func (e *Exploration) handleConfirmation(_ string, payload []byte) {
	confirm, err := messaging.Decode[messaging.Confirmation](payload)
	if err != nil {
		e.logger.Warnw("dropping confirmation", "error", err)
		return
	}
	if confirm.Channel != messaging.ControllerPathChannel {
		return
	}
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	if confirm.ID == e.currentPathID {
		e.pathConfirmed.Store(true)
	}
}
