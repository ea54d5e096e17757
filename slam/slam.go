// Package slam runs occupancy-grid SLAM: it gathers laser scans and poses from the message bus,
// localizes the robot with a particle filter and builds the map with the mapping package.
package slam

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/saptadeb/botLab-sub001/lidar"
	"github.com/saptadeb/botLab-sub001/logging"
	"github.com/saptadeb/botLab-sub001/messaging"
	"github.com/saptadeb/botLab-sub001/occupancygrid"
	"github.com/saptadeb/botLab-sub001/slam/mapping"
	"github.com/saptadeb/botLab-sub001/slam/particlefilter"
	"github.com/saptadeb/botLab-sub001/spatialmath"
	"github.com/saptadeb/botLab-sub001/utils"
)

const (
	// Number of scans ignored between diagnostics about missing pose data.
	numIgnoredForMessage = 10
	// A rewritten localization map is reloaded once writes have been quiet this long.
	mapReloadDelay = 50 * time.Millisecond
)

// OccupancyGridSLAM owns the map, the particle filter and the mapper. Bus callbacks only queue
// data under dataMu; the estimation runs on the goroutine calling Run.
type OccupancyGridSLAM struct {
	logger logging.Logger
	bus    messaging.Bus
	clock  clock.Clock
	cfg    Config
	mode   Mode

	subs    []messaging.Subscription
	workers *utils.StoppableWorkers

	dataMu              sync.Mutex
	incomingScans       []*lidar.LaserScan
	odometryPoses       *spatialmath.PoseTrace
	groundTruthPoses    *spatialmath.PoseTrace
	waitingForReference bool
	initialPose         spatialmath.Pose
	numIgnoredScans     int

	// Owned by the goroutine running iterations.
	filter               *particlefilter.ParticleFilter
	mapper               *mapping.Mapping
	haveInitializedPoses bool
	currentScan          *lidar.LaserScan
	currentOdometry      spatialmath.Pose
	previousPose         spatialmath.Pose
	currentPose          spatialmath.Pose
	mapUpdateCount       int

	area *SharedMap

	estimateMu sync.Mutex
	estimate   spatialmath.Pose
	particles  []particlefilter.Particle
}

// New validates cfg, loads the localization map if there is one and subscribes to the sensor
// channels on bus. Configuration errors are fatal.
func New(cfg Config, bus messaging.Bus, clk clock.Clock, logger logging.Logger) (*OccupancyGridSLAM, error) {
	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}

	var grid *occupancygrid.Grid
	if mode == LocalizationOnly {
		grid, err = occupancygrid.LoadFromFile(cfg.LocalizationMap)
	} else {
		grid, err = occupancygrid.New(cfg.MapWidth, cfg.MapHeight, cfg.MetersPerCell)
	}
	if err != nil {
		return nil, err
	}

	filter, err := particlefilter.New(particlefilter.Config{
		NumParticles: cfg.NumParticles,
		ActionModel:  cfg.ActionModel,
		RayStride:    cfg.RayStride,
		Seed:         cfg.Seed,
	})
	if err != nil {
		return nil, err
	}
	if cfg.MapPublishPeriod < 1 {
		cfg.MapPublishPeriod = 1
	}

	s := &OccupancyGridSLAM{
		logger:              logger,
		bus:                 bus,
		clock:               clk,
		cfg:                 cfg,
		mode:                mode,
		workers:             utils.NewStoppableWorkers(),
		odometryPoses:       spatialmath.NewPoseTrace(logger.Sublogger("odometry")),
		groundTruthPoses:    spatialmath.NewPoseTrace(logger.Sublogger("ground_truth")),
		waitingForReference: cfg.WaitForReferencePose,
		initialPose:         cfg.InitialPose,
		filter:              filter,
		mapper: mapping.New(mapping.Config{
			MaxLaserDistance: cfg.MaxLaserDistance,
			HitOdds:          cfg.HitOdds,
			MissOdds:         cfg.MissOdds,
			RayStride:        cfg.RayStride,
		}),
		area: NewSharedMap(grid, mode == LocalizationOnly),
	}

	handlers := map[string]messaging.Handler{
		messaging.LidarChannel:    s.handleLaser,
		messaging.OdometryChannel: s.handleOdometry,
		messaging.TruePoseChannel: s.handleReferencePose,
	}
	if mode == MappingOnly {
		handlers[messaging.SLAMPoseChannel] = s.handlePose
	}
	for channel, handler := range handlers {
		sub, err := bus.Subscribe(channel, handler)
		if err != nil {
			return nil, multierr.Combine(errors.Wrapf(err, "failed to subscribe to %s", channel), s.Close())
		}
		s.subs = append(s.subs, sub)
	}

	if mode == LocalizationOnly && cfg.WatchLocalizationMap {
		if err := s.watchMap(cfg.LocalizationMap); err != nil {
			return nil, multierr.Combine(err, s.Close())
		}
	}

	logger.Infow("SLAM ready", "mode", mode, "particles", cfg.NumParticles)
	return s, nil
}

// Mode returns the mode SLAM is running in.
func (s *OccupancyGridSLAM) Mode() Mode {
	return s.mode
}

// Run processes data as it becomes ready until ctx is done. When nothing is ready it sleeps for
// the poll interval.
func (s *OccupancyGridSLAM) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if s.RunSLAMIteration() {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(s.cfg.PollInterval):
		}
	}
}

// IsReadyToUpdate reports whether the oldest queued scan can be processed: poses must cover its
// last ray and the reference pose, if required, must have arrived.
func (s *OccupancyGridSLAM) IsReadyToUpdate() bool {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	return s.isReadyToUpdateLocked()
}

func (s *OccupancyGridSLAM) isReadyToUpdateLocked() bool {
	if len(s.incomingScans) == 0 || s.waitingForReference {
		return false
	}
	return s.poseTraceLocked().ContainsPoseAtTime(s.incomingScans[0].LastTime())
}

// poseTraceLocked returns the trace scans are synchronized against.
func (s *OccupancyGridSLAM) poseTraceLocked() *spatialmath.PoseTrace {
	if s.mode == MappingOnly {
		return s.groundTruthPoses
	}
	return s.odometryPoses
}

// RunSLAMIteration processes the oldest queued scan if it is ready and reports whether it did.
func (s *OccupancyGridSLAM) RunSLAMIteration() bool {
	if !s.copyDataForSLAMUpdate() {
		return false
	}
	s.initializePosesIfNeeded()

	if n := s.currentScan.NumRanges(); n > s.cfg.MinRaysPerScan {
		s.updateLocalization()
		s.updateMap()
	} else {
		s.logger.Errorw("detected invalid laser scan", "ranges", n, "utime", s.currentScan.Utime)
	}
	return true
}

func (s *OccupancyGridSLAM) copyDataForSLAMUpdate() bool {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if !s.isReadyToUpdateLocked() {
		return false
	}

	s.currentScan = s.incomingScans[0]
	s.incomingScans[0] = nil
	s.incomingScans = s.incomingScans[1:]
	scanEnd := s.currentScan.LastTime()

	trace := s.poseTraceLocked()
	if s.mode == MappingOnly {
		// Poses come from outside, so the previous pose has to be tracked here.
		s.previousPose = s.currentPose
		s.currentPose = trace.PoseAt(scanEnd)
	} else {
		if !s.haveInitializedPoses {
			// Odometry starts wherever the robot was switched on. Align it with the map frame.
			s.odometryPoses.SetReferencePose(s.initialPose)
		}
		s.currentOdometry = trace.PoseAt(scanEnd)
	}

	if keep, ok := trace.TimeAtOrBefore(scanEnd); ok {
		trace.EraseTraceUntil(keep)
	}
	return true
}

func (s *OccupancyGridSLAM) initializePosesIfNeeded() {
	if s.haveInitializedPoses {
		return
	}
	s.dataMu.Lock()
	initial := s.initialPose
	s.dataMu.Unlock()

	if s.mode == MappingOnly {
		s.previousPose = s.currentPose
	} else {
		s.previousPose = initial.WithUtime(s.currentScan.FirstTime())
		s.currentPose = initial.WithUtime(s.currentScan.LastTime())
	}
	s.filter.InitializeFilterAtPose(s.previousPose)
	s.haveInitializedPoses = true
	s.storeEstimate(s.currentPose, s.filter.Particles())
}

func (s *OccupancyGridSLAM) updateLocalization() {
	if s.mode == MappingOnly {
		s.storeEstimate(s.currentPose, nil)
		return
	}
	if !s.cfg.OdometryOnly && !s.area.Have() {
		// Nothing to match against yet. Dead reckon so the action model has seen this odometry
		// when the first map-based update arrives.
		s.previousPose = s.currentPose
		s.currentPose = s.filter.UpdateFilterActionOnly(s.currentOdometry)
		s.storeEstimate(s.currentPose, s.filter.Particles())
		return
	}

	s.previousPose = s.currentPose
	if s.cfg.OdometryOnly {
		s.currentPose = s.filter.UpdateFilterActionOnly(s.currentOdometry)
	} else {
		var err error
		s.area.View(func(grid *occupancygrid.Grid) {
			s.currentPose, err = s.filter.UpdateFilter(s.currentOdometry, s.currentScan, grid)
		})
		if err != nil {
			s.logger.Warnw("keeping previous pose estimate", "error", err)
		}
	}

	particles := s.filter.Particles()
	s.storeEstimate(s.currentPose, particles)
	s.publish(messaging.SLAMPoseChannel, s.currentPose)
	s.publish(messaging.SLAMParticlesChannel, messaging.Particles{Utime: s.currentPose.Utime, Particles: particles})
}

func (s *OccupancyGridSLAM) updateMap() {
	if s.mode != LocalizationOnly {
		s.area.Mutate(func(grid *occupancygrid.Grid) {
			s.mapper.UpdateMap(s.currentScan, s.currentPose, grid)
		})
	}

	// The map is large, so only every few maps are sent.
	if s.mapUpdateCount%s.cfg.MapPublishPeriod == 0 {
		var msg *messaging.OccupancyGrid
		s.area.View(func(grid *occupancygrid.Grid) {
			msg = messaging.NewOccupancyGrid(s.currentPose.Utime, grid)
		})
		if msg != nil {
			s.publish(messaging.SLAMMapChannel, msg)
		}
	}
	s.mapUpdateCount++
}

func (s *OccupancyGridSLAM) publish(channel string, msg interface{}) {
	if err := s.bus.Publish(channel, msg); err != nil {
		s.logger.Warnw("failed to publish", "channel", channel, "error", err)
	}
}

func (s *OccupancyGridSLAM) storeEstimate(pose spatialmath.Pose, particles []particlefilter.Particle) {
	s.estimateMu.Lock()
	defer s.estimateMu.Unlock()
	s.estimate = pose
	if particles != nil {
		s.particles = particles
	}
}

// PoseEstimate returns the latest pose of the robot.
func (s *OccupancyGridSLAM) PoseEstimate() spatialmath.Pose {
	s.estimateMu.Lock()
	defer s.estimateMu.Unlock()
	return s.estimate
}

// Particles returns the latest particle set.
func (s *OccupancyGridSLAM) Particles() []particlefilter.Particle {
	s.estimateMu.Lock()
	defer s.estimateMu.Unlock()
	return append([]particlefilter.Particle(nil), s.particles...)
}

// ViewMap runs viewer with read access to the current map. It returns false when there is no map
// yet.
func (s *OccupancyGridSLAM) ViewMap(viewer func(grid *occupancygrid.Grid)) bool {
	return s.area.View(viewer)
}

// Map returns a copy of the current map.
func (s *OccupancyGridSLAM) Map() (*occupancygrid.Grid, bool) {
	return s.area.Snapshot()
}

// SaveMap writes the current map to path.
func (s *OccupancyGridSLAM) SaveMap(path string) error {
	var err error
	if !s.area.View(func(grid *occupancygrid.Grid) { err = grid.SaveToFile(path) }) {
		return errors.New("no map has been built yet")
	}
	return err
}

// Close unsubscribes from the bus and stops background work.
func (s *OccupancyGridSLAM) Close() error {
	messaging.Unsubscribe(s.subs)
	s.subs = nil
	s.workers.Stop()
	return nil
}

func (s *OccupancyGridSLAM) handleLaser(_ string, payload []byte) {
	scan, err := messaging.Decode[lidar.LaserScan](payload)
	if err == nil {
		err = scan.Validate()
	}
	if err != nil {
		s.logger.Warnw("dropping laser scan", "error", err)
		return
	}

	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	// A scan can only be motion-compensated if poses from before its first ray exist.
	trace := s.poseTraceLocked()
	if !trace.Empty() && trace.Front().Utime <= scan.FirstTime() {
		s.incomingScans = append(s.incomingScans, &scan)
		if s.numIgnoredScans >= numIgnoredForMessage {
			s.logger.Info("received pose data, laser scans are now being saved")
		}
		s.numIgnoredScans = 0
		return
	}

	s.numIgnoredScans++
	if s.numIgnoredScans%numIgnoredForMessage == 0 {
		s.logger.Infow("ignoring laser scans because no pose data is available; "+
			"start odometry or use a log with ground-truth poses", "ignored", s.numIgnoredScans)
	}
}

func (s *OccupancyGridSLAM) handleOdometry(_ string, payload []byte) {
	pose, err := messaging.Decode[spatialmath.Pose](payload)
	if err != nil {
		s.logger.Warnw("dropping odometry", "error", err)
		return
	}
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	s.odometryPoses.AddPose(pose)
}

func (s *OccupancyGridSLAM) handlePose(_ string, payload []byte) {
	pose, err := messaging.Decode[spatialmath.Pose](payload)
	if err != nil {
		s.logger.Warnw("dropping pose", "error", err)
		return
	}
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	s.groundTruthPoses.AddPose(pose)
}

func (s *OccupancyGridSLAM) handleReferencePose(_ string, payload []byte) {
	pose, err := messaging.Decode[spatialmath.Pose](payload)
	if err != nil {
		s.logger.Warnw("dropping reference pose", "error", err)
		return
	}
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if s.waitingForReference {
		s.initialPose = pose
		s.waitingForReference = false
		s.logger.Infow("received reference pose", "pose", pose)
	}
}

func (s *OccupancyGridSLAM) watchMap(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to watch localization map")
	}
	if err := watcher.Add(path); err != nil {
		return multierr.Combine(errors.Wrapf(err, "failed to watch %q", path), watcher.Close())
	}

	reload := debounce.New(mapReloadDelay)
	s.workers.Add(func(ctx context.Context) {
		defer func() {
			if err := watcher.Close(); err != nil {
				s.logger.Warnw("failed to close map watcher", "error", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					reload(func() { s.reloadMap(path) })
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warnw("map watcher error", "error", err)
			}
		}
	})
	return nil
}

func (s *OccupancyGridSLAM) reloadMap(path string) {
	grid, err := occupancygrid.LoadFromFile(path)
	if err != nil {
		// Writers may still be part way through the file. The next write event retries.
		s.logger.Debugw("could not reload localization map", "error", err)
		return
	}
	s.area.Replace(grid)
	s.logger.Infow("reloaded localization map", "path", path)
}
