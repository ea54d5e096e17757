package slam

import (
	"context"
	"encoding/json"
	"image"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/saptadeb/botLab-sub001/lidar"
	"github.com/saptadeb/botLab-sub001/logging"
	"github.com/saptadeb/botLab-sub001/messaging"
	"github.com/saptadeb/botLab-sub001/occupancygrid"
	"github.com/saptadeb/botLab-sub001/slam/particlefilter"
	"github.com/saptadeb/botLab-sub001/spatialmath"
)

// fakeBus delivers synchronously and records everything published.
type fakeBus struct {
	mu        sync.Mutex
	handlers  map[string][]messaging.Handler
	published []published
}

type published struct {
	channel string
	msg     interface{}
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: map[string][]messaging.Handler{}}
}

func (b *fakeBus) Publish(channel string, msg interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{channel, msg})
	return nil
}

func (b *fakeBus) Subscribe(channel string, handler messaging.Handler) (messaging.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = append(b.handlers[channel], handler)
	return fakeSubscription{}, nil
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) deliver(t *testing.T, channel string, msg interface{}) {
	t.Helper()
	payload, err := json.Marshal(msg)
	test.That(t, err, test.ShouldBeNil)
	b.mu.Lock()
	handlers := b.handlers[channel]
	b.mu.Unlock()
	for _, h := range handlers {
		h(channel, payload)
	}
}

func (b *fakeBus) channels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.published))
	for _, p := range b.published {
		out = append(out, p.channel)
	}
	return out
}

func (b *fakeBus) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = nil
}

type fakeSubscription struct{}

func (fakeSubscription) Unsubscribe() {}

// boxHalfWidth places the walls of the test room in the middle of a cell of the default map.
const boxHalfWidth = 1.525

// boxScan simulates a 180 ray scan from pose inside a square room with walls at +/-boxHalfWidth.
// Every ray is stamped with the scan time.
func boxScan(pose spatialmath.Pose, numRays int) *lidar.LaserScan {
	scan := &lidar.LaserScan{Utime: pose.Utime}
	for i := 0; i < numRays; i++ {
		bearing := 2 * math.Pi * float64(i) / float64(numRays)
		heading := pose.Theta - bearing
		sin, cos := math.Sincos(heading)
		rng := math.Inf(1)
		if math.Abs(cos) > 1e-9 {
			wall := math.Copysign(boxHalfWidth, cos)
			rng = math.Min(rng, (wall-pose.X)/cos)
		}
		if math.Abs(sin) > 1e-9 {
			wall := math.Copysign(boxHalfWidth, sin)
			rng = math.Min(rng, (wall-pose.Y)/sin)
		}
		scan.Ranges = append(scan.Ranges, rng)
		scan.Thetas = append(scan.Thetas, bearing)
		scan.Intensities = append(scan.Intensities, 1)
		scan.Times = append(scan.Times, pose.Utime)
	}
	return scan
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NumParticles = 100
	cfg.ActionModel = particlefilter.ActionModelConfig{}
	cfg.Seed = 7
	return cfg
}

func newTestSLAM(t *testing.T, cfg Config) (*OccupancyGridSLAM, *fakeBus) {
	t.Helper()
	bus := newFakeBus()
	s, err := New(cfg, bus, clock.New(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { test.That(t, s.Close(), test.ShouldBeNil) })
	return s, bus
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MappingOnly = true
	cfg.LocalizationMap = "some.map"
	_, err := New(cfg, newFakeBus(), clock.New(), logging.NewTestLogger(t))
	test.That(t, errors.Is(err, ErrConflictingModes), test.ShouldBeTrue)

	cfg = DefaultConfig()
	cfg.MetersPerCell = 0
	_, err = New(cfg, newFakeBus(), clock.New(), logging.NewTestLogger(t))
	test.That(t, errors.Is(err, occupancygrid.ErrInvalidDimensions), test.ShouldBeTrue)

	cfg = DefaultConfig()
	cfg.NumParticles = 1
	_, err = New(cfg, newFakeBus(), clock.New(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)

	cfg = DefaultConfig()
	cfg.LocalizationMap = filepath.Join(t.TempDir(), "missing.map")
	_, err = New(cfg, newFakeBus(), clock.New(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)

	for mode, expected := range map[Mode]string{
		FullSLAM: "full_slam", MappingOnly: "mapping_only", LocalizationOnly: "localization_only", Mode(9): "unknown",
	} {
		test.That(t, mode.String(), test.ShouldEqual, expected)
	}
}

func TestScansWaitForOdometry(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	bus := newFakeBus()
	s, err := New(testConfig(), bus, clock.New(), logger)
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()

	pose := spatialmath.NewPose(1000, 0, 0, 0)
	for i := 0; i < 10; i++ {
		bus.deliver(t, messaging.LidarChannel, boxScan(pose, 180))
	}
	test.That(t, s.IsReadyToUpdate(), test.ShouldBeFalse)
	test.That(t, s.RunSLAMIteration(), test.ShouldBeFalse)
	test.That(t, logs.FilterMessageSnippet("ignoring laser scans").Len(), test.ShouldEqual, 1)

	// Odometry after the scan does not help: nothing from before the first ray exists.
	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(2000, 0, 0, 0))
	bus.deliver(t, messaging.LidarChannel, boxScan(pose, 180))
	test.That(t, s.IsReadyToUpdate(), test.ShouldBeFalse)

	bus.deliver(t, messaging.LidarChannel, boxScan(spatialmath.NewPose(2500, 0, 0, 0), 180))
	test.That(t, s.IsReadyToUpdate(), test.ShouldBeFalse)
	test.That(t, logs.FilterMessageSnippet("now being saved").Len(), test.ShouldEqual, 1)

	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(3000, 0, 0, 0))
	test.That(t, s.IsReadyToUpdate(), test.ShouldBeTrue)

	// Malformed messages are dropped.
	bus.deliver(t, messaging.LidarChannel, map[string]interface{}{"ranges": []float64{1}, "thetas": []float64{}})
	test.That(t, logs.FilterMessageSnippet("dropping laser scan").Len(), test.ShouldEqual, 1)
}

func TestFullSLAM(t *testing.T) {
	s, bus := newTestSLAM(t, testConfig())
	test.That(t, s.Mode(), test.ShouldEqual, FullSLAM)
	test.That(t, s.SaveMap(filepath.Join(t.TempDir(), "none.map")), test.ShouldNotBeNil)
	_, ok := s.Map()
	test.That(t, ok, test.ShouldBeFalse)

	start := spatialmath.NewPose(500, 0, 0, 0)
	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(0, 0, 0, 0))
	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(1000, 0, 0, 0))
	bus.deliver(t, messaging.LidarChannel, boxScan(start, 180))

	// The first scan only builds the map.
	test.That(t, s.RunSLAMIteration(), test.ShouldBeTrue)
	test.That(t, bus.channels(), test.ShouldResemble, []string{messaging.SLAMMapChannel})
	test.That(t, s.ViewMap(func(grid *occupancygrid.Grid) {
		wall := cellAt(grid, boxHalfWidth, 0)
		test.That(t, wall, test.ShouldResemble, image.Point{130, 100})
		test.That(t, grid.LogOdds(wall.X, wall.Y), test.ShouldBeGreaterThan, 0)
		free := cellAt(grid, 0.5, 0)
		test.That(t, grid.LogOdds(free.X, free.Y), test.ShouldBeLessThan, 0)
		outside := cellAt(grid, 2.5, 0)
		test.That(t, grid.LogOdds(outside.X, outside.Y), test.ShouldEqual, 0)
	}), test.ShouldBeTrue)
	test.That(t, s.PoseEstimate().Utime, test.ShouldEqual, int64(500))

	// Then the robot drives 0.1 m and the filter tracks it against the map.
	truth := spatialmath.NewPose(2500, 0.1, 0, 0)
	bus.reset()
	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(2000, 0.1, 0, 0))
	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(3000, 0.1, 0, 0))
	bus.deliver(t, messaging.LidarChannel, boxScan(truth, 180))
	test.That(t, s.RunSLAMIteration(), test.ShouldBeTrue)
	test.That(t, s.RunSLAMIteration(), test.ShouldBeFalse)
	test.That(t, bus.channels(), test.ShouldResemble, []string{messaging.SLAMPoseChannel, messaging.SLAMParticlesChannel})

	estimate := s.PoseEstimate()
	test.That(t, estimate.Utime, test.ShouldEqual, truth.Utime)
	test.That(t, estimate.DistanceTo(truth), test.ShouldBeLessThan, 0.05)
	test.That(t, s.Particles(), test.ShouldHaveLength, 100)

	bus.mu.Lock()
	published := bus.published[0].msg.(spatialmath.Pose)
	bus.mu.Unlock()
	test.That(t, published, test.ShouldResemble, estimate)

	// Consumed odometry is trimmed down to the pose bracketing the last scan.
	s.dataMu.Lock()
	test.That(t, s.odometryPoses.Front().Utime, test.ShouldEqual, int64(2000))
	s.dataMu.Unlock()

	path := filepath.Join(t.TempDir(), "slam.map")
	test.That(t, s.SaveMap(path), test.ShouldBeNil)
	saved, err := occupancygrid.LoadFromFile(path)
	test.That(t, err, test.ShouldBeNil)
	current, ok := s.Map()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, saved.Cells(), test.ShouldResemble, current.Cells())
}

func TestFullSLAMTracksOdometry(t *testing.T) {
	s, bus := newTestSLAM(t, testConfig())

	var mapIterations []int
	for i := 0; i < 7; i++ {
		x := 0.1 * float64(i)
		utime := int64(2000 * i)
		truth := spatialmath.NewPose(utime+500, x, 0, 0)

		bus.reset()
		bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(utime, x, 0, 0))
		bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(utime+1000, x, 0, 0))
		bus.deliver(t, messaging.LidarChannel, boxScan(truth, 180))
		test.That(t, s.RunSLAMIteration(), test.ShouldBeTrue)

		estimate := s.PoseEstimate()
		test.That(t, estimate.Utime, test.ShouldEqual, truth.Utime)
		test.That(t, estimate.DistanceTo(truth), test.ShouldBeLessThan, 0.02)

		channels := bus.channels()
		for _, channel := range channels {
			if channel == messaging.SLAMMapChannel {
				mapIterations = append(mapIterations, i)
			}
		}
		if i > 0 {
			test.That(t, channels[:2], test.ShouldResemble, []string{messaging.SLAMPoseChannel, messaging.SLAMParticlesChannel})
		}
	}
	test.That(t, mapIterations, test.ShouldResemble, []int{0, 5})
}

func TestInvalidScanIsSkipped(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	bus := newFakeBus()
	s, err := New(testConfig(), bus, clock.New(), logger)
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()

	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(0, 0, 0, 0))
	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(1000, 0, 0, 0))
	bus.deliver(t, messaging.LidarChannel, boxScan(spatialmath.NewPose(500, 0, 0, 0), 100))

	test.That(t, s.RunSLAMIteration(), test.ShouldBeTrue)
	test.That(t, logs.FilterMessageSnippet("invalid laser scan").Len(), test.ShouldEqual, 1)
	test.That(t, bus.channels(), test.ShouldBeEmpty)
	_, ok := s.Map()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestMappingOnly(t *testing.T) {
	cfg := testConfig()
	cfg.MappingOnly = true
	s, bus := newTestSLAM(t, cfg)
	test.That(t, s.Mode(), test.ShouldEqual, MappingOnly)

	// Odometry is not enough in mapping-only mode.
	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(0, 0, 0, 0))
	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(1000, 0, 0, 0))
	bus.deliver(t, messaging.LidarChannel, boxScan(spatialmath.NewPose(500, 0, 0, 0), 180))
	test.That(t, s.IsReadyToUpdate(), test.ShouldBeFalse)

	truth := spatialmath.NewPose(1500, 0.2, -0.1, 0.3)
	bus.deliver(t, messaging.SLAMPoseChannel, truth.WithUtime(1000))
	bus.deliver(t, messaging.SLAMPoseChannel, truth.WithUtime(2000))
	bus.deliver(t, messaging.LidarChannel, boxScan(truth, 180))
	test.That(t, s.RunSLAMIteration(), test.ShouldBeTrue)

	test.That(t, bus.channels(), test.ShouldResemble, []string{messaging.SLAMMapChannel})
	estimate := s.PoseEstimate()
	test.That(t, estimate.Utime, test.ShouldEqual, truth.Utime)
	test.That(t, estimate.DistanceTo(truth), test.ShouldAlmostEqual, 0.0, 1e-9)
	test.That(t, estimate.Theta, test.ShouldAlmostEqual, truth.Theta, 1e-9)

	// The ground-truth pose places the left wall in column 69.
	s.ViewMap(func(grid *occupancygrid.Grid) {
		wallColumn := cellAt(grid, -boxHalfWidth, 0).X
		test.That(t, wallColumn, test.ShouldEqual, 69)
		var hits int
		for y := 0; y < grid.HeightInCells(); y++ {
			if grid.LogOdds(wallColumn, y) > 0 {
				hits++
			}
		}
		test.That(t, hits, test.ShouldBeGreaterThanOrEqualTo, 10)
	})
}

func TestLocalizationOnly(t *testing.T) {
	grid, err := occupancygrid.New(10, 10, 0.05)
	test.That(t, err, test.ShouldBeNil)
	low, high := cellAt(grid, -boxHalfWidth, -boxHalfWidth), cellAt(grid, boxHalfWidth, boxHalfWidth)
	for i := low.X; i <= high.X; i++ {
		grid.SetLogOdds(i, low.Y, 50)
		grid.SetLogOdds(i, high.Y, 50)
	}
	for i := low.Y; i <= high.Y; i++ {
		grid.SetLogOdds(low.X, i, 50)
		grid.SetLogOdds(high.X, i, 50)
	}
	path := filepath.Join(t.TempDir(), "static.map")
	test.That(t, grid.SaveToFile(path), test.ShouldBeNil)

	cfg := testConfig()
	cfg.LocalizationMap = path
	cfg.WatchLocalizationMap = true
	s, bus := newTestSLAM(t, cfg)
	test.That(t, s.Mode(), test.ShouldEqual, LocalizationOnly)

	before, ok := s.Map()
	test.That(t, ok, test.ShouldBeTrue)

	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(0, 0, 0, 0))
	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(1000, 0, 0, 0))
	bus.deliver(t, messaging.LidarChannel, boxScan(spatialmath.NewPose(500, 0, 0, 0), 180))
	test.That(t, s.RunSLAMIteration(), test.ShouldBeTrue)

	// The static map localizes from the first scan and is never modified.
	test.That(t, bus.channels(), test.ShouldResemble,
		[]string{messaging.SLAMPoseChannel, messaging.SLAMParticlesChannel, messaging.SLAMMapChannel})
	after, _ := s.Map()
	test.That(t, after.Cells(), test.ShouldResemble, before.Cells())

	// Rewriting the file reloads it.
	smaller, err := occupancygrid.New(2, 2, 0.05)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, smaller.SaveToFile(path), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		s.ViewMap(func(grid *occupancygrid.Grid) {
			test.That(tb, grid.WidthInCells(), test.ShouldEqual, 40)
		})
	})
}

func cellAt(grid *occupancygrid.Grid, x, y float64) image.Point {
	return occupancygrid.GlobalToCell(spatialmath.NewPose(0, x, y, 0).Point(), grid)
}

func TestWaitForReferencePose(t *testing.T) {
	cfg := testConfig()
	cfg.WaitForReferencePose = true
	s, bus := newTestSLAM(t, cfg)

	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(0, 0, 0, 0))
	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(1000, 0, 0, 0))
	bus.deliver(t, messaging.LidarChannel, boxScan(spatialmath.NewPose(500, 0, 0, 0), 180))
	test.That(t, s.IsReadyToUpdate(), test.ShouldBeFalse)

	reference := spatialmath.NewPose(10, 0.5, -0.5, 1)
	bus.deliver(t, messaging.TruePoseChannel, reference)
	// Only the first reference pose counts.
	bus.deliver(t, messaging.TruePoseChannel, spatialmath.NewPose(20, 3, 3, 3))
	test.That(t, s.IsReadyToUpdate(), test.ShouldBeTrue)
	test.That(t, s.RunSLAMIteration(), test.ShouldBeTrue)

	estimate := s.PoseEstimate()
	test.That(t, estimate.X, test.ShouldEqual, reference.X)
	test.That(t, estimate.Y, test.ShouldEqual, reference.Y)
	test.That(t, estimate.Theta, test.ShouldEqual, reference.Theta)
	test.That(t, estimate.Utime, test.ShouldEqual, int64(500))
}

func TestOdometryOnly(t *testing.T) {
	cfg := testConfig()
	cfg.OdometryOnly = true
	cfg.InitialPose = spatialmath.NewPose(0, 1, 0, math.Pi/2)
	s, bus := newTestSLAM(t, cfg)

	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(0, 0, 0, 0))
	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(1000, 0, 0, 0))
	bus.deliver(t, messaging.LidarChannel, boxScan(spatialmath.NewPose(500, 0, 0, 0), 180))
	test.That(t, s.RunSLAMIteration(), test.ShouldBeTrue)

	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(2000, 0.5, 0, 0))
	bus.deliver(t, messaging.LidarChannel, boxScan(spatialmath.NewPose(1500, 0, 0, 0), 180))
	test.That(t, s.RunSLAMIteration(), test.ShouldBeTrue)

	// Odometry is read in the map frame: driving along odometry x moves the robot along map y.
	estimate := s.PoseEstimate()
	test.That(t, estimate.X, test.ShouldAlmostEqual, 1.0, 1e-9)
	test.That(t, estimate.Y, test.ShouldAlmostEqual, 0.25, 1e-9)
	test.That(t, estimate.Theta, test.ShouldAlmostEqual, math.Pi/2, 1e-9)
}

func TestRunLoop(t *testing.T) {
	s, bus := newTestSLAM(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(0, 0, 0, 0))
	bus.deliver(t, messaging.LidarChannel, boxScan(spatialmath.NewPose(500, 0, 0, 0), 180))
	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(1000, 0, 0, 0))

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		_, ok := s.Map()
		test.That(tb, ok, test.ShouldBeTrue)
	})
	cancel()
	test.That(t, <-done, test.ShouldBeNil)
}

func TestRunLoopPollsOnClock(t *testing.T) {
	bus := newFakeBus()
	mock := clock.NewMock()
	s, err := New(testConfig(), bus, mock, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(0, 0, 0, 0))
	bus.deliver(t, messaging.LidarChannel, boxScan(spatialmath.NewPose(500, 0, 0, 0), 180))
	bus.deliver(t, messaging.OdometryChannel, spatialmath.NewPose(1000, 0, 0, 0))

	// The loop only looks again once the poll interval has passed on the injected clock.
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		mock.Add(testConfig().PollInterval)
		_, ok := s.Map()
		test.That(tb, ok, test.ShouldBeTrue)
	})
	cancel()
	mock.Add(testConfig().PollInterval)
	test.That(t, <-done, test.ShouldBeNil)
}
