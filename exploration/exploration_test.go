package exploration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.viam.com/test"

	"github.com/saptadeb/botLab-sub001/logging"
	"github.com/saptadeb/botLab-sub001/messaging"
	"github.com/saptadeb/botLab-sub001/occupancygrid"
	"github.com/saptadeb/botLab-sub001/spatialmath"
)

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
	return noopSubscription{}, nil
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) deliver(tb testing.TB, channel string, msg interface{}) {
	tb.Helper()
	payload, err := json.Marshal(msg)
	test.That(tb, err, test.ShouldBeNil)
	b.mu.Lock()
	handlers := b.handlers[channel]
	b.mu.Unlock()
	for _, h := range handlers {
		h(channel, payload)
	}
}

// take returns and clears everything published so far.
func (b *fakeBus) take() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.published
	b.published = nil
	return out
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

func statuses(msgs []published) []messaging.ExplorationStatus {
	var out []messaging.ExplorationStatus
	for _, m := range msgs {
		if m.channel == messaging.ExplorationStatusChannel {
			out = append(out, m.msg.(messaging.ExplorationStatus))
		}
	}
	return out
}

func paths(msgs []published) []messaging.Path {
	var out []messaging.Path
	for _, m := range msgs {
		if m.channel == messaging.ControllerPathChannel {
			out = append(out, m.msg.(messaging.Path))
		}
	}
	return out
}

func newTestExploration(t *testing.T, cfg Config) (*Exploration, *fakeBus) {
	t.Helper()
	bus := newFakeBus()
	e, err := New(cfg, bus, clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { test.That(t, e.Close(), test.ShouldBeNil) })
	return e, bus
}

func deliverMap(tb testing.TB, bus *fakeBus, grid *occupancygrid.Grid) {
	bus.deliver(tb, messaging.SLAMMapChannel, messaging.NewOccupancyGrid(0, grid))
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPlanningFailures = 0
	_, err := New(cfg, newFakeBus(), clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestExploreThenReturnHome(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TeamNumber = 7
	e, bus := newTestExploration(t, cfg)
	grid := openRoom(t)
	home := poseAtCell(grid, 20, 40)

	test.That(t, e.RunIteration(), test.ShouldBeFalse)
	bus.deliver(t, messaging.SLAMPoseChannel, home)
	test.That(t, e.RunIteration(), test.ShouldBeFalse)
	deliverMap(t, bus, grid)

	// Initializing hands over to exploring as soon as there is a pose and a map.
	test.That(t, e.RunIteration(), test.ShouldBeTrue)
	test.That(t, e.State(), test.ShouldEqual, messaging.StateExploringMap)
	test.That(t, statuses(bus.take()), test.ShouldResemble, []messaging.ExplorationStatus{
		{TeamNumber: 7, State: messaging.StateInitializing, Status: messaging.StatusComplete},
	})
	gotHome, ok := e.HomePose()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, gotHome, test.ShouldResemble, home)

	// Nothing new, nothing to do.
	test.That(t, e.RunIteration(), test.ShouldBeFalse)

	bus.deliver(t, messaging.SLAMPoseChannel, home)
	test.That(t, e.RunIteration(), test.ShouldBeTrue)
	msgs := bus.take()
	sent := paths(msgs)
	test.That(t, sent, test.ShouldHaveLength, 1)
	test.That(t, len(sent[0].Path), test.ShouldBeGreaterThanOrEqualTo, 3)
	_, err := uuid.Parse(sent[0].ID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, statuses(msgs)[0].Status, test.ShouldEqual, messaging.StatusInProgress)
	test.That(t, e.Frontiers(), test.ShouldNotBeEmpty)
	test.That(t, e.CurrentPath(), test.ShouldResemble, sent[0].Path)

	// Only a confirmation of the current path counts.
	test.That(t, e.PathConfirmed(), test.ShouldBeFalse)
	bus.deliver(t, messaging.MessageConfirmChannel, messaging.Confirmation{Channel: messaging.ControllerPathChannel, ID: "other"})
	test.That(t, e.PathConfirmed(), test.ShouldBeFalse)
	bus.deliver(t, messaging.MessageConfirmChannel, messaging.Confirmation{Channel: messaging.SLAMPoseChannel, ID: sent[0].ID})
	test.That(t, e.PathConfirmed(), test.ShouldBeFalse)
	bus.deliver(t, messaging.MessageConfirmChannel, messaging.Confirmation{Channel: messaging.ControllerPathChannel, ID: sent[0].ID})
	test.That(t, e.PathConfirmed(), test.ShouldBeTrue)

	// While the path is still good it is not sent again.
	bus.deliver(t, messaging.SLAMPoseChannel, home)
	test.That(t, e.RunIteration(), test.ShouldBeTrue)
	test.That(t, paths(bus.take()), test.ShouldBeEmpty)

	// The map is now fully explored and the robot has driven away from home.
	away := poseAtCell(grid, 35, 40)
	bus.deliver(t, messaging.SLAMPoseChannel, away)
	deliverMap(t, bus, closedRoom(t))
	test.That(t, e.RunIteration(), test.ShouldBeTrue)
	test.That(t, e.State(), test.ShouldEqual, messaging.StateReturningHome)
	test.That(t, statuses(bus.take()), test.ShouldResemble, []messaging.ExplorationStatus{
		{TeamNumber: 7, State: messaging.StateExploringMap, Status: messaging.StatusComplete},
	})

	bus.deliver(t, messaging.SLAMPoseChannel, away)
	test.That(t, e.RunIteration(), test.ShouldBeTrue)
	sent = paths(bus.take())
	test.That(t, sent, test.ShouldHaveLength, 1)
	homePath := sent[0].Path
	test.That(t, homePath[0], test.ShouldResemble, away)
	test.That(t, homePath[len(homePath)-1].DistanceTo(home), test.ShouldBeLessThan, cfg.HomeTolerance)

	bus.deliver(t, messaging.SLAMPoseChannel, home)
	test.That(t, e.RunIteration(), test.ShouldBeTrue)
	test.That(t, e.State(), test.ShouldEqual, messaging.StateCompletedExploration)
	msgs = bus.take()
	test.That(t, statuses(msgs), test.ShouldResemble, []messaging.ExplorationStatus{
		{TeamNumber: 7, State: messaging.StateReturningHome, Status: messaging.StatusComplete},
		{TeamNumber: 7, State: messaging.StateCompletedExploration, Status: messaging.StatusComplete},
	})
	stop := paths(msgs)
	test.That(t, stop, test.ShouldHaveLength, 1)
	test.That(t, stop[0].Path, test.ShouldResemble, []spatialmath.Pose{home})
}

func TestExplorationFailsWhenFrontiersAreUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPlanningFailures = 2
	e, bus := newTestExploration(t, cfg)

	grid := unknownGrid(t, 60, 60)
	fillRect(grid, 10, 29, 40, 31, occupancygrid.GeneratedFreeOdds)
	robot := poseAtCell(grid, 20, 30)
	bus.deliver(t, messaging.SLAMPoseChannel, robot)
	deliverMap(t, bus, grid)
	test.That(t, e.RunIteration(), test.ShouldBeTrue)

	for i := 0; i < cfg.MaxPlanningFailures; i++ {
		bus.deliver(t, messaging.SLAMPoseChannel, robot)
		test.That(t, e.RunIteration(), test.ShouldBeTrue)
		test.That(t, e.State(), test.ShouldEqual, messaging.StateExploringMap)
	}
	bus.take()

	bus.deliver(t, messaging.SLAMPoseChannel, robot)
	test.That(t, e.RunIteration(), test.ShouldBeTrue)
	test.That(t, e.State(), test.ShouldEqual, messaging.StateFailedExploration)
	test.That(t, statuses(bus.take()), test.ShouldResemble, []messaging.ExplorationStatus{
		{TeamNumber: -1, State: messaging.StateExploringMap, Status: messaging.StatusFailed},
		{TeamNumber: -1, State: messaging.StateFailedExploration, Status: messaging.StatusFailed},
	})
}

func TestExploreEnvironment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpdatePeriod = time.Millisecond
	bus := newFakeBus()
	e, err := New(cfg, bus, clock.New(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer e.Close()

	grid := closedRoom(t)
	home := poseAtCell(grid, 20, 40)
	deliverMap(t, bus, grid)

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := e.ExploreEnvironment(context.Background())
		done <- result{ok, err}
	}()

	// Keep the pose coming like SLAM would.
	for {
		bus.deliver(t, messaging.SLAMPoseChannel, home)
		select {
		case r := <-done:
			test.That(t, r.err, test.ShouldBeNil)
			test.That(t, r.ok, test.ShouldBeTrue)
			test.That(t, e.State(), test.ShouldEqual, messaging.StateCompletedExploration)
			return
		case <-time.After(time.Millisecond):
		}
	}
}

func TestExploreEnvironmentCancel(t *testing.T) {
	e, _ := newTestExploration(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := e.ExploreEnvironment(ctx)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, err, test.ShouldBeError, context.Canceled)
	test.That(t, e.State(), test.ShouldEqual, messaging.StateInitializing)
}
