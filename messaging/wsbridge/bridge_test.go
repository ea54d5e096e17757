package wsbridge

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/saptadeb/botLab-sub001/logging"
	"github.com/saptadeb/botLab-sub001/messaging"
	"github.com/saptadeb/botLab-sub001/spatialmath"
)

func TestBridgeForwardsSubscribedChannels(t *testing.T) {
	logger := logging.NewTestLogger(t)
	bus := messaging.NewLocalBus(logger, 0)
	defer bus.Close()

	bridge, err := New(bus, []string{messaging.SLAMPoseChannel}, 0, logger)
	test.That(t, err, test.ShouldBeNil)
	server := httptest.NewServer(bridge)
	defer server.Close()
	defer bridge.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, bridge.NumClients(), test.ShouldEqual, 1)
	})

	test.That(t, bus.Publish(messaging.OdometryChannel, spatialmath.NewPose(1, 0, 0, 0)), test.ShouldBeNil)
	test.That(t, bus.Publish(messaging.SLAMPoseChannel, spatialmath.NewPose(2, 1, 2, 3)), test.ShouldBeNil)

	test.That(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)), test.ShouldBeNil)
	var env Envelope
	test.That(t, conn.ReadJSON(&env), test.ShouldBeNil)
	test.That(t, env.Channel, test.ShouldEqual, messaging.SLAMPoseChannel)
	pose, err := messaging.Decode[spatialmath.Pose](env.Payload)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose, test.ShouldResemble, spatialmath.NewPose(2, 1, 2, 3))

	test.That(t, conn.Close(), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, bridge.NumClients(), test.ShouldEqual, 0)
	})
}

func TestBridgeDropsSlowClients(t *testing.T) {
	logger := logging.NewTestLogger(t)
	bus := messaging.NewLocalBus(logger, 0)
	defer bus.Close()
	bridge, err := New(bus, nil, 2, logger)
	test.That(t, err, test.ShouldBeNil)
	defer bridge.Close()

	slow := newClient(2)
	fast := newClient(10)
	bridge.addClient(slow)
	bridge.addClient(fast)

	for i := 0; i < 3; i++ {
		bridge.broadcast(messaging.SLAMPoseChannel, []byte(`{}`))
	}
	test.That(t, bridge.NumClients(), test.ShouldEqual, 1)
	test.That(t, fast.send, test.ShouldHaveLength, 3)
	select {
	case <-slow.done:
	default:
		t.Fatal("slow client was not closed")
	}
	// Closing twice is fine.
	slow.close()
}
