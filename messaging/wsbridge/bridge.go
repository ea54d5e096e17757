// Package wsbridge mirrors bus traffic to websocket clients as JSON.
package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/saptadeb/botLab-sub001/logging"
	"github.com/saptadeb/botLab-sub001/messaging"
	"github.com/saptadeb/botLab-sub001/utils"
)

const (
	defaultQueueSize = 64
	writeTimeout     = 5 * time.Second
)

// Envelope is the frame sent to clients for every bus message.
type Envelope struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// Bridge is an http.Handler that upgrades requests to websockets and forwards messages from the
// subscribed channels to every connected client. A client that falls more than the queue size
// behind is disconnected.
type Bridge struct {
	logger    logging.Logger
	upgrader  websocket.Upgrader
	queueSize int

	mu      sync.Mutex
	clients map[*client]struct{}
	subs    []messaging.Subscription
	workers *utils.StoppableWorkers
}

type client struct {
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(queueSize int) *client {
	return &client{send: make(chan []byte, queueSize), done: make(chan struct{})}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// New subscribes to channels on bus. queueSize is the number of frames buffered per client; zero
// picks a default.
func New(bus messaging.Bus, channels []string, queueSize int, logger logging.Logger) (*Bridge, error) {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	b := &Bridge{
		logger:    logger,
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		queueSize: queueSize,
		clients:   map[*client]struct{}{},
		workers:   utils.NewStoppableWorkers(),
	}
	subs, err := messaging.SubscribeAll(bus, channels, b.broadcast)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start websocket bridge")
	}
	b.subs = subs
	return b, nil
}

// NumClients returns the number of connected clients.
func (b *Bridge) NumClients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Bridge) broadcast(channel string, payload []byte) {
	frame, err := json.Marshal(Envelope{Channel: channel, Payload: payload})
	if err != nil {
		b.logger.Warnw("failed to encode websocket frame", "channel", channel, "error", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		select {
		case c.send <- frame:
		default:
			b.logger.Warn("dropping slow websocket client")
			delete(b.clients, c)
			c.close()
		}
	}
}

func (b *Bridge) addClient(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = struct{}{}
}

func (b *Bridge) removeClient(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c)
}

// ServeHTTP upgrades the request and serves the client until it disconnects, is dropped or the
// bridge closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Debugw("websocket upgrade failed", "error", err)
		return
	}
	if b.workers.Context().Err() != nil {
		//nolint:errcheck
		conn.Close()
		return
	}

	c := newClient(b.queueSize)
	b.addClient(c)
	b.logger.Infow("websocket client connected", "remote", r.RemoteAddr)
	b.workers.Add(func(ctx context.Context) {
		b.writeFrames(ctx, conn, c)
	})
	if b.workers.Context().Err() != nil {
		// Closed while connecting, so no writer owns the connection.
		//nolint:errcheck
		conn.Close()
	}

	// Clients only send control frames; reading surfaces disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	b.removeClient(c)
	c.close()
	b.logger.Infow("websocket client disconnected", "remote", r.RemoteAddr)
}

func (b *Bridge) writeFrames(ctx context.Context, conn *websocket.Conn, c *client) {
	defer func() {
		if err := conn.Close(); err != nil {
			b.logger.Debugw("failed to close websocket", "error", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			b.writeClose(conn)
			return
		case <-c.done:
			b.writeClose(conn)
			return
		case frame := <-c.send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				b.logger.Debugw("websocket write failed", "error", err)
				return
			}
		}
	}
}

func (b *Bridge) writeClose(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	//nolint:errcheck
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// Close unsubscribes from the bus and disconnects every client.
func (b *Bridge) Close() error {
	messaging.Unsubscribe(b.subs)
	b.workers.Stop()
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		c.close()
		delete(b.clients, c)
	}
	return nil
}
