package messaging

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/saptadeb/botLab-sub001/logging"
	"github.com/saptadeb/botLab-sub001/utils"
)

// ErrBusClosed is returned when publishing or subscribing on a closed bus.
var ErrBusClosed = errors.New("message bus is closed")

// Handler receives the JSON payload of a message published on channel.
type Handler func(channel string, payload []byte)

// Subscription is a registered handler.
type Subscription interface {
	Unsubscribe()
}

// Bus is a publish/subscribe transport. Handlers run on a goroutine owned by the bus, never on
// the publisher's goroutine.
type Bus interface {
	Publish(channel string, msg interface{}) error
	Subscribe(channel string, handler Handler) (Subscription, error)
	Close() error
}

const defaultQueueSize = 1024

type envelope struct {
	channel string
	payload []byte
}

type subscriber struct {
	id      string
	handler Handler
}

// LocalBus is an in-process Bus. Messages are JSON encoded on publish and delivered in publish
// order by a single dispatch goroutine.
type LocalBus struct {
	logger logging.Logger

	mu          sync.Mutex
	subscribers map[string][]subscriber

	queue   chan envelope
	closed  atomic.Bool
	workers *utils.StoppableWorkers
}

// NewLocalBus starts an in-process bus. queueSize bounds the number of undelivered messages
// before Publish blocks; zero picks a default.
func NewLocalBus(logger logging.Logger, queueSize int) *LocalBus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	b := &LocalBus{
		logger:      logger,
		subscribers: map[string][]subscriber{},
		queue:       make(chan envelope, queueSize),
	}
	b.workers = utils.NewStoppableWorkers(b.dispatch)
	return b
}

// Publish encodes msg and queues it for delivery. It blocks while the queue is full.
func (b *LocalBus) Publish(channel string, msg interface{}) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrapf(err, "failed to encode message for %s", channel)
	}
	select {
	case b.queue <- envelope{channel: channel, payload: payload}:
		return nil
	case <-b.workers.Context().Done():
		return ErrBusClosed
	}
}

// Subscribe registers handler for every later message on channel.
func (b *LocalBus) Subscribe(channel string, handler Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	sub := subscriber{id: uuid.NewString(), handler: handler}
	b.mu.Lock()
	b.subscribers[channel] = append(b.subscribers[channel], sub)
	b.mu.Unlock()
	return &localSubscription{bus: b, channel: channel, id: sub.id}, nil
}

// Pending returns the number of published messages not yet handed to subscribers.
func (b *LocalBus) Pending() int {
	return len(b.queue)
}

// Close stops delivery. Messages still queued are dropped.
func (b *LocalBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.workers.Stop()
	if dropped := len(b.queue); dropped > 0 {
		b.logger.Debugw("message bus closed with undelivered messages", "dropped", dropped)
	}
	return nil
}

func (b *LocalBus) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-b.queue:
			b.mu.Lock()
			handlers := append([]subscriber(nil), b.subscribers[env.channel]...)
			b.mu.Unlock()
			for _, sub := range handlers {
				sub.handler(env.channel, env.payload)
			}
		}
	}
}

func (b *LocalBus) unsubscribe(channel, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[channel]
	for i, sub := range subs {
		if sub.id == id {
			b.subscribers[channel] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

type localSubscription struct {
	bus     *LocalBus
	channel string
	id      string
}

func (s *localSubscription) Unsubscribe() {
	s.bus.unsubscribe(s.channel, s.id)
}

// SubscribeAll subscribes handler to each channel. On failure every subscription made so far is
// undone.
func SubscribeAll(bus Bus, channels []string, handler Handler) ([]Subscription, error) {
	subs := make([]Subscription, 0, len(channels))
	for _, channel := range channels {
		sub, err := bus.Subscribe(channel, handler)
		if err != nil {
			Unsubscribe(subs)
			return nil, errors.Wrapf(err, "failed to subscribe to %s", channel)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Unsubscribe removes every subscription in subs.
func Unsubscribe(subs []Subscription) {
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}
