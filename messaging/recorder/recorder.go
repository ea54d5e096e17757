// Package recorder stores bus traffic in a sqlite database and plays it back.
package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/saptadeb/botLab-sub001/logging"
	"github.com/saptadeb/botLab-sub001/messaging"
)

const schema = `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		utime BIGINT NOT NULL,
		channel TEXT NOT NULL,
		payload BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS messages_channel ON messages (channel);
`

// Message is one recorded bus message.
type Message struct {
	ID      int64
	Utime   int64
	Channel string
	Payload []byte
}

// Log is a message log backed by a sqlite file.
type Log struct {
	db     *sql.DB
	clock  clock.Clock
	logger logging.Logger

	mu   sync.Mutex
	subs []messaging.Subscription

	// Insert failures are logged at most once a second.
	failureLog rate.Sometimes
}

// Open opens or creates the log at path.
func Open(path string, clk clock.Clock, logger logging.Logger) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open message log %q", path)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "failed to create message log %q", path), db.Close())
	}
	return &Log{db: db, clock: clk, logger: logger, failureLog: rate.Sometimes{Interval: time.Second}}, nil
}

// Record subscribes to every channel and appends each message received to the log until Close.
func (l *Log) Record(bus messaging.Bus, channels []string) error {
	subs, err := messaging.SubscribeAll(bus, channels, l.handle)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.subs = append(l.subs, subs...)
	l.mu.Unlock()
	l.logger.Infow("recording messages", "channels", channels)
	return nil
}

func (l *Log) handle(channel string, payload []byte) {
	if err := l.Append(channel, payload); err != nil {
		l.failureLog.Do(func() {
			l.logger.Warnw("failed to record message", "channel", channel, "error", err)
		})
	}
}

// Append stores a message stamped with the current time.
func (l *Log) Append(channel string, payload []byte) error {
	_, err := l.db.Exec(
		"INSERT INTO messages (utime, channel, payload) VALUES (?, ?, ?)",
		l.clock.Now().UnixMicro(), channel, payload,
	)
	return errors.Wrap(err, "failed to insert message")
}

// Count returns the number of recorded messages.
func (l *Log) Count() (int, error) {
	var n int
	err := l.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&n)
	return n, errors.Wrap(err, "failed to count messages")
}

// Messages returns every recorded message in recording order.
func (l *Log) Messages(ctx context.Context) ([]Message, error) {
	var out []Message
	err := l.each(ctx, func(msg Message) error {
		out = append(out, msg)
		return nil
	})
	return out, err
}

func (l *Log) each(ctx context.Context, f func(Message) error) (err error) {
	rows, err := l.db.QueryContext(ctx, "SELECT id, utime, channel, payload FROM messages ORDER BY id")
	if err != nil {
		return errors.Wrap(err, "failed to query messages")
	}
	defer func() {
		err = multierr.Combine(err, rows.Close())
	}()
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Utime, &msg.Channel, &msg.Payload); err != nil {
			return errors.Wrap(err, "failed to read message")
		}
		if err := f(msg); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Replay publishes every recorded message on bus in recording order. Messages are spaced by
// their recorded time differences divided by speed; a speed of 0 or less replays without
// waiting. It returns the number of messages published.
func (l *Log) Replay(ctx context.Context, bus messaging.Bus, speed float64) (int, error) {
	// The log has a single connection, which Record may need while we publish.
	msgs, err := l.Messages(ctx)
	if err != nil {
		return 0, err
	}
	for i, msg := range msgs {
		if i > 0 && speed > 0 {
			if delta := msg.Utime - msgs[i-1].Utime; delta > 0 {
				select {
				case <-ctx.Done():
					return i, ctx.Err()
				case <-l.clock.After(time.Duration(float64(delta)/speed) * time.Microsecond):
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := bus.Publish(msg.Channel, json.RawMessage(msg.Payload)); err != nil {
			return i, errors.Wrapf(err, "failed to replay message %d", msg.ID)
		}
	}
	l.logger.Infow("replay finished", "messages", len(msgs))
	return len(msgs), nil
}

// Close stops recording and closes the database.
func (l *Log) Close() error {
	l.mu.Lock()
	messaging.Unsubscribe(l.subs)
	l.subs = nil
	l.mu.Unlock()
	return l.db.Close()
}
