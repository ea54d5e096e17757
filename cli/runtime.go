package cli

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/saptadeb/botLab-sub001/config"
	"github.com/saptadeb/botLab-sub001/logging"
	"github.com/saptadeb/botLab-sub001/messaging"
	"github.com/saptadeb/botLab-sub001/messaging/recorder"
	"github.com/saptadeb/botLab-sub001/messaging/wsbridge"
)

const (
	websocketPath         = "/ws"
	serverShutdownTimeout = 5 * time.Second

	// A replay is drained once the bus queue is empty and the consumers have been idle for
	// drainQuietPolls polls in a row.
	drainPollInterval = 20 * time.Millisecond
	drainQuietPolls   = 5
)

// runtime is what every bus-connected command shares: the configuration, the root logger and an
// in-process bus.
type runtime struct {
	cfg     *config.Config
	logger  logging.Logger
	clock   clock.Clock
	bus     *messaging.LocalBus
	closers []io.Closer
}

func newRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := newLogger(c, &cfg.Logging)
	if err != nil {
		return nil, err
	}
	rt := &runtime{
		cfg:    cfg,
		logger: logger,
		clock:  clock.New(),
		bus:    messaging.NewLocalBus(logger.Sublogger("bus"), cfg.Bus.QueueSize),
	}
	if logCloser != nil {
		rt.closers = append(rt.closers, logCloser)
	}
	return rt, nil
}

// loadConfig reads the --config file, or the defaults when there is none, and applies every --set
// override before validating.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.Path(generalFlagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyOverrides(c.StringSlice(generalFlagSet)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the root logger. Logs go to the app's error writer and, when a log file is
// configured, to a rotating file whose closer is returned.
func newLogger(c *cli.Context, cfg *config.LoggingConfig) (logging.Logger, io.Closer, error) {
	level, err := logging.LevelFromString(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if c.Bool(generalFlagDebug) {
		level = logging.DEBUG
	}
	logger := logging.NewBlankLogger("botlab")
	logger.SetLevel(level)
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))

	if file := c.Path(generalFlagLogFile); file != "" {
		cfg.File = file
	}
	var closer io.Closer
	if cfg.File != "" {
		fileCfg, err := cfg.FileAppenderConfig()
		if err != nil {
			return nil, nil, err
		}
		var appender logging.Appender
		appender, closer = logging.NewFileAppender(fileCfg)
		logger.AddAppender(appender)
	}
	if err := logging.UpdateLoggerLevels(cfg.Loggers); err != nil {
		if closer != nil {
			err = multierr.Combine(err, closer.Close())
		}
		return nil, nil, err
	}
	logging.ReplaceGlobal(logger)
	return logger, closer, nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

// serveBus starts the services named in the bus section of the config. Long-running services join
// g and stop when ctx is done. When a log is replayed, done is called after the last message has
// been delivered and idle has reported true for a while; idle may be nil.
func (rt *runtime) serveBus(ctx context.Context, g *errgroup.Group, idle func() bool, done func()) error {
	busCfg := rt.cfg.Bus
	if busCfg.RecordPath != "" {
		log, err := recorder.Open(busCfg.RecordPath, rt.clock, rt.logger.Sublogger("recorder"))
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, log)
		if err := log.Record(rt.bus, busCfg.RecordChannels); err != nil {
			return err
		}
	}
	if busCfg.WebsocketAddress != "" {
		if err := rt.serveWebsocket(ctx, g); err != nil {
			return err
		}
	}
	if busCfg.ReplayPath != "" {
		log, err := recorder.Open(busCfg.ReplayPath, rt.clock, rt.logger.Sublogger("replay"))
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, log)
		g.Go(func() error {
			n, err := log.Replay(ctx, rt.bus, busCfg.ReplaySpeed)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			rt.logger.Infow("replay finished", "messages", n, "log", busCfg.ReplayPath)
			if rt.waitForDrain(ctx, idle) && done != nil {
				done()
			}
			return nil
		})
	}
	return nil
}

func (rt *runtime) serveWebsocket(ctx context.Context, g *errgroup.Group) error {
	busCfg := rt.cfg.Bus
	bridge, err := wsbridge.New(rt.bus, busCfg.WebsocketChannels, 0, rt.logger.Sublogger("websocket"))
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, bridge)

	listener, err := net.Listen("tcp", busCfg.WebsocketAddress)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %q", busCfg.WebsocketAddress)
	}
	mux := http.NewServeMux()
	mux.Handle(websocketPath, bridge)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: serverShutdownTimeout}
	rt.logger.Infow("serving bus over websocket", "url", "ws://"+listener.Addr().String()+websocketPath)

	g.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "websocket server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return nil
}

// waitForDrain blocks until the bus has delivered everything queued and the consumers are idle.
// It returns false if ctx is done first.
func (rt *runtime) waitForDrain(ctx context.Context, idle func() bool) bool {
	ticker := rt.clock.Ticker(drainPollInterval)
	defer ticker.Stop()
	for quiet := 0; quiet < drainQuietPolls; {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
		if rt.bus.Pending() == 0 && (idle == nil || idle()) {
			quiet++
		} else {
			quiet = 0
		}
	}
	return true
}

// Close stops the bus and then closes everything opened for it, most recent first.
func (rt *runtime) Close() error {
	err := rt.bus.Close()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		err = multierr.Combine(err, rt.closers[i].Close())
	}
	rt.closers = nil
	return err
}
