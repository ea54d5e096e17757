package cli

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/saptadeb/botLab-sub001/messaging/recorder"
)

// RecordAction records bus traffic until interrupted. Combined with a replayed log it copies the
// chosen channels of that log and stops once the replay has been recorded.
func RecordAction(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, rt.Close())
	}()

	out := c.Path(recordFlagOut)
	if out == rt.cfg.Bus.ReplayPath {
		return errors.Errorf("cannot record into %q while replaying it", out)
	}
	channels := c.StringSlice(recordFlagChannels)
	if len(channels) == 0 {
		channels = rt.cfg.Bus.RecordChannels
	}
	log, err := recorder.Open(out, rt.clock, rt.logger.Sublogger("recorder"))
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, log)
	if err := log.Record(rt.bus, channels); err != nil {
		return err
	}

	ctx, stop := signalContext(c)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if err := rt.serveBus(ctx, g, nil, cancel); err != nil {
		cancel()
		return multierr.Combine(err, g.Wait())
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	n, err := log.Count()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "recorded %d messages to %s\n", n, out)
	return nil
}

// ReplayAction publishes a recorded log on the bus, for the websocket bridge or a recorder set up
// in the config.
func ReplayAction(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, rt.Close())
	}()

	rt.cfg.Bus.ReplayPath = c.Path(replayFlagLog)
	rt.cfg.Bus.ReplaySpeed = c.Float64(replayFlagSpeed)
	if err := rt.cfg.Bus.Validate("bus"); err != nil {
		return err
	}

	sigCtx, stop := signalContext(c)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if err := rt.serveBus(ctx, g, nil, cancel); err != nil {
		cancel()
		return multierr.Combine(err, g.Wait())
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if sigCtx.Err() == nil {
		fmt.Fprintf(c.App.Writer, "replayed %s\n", rt.cfg.Bus.ReplayPath)
	}
	return nil
}
