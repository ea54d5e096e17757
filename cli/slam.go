package cli

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/saptadeb/botLab-sub001/exploration"
	"github.com/saptadeb/botLab-sub001/messaging"
	"github.com/saptadeb/botLab-sub001/slam"
)

// SLAMAction runs SLAM on the bus until interrupted or, when the config replays a log, until the
// whole log has been processed.
func SLAMAction(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, rt.Close())
	}()

	s, err := slam.New(rt.cfg.SLAM, rt.bus, rt.clock, rt.logger.Sublogger("slam"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, s.Close())
	}()
	rt.logger.Infow("running SLAM", "mode", s.Mode().String())

	ctx, stop := signalContext(c)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.Run(ctx) })
	if err := rt.serveBus(ctx, g, slamIdle(s), cancel); err != nil {
		cancel()
		return multierr.Combine(err, g.Wait())
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	pose := s.PoseEstimate()
	fmt.Fprintf(c.App.Writer, "final pose: %s\n", pose)
	if path := c.Path(slamFlagMapOut); path != "" {
		if err := s.SaveMap(path); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "map saved to %s\n", path)
	}
	if path := c.Path(slamFlagRender); path != "" {
		grid, ok := s.Map()
		if !ok {
			return errors.New("no map has been built yet")
		}
		return renderScene(path, scene{
			grid:      grid,
			particles: s.Particles(),
			pose:      &pose,
			robotSize: rt.cfg.Planner.RobotRadius,
			label:     fmt.Sprintf("%s  %s", s.Mode(), pose),
		})
	}
	return nil
}

// ExploreAction runs exploration until it completes, fails or is interrupted. With --with-slam
// the SLAM instance feeding it runs in the same process.
func ExploreAction(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, rt.Close())
	}()

	e, err := exploration.New(rt.cfg.Exploration, rt.bus, rt.clock, rt.logger.Sublogger("exploration"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, e.Close())
	}()

	ctx, stop := signalContext(c)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var idle func() bool
	if c.Bool(exploreFlagWithSLAM) {
		var s *slam.OccupancyGridSLAM
		s, err = slam.New(rt.cfg.SLAM, rt.bus, rt.clock, rt.logger.Sublogger("slam"))
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, s.Close())
		}()
		idle = slamIdle(s)
		g.Go(func() error { return s.Run(ctx) })
	}

	var completed bool
	g.Go(func() error {
		var err error
		completed, err = e.ExploreEnvironment(ctx)
		if err == nil {
			// Exploration reached a terminal state; stop everything else.
			cancel()
		}
		return err
	})
	if err := rt.serveBus(ctx, g, idle, cancel); err != nil {
		cancel()
		return multierr.Combine(err, g.Wait())
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	switch {
	case completed:
		fmt.Fprintln(c.App.Writer, "exploration completed")
		return nil
	case e.State() == messaging.StateFailedExploration:
		return cli.Exit("exploration failed", 1)
	default:
		fmt.Fprintf(c.App.Writer, "exploration stopped while %s\n", e.State())
		return nil
	}
}

func slamIdle(s *slam.OccupancyGridSLAM) func() bool {
	return func() bool { return !s.IsReadyToUpdate() }
}
