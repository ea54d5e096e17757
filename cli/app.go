// Package cli contains the botlab command line application.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	// Global flags.
	generalFlagConfig  = "config"
	generalFlagDebug   = "debug"
	generalFlagLogFile = "log-file"
	generalFlagSet     = "set"

	slamFlagMapOut = "map-out"
	slamFlagRender = "render"

	exploreFlagWithSLAM = "with-slam"

	planFlagMap    = "map"
	planFlagStart  = "start"
	planFlagGoal   = "goal"
	planFlagRender = "render"

	gridgenFlagType    = "type"
	gridgenFlagOut     = "out"
	gridgenFlagWidth   = "width"
	gridgenFlagHeight  = "height"
	gridgenFlagCell    = "meters-per-cell"
	gridgenFlagOpening = "opening"

	renderFlagMap       = "map"
	renderFlagOut       = "out"
	renderFlagScale     = "scale"
	renderFlagDistances = "distances"
	renderFlagFrontiers = "frontiers"

	recordFlagOut      = "out"
	recordFlagChannels = "channels"
	replayFlagLog      = "log"
	replayFlagSpeed    = "speed"

	benchFlagMap        = "map"
	benchFlagIterations = "iterations"
	benchFlagSeed       = "seed"
	benchFlagPlot       = "plot"

	gridTypeEmpty  = "empty"
	gridTypeFilled = "filled"
	gridTypeNarrow = "narrow"
	gridTypeWide   = "wide"
)

var app = &cli.App{
	Name:            "botlab",
	Usage:           "occupancy grid SLAM, planning and exploration",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.PathFlag{
			Name:    generalFlagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.PathFlag{
			Name:  generalFlagLogFile,
			Usage: "also write logs to a rotating `FILE`",
		},
		&cli.StringSliceFlag{
			Name:  generalFlagSet,
			Usage: "override a configuration value, e.g. --set slam.num_particles=500",
		},
	},
	Commands: []*cli.Command{
		{
			Name:  "slam",
			Usage: "build a map and localize the robot from lidar and odometry on the message bus",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:  slamFlagMapOut,
					Usage: "save the final map to `FILE`",
				},
				&cli.PathFlag{
					Name:  slamFlagRender,
					Usage: "render the final map and pose to a PNG `FILE`",
				},
			},
			Action: SLAMAction,
		},
		{
			Name:  "explore",
			Usage: "explore the environment and return home",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  exploreFlagWithSLAM,
					Usage: "run SLAM in the same process",
				},
			},
			Action: ExploreAction,
		},
		{
			Name:      "plan",
			Usage:     "plan a path between two poses on a map file",
			UsageText: "botlab plan --map <map> --start x,y[,theta] --goal x,y[,theta]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     planFlagMap,
					Required: true,
					Usage:    "map `FILE` to plan on",
				},
				&cli.StringFlag{
					Name:     planFlagStart,
					Required: true,
					Usage:    "start pose as x,y[,theta]",
				},
				&cli.StringFlag{
					Name:     planFlagGoal,
					Required: true,
					Usage:    "goal pose as x,y[,theta]",
				},
				&cli.PathFlag{
					Name:  planFlagRender,
					Usage: "render the map and path to a PNG `FILE`",
				},
			},
			Action: PlanAction,
		},
		{
			Name:  "gridgen",
			Usage: "write a generated test map",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  gridgenFlagType,
					Value: gridTypeEmpty,
					Usage: "one of empty, filled, narrow or wide",
				},
				&cli.PathFlag{
					Name:     gridgenFlagOut,
					Required: true,
					Usage:    "map `FILE` to write",
				},
				&cli.Float64Flag{
					Name:  gridgenFlagWidth,
					Value: 15,
					Usage: "width in meters",
				},
				&cli.Float64Flag{
					Name:  gridgenFlagHeight,
					Value: 15,
					Usage: "height in meters",
				},
				&cli.Float64Flag{
					Name:  gridgenFlagCell,
					Value: 0.05,
					Usage: "cell size in meters",
				},
				&cli.Float64Flag{
					Name:  gridgenFlagOpening,
					Usage: "opening width in meters for narrow and wide maps (default 0.1 and 0.5)",
				},
			},
			Action: GridGenAction,
		},
		{
			Name:  "render",
			Usage: "render a map file to PNG",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     renderFlagMap,
					Required: true,
					Usage:    "map `FILE` to render",
				},
				&cli.PathFlag{
					Name:     renderFlagOut,
					Required: true,
					Usage:    "PNG `FILE` to write",
				},
				&cli.IntFlag{
					Name:  renderFlagScale,
					Value: 4,
					Usage: "pixels per cell",
				},
				&cli.BoolFlag{
					Name:  renderFlagDistances,
					Usage: "render the obstacle distance grid instead of the log-odds",
				},
				&cli.BoolFlag{
					Name:  renderFlagFrontiers,
					Usage: "mark every frontier reachable from the world origin",
				},
			},
			Action: RenderAction,
		},
		{
			Name:  "record",
			Usage: "record bus traffic into a sqlite log until interrupted",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     recordFlagOut,
					Required: true,
					Usage:    "sqlite `FILE` to record into",
				},
				&cli.StringSliceFlag{
					Name:  recordFlagChannels,
					Usage: "channels to record (default from config)",
				},
			},
			Action: RecordAction,
		},
		{
			Name:  "replay",
			Usage: "replay a sqlite log onto the bus",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     replayFlagLog,
					Required: true,
					Usage:    "sqlite `FILE` to replay",
				},
				&cli.Float64Flag{
					Name:  replayFlagSpeed,
					Value: 1,
					Usage: "playback speed, 0 for as fast as possible",
				},
			},
			Action: ReplayAction,
		},
		{
			Name:  "bench",
			Usage: "time the planner between random poses on a map",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     benchFlagMap,
					Required: true,
					Usage:    "map `FILE` to plan on",
				},
				&cli.IntFlag{
					Name:  benchFlagIterations,
					Value: 100,
					Usage: "number of plans",
				},
				&cli.Int64Flag{
					Name:  benchFlagSeed,
					Value: 1,
					Usage: "seed for the random poses",
				},
				&cli.PathFlag{
					Name:  benchFlagPlot,
					Usage: "save a histogram of planning times to a PNG `FILE`",
				},
			},
			Action: BenchAction,
		},
		{
			Name:            "config",
			Usage:           "work with configuration files",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:   "print",
					Usage:  "print the effective configuration",
					Action: PrintConfigAction,
				},
				{
					Name:   "schema",
					Usage:  "print the JSON schema of the configuration file",
					Action: ConfigSchemaAction,
				},
			},
		},
	},
}

// NewApp returns the app with its output sent to out and errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
