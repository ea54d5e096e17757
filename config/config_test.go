package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/invopop/jsonschema"
	"go.viam.com/test"

	"github.com/saptadeb/botLab-sub001/logging"
	"github.com/saptadeb/botLab-sub001/messaging"
	"github.com/saptadeb/botLab-sub001/slam"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.SLAM.NumParticles, test.ShouldEqual, 200)
	test.That(t, cfg.Planner.RobotRadius, test.ShouldEqual, 0.2)
	test.That(t, cfg.Exploration.MinFrontierLength, test.ShouldEqual, 0.35)
	test.That(t, cfg.Bus.RecordChannels, test.ShouldResemble, messaging.AllChannels)
}

func TestFromReader(t *testing.T) {
	doc := `
slam:
  num_particles: 500
  poll_interval: 2ms
  initial_pose:
    x: 1.5
    theta: 0.5
planner:
  robot_radius: 0.15
exploration:
  team_number: 4
bus:
  websocket_channels: [SLAM_MAP]
logging:
  loggers:
    - pattern: slam.*
      level: debug
`
	cfg, err := FromReader(strings.NewReader(doc))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.SLAM.NumParticles, test.ShouldEqual, 500)
	test.That(t, cfg.SLAM.PollInterval, test.ShouldEqual, 2*time.Millisecond)
	test.That(t, cfg.SLAM.InitialPose.X, test.ShouldEqual, 1.5)
	test.That(t, cfg.SLAM.InitialPose.Theta, test.ShouldEqual, 0.5)
	// Untouched settings keep their defaults.
	test.That(t, cfg.SLAM.MetersPerCell, test.ShouldEqual, 0.05)
	test.That(t, cfg.Exploration.TeamNumber, test.ShouldEqual, 4)
	test.That(t, cfg.Exploration.MaxPlanningFailures, test.ShouldEqual, 10)
	test.That(t, cfg.Exploration.Planner.RobotRadius, test.ShouldEqual, 0.15)
	test.That(t, cfg.Bus.WebsocketChannels, test.ShouldResemble, []string{messaging.SLAMMapChannel})
	test.That(t, cfg.Logging.Loggers, test.ShouldHaveLength, 1)
	test.That(t, cfg.Logging.Loggers[0].Level, test.ShouldEqual, "debug")

	empty, err := FromReader(strings.NewReader(""))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Diff(Default(), empty), test.ShouldBeEmpty)

	_, err = FromReader(strings.NewReader("slam:\n  num_partcles: 3\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "num_partcles")

	_, err = FromReader(strings.NewReader("slam: [1, 2"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadExpandsEnvironment(t *testing.T) {
	t.Setenv("BOTLAB_TEAM", "12")
	t.Setenv("BOTLAB_MAP", "/tmp/current.map")
	path := filepath.Join(t.TempDir(), "botlab.yaml")
	doc := "exploration:\n  team_number: ${BOTLAB_TEAM}\nslam:\n  localization_map: ${BOTLAB_MAP}\n"
	test.That(t, os.WriteFile(path, []byte(doc), 0o600), test.ShouldBeNil)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Exploration.TeamNumber, test.ShouldEqual, 12)
	test.That(t, cfg.SLAM.LocalizationMap, test.ShouldEqual, "/tmp/current.map")
	mode, err := cfg.SLAM.Mode()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mode, test.ShouldEqual, slam.LocalizationOnly)

	_, err = Read(filepath.Join(t.TempDir(), "missing.yaml"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyOverrides([]string{
		"slam.num_particles=300",
		"exploration.update_period=250ms",
		"planner.robot_radius=0.1",
		"bus.record_channels=[LIDAR, ODOMETRY]",
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.SLAM.NumParticles, test.ShouldEqual, 300)
	test.That(t, cfg.Exploration.UpdatePeriod, test.ShouldEqual, 250*time.Millisecond)
	test.That(t, cfg.Exploration.Planner.RobotRadius, test.ShouldEqual, 0.1)
	test.That(t, cfg.Bus.RecordChannels, test.ShouldResemble, []string{messaging.LidarChannel, messaging.OdometryChannel})
	test.That(t, cfg.SLAM.MetersPerCell, test.ShouldEqual, 0.05)

	test.That(t, cfg.ApplyOverrides(nil), test.ShouldBeNil)
	test.That(t, cfg.ApplyOverrides([]string{"no_equals"}), test.ShouldNotBeNil)
	test.That(t, cfg.ApplyOverrides([]string{"=1"}), test.ShouldNotBeNil)
	test.That(t, cfg.ApplyOverrides([]string{"slam.unknown=1"}), test.ShouldNotBeNil)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		description string
		mutate      func(cfg *Config)
		errContains string
	}{
		{"conflicting modes", func(cfg *Config) {
			cfg.SLAM.MappingOnly = true
			cfg.SLAM.LocalizationMap = "a.map"
		}, "slam"},
		{"cell size", func(cfg *Config) { cfg.SLAM.MetersPerCell = 0 }, "meters_per_cell"},
		{"map size", func(cfg *Config) { cfg.SLAM.MapHeight = -1 }, "map_height"},
		{"particles", func(cfg *Config) { cfg.SLAM.NumParticles = 1 }, "num_particles"},
		{"odds", func(cfg *Config) { cfg.SLAM.MissOdds = -1 }, "miss_odds"},
		{"laser distance", func(cfg *Config) { cfg.SLAM.MaxLaserDistance = 0 }, "max_laser_distance"},
		{"stride", func(cfg *Config) { cfg.SLAM.RayStride = 0 }, "ray_stride"},
		{"publish period", func(cfg *Config) { cfg.SLAM.MapPublishPeriod = 0 }, "map_publish_period"},
		{"noise", func(cfg *Config) { cfg.SLAM.ActionModel.RotationStdDev = -1 }, "standard deviations"},
		{"robot radius", func(cfg *Config) { cfg.Planner.RobotRadius = 0 }, "planner"},
		{"failures", func(cfg *Config) { cfg.Exploration.MaxPlanningFailures = 0 }, "max_planning_failures"},
		{"update period", func(cfg *Config) { cfg.Exploration.UpdatePeriod = 0 }, "update_period"},
		{"exploration planner", func(cfg *Config) { cfg.Exploration.Planner.RobotRadius = -1 }, "exploration.planner"},
		{"log level", func(cfg *Config) { cfg.Logging.Level = "loud" }, "logging"},
		{"log size", func(cfg *Config) {
			cfg.Logging.File = "botlab.log"
			cfg.Logging.MaxSize = "huge"
		}, "max_size"},
		{"logger pattern", func(cfg *Config) {
			cfg.Logging.Loggers = []logging.LoggerPatternConfig{{Level: "debug"}}
		}, "pattern"},
		{"queue", func(cfg *Config) { cfg.Bus.QueueSize = -1 }, "queue_size"},
		{"replay speed", func(cfg *Config) { cfg.Bus.ReplaySpeed = -1 }, "replay_speed"},
		{"record into replay", func(cfg *Config) {
			cfg.Bus.RecordPath = "run.db"
			cfg.Bus.ReplayPath = "run.db"
		}, "cannot record"},
	} {
		t.Run(tc.description, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errContains)
		})
	}
}

func TestFileAppenderConfig(t *testing.T) {
	cfg := Default().Logging
	cfg.File = "botlab.log"
	cfg.MaxSize = "10MB"
	fileCfg, err := cfg.FileAppenderConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fileCfg.Filename, test.ShouldEqual, "botlab.log")
	test.That(t, fileCfg.MaxSizeMB, test.ShouldEqual, 10)
	test.That(t, fileCfg.MaxBackups, test.ShouldEqual, 3)

	cfg.MaxSize = "512KB"
	fileCfg, err = cfg.FileAppenderConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fileCfg.MaxSizeMB, test.ShouldEqual, 1)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.SLAM.LocalizationMap = "maze.map"
	cfg.Bus.WebsocketAddress = "localhost:8080"
	out, err := cfg.Marshal()
	test.That(t, err, test.ShouldBeNil)

	back, err := FromReader(bytes.NewReader(out))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Diff(cfg, back), test.ShouldBeEmpty)

}

func TestSchemaKeepsSectionsApart(t *testing.T) {
	schema := Schema()
	for _, name := range []string{"config.Config", "slam.Config", "motionplan.Config", "exploration.Config"} {
		test.That(t, schema.Definitions, test.ShouldContainKey, name)
	}

	root := schema.Definitions["config.Config"]
	for section, def := range map[string]string{
		"slam":        "slam.Config",
		"planner":     "motionplan.Config",
		"exploration": "exploration.Config",
	} {
		prop, ok := root.Properties.Get(section)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, prop.(*jsonschema.Schema).Ref, test.ShouldEqual, "#/$defs/"+def)
	}

	_, ok := schema.Definitions["slam.Config"].Properties.Get("num_particles")
	test.That(t, ok, test.ShouldBeTrue)
	_, ok = schema.Definitions["motionplan.Config"].Properties.Get("robot_radius")
	test.That(t, ok, test.ShouldBeTrue)
}
