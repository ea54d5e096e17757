// Package config defines the botlab configuration file.
package config

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/saptadeb/botLab-sub001/exploration"
	"github.com/saptadeb/botLab-sub001/logging"
	"github.com/saptadeb/botLab-sub001/messaging"
	"github.com/saptadeb/botLab-sub001/motionplan"
	"github.com/saptadeb/botLab-sub001/slam"
)

// Config is the whole configuration file.
type Config struct {
	SLAM    slam.Config       `json:"slam" mapstructure:"slam" yaml:"slam"`
	Planner motionplan.Config `json:"planner" mapstructure:"planner" yaml:"planner"`
	// The planner section is copied into Exploration.Planner after decoding.
	Exploration exploration.Config `json:"exploration" mapstructure:"exploration" yaml:"exploration"`
	Logging     LoggingConfig      `json:"logging" mapstructure:"logging" yaml:"logging"`
	Bus         BusConfig          `json:"bus" mapstructure:"bus" yaml:"bus"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `json:"level" mapstructure:"level" yaml:"level"`
	// File, when set, adds a rotating log file next to stdout.
	File       string `json:"file,omitempty" mapstructure:"file" yaml:"file,omitempty"`
	MaxSize    string `json:"max_size" mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days" yaml:"max_age_days"`

	Loggers []logging.LoggerPatternConfig `json:"loggers,omitempty" mapstructure:"loggers" yaml:"loggers,omitempty"`
}

// BusConfig configures the message bus and the services attached to it.
type BusConfig struct {
	QueueSize int `json:"queue_size" mapstructure:"queue_size" yaml:"queue_size"`
	// RecordPath is a sqlite file every message on RecordChannels is written to.
	RecordPath     string   `json:"record_path,omitempty" mapstructure:"record_path" yaml:"record_path,omitempty"`
	RecordChannels []string `json:"record_channels" mapstructure:"record_channels" yaml:"record_channels"`
	// ReplayPath is a sqlite file replayed onto the bus at start up.
	ReplayPath  string  `json:"replay_path,omitempty" mapstructure:"replay_path" yaml:"replay_path,omitempty"`
	ReplaySpeed float64 `json:"replay_speed" mapstructure:"replay_speed" yaml:"replay_speed"`
	// WebsocketAddress, when set, serves bus traffic on WebsocketChannels to websocket clients.
	WebsocketAddress  string   `json:"websocket_address,omitempty" mapstructure:"websocket_address" yaml:"websocket_address,omitempty"`
	WebsocketChannels []string `json:"websocket_channels" mapstructure:"websocket_channels" yaml:"websocket_channels"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		SLAM:        slam.DefaultConfig(),
		Planner:     motionplan.DefaultConfig(),
		Exploration: exploration.DefaultConfig(),
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    "100MB",
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Bus: BusConfig{
			ReplaySpeed:    1,
			RecordChannels: append([]string(nil), messaging.AllChannels...),
			WebsocketChannels: []string{
				messaging.SLAMPoseChannel,
				messaging.SLAMMapChannel,
				messaging.ControllerPathChannel,
				messaging.ExplorationStatusChannel,
			},
		},
	}
}

// Validate checks every section.
func (cfg *Config) Validate() error {
	if err := validateSLAM(&cfg.SLAM, "slam"); err != nil {
		return err
	}
	if err := validatePlanner(&cfg.Planner, "planner"); err != nil {
		return err
	}
	if err := validateExploration(&cfg.Exploration, "exploration"); err != nil {
		return err
	}
	if err := cfg.Logging.Validate("logging"); err != nil {
		return err
	}
	return cfg.Bus.Validate("bus")
}

func validateSLAM(cfg *slam.Config, path string) error {
	if _, err := cfg.Mode(); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	if cfg.MetersPerCell <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("meters_per_cell must be positive"))
	}
	if cfg.MapWidth <= 0 || cfg.MapHeight <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("map_width and map_height must be positive"))
	}
	if cfg.NumParticles < 2 {
		return goutils.NewConfigValidationError(path, errors.Errorf("num_particles must be at least 2, got %d", cfg.NumParticles))
	}
	if cfg.HitOdds < 0 || cfg.MissOdds < 0 {
		return goutils.NewConfigValidationError(path, errors.New("hit_odds and miss_odds cannot be negative"))
	}
	if cfg.MaxLaserDistance <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_laser_distance must be positive"))
	}
	if cfg.RayStride < 1 {
		return goutils.NewConfigValidationError(path, errors.New("ray_stride must be at least 1"))
	}
	if cfg.MapPublishPeriod < 1 {
		return goutils.NewConfigValidationError(path, errors.New("map_publish_period must be at least 1"))
	}
	if cfg.ActionModel.RotationStdDev < 0 || cfg.ActionModel.TranslationStdDev < 0 {
		return goutils.NewConfigValidationError(path, errors.New("action model standard deviations cannot be negative"))
	}
	return nil
}

func validatePlanner(cfg *motionplan.Config, path string) error {
	if cfg.RobotRadius <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("robot_radius must be positive"))
	}
	return nil
}

func validateExploration(cfg *exploration.Config, path string) error {
	if cfg.MaxPlanningFailures < 1 {
		return goutils.NewConfigValidationError(path, errors.New("max_planning_failures must be at least 1"))
	}
	if cfg.MinFrontierLength < 0 || cfg.FrontierSearchRadius < 0 || cfg.HomeTolerance < 0 {
		return goutils.NewConfigValidationError(path, errors.New("lengths cannot be negative"))
	}
	if cfg.UpdatePeriod <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("update_period must be positive"))
	}
	return validatePlanner(&cfg.Planner, fmt.Sprintf("%s.planner", path))
}

// Validate checks the logging section.
func (cfg *LoggingConfig) Validate(path string) error {
	if _, err := logging.LevelFromString(cfg.Level); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	if cfg.File != "" {
		if _, err := cfg.FileAppenderConfig(); err != nil {
			return goutils.NewConfigValidationError(path, err)
		}
	}
	for i, lc := range cfg.Loggers {
		if lc.Pattern == "" {
			return goutils.NewConfigValidationFieldRequiredError(fmt.Sprintf("%s.loggers.%d", path, i), "pattern")
		}
	}
	return nil
}

// FileAppenderConfig converts the file settings for the logging package.
func (cfg *LoggingConfig) FileAppenderConfig() (logging.FileAppenderConfig, error) {
	size, err := units.FromHumanSize(cfg.MaxSize)
	if err != nil {
		return logging.FileAppenderConfig{}, errors.Wrapf(err, "invalid max_size %q", cfg.MaxSize)
	}
	megabytes := int(size / units.MB)
	if megabytes < 1 {
		megabytes = 1
	}
	return logging.FileAppenderConfig{
		Filename:   cfg.File,
		MaxSizeMB:  megabytes,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	}, nil
}

// Validate checks the bus section.
func (cfg *BusConfig) Validate(path string) error {
	if cfg.QueueSize < 0 {
		return goutils.NewConfigValidationError(path, errors.New("queue_size cannot be negative"))
	}
	if cfg.ReplaySpeed < 0 {
		return goutils.NewConfigValidationError(path, errors.New("replay_speed cannot be negative"))
	}
	if cfg.RecordPath != "" && cfg.RecordPath == cfg.ReplayPath {
		return goutils.NewConfigValidationError(path, errors.New("cannot record into the log being replayed"))
	}
	return nil
}
