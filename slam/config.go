package slam

import (
	"time"

	"github.com/pkg/errors"

	"github.com/saptadeb/botLab-sub001/slam/mapping"
	"github.com/saptadeb/botLab-sub001/slam/particlefilter"
	"github.com/saptadeb/botLab-sub001/spatialmath"
)

// ErrConflictingModes is returned when both mapping-only and localization-only are requested.
var ErrConflictingModes = errors.New("mapping-only mode cannot be combined with a localization map")

// Mode selects which halves of SLAM run.
type Mode int

// Modes of operation.
const (
	// FullSLAM localizes against the map being built.
	FullSLAM Mode = iota
	// MappingOnly builds a map from externally supplied poses.
	MappingOnly
	// LocalizationOnly localizes against a map loaded from a file.
	LocalizationOnly
)

func (m Mode) String() string {
	switch m {
	case FullSLAM:
		return "full_slam"
	case MappingOnly:
		return "mapping_only"
	case LocalizationOnly:
		return "localization_only"
	default:
		return "unknown"
	}
}

// Config configures an OccupancyGridSLAM.
type Config struct {
	MapWidth             float64                          `json:"map_width" mapstructure:"map_width" yaml:"map_width"`
	MapHeight            float64                          `json:"map_height" mapstructure:"map_height" yaml:"map_height"`
	MetersPerCell        float64                          `json:"meters_per_cell" mapstructure:"meters_per_cell" yaml:"meters_per_cell"`
	NumParticles         int                              `json:"num_particles" mapstructure:"num_particles" yaml:"num_particles"`
	HitOdds              int                              `json:"hit_odds" mapstructure:"hit_odds" yaml:"hit_odds"`
	MissOdds             int                              `json:"miss_odds" mapstructure:"miss_odds" yaml:"miss_odds"`
	MaxLaserDistance     float64                          `json:"max_laser_distance" mapstructure:"max_laser_distance" yaml:"max_laser_distance"`
	RayStride            int                              `json:"ray_stride" mapstructure:"ray_stride" yaml:"ray_stride"`
	ActionModel          particlefilter.ActionModelConfig `json:"action_model" mapstructure:"action_model" yaml:"action_model"`
	Seed                 int64                            `json:"seed" mapstructure:"seed" yaml:"seed"`
	PollInterval         time.Duration                    `json:"poll_interval" mapstructure:"poll_interval" yaml:"poll_interval"`
	MappingOnly          bool                             `json:"mapping_only" mapstructure:"mapping_only" yaml:"mapping_only"`
	WatchLocalizationMap bool                             `json:"watch_localization_map" mapstructure:"watch_localization_map" yaml:"watch_localization_map"`
	InitialPose          spatialmath.Pose                 `json:"initial_pose" mapstructure:"initial_pose" yaml:"initial_pose"`

	// Scans with this many rays or fewer are treated as a lidar driver fault and skipped.
	MinRaysPerScan int `json:"min_rays_per_scan" mapstructure:"min_rays_per_scan" yaml:"min_rays_per_scan"`

	// The map is published on every MapPublishPeriod-th iteration.
	MapPublishPeriod int `json:"map_publish_period" mapstructure:"map_publish_period" yaml:"map_publish_period"`

	// LocalizationMap is a map file to localize against. Setting it selects LocalizationOnly.
	LocalizationMap string `json:"localization_map" mapstructure:"localization_map" yaml:"localization_map"`

	// OdometryOnly tracks the robot by dead reckoning instead of scan matching.
	OdometryOnly bool `json:"odometry_only" mapstructure:"odometry_only" yaml:"odometry_only"`

	// WaitForReferencePose holds off until a TRUE_POSE message supplies the initial pose.
	WaitForReferencePose bool `json:"wait_for_reference_pose" mapstructure:"wait_for_reference_pose" yaml:"wait_for_reference_pose"`
}

// DefaultConfig returns the parameters used on the robot.
func DefaultConfig() Config {
	mapCfg := mapping.DefaultConfig()
	return Config{
		MapWidth:         10,
		MapHeight:        10,
		MetersPerCell:    0.05,
		NumParticles:     200,
		HitOdds:          mapCfg.HitOdds,
		MissOdds:         mapCfg.MissOdds,
		MaxLaserDistance: mapCfg.MaxLaserDistance,
		RayStride:        mapCfg.RayStride,
		ActionModel:      particlefilter.DefaultActionModelConfig(),
		MinRaysPerScan:   100,
		MapPublishPeriod: 5,
		PollInterval:     time.Millisecond,
	}
}

// Mode returns the mode selected by the config.
func (cfg Config) Mode() (Mode, error) {
	switch {
	case cfg.MappingOnly && cfg.LocalizationMap != "":
		return FullSLAM, ErrConflictingModes
	case cfg.MappingOnly:
		return MappingOnly, nil
	case cfg.LocalizationMap != "":
		return LocalizationOnly, nil
	default:
		return FullSLAM, nil
	}
}
