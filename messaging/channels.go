// Package messaging defines the channels and messages exchanged between the botlab processes and
// the publish/subscribe bus that carries them.
package messaging

// Channel names.
const (
	LidarChannel             = "LIDAR"
	OdometryChannel          = "ODOMETRY"
	SLAMPoseChannel          = "SLAM_POSE"
	SLAMParticlesChannel     = "SLAM_PARTICLES"
	SLAMMapChannel           = "SLAM_MAP"
	TruePoseChannel          = "TRUE_POSE"
	ControllerPathChannel    = "CONTROLLER_PATH"
	MessageConfirmChannel    = "MSG_CONFIRM"
	ExplorationStatusChannel = "EXPLORATION_STATUS"
)

// AllChannels lists every channel, in a stable order.
var AllChannels = []string{
	LidarChannel,
	OdometryChannel,
	SLAMPoseChannel,
	SLAMParticlesChannel,
	SLAMMapChannel,
	TruePoseChannel,
	ControllerPathChannel,
	MessageConfirmChannel,
	ExplorationStatusChannel,
}
