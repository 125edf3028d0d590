package env

import (
	"context"

	"dronetrack-rl/internal/airsim"
)

// Simulator is the control session the episode controller drives.
// *airsim.Client satisfies it.
type Simulator interface {
	EnableAPIControl(ctx context.Context, enabled bool) error
	ArmDisarm(ctx context.Context, arm bool) error
	Reset(ctx context.Context) error
	Pause(ctx context.Context, paused bool) error

	TakeoffAsync(timeoutSec float64) *airsim.Call
	LandAsync(timeoutSec float64) *airsim.Call
	HoverAsync() *airsim.Call
	MoveByVelocityBodyFrameAsync(vx, vy, vz, duration float64, yaw airsim.YawMode) *airsim.Call

	SetVehiclePose(ctx context.Context, pose airsim.Pose, ignoreCollision bool) error
	GetVehiclePose(ctx context.Context) (airsim.Pose, error)
	SetObjectPose(ctx context.Context, name string, pose airsim.Pose, teleport bool) error
	GetObjectPose(ctx context.Context, name string) (airsim.Pose, error)
	SetWind(ctx context.Context, wind airsim.Vector3r) error

	GetImage(ctx context.Context, camera string, imageType airsim.ImageType) ([]byte, error)
	GetDetections(ctx context.Context, camera string, imageType airsim.ImageType) ([]airsim.DetectionInfo, error)
	AddDetectionFilterMeshName(ctx context.Context, camera string, imageType airsim.ImageType, mesh string) error
	GetCollisionInfo(ctx context.Context) (airsim.CollisionInfo, error)
}

// FrameSource is the overlay's own image session, separate from the
// controller's so requests never interleave on one connection.
type FrameSource interface {
	GetImage(ctx context.Context, camera string, imageType airsim.ImageType) ([]byte, error)
	Close() error
}

// DialFunc opens a new FrameSource.
type DialFunc func(ctx context.Context) (FrameSource, error)

// Display shows composited overlay frames.
type Display interface {
	Show(Frame) error
}
