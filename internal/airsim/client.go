package airsim

import (
	"context"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// DefaultAddress is the AirSim RPC endpoint on a local simulator.
const DefaultAddress = "127.0.0.1:41451"

// Client wraps one RPC session with a multirotor vehicle.
type Client struct {
	conn    *Conn
	vehicle string
}

// Dial connects to the simulator at addr, controlling the named vehicle
// (empty selects the default vehicle).
func Dial(ctx context.Context, addr, vehicle string) (*Client, error) {
	conn, err := DialConn(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, vehicle: vehicle}, nil
}

// NewClient wraps an existing stream, mainly for tests.
func NewClient(rwc io.ReadWriteCloser, vehicle string) *Client {
	return &Client{conn: NewConn(rwc), vehicle: vehicle}
}

// Close terminates the session.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	var ok bool
	err := c.conn.Call(ctx, &ok, "ping")
	return ok, err
}

// EnableAPIControl acquires or releases API control authority.
func (c *Client) EnableAPIControl(ctx context.Context, enabled bool) error {
	return c.conn.Call(ctx, nil, "enableApiControl", enabled, c.vehicle)
}

// ArmDisarm arms or disarms the motors.
func (c *Client) ArmDisarm(ctx context.Context, arm bool) error {
	var ok bool
	if err := c.conn.Call(ctx, &ok, "armDisarm", arm, c.vehicle); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("airsim: armDisarm(%t) rejected", arm)
	}
	return nil
}

// Reset restores the whole world to its initial state.
func (c *Client) Reset(ctx context.Context) error {
	return c.conn.Call(ctx, nil, "reset")
}

// Pause freezes or resumes simulated time.
func (c *Client) Pause(ctx context.Context, paused bool) error {
	return c.conn.Call(ctx, nil, "simPause", paused)
}

// TakeoffAsync starts a take-off.
func (c *Client) TakeoffAsync(timeoutSec float64) *Call {
	return c.conn.Go("takeoff", timeoutSec, c.vehicle)
}

// LandAsync starts a landing.
func (c *Client) LandAsync(timeoutSec float64) *Call {
	return c.conn.Go("land", timeoutSec, c.vehicle)
}

// HoverAsync holds the current position.
func (c *Client) HoverAsync() *Call {
	return c.conn.Go("hover", c.vehicle)
}

// MoveByVelocityBodyFrameAsync flies at (vx, vy, vz) m/s relative to the
// vehicle heading for duration seconds.
func (c *Client) MoveByVelocityBodyFrameAsync(vx, vy, vz, duration float64, yaw YawMode) *Call {
	return c.conn.Go("moveByVelocityBodyFrame", vx, vy, vz, duration, DrivetrainMaxDegreeOfFreedom, yaw, c.vehicle)
}

// SetVehiclePose teleports the vehicle.
func (c *Client) SetVehiclePose(ctx context.Context, pose Pose, ignoreCollision bool) error {
	return c.conn.Call(ctx, nil, "simSetVehiclePose", pose, ignoreCollision, c.vehicle)
}

// GetVehiclePose returns the current vehicle pose.
func (c *Client) GetVehiclePose(ctx context.Context) (Pose, error) {
	var p Pose
	err := c.conn.Call(ctx, &p, "simGetVehiclePose", c.vehicle)
	return p, err
}

// SetObjectPose moves a named scene object.
func (c *Client) SetObjectPose(ctx context.Context, name string, pose Pose, teleport bool) error {
	var ok bool
	if err := c.conn.Call(ctx, &ok, "simSetObjectPose", name, pose, teleport); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("airsim: object %q not found", name)
	}
	return nil
}

// GetObjectPose returns the pose of a named scene object.
func (c *Client) GetObjectPose(ctx context.Context, name string) (Pose, error) {
	var p Pose
	err := c.conn.Call(ctx, &p, "simGetObjectPose", name)
	return p, err
}

// SetWind sets the ambient wind vector in m/s.
func (c *Client) SetWind(ctx context.Context, wind Vector3r) error {
	return c.conn.Call(ctx, nil, "simSetWind", wind)
}

// GetImage returns one compressed (PNG) frame from the named camera.
func (c *Client) GetImage(ctx context.Context, camera string, imageType ImageType) ([]byte, error) {
	var raw msgpack.RawMessage
	if err := c.conn.Call(ctx, &raw, "simGetImage", camera, imageType, c.vehicle, false); err != nil {
		return nil, err
	}
	return decodeBytes(raw)
}

// GetDetections lists the filtered meshes visible from the named camera.
func (c *Client) GetDetections(ctx context.Context, camera string, imageType ImageType) ([]DetectionInfo, error) {
	var out []DetectionInfo
	err := c.conn.Call(ctx, &out, "simGetDetections", camera, imageType, c.vehicle, false)
	return out, err
}

// AddDetectionFilterMeshName registers a mesh name pattern for detection.
func (c *Client) AddDetectionFilterMeshName(ctx context.Context, camera string, imageType ImageType, mesh string) error {
	return c.conn.Call(ctx, nil, "simAddDetectionFilterMeshName", camera, imageType, mesh, c.vehicle, false)
}

// GetCollisionInfo returns the last collision of the vehicle.
func (c *Client) GetCollisionInfo(ctx context.Context) (CollisionInfo, error) {
	var ci CollisionInfo
	err := c.conn.Call(ctx, &ci, "simGetCollisionInfo", c.vehicle)
	return ci, err
}

// decodeBytes accepts both bin and int-array encodings of a byte vector.
func decodeBytes(raw msgpack.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var b []byte
	if err := msgpack.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var ints []int
	if err := msgpack.Unmarshal(raw, &ints); err != nil {
		return nil, fmt.Errorf("airsim: decode image: %w", err)
	}
	b = make([]byte, len(ints))
	for i, v := range ints {
		b[i] = byte(v)
	}
	return b, nil
}
