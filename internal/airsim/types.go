// Wire types mirroring the AirSim RPC structs (MSGPACK_DEFINE_MAP field names)
package airsim

import "math"

// ImageType selects the camera render pass.
type ImageType int

// AirSim image types.
const (
	ImageScene ImageType = iota
	ImageDepthPlanar
	ImageDepthPerspective
	ImageDepthVis
	ImageDisparityNormalized
	ImageSegmentation
	ImageSurfaceNormals
	ImageInfrared
)

// Drivetrain types accepted by velocity commands.
const (
	DrivetrainMaxDegreeOfFreedom = 0
	DrivetrainForwardOnly        = 1
)

// Vector3r is a 3D vector in NED world coordinates (meters).
type Vector3r struct {
	X float64 `msgpack:"x_val" json:"x"`
	Y float64 `msgpack:"y_val" json:"y"`
	Z float64 `msgpack:"z_val" json:"z"`
}

// Add returns v + o.
func (v Vector3r) Add(o Vector3r) Vector3r {
	return Vector3r{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns v - o.
func (v Vector3r) Sub(o Vector3r) Vector3r {
	return Vector3r{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Length returns the Euclidean norm of v.
func (v Vector3r) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Quaternionr is an orientation quaternion.
type Quaternionr struct {
	W float64 `msgpack:"w_val" json:"w"`
	X float64 `msgpack:"x_val" json:"x"`
	Y float64 `msgpack:"y_val" json:"y"`
	Z float64 `msgpack:"z_val" json:"z"`
}

// IdentityQuaternion is the zero rotation.
var IdentityQuaternion = Quaternionr{W: 1}

// Pose combines a position and orientation.
type Pose struct {
	Position    Vector3r    `msgpack:"position" json:"position"`
	Orientation Quaternionr `msgpack:"orientation" json:"orientation"`
}

// NewPose returns a pose at position with identity orientation.
func NewPose(position Vector3r) Pose {
	return Pose{Position: position, Orientation: IdentityQuaternion}
}

// Vector2r is a 2D vector in image pixel coordinates.
type Vector2r struct {
	X float64 `msgpack:"x_val"`
	Y float64 `msgpack:"y_val"`
}

// Box2D is an axis-aligned pixel bounding box.
type Box2D struct {
	Min Vector2r `msgpack:"min"`
	Max Vector2r `msgpack:"max"`
}

// Box3D is an axis-aligned box in the camera frame.
type Box3D struct {
	Min Vector3r `msgpack:"min"`
	Max Vector3r `msgpack:"max"`
}

// GeoPoint is a WGS84 location.
type GeoPoint struct {
	Latitude  float64 `msgpack:"latitude"`
	Longitude float64 `msgpack:"longitude"`
	Altitude  float64 `msgpack:"altitude"`
}

// DetectionInfo is one detected mesh inside a camera view.
type DetectionInfo struct {
	Name         string   `msgpack:"name"`
	GeoPoint     GeoPoint `msgpack:"geo_point"`
	Box2D        Box2D    `msgpack:"box2D"`
	Box3D        Box3D    `msgpack:"box3D"`
	RelativePose Pose     `msgpack:"relative_pose"`
}

// CollisionInfo reports the most recent collision of a vehicle.
type CollisionInfo struct {
	HasCollided      bool     `msgpack:"has_collided"`
	Normal           Vector3r `msgpack:"normal"`
	ImpactPoint      Vector3r `msgpack:"impact_point"`
	Position         Vector3r `msgpack:"position"`
	PenetrationDepth float64  `msgpack:"penetration_depth"`
	TimeStamp        int64    `msgpack:"time_stamp"`
	ObjectName       string   `msgpack:"object_name"`
	ObjectID         int      `msgpack:"object_id"`
}

// YawMode selects absolute yaw or yaw rate (degrees, degrees/s).
type YawMode struct {
	IsRate    bool    `msgpack:"is_rate"`
	YawOrRate float64 `msgpack:"yaw_or_rate"`
}
