package env

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"dronetrack-rl/internal/airsim"
	"dronetrack-rl/internal/config"
	"dronetrack-rl/internal/telemetry"
)

// fakeSim is an in-memory Simulator that integrates body velocity commands
// into the vehicle position.
type fakeSim struct {
	mu sync.Mutex

	calls      []string
	vehicle    airsim.Pose
	target     airsim.Pose
	targetSets []airsim.Pose
	moves      [][3]float64
	yaw        airsim.YawMode
	wind       airsim.Vector3r

	detections  []airsim.DetectionInfo
	detectCalls int
	// detectAfter makes detections appear only from this call on.
	detectAfter int
	collided    bool
	image       []byte

	disarmErr  error
	releaseErr error
}

func newFakeSim(t *testing.T, w, h int) *fakeSim {
	t.Helper()
	return &fakeSim{image: encodePNG(t, w, h, color.NRGBA{R: 10, G: 20, B: 30, A: 255})}
}

func (s *fakeSim) log(format string, args ...interface{}) {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

func (s *fakeSim) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSim) count(name string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

func (s *fakeSim) EnableAPIControl(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("control:%t", enabled)
	if !enabled {
		return s.releaseErr
	}
	return nil
}

func (s *fakeSim) ArmDisarm(ctx context.Context, arm bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("arm:%t", arm)
	if !arm {
		return s.disarmErr
	}
	return nil
}

func (s *fakeSim) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("reset")
	return nil
}

func (s *fakeSim) Pause(ctx context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("pause:%t", paused)
	return nil
}

func (s *fakeSim) TakeoffAsync(timeoutSec float64) *airsim.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("takeoff")
	return airsim.Completed(nil)
}

func (s *fakeSim) LandAsync(timeoutSec float64) *airsim.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("land")
	return airsim.Completed(nil)
}

func (s *fakeSim) HoverAsync() *airsim.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("hover")
	return airsim.Completed(nil)
}

func (s *fakeSim) MoveByVelocityBodyFrameAsync(vx, vy, vz, duration float64, yaw airsim.YawMode) *airsim.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("move")
	s.moves = append(s.moves, [3]float64{vx, vy, vz})
	s.yaw = yaw
	s.vehicle.Position = s.vehicle.Position.Add(airsim.Vector3r{X: vx * duration, Y: vy * duration, Z: vz * duration})
	return airsim.Completed(nil)
}

func (s *fakeSim) SetVehiclePose(ctx context.Context, pose airsim.Pose, ignoreCollision bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("set_vehicle")
	s.vehicle = pose
	return nil
}

func (s *fakeSim) GetVehiclePose(ctx context.Context) (airsim.Pose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("get_vehicle")
	return s.vehicle, nil
}

func (s *fakeSim) SetObjectPose(ctx context.Context, name string, pose airsim.Pose, teleport bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("set_object")
	s.target = pose
	s.targetSets = append(s.targetSets, pose)
	return nil
}

func (s *fakeSim) GetObjectPose(ctx context.Context, name string) (airsim.Pose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("get_object")
	return s.target, nil
}

func (s *fakeSim) SetWind(ctx context.Context, wind airsim.Vector3r) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("wind")
	s.wind = wind
	return nil
}

func (s *fakeSim) GetImage(ctx context.Context, camera string, imageType airsim.ImageType) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("image")
	return s.image, nil
}

func (s *fakeSim) GetDetections(ctx context.Context, camera string, imageType airsim.ImageType) ([]airsim.DetectionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("detections")
	s.detectCalls++
	if s.detectCalls <= s.detectAfter {
		return nil, nil
	}
	return s.detections, nil
}

func (s *fakeSim) AddDetectionFilterMeshName(ctx context.Context, camera string, imageType airsim.ImageType, mesh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("filter:%s", mesh)
	return nil
}

func (s *fakeSim) GetCollisionInfo(ctx context.Context) (airsim.CollisionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log("collision")
	return airsim.CollisionInfo{HasCollided: s.collided}, nil
}

// fakeSource serves overlay frames.
type fakeSource struct {
	mu     sync.Mutex
	image  []byte
	err    error
	closed bool
}

func (s *fakeSource) GetImage(ctx context.Context, camera string, imageType airsim.ImageType) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image, s.err
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// blockingSource holds its first GetImage until release is closed.
type blockingSource struct {
	fakeSource
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int64
}

func newBlockingSource(image []byte) *blockingSource {
	return &blockingSource{
		fakeSource: fakeSource{image: image},
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (s *blockingSource) GetImage(ctx context.Context, camera string, imageType airsim.ImageType) ([]byte, error) {
	if s.calls.Add(1) == 1 {
		close(s.entered)
		<-s.release
	}
	return s.fakeSource.GetImage(ctx, camera, imageType)
}

// fakeDisplay keeps every frame it is shown.
type fakeDisplay struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (d *fakeDisplay) Show(f Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, f)
	return d.err
}

func (d *fakeDisplay) last() (Frame, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return Frame{}, 0
	}
	return d.frames[len(d.frames)-1], len(d.frames)
}

// seqSampler replays fixed fractions of each requested range.
type seqSampler struct {
	fractions []float64
	i         int
}

func (s *seqSampler) Uniform(min, max float64) float64 {
	f := s.fractions[s.i%len(s.fractions)]
	s.i++
	return min + (max-min)*f
}

type stepRecorder struct {
	steps    []telemetry.StepRow
	episodes []telemetry.EpisodeRow
	err      error
}

func (r *stepRecorder) WriteStep(row telemetry.StepRow) error {
	r.steps = append(r.steps, row)
	return r.err
}

func (r *stepRecorder) WriteEpisode(row telemetry.EpisodeRow) error {
	r.episodes = append(r.episodes, row)
	return r.err
}

var errBoom = errors.New("boom")

func encodePNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// testConfig is a small-frame configuration with rendering off.
func testConfig() *config.EnvConfig {
	cfg := config.Defaults()
	cfg.Camera = config.Camera{Width: 8, Height: 6}
	cfg.Render.Enabled = false
	cfg.Randomization.Seed = 42
	return &cfg
}

// centered returns a detection whose box is centered with the given pixel size.
func centered(cfg *config.EnvConfig, w, h float64) airsim.DetectionInfo {
	cx, cy := float64(cfg.Camera.Width)/2, float64(cfg.Camera.Height)/2
	return airsim.DetectionInfo{
		Name: "target",
		Box2D: airsim.Box2D{
			Min: airsim.Vector2r{X: cx - w/2, Y: cy - h/2},
			Max: airsim.Vector2r{X: cx + w/2, Y: cy + h/2},
		},
	}
}

func almostEqual(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
