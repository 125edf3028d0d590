// Episode controller for the drone tracking environment
package env

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dronetrack-rl/internal/airsim"
	"dronetrack-rl/internal/config"
	"dronetrack-rl/internal/logging"
	"dronetrack-rl/internal/record"

	"github.com/google/uuid"
)

// maxDetectionRetries bounds how often an empty detection list is re-queried.
const maxDetectionRetries = 1

// Env drives one vehicle through reset/step episodes.
type Env struct {
	cfg config.EnvConfig
	sim Simulator

	sampler  Sampler
	noise    *Noise
	steps    record.StepWriter
	episodes record.EpisodeWriter
	runID    string
	now      func() time.Time

	randomization config.Randomization
	stage         string

	dialOverlay  DialFunc
	display      Display
	overlayNoise *Noise

	// connected stops the overlay; each overlay also has its own context.
	connected atomic.Bool
	flying    bool
	bbox      atomic.Pointer[BBox]

	mu            sync.Mutex
	overlayDone   chan struct{}
	overlayCancel context.CancelFunc
	stats         overlayStats
}

// Option customizes an Env.
type Option func(*Env)

// WithOverlay enables the render overlay: dial opens a fresh image session
// for each overlay goroutine and frames are shown on d.
func WithOverlay(dial DialFunc, d Display) Option {
	return func(e *Env) {
		e.dialOverlay = dial
		e.display = d
	}
}

// WithSampler replaces the reset randomness source.
func WithSampler(s Sampler) Option {
	return func(e *Env) { e.sampler = s }
}

// WithStepWriter records every step.
func WithStepWriter(w record.StepWriter) Option {
	return func(e *Env) { e.steps = w }
}

// WithEpisodeWriter records a summary of every finished episode.
func WithEpisodeWriter(w record.EpisodeWriter) Option {
	return func(e *Env) { e.episodes = w }
}

// WithRunID tags telemetry rows with id instead of a random one.
func WithRunID(id string) Option {
	return func(e *Env) { e.runID = id }
}

// WithClock overrides the telemetry timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Env) { e.now = now }
}

// New builds an environment over sim. The configuration is copied.
func New(cfg *config.EnvConfig, sim Simulator, opts ...Option) *Env {
	e := &Env{
		cfg:           *cfg,
		sim:           sim,
		randomization: cfg.Randomization,
		runID:         uuid.NewString(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sampler == nil {
		e.sampler = NewSampler(cfg.Randomization.Seed)
	}
	if cfg.Render.ImageNoise {
		e.noise = NewNoise(cfg.Render.NoiseVariance, newSource(cfg.Randomization.Seed))
		// The overlay runs on its own goroutine and needs its own source.
		e.overlayNoise = NewNoise(cfg.Render.NoiseVariance, newSource(cfg.Randomization.Seed+1))
	}
	return e
}

// RunID identifies this environment's telemetry.
func (e *Env) RunID() string { return e.runID }

// Connected reports whether the control session is held.
func (e *Env) Connected() bool { return e.connected.Load() }

// Flying reports the last commanded flight state.
func (e *Env) Flying() bool { return e.flying }

// BBox returns the last detected box, if any.
func (e *Env) BBox() (BBox, bool) {
	if b := e.bbox.Load(); b != nil {
		return *b, true
	}
	return BBox{}, false
}

// SetRandomization changes the reset ranges used by later episodes.
// stage labels the episodes that follow.
func (e *Env) SetRandomization(stage string, r config.Randomization) {
	e.stage = stage
	e.randomization = r
}

func (e *Env) camera() (string, airsim.ImageType) {
	return e.cfg.Simulator.Camera, airsim.ImageType(e.cfg.Simulator.ImageType)
}

// Connect acquires control, arms and registers the target detection
// filter. Calling it while connected does nothing.
func (e *Env) Connect(ctx context.Context) error {
	if e.connected.Load() {
		return nil
	}
	log := logging.FromContext(ctx)

	if err := e.sim.EnableAPIControl(ctx, true); err != nil {
		return fmt.Errorf("enable api control: %w", err)
	}
	if err := e.sim.ArmDisarm(ctx, true); err != nil {
		return fmt.Errorf("arm: %w", err)
	}
	camera, imageType := e.camera()
	if err := e.sim.AddDetectionFilterMeshName(ctx, camera, imageType, e.cfg.Simulator.Target); err != nil {
		return fmt.Errorf("add detection filter: %w", err)
	}

	e.connected.Store(true)
	if e.cfg.Render.Enabled && e.dialOverlay != nil && e.display != nil {
		e.startOverlay(ctx)
	}
	log.Info("UAV connected", "target", e.cfg.Simulator.Target, "camera", camera)
	return nil
}

// TakeOff starts a take-off without waiting for it.
func (e *Env) TakeOff(ctx context.Context) {
	if !e.connected.Load() {
		return
	}
	e.sim.TakeoffAsync(e.cfg.Control.TakeoffTimeout)
	e.flying = true
	logging.FromContext(ctx).Info("UAV took off")
}

// Land starts a landing without waiting for it.
func (e *Env) Land(ctx context.Context) {
	if !e.connected.Load() {
		return
	}
	e.sim.LandAsync(e.cfg.Control.LandTimeout)
	e.flying = false
	logging.FromContext(ctx).Info("UAV landed")
}

// Close lands if flying, stops the overlay, disarms and releases control.
// Every step runs even if an earlier one failed.
func (e *Env) Close(ctx context.Context) error {
	if !e.connected.Load() {
		return nil
	}
	if e.flying {
		e.Land(ctx)
	}
	e.connected.Store(false)
	e.mu.Lock()
	if e.overlayCancel != nil {
		e.overlayCancel()
		e.overlayCancel = nil
	}
	e.mu.Unlock()

	var errs []error
	if err := e.sim.ArmDisarm(ctx, false); err != nil {
		errs = append(errs, fmt.Errorf("disarm: %w", err))
	}
	if err := e.sim.EnableAPIControl(ctx, false); err != nil {
		errs = append(errs, fmt.Errorf("release api control: %w", err))
	}
	logging.FromContext(ctx).Info("UAV connection closed")
	return errors.Join(errs...)
}
