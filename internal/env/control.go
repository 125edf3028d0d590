package env

import (
	"context"
	"fmt"
	"time"

	"dronetrack-rl/internal/airsim"
	"dronetrack-rl/internal/logging"
	"dronetrack-rl/internal/telemetry"

	"github.com/google/uuid"
)

// Reset starts a new episode: the world is reset, the vehicle takes off and
// is teleported to a random spawn point, the target and wind are
// randomized, and the first observation is returned with the simulation
// paused.
func (e *Env) Reset(ctx context.Context) (*Episode, Frame, error) {
	log := logging.FromContext(ctx)
	ctl := e.cfg.Control
	r := e.randomization

	if err := e.sim.Pause(ctx, false); err != nil {
		return nil, Frame{}, fmt.Errorf("unpause: %w", err)
	}
	if err := e.sim.Reset(ctx); err != nil {
		return nil, Frame{}, fmt.Errorf("reset world: %w", err)
	}
	if err := e.sim.EnableAPIControl(ctx, true); err != nil {
		return nil, Frame{}, fmt.Errorf("enable api control: %w", err)
	}
	if err := e.sim.ArmDisarm(ctx, true); err != nil {
		return nil, Frame{}, fmt.Errorf("arm: %w", err)
	}
	e.sim.TakeoffAsync(ctl.TakeoffTimeout)
	e.sim.HoverAsync()
	stabilize := e.sim.MoveByVelocityBodyFrameAsync(0, 0, 0, ctl.StabilizeDuration, airsim.YawMode{IsRate: true})
	if err := stabilize.Wait(); err != nil {
		return nil, Frame{}, fmt.Errorf("stabilize: %w", err)
	}
	e.flying = true

	ep := &Episode{
		ID:        uuid.NewString(),
		Stage:     e.stage,
		StartedAt: e.now(),
	}

	ep.SpawnOffset = spawnOffset(e.sampler, r.SpawnMaxOffset)
	spawn := airsim.NewPose(vec(r.SpawnOrigin).Add(ep.SpawnOffset))
	if err := e.sim.SetVehiclePose(ctx, spawn, true); err != nil {
		return nil, Frame{}, fmt.Errorf("spawn vehicle: %w", err)
	}

	ep.TargetStart = airsim.NewPose(vec(r.TargetStart))
	if err := e.sim.SetObjectPose(ctx, e.cfg.Simulator.Target, ep.TargetStart, true); err != nil {
		return nil, Frame{}, fmt.Errorf("place target: %w", err)
	}
	ep.TargetOffset = targetOffset(e.sampler, r.TargetMaxOffset)

	ep.Wind = wind(e.sampler, r.MaxWindSpeed)
	if err := e.sim.SetWind(ctx, ep.Wind); err != nil {
		return nil, Frame{}, fmt.Errorf("set wind: %w", err)
	}

	if err := e.refreshPoses(ctx, ep); err != nil {
		return nil, Frame{}, err
	}
	ep.PrevDistance = ep.Distance

	if err := e.sim.Pause(ctx, true); err != nil {
		return nil, Frame{}, fmt.Errorf("pause: %w", err)
	}
	frame, err := e.observe(ctx)
	if err != nil {
		return nil, Frame{}, err
	}

	log.Info("episode reset",
		"episode", ep.ID,
		"stage", ep.Stage,
		"spawn", ep.SpawnOffset,
		"wind", ep.Wind,
		"distance", ep.Distance)
	return ep, frame, nil
}

// Step applies one action for a single time step and grades the result.
func (e *Env) Step(ctx context.Context, ep *Episode, a Action) (StepResult, error) {
	log := logging.FromContext(ctx)
	ctl := e.cfg.Control

	if err := e.sim.Pause(ctx, false); err != nil {
		return StepResult{}, fmt.Errorf("unpause: %w", err)
	}
	yaw := airsim.YawMode{IsRate: true, YawOrRate: a.Yaw * ctl.YawRateScale}
	move := e.sim.MoveByVelocityBodyFrameAsync(a.Pitch*ctl.Speed, a.Roll*ctl.Speed, -a.Thrust*ctl.Speed, ctl.TimeStep, yaw)
	if err := move.Wait(); err != nil {
		return StepResult{}, fmt.Errorf("move: %w", err)
	}
	// The offset is applied to the position mirrored last step, so a
	// non-zero offset moves the target every tick.
	moved := airsim.NewPose(ep.TargetPosition.Add(ep.TargetOffset))
	if err := e.sim.SetObjectPose(ctx, e.cfg.Simulator.Target, moved, true); err != nil {
		return StepResult{}, fmt.Errorf("move target: %w", err)
	}
	if err := e.sim.Pause(ctx, true); err != nil {
		return StepResult{}, fmt.Errorf("pause: %w", err)
	}

	prev := ep.Distance
	if err := e.refreshPoses(ctx, ep); err != nil {
		return StepResult{}, err
	}
	ep.PrevDistance = prev

	dets, err := e.detect(ctx)
	if err != nil {
		return StepResult{}, err
	}
	frame, err := e.observe(ctx)
	if err != nil {
		return StepResult{}, err
	}
	collision, err := e.sim.GetCollisionInfo(ctx)
	if err != nil {
		return StepResult{}, fmt.Errorf("collision info: %w", err)
	}

	o := Outcome{PrevDistance: prev, Distance: ep.Distance, Collided: collision.HasCollided}
	ep.Detected = len(dets) > 0
	if ep.Detected {
		b := normalizeBox(dets[0].Box2D, e.cfg.Camera.Width, e.cfg.Camera.Height)
		o.Detected = true
		o.BBox = b
		ep.BBox = b
		e.bbox.Store(&b)
	}
	score := Grade(e.cfg.Reward, ctl.TimeStep, o)
	ep.apply(score)

	switch {
	case score.Successful:
		log.Info("UAV completed", "episode", ep.ID, "steps", ep.Steps, "reward", ep.Reward)
	case !o.Detected:
		log.Info("target out of view", "episode", ep.ID, "distance", ep.Distance)
	}
	if o.Collided {
		log.Info("UAV collided", "episode", ep.ID)
	}

	e.record(ctx, ep, score, o.Collided)

	return StepResult{
		Observation: frame,
		Reward:      score.Terms.Total(),
		Done:        score.Done,
		Successful:  score.Successful,
		Terms:       score.Terms,
	}, nil
}

// refreshPoses mirrors target and agent positions into ep.
func (e *Env) refreshPoses(ctx context.Context, ep *Episode) error {
	target, err := e.sim.GetObjectPose(ctx, e.cfg.Simulator.Target)
	if err != nil {
		return fmt.Errorf("target pose: %w", err)
	}
	agent, err := e.sim.GetVehiclePose(ctx)
	if err != nil {
		return fmt.Errorf("vehicle pose: %w", err)
	}
	ep.TargetPosition = target.Position
	ep.TargetOrientation = target.Orientation
	ep.AgentPosition = agent.Position
	ep.Distance = target.Position.Sub(agent.Position).Length()
	return nil
}

// detect queries detections, retrying a bounded number of times while the
// list comes back empty.
func (e *Env) detect(ctx context.Context) ([]airsim.DetectionInfo, error) {
	retries := e.cfg.Control.DetectionRetries
	if retries > maxDetectionRetries {
		retries = maxDetectionRetries
	}
	camera, imageType := e.camera()
	var dets []airsim.DetectionInfo
	for attempt := 0; attempt <= retries; attempt++ {
		var err error
		dets, err = e.sim.GetDetections(ctx, camera, imageType)
		if err != nil {
			return nil, fmt.Errorf("detections: %w", err)
		}
		if len(dets) > 0 {
			break
		}
	}
	return dets, nil
}

// observe captures and decodes one frame, applying noise if enabled.
func (e *Env) observe(ctx context.Context) (Frame, error) {
	camera, imageType := e.camera()
	raw, err := e.sim.GetImage(ctx, camera, imageType)
	if err != nil {
		return Frame{}, fmt.Errorf("get image: %w", err)
	}
	res := DecodeFrame(raw, e.cfg.Camera.Width, e.cfg.Camera.Height)
	if res.Skipped() {
		return Frame{}, fmt.Errorf("observation: %w", res.Err)
	}
	return e.noise.Apply(res.Frame), nil
}

func (e *Env) record(ctx context.Context, ep *Episode, s Score, collided bool) {
	log := logging.FromContext(ctx)
	now := e.now()
	if e.steps != nil {
		if err := e.steps.WriteStep(ep.stepRow(e.runID, s, collided, now)); err != nil {
			log.Error("failed to write step", "error", err)
		}
	}
	if s.Done {
		e.writeEpisode(ctx, ep, now)
	}
}

func (e *Env) writeEpisode(ctx context.Context, ep *Episode, now time.Time) {
	if e.episodes == nil {
		return
	}
	if err := e.episodes.WriteEpisode(ep.Summary(e.runID, now)); err != nil {
		logging.FromContext(ctx).Error("failed to write episode", "error", err)
	}
}

// Truncate ends an episode the caller stops early, such as at a step
// limit. No terminal reward is added; the summary is recorded with the
// truncated outcome. A finished episode is left as is.
func (e *Env) Truncate(ctx context.Context, ep *Episode) {
	if ep.Done {
		return
	}
	ep.Done = true
	ep.Outcome = telemetry.OutcomeTruncated
	logging.FromContext(ctx).Info("episode truncated", "episode", ep.ID, "steps", ep.Steps, "distance", ep.Distance)
	e.writeEpisode(ctx, ep, e.now())
}
