package env

import (
	"context"
	"errors"
	"image/color"
	"math"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"dronetrack-rl/internal/airsim"
	"dronetrack-rl/internal/telemetry"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestResetCallSequence(t *testing.T) {
	cfg := testConfig()
	sim := newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
	e := New(cfg, sim)

	ep, obs, err := e.Reset(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	want := []string{
		"pause:false", "reset", "control:true", "arm:true", "takeoff", "hover", "move",
		"set_vehicle", "set_object", "wind", "get_object", "get_vehicle", "pause:true", "image",
	}
	if got := sim.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v\nwant %v", got, want)
	}
	if !e.Flying() {
		t.Errorf("expected flying after reset")
	}
	if ep.ID == "" || ep.Steps != 0 || ep.Reward != 0 {
		t.Errorf("unexpected fresh episode %+v", ep)
	}
	if obs.Width != 8 || obs.Height != 6 || len(obs.Pix) != 8*6*3 {
		t.Errorf("unexpected observation %dx%d (%d bytes)", obs.Width, obs.Height, len(obs.Pix))
	}
	if r, g, b := obs.RGB(3, 3); r != 10 || g != 20 || b != 30 {
		t.Errorf("pixel = %d,%d,%d, want 10,20,30", r, g, b)
	}
	if !almostEqual(ep.Distance, 15) || ep.PrevDistance != ep.Distance {
		t.Errorf("distance = %f prev = %f, want 15", ep.Distance, ep.PrevDistance)
	}
}

func TestResetDeterministicWithSeed(t *testing.T) {
	cfg := testConfig()
	cfg.Randomization.Seed = 7
	cfg.Randomization.MaxWindSpeed = 5
	cfg.Randomization.TargetMaxOffset = 1

	var eps [2]*Episode
	for i := range eps {
		sim := newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
		ep, _, err := New(cfg, sim).Reset(context.Background())
		if err != nil {
			t.Fatalf("reset %d: %v", i, err)
		}
		eps[i] = ep
		if sim.vehicle.Position != ep.SpawnOffset {
			t.Errorf("vehicle spawned at %+v, want %+v", sim.vehicle.Position, ep.SpawnOffset)
		}
		if sim.wind != ep.Wind {
			t.Errorf("wind = %+v, want %+v", sim.wind, ep.Wind)
		}
	}
	if eps[0].SpawnOffset != eps[1].SpawnOffset || eps[0].Wind != eps[1].Wind || eps[0].TargetOffset != eps[1].TargetOffset {
		t.Fatalf("resets differ: %+v vs %+v", eps[0], eps[1])
	}
	off := eps[0].SpawnOffset
	if off.X != 0 || math.Abs(off.Y) > 12 || math.Abs(off.Z) > 8 {
		t.Errorf("spawn offset %+v outside configured box", off)
	}
	if eps[0].Wind.Z != 0 || eps[0].Wind.Length() > 5 {
		t.Errorf("wind %+v outside configured range", eps[0].Wind)
	}
}

func TestStepActionMapping(t *testing.T) {
	cfg := testConfig()
	sim := newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
	sim.detections = []airsim.DetectionInfo{centered(cfg, 2, 2)}
	e := New(cfg, sim)
	ep, _, err := e.Reset(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}

	if _, err := e.Step(context.Background(), ep, Action{Roll: 0.5, Pitch: 1, Thrust: 1, Yaw: 1}); err != nil {
		t.Fatalf("step: %v", err)
	}
	last := sim.moves[len(sim.moves)-1]
	if last != [3]float64{2, 1, -2} {
		t.Errorf("velocity = %v, want [2 1 -2]", last)
	}
	if !sim.yaw.IsRate || sim.yaw.YawOrRate != 30 {
		t.Errorf("yaw = %+v, want rate 30", sim.yaw)
	}
	if !almostEqual(ep.AgentPosition.X, 0.1) {
		t.Errorf("agent x = %f, want 0.1", ep.AgentPosition.X)
	}
	want := airsim.Vector3r{X: 15}.Sub(airsim.Vector3r{X: 0.1, Y: 0.05, Z: -0.1}).Length()
	if ep.PrevDistance != 15 || !almostEqual(ep.Distance, want) {
		t.Errorf("distance %f -> %f, want 15 -> %f", ep.PrevDistance, ep.Distance, want)
	}
}

func TestStepSuccess(t *testing.T) {
	cfg := testConfig()
	cfg.Randomization.TargetStart.X = 3
	sim := newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
	sim.detections = []airsim.DetectionInfo{centered(cfg, 2, 2)}
	rec := &stepRecorder{}
	e := New(cfg, sim, WithStepWriter(rec), WithEpisodeWriter(rec), WithRunID("run-1"))

	ep, _, err := e.Reset(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	res, err := e.Step(context.Background(), ep, Action{})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !res.Done || !res.Successful {
		t.Fatalf("expected successful termination, got %+v", res)
	}
	area := 0.25 * (2.0 / 6.0)
	if !almostEqual(res.Terms.Distance, area) || !almostEqual(res.Terms.Detection, 0.2) || !almostEqual(res.Terms.Final, 100) {
		t.Errorf("unexpected terms %+v", res.Terms)
	}
	if !almostEqual(res.Reward, -0.1+area+0.2+100) || !almostEqual(ep.Reward, res.Reward) {
		t.Errorf("reward = %f episode = %f", res.Reward, ep.Reward)
	}
	if b, ok := e.BBox(); !ok || !almostEqual(b.X, 0.5) || !almostEqual(b.W, 0.25) {
		t.Errorf("bbox = %+v ok=%v", b, ok)
	}
	if len(rec.steps) != 1 || rec.steps[0].RunID != "run-1" || !rec.steps[0].Detected {
		t.Errorf("unexpected step rows %+v", rec.steps)
	}
	if len(rec.episodes) != 1 || rec.episodes[0].Outcome != telemetry.OutcomeSuccess || rec.episodes[0].Steps != 1 {
		t.Errorf("unexpected episode rows %+v", rec.episodes)
	}
}

func TestTruncateRecordsSummary(t *testing.T) {
	cfg := testConfig()
	sim := newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
	sim.detections = []airsim.DetectionInfo{centered(cfg, 2, 2)}
	rec := &stepRecorder{}
	e := New(cfg, sim, WithStepWriter(rec), WithEpisodeWriter(rec), WithRunID("run-1"))
	ctx := context.Background()

	ep, _, err := e.Reset(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	res, err := e.Step(ctx, ep, Action{})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if res.Done || len(rec.episodes) != 0 {
		t.Fatalf("expected a running episode, got %+v", res)
	}
	reward := ep.Reward

	e.Truncate(ctx, ep)
	if !ep.Done || ep.Successful || ep.Reward != reward {
		t.Fatalf("unexpected truncated episode %+v", ep)
	}
	if len(rec.episodes) != 1 {
		t.Fatalf("expected one episode row, got %d", len(rec.episodes))
	}
	row := rec.episodes[0]
	if row.Outcome != telemetry.OutcomeTruncated || row.Steps != 1 || row.RunID != "run-1" {
		t.Errorf("unexpected episode row %+v", row)
	}

	e.Truncate(ctx, ep)
	if len(rec.episodes) != 1 {
		t.Errorf("truncating a finished episode wrote %d rows", len(rec.episodes))
	}
}

func TestStepLostTargetBoundary(t *testing.T) {
	cases := []struct {
		target float64
		final  float64
	}{
		{target: 10, final: -25},
		{target: 10.01, final: -50},
		{target: 4, final: -25},
	}
	for _, c := range cases {
		cfg := testConfig()
		cfg.Randomization.TargetStart.X = c.target
		sim := newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
		e := New(cfg, sim)
		ep, _, err := e.Reset(context.Background())
		if err != nil {
			t.Fatalf("reset: %v", err)
		}
		res, err := e.Step(context.Background(), ep, Action{})
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if !res.Done || res.Successful {
			t.Errorf("target %.2f: expected unsuccessful termination, got %+v", c.target, res)
		}
		if res.Terms.Final != c.final || !almostEqual(res.Reward, -0.1+c.final) {
			t.Errorf("target %.2f: final = %f reward = %f, want %f", c.target, res.Terms.Final, res.Reward, c.final)
		}
		if sim.detectCalls != 2 {
			t.Errorf("detections queried %d times, want 2", sim.detectCalls)
		}
		if ep.Outcome != telemetry.OutcomeLostTarget {
			t.Errorf("outcome = %s", ep.Outcome)
		}
	}
}

func TestStepDetectionRetryRecovers(t *testing.T) {
	cfg := testConfig()
	sim := newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
	sim.detections = []airsim.DetectionInfo{centered(cfg, 2, 2)}
	sim.detectAfter = 1
	e := New(cfg, sim)
	ep, _, err := e.Reset(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	res, err := e.Step(context.Background(), ep, Action{})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if res.Done || !ep.Detected {
		t.Errorf("expected detection on retry, got %+v", res)
	}
}

func TestStepCollisionCoOccurs(t *testing.T) {
	cfg := testConfig()
	cfg.Randomization.TargetStart.X = 20
	sim := newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
	sim.collided = true
	e := New(cfg, sim)
	ep, _, err := e.Reset(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	res, err := e.Step(context.Background(), ep, Action{})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !res.Done || res.Terms.Final != -51 {
		t.Errorf("final = %f done=%v, want -51", res.Terms.Final, res.Done)
	}
	if ep.Outcome != telemetry.OutcomeCollision || ep.FinalReward != -51 {
		t.Errorf("outcome = %s final = %f", ep.Outcome, ep.FinalReward)
	}
}

func TestStepTargetDrifts(t *testing.T) {
	cfg := testConfig()
	cfg.Randomization.TargetMaxOffset = 1
	sim := newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
	e := New(cfg, sim, WithSampler(&seqSampler{fractions: []float64{0.75}}))
	ep, _, err := e.Reset(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if ep.TargetOffset != (airsim.Vector3r{X: 0.5, Y: 0.5, Z: 0.5}) {
		t.Fatalf("target offset = %+v", ep.TargetOffset)
	}
	for i := 0; i < 2; i++ {
		if _, err := e.Step(context.Background(), ep, Action{}); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	want := []airsim.Vector3r{{X: 15}, {X: 15.5, Y: 0.5, Z: 0.5}, {X: 16, Y: 1, Z: 1}}
	if len(sim.targetSets) != len(want) {
		t.Fatalf("target set %d times, want %d", len(sim.targetSets), len(want))
	}
	for i, p := range sim.targetSets {
		if p.Position != want[i] {
			t.Errorf("target pose %d = %+v, want %+v", i, p.Position, want[i])
		}
	}
}

func TestStepCorruptObservationFails(t *testing.T) {
	cfg := testConfig()
	sim := newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
	e := New(cfg, sim)
	ep, _, err := e.Reset(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	sim.image = encodePNG(t, 4, 4, color.NRGBA{A: 255})
	if _, err := e.Step(context.Background(), ep, Action{}); !errors.Is(err, ErrFrameSkipped) {
		t.Fatalf("expected ErrFrameSkipped, got %v", err)
	}
}

func TestNoiseAppliedToObservation(t *testing.T) {
	cfg := testConfig()
	cfg.Render.ImageNoise = true
	cfg.Render.NoiseVariance = 0.05
	sim := newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
	_, obs, err := New(cfg, sim).Reset(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	changed := false
	for i := 0; i < len(obs.Pix); i += 3 {
		if obs.Pix[i] != 10 {
			changed = true
		}
	}
	if !changed {
		t.Fatalf("expected noisy observation")
	}

	cfg.Render.NoiseVariance = 0
	sim = newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
	_, obs, err = New(cfg, sim).Reset(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if r, g, b := obs.RGB(0, 0); r != 10 || g != 20 || b != 30 {
		t.Fatalf("variance 0 changed pixels: %d,%d,%d", r, g, b)
	}
}

func TestConnectIdempotent(t *testing.T) {
	cfg := testConfig()
	cfg.Render.Enabled = true
	cfg.Render.YieldInterval = time.Millisecond
	sim := newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
	var dials atomic.Int32
	src := &fakeSource{image: sim.image}
	e := New(cfg, sim, WithOverlay(func(ctx context.Context) (FrameSource, error) {
		dials.Add(1)
		return src, nil
	}, &fakeDisplay{}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := e.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	if !e.Connected() {
		t.Fatalf("expected connected")
	}
	if n := sim.count("control:true"); n != 1 {
		t.Errorf("control acquired %d times, want 1", n)
	}
	if n := sim.count("filter:target"); n != 1 {
		t.Errorf("detection filter added %d times, want 1", n)
	}
	if n := dials.Load(); n != 1 {
		t.Errorf("overlay dialled %d times, want 1", n)
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestCloseWhenDisconnectedIsNoop(t *testing.T) {
	sim := newFakeSim(t, 8, 6)
	e := New(testConfig(), sim)
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	e.TakeOff(context.Background())
	e.Land(context.Background())
	if calls := sim.Calls(); len(calls) != 0 {
		t.Fatalf("expected no simulator calls, got %v", calls)
	}
	if e.Flying() {
		t.Errorf("take-off while disconnected changed flight state")
	}
}

func TestCloseIsBestEffort(t *testing.T) {
	sim := newFakeSim(t, 8, 6)
	sim.disarmErr = errBoom
	releaseErr := errors.New("release failed")
	sim.releaseErr = releaseErr
	e := New(testConfig(), sim)
	ctx := context.Background()
	if err := e.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	e.TakeOff(ctx)

	err := e.Close(ctx)
	if !errors.Is(err, errBoom) || !errors.Is(err, releaseErr) {
		t.Fatalf("expected joined errors, got %v", err)
	}
	want := []string{"control:true", "arm:true", "filter:target", "takeoff", "land", "arm:false", "control:false"}
	if got := sim.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v\nwant %v", got, want)
	}
	if e.Connected() || e.Flying() {
		t.Errorf("expected disconnected and grounded after close")
	}
	if err := e.Close(ctx); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestOverlayDrawsLastBBox(t *testing.T) {
	cfg := testConfig()
	cfg.Render.Enabled = true
	cfg.Render.YieldInterval = time.Millisecond
	sim := newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
	display := &fakeDisplay{}
	var sources []*fakeSource
	e := New(cfg, sim, WithOverlay(func(ctx context.Context) (FrameSource, error) {
		src := &fakeSource{image: sim.image}
		sources = append(sources, src)
		return src, nil
	}, display))
	e.bbox.Store(&BBox{X: 0.5, Y: 0.5, W: 0.5, H: 0.5})
	ctx := context.Background()

	if err := e.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "overlay frame", func() bool { _, n := display.last(); return n > 0 })
	f, _ := display.last()
	if r, g, b := f.RGB(2, 1); r != 0 || g != 255 || b != 0 {
		t.Errorf("corner pixel = %d,%d,%d, want green", r, g, b)
	}
	if r, _, _ := f.RGB(4, 3); r != 10 {
		t.Errorf("rectangle is filled at center")
	}

	done := e.OverlayDone()
	if err := e.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("overlay did not stop after close")
	}
	if !sources[0].isClosed() {
		t.Errorf("overlay session not closed")
	}

	if err := e.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected a new overlay session on reconnect, got %d", len(sources))
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	<-e.OverlayDone()
}

func TestOverlayRestartsWhileOldCallBlocks(t *testing.T) {
	cfg := testConfig()
	cfg.Render.Enabled = true
	cfg.Render.YieldInterval = time.Millisecond
	sim := newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
	display := &fakeDisplay{}
	first := newBlockingSource(sim.image)
	second := &fakeSource{image: sim.image}
	dials := 0
	e := New(cfg, sim, WithOverlay(func(ctx context.Context) (FrameSource, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}, display))
	ctx := context.Background()

	if err := e.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	<-first.entered
	oldDone := e.OverlayDone()
	if err := e.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if dials != 2 {
		t.Fatalf("expected a new overlay session on reconnect, got %d dials", dials)
	}
	close(first.release)

	select {
	case <-oldDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("cancelled overlay kept running after reconnect")
	}
	if n := first.calls.Load(); n != 1 {
		t.Errorf("cancelled overlay fetched %d frames, want 1", n)
	}
	if !first.isClosed() {
		t.Errorf("cancelled overlay session not closed")
	}
	waitFor(t, "frame after reconnect", func() bool { _, n := display.last(); return n > 0 })

	if err := e.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	<-e.OverlayDone()
	if !second.isClosed() {
		t.Errorf("overlay session not closed")
	}
}

func TestOverlaySkipsBadFrames(t *testing.T) {
	cfg := testConfig()
	cfg.Render.Enabled = true
	cfg.Render.YieldInterval = time.Millisecond
	sim := newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
	display := &fakeDisplay{}
	src := &fakeSource{image: []byte("not an image")}
	e := New(cfg, sim, WithOverlay(func(ctx context.Context) (FrameSource, error) {
		return src, nil
	}, display))
	ctx := context.Background()

	if err := e.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "skipped frames", func() bool { return e.OverlayStats().Skipped >= 3 })
	if _, n := display.last(); n != 0 {
		t.Errorf("display shown %d corrupt frames", n)
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	<-e.OverlayDone()
}

func TestOverlayDialFailureKeepsControl(t *testing.T) {
	cfg := testConfig()
	cfg.Render.Enabled = true
	sim := newFakeSim(t, cfg.Camera.Width, cfg.Camera.Height)
	e := New(cfg, sim, WithOverlay(func(ctx context.Context) (FrameSource, error) {
		return nil, errBoom
	}, &fakeDisplay{}))
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !e.Connected() || e.OverlayDone() != nil {
		t.Fatalf("expected connected without overlay")
	}
}
