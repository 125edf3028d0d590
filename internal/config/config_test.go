package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const schemaPath = "../../schemas/env.cue"

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "env.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	path := writeTemp(t, `
camera:
  width: 640
  height: 480
randomization:
  seed: 7
  spawn_max_offset: {y: 15, z: 10}
render:
  enabled: false
  yield_interval: 5ms
`)
	cfg, err := Load(path, schemaPath)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Camera.Width != 640 || cfg.Camera.Height != 480 {
		t.Errorf("unexpected camera %+v", cfg.Camera)
	}
	if cfg.Randomization.Seed != 7 || cfg.Randomization.SpawnMaxOffset.Y != 15 || cfg.Randomization.SpawnMaxOffset.Z != 10 {
		t.Errorf("unexpected randomization %+v", cfg.Randomization)
	}
	if cfg.Render.Enabled {
		t.Errorf("expected render disabled")
	}
	if cfg.Render.YieldInterval != 5*time.Millisecond {
		t.Errorf("yield interval = %s, want 5ms", cfg.Render.YieldInterval)
	}
	// Untouched sections keep their defaults.
	if cfg.Reward.SuccessDistance != 3.5 || cfg.Control.Speed != 2 {
		t.Errorf("expected defaults, got reward=%+v control=%+v", cfg.Reward, cfg.Control)
	}
	if cfg.Simulator.Target != "target" {
		t.Errorf("target = %q, want target", cfg.Simulator.Target)
	}
}

func TestLoadConfig_SchemaViolation(t *testing.T) {
	path := writeTemp(t, `
control:
  speed: -1
`)
	if _, err := Load(path, schemaPath); err == nil {
		t.Fatalf("expected schema violation for negative speed")
	}
}

func TestLoadConfig_UnknownField(t *testing.T) {
	path := writeTemp(t, `
camera:
  depth: 3
`)
	if _, err := Load(path, schemaPath); err == nil {
		t.Fatalf("expected schema violation for unknown field")
	}
}

func TestLoadConfig_Shipped(t *testing.T) {
	cfg, err := Load("../../config/env.yaml", schemaPath)
	if err != nil {
		t.Fatalf("shipped config invalid: %v", err)
	}
	if cfg.Randomization.SpawnMaxOffset != (Vec3{X: 0, Y: 12, Z: 8}) {
		t.Errorf("unexpected spawn box %+v", cfg.Randomization.SpawnMaxOffset)
	}
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.Camera.Width != 320 || d.Camera.Height != 240 {
		t.Errorf("unexpected default camera %+v", d.Camera)
	}
	if d.Reward.SuccessBonusScale != 500 {
		t.Errorf("success bonus scale = %f, want 500", d.Reward.SuccessBonusScale)
	}
	if d.Control.DetectionRetries != 1 {
		t.Errorf("detection retries = %d, want 1", d.Control.DetectionRetries)
	}
}

func TestLoadConfig_AddressOverride(t *testing.T) {
	t.Setenv("AIRSIM_ADDRESS", "10.0.0.5:41451")
	path := writeTemp(t, `
simulator:
  address: 127.0.0.1:41451
`)
	cfg, err := Load(path, schemaPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Simulator.Address != "10.0.0.5:41451" {
		t.Fatalf("address = %s, want env override", cfg.Simulator.Address)
	}
}
