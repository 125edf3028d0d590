// YAML config loader with CUE validation integration
package config

import (
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Vec3 is a 3D vector in simulator (NED) coordinates.
type Vec3 struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// Simulator selects the RPC endpoint and the named objects queried on it.
type Simulator struct {
	Address     string        `yaml:"address"`
	Vehicle     string        `yaml:"vehicle"`
	Camera      string        `yaml:"camera"`
	ImageType   int           `yaml:"image_type"`
	Target      string        `yaml:"target"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Camera is the fixed observation size.
type Camera struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Control shapes how actions map to velocity commands.
type Control struct {
	Speed             float64 `yaml:"speed"`
	TimeStep          float64 `yaml:"time_step"`
	YawRateScale      float64 `yaml:"yaw_rate_scale"`
	StabilizeDuration float64 `yaml:"stabilize_duration"`
	TakeoffTimeout    float64 `yaml:"takeoff_timeout"`
	LandTimeout       float64 `yaml:"land_timeout"`
	DetectionRetries  int     `yaml:"detection_retries"`
}

// Randomization holds the per-episode initialization ranges.
type Randomization struct {
	Seed            int64   `yaml:"seed"`
	SpawnOrigin     Vec3    `yaml:"spawn_origin"`
	SpawnMaxOffset  Vec3    `yaml:"spawn_max_offset"`
	TargetStart     Vec3    `yaml:"target_start"`
	TargetMaxOffset float64 `yaml:"target_max_offset"`
	MaxWindSpeed    float64 `yaml:"max_wind_speed"`
}

// Reward holds the shaping constants.
type Reward struct {
	StepPenalty       float64 `yaml:"step_penalty"`
	DistanceScale     float64 `yaml:"distance_scale"`
	RetreatMultiplier float64 `yaml:"retreat_multiplier"`
	DetectionScale    float64 `yaml:"detection_scale"`
	SuccessDistance   float64 `yaml:"success_distance"`
	SuccessBonusScale float64 `yaml:"success_bonus_scale"`
	FarMissDistance   float64 `yaml:"far_miss_distance"`
	FarMissPenalty    float64 `yaml:"far_miss_penalty"`
	NearMissPenalty   float64 `yaml:"near_miss_penalty"`
	CollisionPenalty  float64 `yaml:"collision_penalty"`
}

// Render configures the debug overlay and observation noise.
type Render struct {
	Enabled       bool          `yaml:"enabled"`
	ImageNoise    bool          `yaml:"image_noise"`
	NoiseVariance float64       `yaml:"noise_variance"`
	YieldInterval time.Duration `yaml:"yield_interval"`
}

// EnvConfig is the root configuration of the tracking environment.
type EnvConfig struct {
	LogLevel      string        `yaml:"log_level"`
	Simulator     Simulator     `yaml:"simulator"`
	Camera        Camera        `yaml:"camera"`
	Control       Control       `yaml:"control"`
	Randomization Randomization `yaml:"randomization"`
	Reward        Reward        `yaml:"reward"`
	Render        Render        `yaml:"render"`
	Curriculum    string        `yaml:"curriculum"`
}

// Defaults returns the configuration used when a field is not set in YAML.
func Defaults() EnvConfig {
	return EnvConfig{
		LogLevel: "info",
		Simulator: Simulator{
			Address:     "127.0.0.1:41451",
			Camera:      "0",
			Target:      "target",
			DialTimeout: 5 * time.Second,
		},
		Camera: Camera{Width: 320, Height: 240},
		Control: Control{
			Speed:             2.0,
			TimeStep:          0.05,
			YawRateScale:      30,
			StabilizeDuration: 0.02,
			TakeoffTimeout:    20,
			LandTimeout:       60,
			DetectionRetries:  1,
		},
		Randomization: Randomization{
			SpawnMaxOffset: Vec3{X: 0, Y: 12, Z: 8},
			TargetStart:    Vec3{X: 15},
		},
		Reward: Reward{
			StepPenalty:       -0.1,
			DistanceScale:     0.1,
			RetreatMultiplier: 2,
			DetectionScale:    0.4,
			SuccessDistance:   3.5,
			SuccessBonusScale: 500,
			FarMissDistance:   10,
			FarMissPenalty:    -50,
			NearMissPenalty:   -25,
			CollisionPenalty:  -1,
		},
		Render: Render{
			Enabled:       true,
			YieldInterval: time.Millisecond,
		},
	}
}

// Load loads YAML config and validates it against a CUE schema.
// Fields missing from the file keep their Defaults values. AIRSIM_ADDRESS
// overrides the simulator address.
func Load(configPath, cueSchemaPath string) (*EnvConfig, error) {
	if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if addr := os.Getenv("AIRSIM_ADDRESS"); addr != "" {
		cfg.Simulator.Address = addr
	}

	slog.Info("loaded configuration", "path", configPath, "config", cfg)

	return &cfg, nil
}
