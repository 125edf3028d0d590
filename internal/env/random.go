package env

import (
	"math"
	"time"

	"dronetrack-rl/internal/airsim"
	"dronetrack-rl/internal/config"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Sampler draws the random quantities of an episode reset.
type Sampler interface {
	Uniform(min, max float64) float64
}

type uniformSampler struct {
	src rand.Source
}

// NewSampler returns a gonum-backed Sampler. Seed 0 seeds from the clock.
func NewSampler(seed int64) Sampler {
	return &uniformSampler{src: newSource(seed)}
}

func (s *uniformSampler) Uniform(min, max float64) float64 {
	return distuv.Uniform{Min: min, Max: max, Src: s.src}.Rand()
}

func newSource(seed int64) rand.Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.NewSource(uint64(seed))
}

func symmetric(s Sampler, max float64) float64 {
	return s.Uniform(-max, max)
}

// spawnOffset draws a per-axis offset in [-max, max].
func spawnOffset(s Sampler, max config.Vec3) airsim.Vector3r {
	return airsim.Vector3r{
		X: symmetric(s, max.X),
		Y: symmetric(s, max.Y),
		Z: symmetric(s, max.Z),
	}
}

func targetOffset(s Sampler, max float64) airsim.Vector3r {
	return airsim.Vector3r{
		X: symmetric(s, max),
		Y: symmetric(s, max),
		Z: symmetric(s, max),
	}
}

// wind picks a horizontal wind of random speed and heading.
func wind(s Sampler, maxSpeed float64) airsim.Vector3r {
	speed := s.Uniform(0, maxSpeed)
	angle := s.Uniform(0, 2*math.Pi)
	return airsim.Vector3r{X: speed * math.Cos(angle), Y: speed * math.Sin(angle)}
}

func vec(v config.Vec3) airsim.Vector3r {
	return airsim.Vector3r{X: v.X, Y: v.Y, Z: v.Z}
}
