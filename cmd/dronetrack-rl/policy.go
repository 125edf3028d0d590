package main

import (
	"fmt"
	"time"

	"golang.org/x/exp/rand"

	"dronetrack-rl/internal/env"
)

// policy picks the next action from the latest observation.
type policy interface {
	Act(obs env.Frame) env.Action
}

// hoverPolicy holds position.
type hoverPolicy struct{}

func (hoverPolicy) Act(env.Frame) env.Action { return env.Action{} }

// randomPolicy samples every control uniformly from [-1, 1].
type randomPolicy struct {
	rng *rand.Rand
}

func (p *randomPolicy) Act(env.Frame) env.Action {
	return env.Action{
		Roll:   p.uniform(),
		Pitch:  p.uniform(),
		Thrust: p.uniform(),
		Yaw:    p.uniform(),
	}
}

func (p *randomPolicy) uniform() float64 { return 2*p.rng.Float64() - 1 }

func newPolicy(name string, seed int64) (policy, error) {
	switch name {
	case "hover":
		return hoverPolicy{}, nil
	case "random":
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		return &randomPolicy{rng: rand.New(rand.NewSource(uint64(seed)))}, nil
	default:
		return nil, fmt.Errorf("unknown policy %q (want random or hover)", name)
	}
}
