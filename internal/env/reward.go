package env

import (
	"math"

	"dronetrack-rl/internal/config"
	"dronetrack-rl/internal/telemetry"
)

// Terms breaks one step's reward down by source.
type Terms struct {
	Step      float64
	Distance  float64
	Detection float64
	Final     float64
}

// Total is the scalar reward of the step.
func (t Terms) Total() float64 {
	return t.Step + t.Distance + t.Detection + t.Final
}

// Outcome is what the environment observed after one action.
type Outcome struct {
	PrevDistance float64
	Distance     float64
	Detected     bool
	BBox         BBox
	Collided     bool
}

// Score is the result of grading an Outcome.
type Score struct {
	Terms      Terms
	Done       bool
	Successful bool
	Result     string
}

// Grade computes the shaped reward for one step. It is pure.
func Grade(r config.Reward, timeStep float64, o Outcome) Score {
	s := Score{Terms: Terms{Step: r.StepPenalty}, Result: telemetry.OutcomeRunning}

	if o.Detected {
		s.Terms.Distance = distanceReward(r, timeStep, o.PrevDistance, o.Distance, o.BBox)
		s.Terms.Detection = detectionReward(r, o.BBox)
		if o.Distance < r.SuccessDistance {
			s.Done = true
			s.Successful = true
			s.Result = telemetry.OutcomeSuccess
			if s.Terms.Detection > 0 {
				s.Terms.Final += r.SuccessBonusScale * s.Terms.Detection
			}
		}
	} else {
		s.Done = true
		s.Result = telemetry.OutcomeLostTarget
		if o.Distance > r.FarMissDistance {
			s.Terms.Final += r.FarMissPenalty
		} else {
			s.Terms.Final += r.NearMissPenalty
		}
	}

	if o.Collided {
		s.Done = true
		s.Terms.Final += r.CollisionPenalty
		if !s.Successful {
			s.Result = telemetry.OutcomeCollision
		}
	}
	return s
}

// distanceReward rewards closing on the target, punishes retreating
// harder, and adds the box area.
func distanceReward(r config.Reward, timeStep, prev, cur float64, b BBox) float64 {
	d := (prev - cur) * r.DistanceScale / timeStep
	if d < 0 {
		d *= r.RetreatMultiplier
	}
	return d + b.W*b.H
}

// detectionReward peaks when the target is centered in the frame.
func detectionReward(r config.Reward, b BBox) float64 {
	return (0.5 - math.Abs(b.X-0.5) - math.Abs(b.Y-0.5)) * r.DetectionScale
}
