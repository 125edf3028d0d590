package env

import (
	"time"

	"dronetrack-rl/internal/airsim"
	"dronetrack-rl/internal/telemetry"
)

// Action is a normalized control input, each axis nominally in [-1, 1].
type Action struct {
	Roll   float64 `json:"roll"`
	Pitch  float64 `json:"pitch"`
	Thrust float64 `json:"thrust"`
	Yaw    float64 `json:"yaw"`
}

// BBox is a normalized bounding box: center x, center y, width, height
// as fractions of the frame.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// normalizeBox converts a pixel-space detection box to a BBox.
func normalizeBox(b airsim.Box2D, width, height int) BBox {
	w := b.Max.X - b.Min.X
	h := b.Max.Y - b.Min.Y
	return BBox{
		X: (b.Min.X + w/2) / float64(width),
		Y: (b.Min.Y + h/2) / float64(height),
		W: w / float64(width),
		H: h / float64(height),
	}
}

// Episode carries the state of one reset-to-done run.
type Episode struct {
	ID    string
	Stage string
	Steps int

	AgentPosition     airsim.Vector3r
	TargetPosition    airsim.Vector3r
	TargetOrientation airsim.Quaternionr
	Distance          float64
	PrevDistance      float64
	BBox              BBox
	Detected          bool

	Reward          float64
	DistanceReward  float64
	DetectionReward float64
	FinalReward     float64

	TargetStart  airsim.Pose
	TargetOffset airsim.Vector3r
	SpawnOffset  airsim.Vector3r
	Wind         airsim.Vector3r

	Done       bool
	Successful bool
	Outcome    string
	StartedAt  time.Time
}

func (ep *Episode) apply(s Score) {
	ep.Steps++
	ep.Reward += s.Terms.Total()
	ep.DistanceReward += s.Terms.Distance
	ep.DetectionReward += s.Terms.Detection
	ep.FinalReward += s.Terms.Final
	ep.Done = ep.Done || s.Done
	ep.Successful = ep.Successful || s.Successful
	if s.Result != telemetry.OutcomeRunning {
		ep.Outcome = s.Result
	}
}

// StepResult is what Step hands back to the agent.
type StepResult struct {
	Observation Frame
	Reward      float64
	Done        bool
	Successful  bool
	Terms       Terms
}

func (ep *Episode) stepRow(runID string, s Score, collided bool, ts time.Time) telemetry.StepRow {
	return telemetry.StepRow{
		RunID:           runID,
		EpisodeID:       ep.ID,
		Step:            ep.Steps,
		Reward:          s.Terms.Total(),
		DistanceReward:  s.Terms.Distance,
		DetectionReward: s.Terms.Detection,
		FinalReward:     s.Terms.Final,
		Distance:        ep.Distance,
		AgentX:          ep.AgentPosition.X,
		AgentY:          ep.AgentPosition.Y,
		AgentZ:          ep.AgentPosition.Z,
		Detected:        ep.Detected,
		BBoxX:           ep.BBox.X,
		BBoxY:           ep.BBox.Y,
		BBoxW:           ep.BBox.W,
		BBoxH:           ep.BBox.H,
		Collided:        collided,
		Done:            s.Done,
		Successful:      s.Successful,
		Timestamp:       ts,
	}
}

// Summary returns the episode's telemetry row.
func (ep *Episode) Summary(runID string, ts time.Time) telemetry.EpisodeRow {
	outcome := ep.Outcome
	if outcome == "" {
		outcome = telemetry.OutcomeRunning
	}
	return telemetry.EpisodeRow{
		RunID:           runID,
		EpisodeID:       ep.ID,
		Stage:           ep.Stage,
		Steps:           ep.Steps,
		Reward:          ep.Reward,
		DistanceReward:  ep.DistanceReward,
		DetectionReward: ep.DetectionReward,
		FinalReward:     ep.FinalReward,
		FinalDistance:   ep.Distance,
		Outcome:         outcome,
		Successful:      ep.Successful,
		SpawnX:          ep.SpawnOffset.X,
		SpawnY:          ep.SpawnOffset.Y,
		SpawnZ:          ep.SpawnOffset.Z,
		WindX:           ep.Wind.X,
		WindY:           ep.Wind.Y,
		Timestamp:       ts,
	}
}
