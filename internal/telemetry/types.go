// Episode telemetry rows with greptime tags
package telemetry

import (
	"os"
	"time"
)

// Episode outcomes.
const (
	OutcomeRunning    = "running"
	OutcomeSuccess    = "success"
	OutcomeLostTarget = "lost_target"
	OutcomeCollision  = "collision"
	OutcomeTruncated  = "truncated"
)

// StepRow represents one environment step for GreptimeDB.
type StepRow struct {
	RunID           string    `json:"run_id"`     // TAG
	EpisodeID       string    `json:"episode_id"` // TAG
	Step            int       `json:"step"`
	Reward          float64   `json:"reward"`
	DistanceReward  float64   `json:"distance_reward"`
	DetectionReward float64   `json:"detection_reward"`
	FinalReward     float64   `json:"final_reward"`
	Distance        float64   `json:"distance"`
	AgentX          float64   `json:"agent_x"`
	AgentY          float64   `json:"agent_y"`
	AgentZ          float64   `json:"agent_z"`
	Detected        bool      `json:"detected"`
	BBoxX           float64   `json:"bbox_x"`
	BBoxY           float64   `json:"bbox_y"`
	BBoxW           float64   `json:"bbox_w"`
	BBoxH           float64   `json:"bbox_h"`
	Collided        bool      `json:"collided"`
	Done            bool      `json:"done"`
	Successful      bool      `json:"successful"`
	Timestamp       time.Time `json:"ts"` // TIME INDEX
}

// EpisodeRow summarizes a finished episode.
type EpisodeRow struct {
	RunID           string    `json:"run_id"`     // TAG
	EpisodeID       string    `json:"episode_id"` // TAG
	Stage           string    `json:"stage,omitempty"`
	Steps           int       `json:"steps"`
	Reward          float64   `json:"reward"`
	DistanceReward  float64   `json:"distance_reward"`
	DetectionReward float64   `json:"detection_reward"`
	FinalReward     float64   `json:"final_reward"`
	FinalDistance   float64   `json:"final_distance"`
	Outcome         string    `json:"outcome"`
	Successful      bool      `json:"successful"`
	SpawnX          float64   `json:"spawn_x"`
	SpawnY          float64   `json:"spawn_y"`
	SpawnZ          float64   `json:"spawn_z"`
	WindX           float64   `json:"wind_x"`
	WindY           float64   `json:"wind_y"`
	Timestamp       time.Time `json:"ts"` // TIME INDEX
}

// StepTableName holds the table name used when writing steps to GreptimeDB.
// It defaults to "env_steps" but can be overridden via the
// GREPTIMEDB_STEP_TABLE environment variable.
var StepTableName = tableFromEnv("GREPTIMEDB_STEP_TABLE", "env_steps")

// EpisodeTableName holds the table name used for episode summaries,
// overridable via GREPTIMEDB_EPISODE_TABLE.
var EpisodeTableName = tableFromEnv("GREPTIMEDB_EPISODE_TABLE", "env_episodes")

func tableFromEnv(key, def string) string {
	if env := os.Getenv(key); env != "" {
		return env
	}
	return def
}

func (StepRow) TableName() string {
	return StepTableName
}

func (EpisodeRow) TableName() string {
	return EpisodeTableName
}
