package record

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"dronetrack-rl/internal/telemetry"
)

// ReplayLog replays step rows from r to writer. A speed >0 accelerates playback.
// If speed <= 0, no artificial delay is inserted.
func ReplayLog(r io.Reader, writer StepWriter, speed float64) error {
	dec := json.NewDecoder(r)
	var prev time.Time
	for {
		var row telemetry.StepRow
		if err := dec.Decode(&row); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if !prev.IsZero() && speed > 0 {
			diff := row.Timestamp.Sub(prev)
			if speed != 1 {
				diff = time.Duration(float64(diff) / speed)
			}
			if diff > 0 {
				time.Sleep(diff)
			}
		}
		if err := writer.WriteStep(row); err != nil {
			return err
		}
		prev = row.Timestamp
	}
}

// ReplayLogFile opens a file and replays its step rows.
func ReplayLogFile(path string, writer StepWriter, speed float64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return ReplayLog(f, writer, speed)
}

// Summarizer rebuilds episode summaries from a step stream and forwards
// each finished episode to an EpisodeWriter.
type Summarizer struct {
	out     EpisodeWriter
	current map[string]*telemetry.EpisodeRow
}

// NewSummarizer returns a StepWriter that emits one EpisodeRow per episode
// whose final step is seen.
func NewSummarizer(out EpisodeWriter) *Summarizer {
	return &Summarizer{out: out, current: make(map[string]*telemetry.EpisodeRow)}
}

// WriteStep accumulates row into its episode.
func (s *Summarizer) WriteStep(row telemetry.StepRow) error {
	ep, ok := s.current[row.EpisodeID]
	if !ok {
		ep = &telemetry.EpisodeRow{RunID: row.RunID, EpisodeID: row.EpisodeID, Outcome: telemetry.OutcomeRunning}
		s.current[row.EpisodeID] = ep
	}
	ep.Steps = row.Step
	ep.Reward += row.Reward
	ep.DistanceReward += row.DistanceReward
	ep.DetectionReward += row.DetectionReward
	ep.FinalReward += row.FinalReward
	ep.FinalDistance = row.Distance
	ep.Timestamp = row.Timestamp
	if !row.Done {
		return nil
	}

	ep.Successful = row.Successful
	switch {
	case row.Successful:
		ep.Outcome = telemetry.OutcomeSuccess
	case row.Collided:
		ep.Outcome = telemetry.OutcomeCollision
	default:
		ep.Outcome = telemetry.OutcomeLostTarget
	}
	delete(s.current, row.EpisodeID)
	return s.out.WriteEpisode(*ep)
}
