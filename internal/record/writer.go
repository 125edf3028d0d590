package record

import "dronetrack-rl/internal/telemetry"

// StepWriter receives one row per environment step.
type StepWriter interface {
	WriteStep(telemetry.StepRow) error
}

// EpisodeWriter receives one summary row per finished episode.
type EpisodeWriter interface {
	WriteEpisode(telemetry.EpisodeRow) error
}

// Optional: Step writers may support batch mode.
type batchStepWriter interface {
	WriteSteps([]telemetry.StepRow) error
}

// WriteSteps sends rows to w, using batch mode when w supports it.
func WriteSteps(w StepWriter, rows []telemetry.StepRow) error {
	if bw, ok := w.(batchStepWriter); ok {
		return bw.WriteSteps(rows)
	}
	for _, r := range rows {
		if err := w.WriteStep(r); err != nil {
			return err
		}
	}
	return nil
}
