package record

import "dronetrack-rl/internal/telemetry"

// MultiWriter fans step and episode rows out to multiple writers.
type MultiWriter struct {
	stepWriters    []StepWriter
	episodeWriters []EpisodeWriter
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(sws []StepWriter, ews []EpisodeWriter) *MultiWriter {
	return &MultiWriter{stepWriters: sws, episodeWriters: ews}
}

// WriteStep sends a step row to all step writers.
func (mw *MultiWriter) WriteStep(row telemetry.StepRow) error {
	for _, w := range mw.stepWriters {
		if err := w.WriteStep(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteSteps sends multiple step rows to all writers, using batch if supported.
func (mw *MultiWriter) WriteSteps(rows []telemetry.StepRow) error {
	for _, w := range mw.stepWriters {
		if err := WriteSteps(w, rows); err != nil {
			return err
		}
	}
	return nil
}

// WriteEpisode sends an episode row to all episode writers.
func (mw *MultiWriter) WriteEpisode(row telemetry.EpisodeRow) error {
	for _, w := range mw.episodeWriters {
		if err := w.WriteEpisode(row); err != nil {
			return err
		}
	}
	return nil
}
