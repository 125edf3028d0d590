package record

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"dronetrack-rl/internal/telemetry"
)

// JSONStdoutWriter prints steps and episodes as JSON lines.
type JSONStdoutWriter struct {
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

// WriteStep outputs a step row in JSON format.
func (w *JSONStdoutWriter) WriteStep(row telemetry.StepRow) error {
	data, _ := json.Marshal(row)
	fmt.Fprintln(w.out, string(data))
	return nil
}

// WriteSteps outputs multiple step rows in JSON format.
func (w *JSONStdoutWriter) WriteSteps(rows []telemetry.StepRow) error {
	for _, r := range rows {
		_ = w.WriteStep(r)
	}
	return nil
}

// WriteEpisode outputs an episode summary in JSON format.
func (w *JSONStdoutWriter) WriteEpisode(row telemetry.EpisodeRow) error {
	data, _ := json.Marshal(row)
	fmt.Fprintln(w.out, string(data))
	return nil
}
