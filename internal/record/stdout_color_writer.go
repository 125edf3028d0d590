// ColorStdoutWriter prints human-friendly, colorized episode telemetry to STDOUT.
package record

import (
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"dronetrack-rl/internal/config"
	"dronetrack-rl/internal/telemetry"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
)

// ColorStdoutWriter prints step and episode rows using ANSI colors.
type ColorStdoutWriter struct {
	cfg           *config.EnvConfig
	out           io.Writer
	once          sync.Once
	episodeColors map[string]string
	colorIdx      int
	onlyEpisodes  bool
}

var episodePalette = []string{colorRed, colorGreen, colorYellow, colorBlue, colorMagenta, colorCyan}

// NewColorStdoutWriter creates a ColorStdoutWriter writing to os.Stdout.
// With onlyEpisodes set, step rows are not printed.
func NewColorStdoutWriter(cfg *config.EnvConfig, onlyEpisodes bool) *ColorStdoutWriter {
	return &ColorStdoutWriter{
		cfg:           cfg,
		out:           os.Stdout,
		episodeColors: make(map[string]string),
		onlyEpisodes:  onlyEpisodes,
	}
}

func (w *ColorStdoutWriter) getEpisodeColor(id string) string {
	if c, ok := w.episodeColors[id]; ok {
		return c
	}
	c := episodePalette[w.colorIdx%len(episodePalette)]
	w.episodeColors[id] = c
	w.colorIdx++
	return c
}

func (w *ColorStdoutWriter) printOverview() {
	if w.cfg == nil {
		return
	}

	fmt.Fprintln(w.out, "Environment Configuration:")
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Simulator:\t%s\n", w.cfg.Simulator.Address)
	fmt.Fprintf(tw, "Target:\t%s\n", w.cfg.Simulator.Target)
	fmt.Fprintf(tw, "Camera:\t%dx%d\n", w.cfg.Camera.Width, w.cfg.Camera.Height)
	fmt.Fprintf(tw, "Speed (m/s):\t%.1f\n", w.cfg.Control.Speed)
	fmt.Fprintf(tw, "Time Step (s):\t%.3f\n", w.cfg.Control.TimeStep)
	fmt.Fprintf(tw, "Spawn Offset (m):\t%.0f/%.0f/%.0f\n",
		w.cfg.Randomization.SpawnMaxOffset.X, w.cfg.Randomization.SpawnMaxOffset.Y, w.cfg.Randomization.SpawnMaxOffset.Z)
	fmt.Fprintf(tw, "Max Wind (m/s):\t%.1f\n", w.cfg.Randomization.MaxWindSpeed)
	fmt.Fprintf(tw, "Image Noise:\t%t (%.3f)\n", w.cfg.Render.ImageNoise, w.cfg.Render.NoiseVariance)
	tw.Flush()
	fmt.Fprintln(w.out)
}

// WriteStep outputs a single step row in colorized format.
func (w *ColorStdoutWriter) WriteStep(row telemetry.StepRow) error {
	w.once.Do(w.printOverview)
	if w.onlyEpisodes {
		return nil
	}

	eColor := w.getEpisodeColor(row.EpisodeID)
	rewardColor := colorGreen
	if row.Reward < 0 {
		rewardColor = colorRed
	}

	fmt.Fprintf(w.out, "%s[%s]%s ", colorGray, row.Timestamp.Format(time.RFC3339), colorReset)
	fmt.Fprintf(w.out, "%sepisode=%s%s ", eColor, shortID(row.EpisodeID), colorReset)
	fmt.Fprintf(w.out, "%sstep=%d%s ", colorBlue, row.Step, colorReset)
	fmt.Fprintf(w.out, "%sreward=%.3f%s ", rewardColor, row.Reward, colorReset)
	fmt.Fprintf(w.out, "%sdist=%.2f%s ", colorYellow, row.Distance, colorReset)
	fmt.Fprintf(w.out, "%spos=(%.2f,%.2f,%.2f)%s", colorCyan, row.AgentX, row.AgentY, row.AgentZ, colorReset)
	if row.Detected {
		fmt.Fprintf(w.out, " %sbbox=(%.2f,%.2f,%.2f,%.2f)%s", colorMagenta, row.BBoxX, row.BBoxY, row.BBoxW, row.BBoxH, colorReset)
	}
	if row.Collided {
		fmt.Fprintf(w.out, " %scollision%s", colorRed, colorReset)
	}
	fmt.Fprintln(w.out)
	return nil
}

// WriteSteps outputs multiple step rows.
func (w *ColorStdoutWriter) WriteSteps(rows []telemetry.StepRow) error {
	for _, r := range rows {
		_ = w.WriteStep(r)
	}
	return nil
}

// WriteEpisode prints an episode summary.
func (w *ColorStdoutWriter) WriteEpisode(row telemetry.EpisodeRow) error {
	w.once.Do(w.printOverview)
	outcomeColor := colorRed
	switch row.Outcome {
	case telemetry.OutcomeSuccess:
		outcomeColor = colorGreen
	case telemetry.OutcomeLostTarget, telemetry.OutcomeTruncated:
		outcomeColor = colorYellow
	}
	fmt.Fprintf(w.out, "%s[%s]%s %sEPISODE%s id=%s steps=%d reward=%.2f final=%.2f dist=%.2f %soutcome=%s%s",
		colorGray, row.Timestamp.Format(time.RFC3339), colorReset,
		colorCyan, colorReset, shortID(row.EpisodeID), row.Steps, row.Reward, row.FinalReward, row.FinalDistance,
		outcomeColor, row.Outcome, colorReset)
	if row.Stage != "" {
		fmt.Fprintf(w.out, " stage=%s", row.Stage)
	}
	fmt.Fprintln(w.out)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
