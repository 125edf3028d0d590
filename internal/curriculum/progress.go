package curriculum

import (
	"log/slog"

	"dronetrack-rl/internal/config"
	"dronetrack-rl/internal/telemetry"
)

// Progress tracks the active stage and its counters.
type Progress struct {
	c         *Curriculum
	base      config.Randomization
	stage     Stage
	episodes  int
	successes int
}

// NewProgress starts at the first stage of c.
func NewProgress(c *Curriculum, base config.Randomization) *Progress {
	return &Progress{c: c, base: base, stage: c.Stages[0]}
}

// Stage returns the active stage name.
func (p *Progress) Stage() string { return p.stage.Name }

// Randomization returns the reset ranges of the active stage.
func (p *Progress) Randomization() config.Randomization { return p.stage.Apply(p.base) }

// Observe counts a finished episode and reports whether the stage changed.
// Counters restart in the new stage.
func (p *Progress) Observe(row telemetry.EpisodeRow) bool {
	p.episodes++
	if row.Successful {
		p.successes++
	}
	next, ok := p.c.NextStage(p.stage.Name, EventSuccesses, p.successes)
	if !ok {
		next, ok = p.c.NextStage(p.stage.Name, EventEpisodes, p.episodes)
	}
	if !ok {
		return false
	}
	stage, found := p.c.Stage(next)
	if !found {
		return false
	}
	slog.Info("curriculum stage advanced", "from", p.stage.Name, "to", next,
		"episodes", p.episodes, "successes", p.successes)
	p.stage = stage
	p.episodes = 0
	p.successes = 0
	return true
}
