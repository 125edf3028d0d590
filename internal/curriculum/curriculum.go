package curriculum

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dronetrack-rl/internal/config"
)

// Trigger events.
const (
	EventSuccesses = "successes"
	EventEpisodes  = "episodes"
)

// Curriculum is an ordered list of randomization stages.
type Curriculum struct {
	Name        string  `yaml:"name,omitempty"`
	Description string  `yaml:"description,omitempty"`
	Stages      []Stage `yaml:"stages"`
}

// Stage overrides part of the reset randomization. Unset fields keep the
// base configuration.
type Stage struct {
	Name            string       `yaml:"name"`
	Description     string       `yaml:"description,omitempty"`
	SpawnMaxOffset  *config.Vec3 `yaml:"spawn_max_offset,omitempty"`
	TargetStart     *config.Vec3 `yaml:"target_start,omitempty"`
	TargetMaxOffset *float64     `yaml:"target_max_offset,omitempty"`
	MaxWindSpeed    *float64     `yaml:"max_wind_speed,omitempty"`
	Triggers        []Trigger    `yaml:"triggers,omitempty"`
}

// Trigger moves the curriculum to another stage once the stage counter
// for Event reaches Value.
type Trigger struct {
	Event string `yaml:"event"`
	Value int    `yaml:"value"`
	Next  string `yaml:"next"`
}

// Load reads a YAML curriculum definition from disk.
func Load(path string) (*Curriculum, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read curriculum: %w", err)
	}
	var c Curriculum
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse curriculum: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that the curriculum has stages and that every trigger
// points at a known stage.
func (c *Curriculum) Validate() error {
	if len(c.Stages) == 0 {
		return fmt.Errorf("curriculum %q has no stages", c.Name)
	}
	names := make(map[string]bool, len(c.Stages))
	for _, s := range c.Stages {
		if s.Name == "" {
			return fmt.Errorf("curriculum %q: stage without name", c.Name)
		}
		if names[s.Name] {
			return fmt.Errorf("curriculum %q: duplicate stage %q", c.Name, s.Name)
		}
		names[s.Name] = true
	}
	for _, s := range c.Stages {
		for _, tr := range s.Triggers {
			if !names[tr.Next] {
				return fmt.Errorf("stage %q: trigger to unknown stage %q", s.Name, tr.Next)
			}
			if tr.Event != EventSuccesses && tr.Event != EventEpisodes {
				return fmt.Errorf("stage %q: unknown trigger event %q", s.Name, tr.Event)
			}
		}
	}
	return nil
}

// Stage returns the named stage.
func (c *Curriculum) Stage(name string) (Stage, bool) {
	for _, s := range c.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// NextStage returns the stage that follows current once the counter for
// event has reached value. If no trigger matches, ok will be false.
func (c *Curriculum) NextStage(current, event string, value int) (next string, ok bool) {
	s, found := c.Stage(current)
	if !found {
		return "", false
	}
	for _, tr := range s.Triggers {
		if tr.Event == event && value >= tr.Value {
			return tr.Next, true
		}
	}
	return "", false
}

// Apply overlays the stage on base.
func (s Stage) Apply(base config.Randomization) config.Randomization {
	r := base
	if s.SpawnMaxOffset != nil {
		r.SpawnMaxOffset = *s.SpawnMaxOffset
	}
	if s.TargetStart != nil {
		r.TargetStart = *s.TargetStart
	}
	if s.TargetMaxOffset != nil {
		r.TargetMaxOffset = *s.TargetMaxOffset
	}
	if s.MaxWindSpeed != nil {
		r.MaxWindSpeed = *s.MaxWindSpeed
	}
	return r
}
