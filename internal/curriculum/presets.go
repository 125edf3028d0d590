package curriculum

import "dronetrack-rl/internal/config"

func offset(x, y, z float64) *config.Vec3 { return &config.Vec3{X: x, Y: y, Z: z} }

// BuiltIn returns the distance curriculum. Each stage widens the spawn
// box around the origin while the target stays 15 m ahead; a stage is
// left after 20 successful episodes in it.
func BuiltIn() *Curriculum {
	return &Curriculum{
		Name:        "distance",
		Description: "Widen the spawn box until the agent starts up to 25 m from the target.",
		Stages: []Stage{
			{
				Name:           "10m",
				Description:    "Lateral and vertical offsets only.",
				SpawnMaxOffset: offset(0, 8, 5),
				Triggers:       []Trigger{{Event: EventSuccesses, Value: 20, Next: "10-15m"}},
			},
			{
				Name:           "10-15m",
				Description:    "Adds a small forward offset.",
				SpawnMaxOffset: offset(3, 8, 5),
				Triggers:       []Trigger{{Event: EventSuccesses, Value: 20, Next: "15m"}},
			},
			{
				Name:           "15m",
				SpawnMaxOffset: offset(0, 12, 8),
				Triggers:       []Trigger{{Event: EventSuccesses, Value: 20, Next: "20m"}},
			},
			{
				Name:           "20m",
				SpawnMaxOffset: offset(0, 15, 10),
				Triggers:       []Trigger{{Event: EventSuccesses, Value: 20, Next: "25m"}},
			},
			{
				Name:           "25m",
				SpawnMaxOffset: offset(0, 18, 12),
			},
		},
	}
}
