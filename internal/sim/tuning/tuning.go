package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	ObsEveryTicks      int `yaml:"obs_every_ticks"`
	MaxEditsPerTick    int `yaml:"max_edits_per_tick"`
	WorldBoundaryR     int `yaml:"world_boundary_r"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type RateLimits struct {
	EditWindowTicks int `yaml:"edit_window_ticks"`
	EditMax         int `yaml:"edit_max"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         20,
		SnapshotEveryTicks: 6000,
		ObsEveryTicks:      20,
		MaxEditsPerTick:    256,
		WorldBoundaryR:     4096,
		RateLimits: RateLimits{
			EditWindowTicks: 20,
			EditMax:         40,
		},
	}
}

// Load reads a tuning.yaml; keys missing from the file keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz)
	}
	if t.SnapshotEveryTicks < 0 || t.ObsEveryTicks < 0 {
		return fmt.Errorf("snapshot_every_ticks and obs_every_ticks must be >= 0")
	}
	if t.MaxEditsPerTick <= 0 {
		return fmt.Errorf("max_edits_per_tick must be > 0")
	}
	if t.WorldBoundaryR <= 0 {
		return fmt.Errorf("world_boundary_r must be > 0")
	}
	if t.RateLimits.EditWindowTicks < 0 || t.RateLimits.EditMax < 0 {
		return fmt.Errorf("rate_limits must be >= 0")
	}
	return nil
}
