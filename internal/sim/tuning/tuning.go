package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	SchemaVersion int `yaml:"schema_version" json:"schema_version"`

	// Passive driver cadence.
	TickDurationMs int `yaml:"tick_duration_ms" json:"tick_duration_ms"`

	ClickPower    float64 `yaml:"click_power" json:"click_power"`
	AdventurerKps float64 `yaml:"adventurer_kps" json:"adventurer_kps"`
	ManualGold    float64 `yaml:"manual_gold" json:"manual_gold"`
	ManualXP      float64 `yaml:"manual_xp" json:"manual_xp"`

	// AutoLevel runs the level-up loop after every update.
	AutoLevel  bool       `yaml:"auto_level" json:"auto_level"`
	LevelCurve LevelCurve `yaml:"level_curve" json:"level_curve"`

	Energy Energy `yaml:"energy" json:"energy"`
}

type LevelCurve struct {
	Base   float64 `yaml:"base" json:"base"`
	Growth float64 `yaml:"growth" json:"growth"`
}

// Energy gates manual kills. Disabled means manual kills are free.
type Energy struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Max     float64 `yaml:"max" json:"max"`
}

func Defaults() Tuning {
	return Tuning{
		SchemaVersion:  1,
		TickDurationMs: 250,
		ClickPower:     1,
		AdventurerKps:  1.0 / 6.0,
		ManualGold:     10,
		ManualXP:       1,
		AutoLevel:      true,
		LevelCurve: LevelCurve{
			Base:   10,
			Growth: 1.5,
		},
		Energy: Energy{
			Enabled: false,
			Max:     10,
		},
	}
}

// Load reads a tuning file. Keys missing from the file keep their default values.
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
	if t.SchemaVersion <= 0 {
		return fmt.Errorf("schema_version must be > 0")
	}
	if t.TickDurationMs <= 0 {
		return fmt.Errorf("tick_duration_ms must be > 0")
	}
	if t.LevelCurve.Base <= 0 {
		return fmt.Errorf("level_curve.base must be > 0")
	}
	if t.LevelCurve.Growth < 1 {
		return fmt.Errorf("level_curve.growth must be >= 1")
	}
	if t.Energy.Enabled && t.Energy.Max <= 0 {
		return fmt.Errorf("energy.max must be > 0 when energy is enabled")
	}
	return nil
}
