package game

import (
	"math"

	"ratcellar.io/internal/sim/catalogs"
	"ratcellar.io/internal/sim/tuning"
)

// RequirementFunc returns the experience needed to advance from level to level+1.
type RequirementFunc func(level int) float64

// CurveRequirement builds the exponential level curve base*growth^(level-1),
// rounded to whole experience points.
func CurveRequirement(c tuning.LevelCurve) RequirementFunc {
	return func(level int) float64 {
		if level < 1 {
			level = 1
		}
		return math.Round(c.Base * math.Pow(c.Growth, float64(level-1)))
	}
}

// Rules bundles everything a transition reads but never writes.
type Rules struct {
	Tuning      tuning.Tuning
	Catalogs    *catalogs.Catalogs
	Requirement RequirementFunc
}

func NewRules(t tuning.Tuning, cats *catalogs.Catalogs) *Rules {
	return &Rules{
		Tuning:      t,
		Catalogs:    cats,
		Requirement: CurveRequirement(t.LevelCurve),
	}
}

// Default returns a fresh state for these rules.
func (r *Rules) Default() State {
	return Default(r.Tuning)
}

// Narrative returns the catalog text for s. The cellar line belongs to the
// newest opened cellar and is empty outside the cellar scene.
func (r *Rules) Narrative(s State) (tavern, cellar string) {
	tavern = r.Catalogs.TavernMessage(s.TavernStage)
	if s.Scene != SceneCellar {
		return tavern, ""
	}
	id := 0
	if n := len(s.OpenedCellars); n > 0 {
		id = s.OpenedCellars[n-1].ID
	}
	return tavern, r.Catalogs.CellarMessage(id)
}

// GoldPerSecond is the passive income of one cellar at the current rate.
func (r *Rules) GoldPerSecond(s State, c CellarState) float64 {
	return float64(c.AdventurersHired) * s.AdventurerKps * r.Catalogs.RatGold(c.ID)
}
