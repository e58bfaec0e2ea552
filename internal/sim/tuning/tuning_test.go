package tuning

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	raw := []byte("manual_gold: 25\nlevel_curve:\n  base: 3\n  growth: 2\nenergy:\n  enabled: true\n  max: 5\n")
	if err := os.WriteFile(p, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := Defaults()
	if got.ManualGold != 25 {
		t.Fatalf("manual_gold=%v want 25", got.ManualGold)
	}
	if got.LevelCurve.Base != 3 || got.LevelCurve.Growth != 2 {
		t.Fatalf("level_curve=%+v", got.LevelCurve)
	}
	if !got.Energy.Enabled || got.Energy.Max != 5 {
		t.Fatalf("energy=%+v", got.Energy)
	}
	if got.ClickPower != def.ClickPower || got.AdventurerKps != def.AdventurerKps {
		t.Fatalf("defaults lost: click_power=%v adventurer_kps=%v", got.ClickPower, got.AdventurerKps)
	}
	if got.AutoLevel != def.AutoLevel {
		t.Fatalf("auto_level=%v want %v", got.AutoLevel, def.AutoLevel)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad_yaml":    "manual_gold: [",
		"zero_growth": "level_curve:\n  base: 10\n  growth: 0\n",
		"zero_tick":   "tick_duration_ms: 0\n",
		"energy_max":  "energy:\n  enabled: true\n  max: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "tuning.yaml")
			if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(p); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("err=%v want not-exist", err)
	}
}

func TestShippedTuningMatchesDefaults(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, Defaults()) {
		t.Fatalf("configs/tuning.yaml=%+v\nwant defaults %+v", got, Defaults())
	}
}
