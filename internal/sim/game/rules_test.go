package game

import "testing"

func TestNarrative(t *testing.T) {
	r := testRules(t, nil)
	st := r.Default()

	tavern, cellar := r.Narrative(st)
	if tavern == "" || cellar != "" {
		t.Fatalf("tavern scene: tavern=%q cellar=%q", tavern, cellar)
	}

	st, _ = Apply(r, st, OpenCellar(1))
	st, _ = Apply(r, st, OpenCellar(0))
	st, _ = Apply(r, st, GotoCellar())
	_, cellar = r.Narrative(st)
	if want := r.Catalogs.CellarMessage(1); cellar != want {
		t.Fatalf("cellar=%q want newest cellar message %q", cellar, want)
	}
}

func TestGoldPerSecond(t *testing.T) {
	r := testRules(t, nil)
	st := r.Default()
	st.AdventurerKps = 0.5
	got := r.GoldPerSecond(st, CellarState{ID: 1, AdventurersHired: 4})
	if got != 4*0.5*3 {
		t.Fatalf("gps=%v want 6", got)
	}
	if got := r.GoldPerSecond(st, CellarState{ID: 99, AdventurersHired: 4}); got != 0 {
		t.Fatalf("unknown cellar gps=%v", got)
	}
}
