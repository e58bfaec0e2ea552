package store

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"

	"ratcellar.io/internal/persistence/kv"
	"ratcellar.io/internal/sim/catalogs"
	"ratcellar.io/internal/sim/game"
	"ratcellar.io/internal/sim/tuning"
)

func openTestStore(t *testing.T, mem *kv.Memory) *Store {
	t.Helper()
	rules := game.NewRules(tuning.Defaults(), catalogs.Defaults())
	s, err := Open(context.Background(), Options{KV: mem, Rules: rules})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func saved(t *testing.T, mem *kv.Memory) []byte {
	t.Helper()
	b, ok, err := mem.Get(context.Background(), StateKey)
	if err != nil || !ok {
		t.Fatalf("saved state: ok=%v err=%v", ok, err)
	}
	return b
}

func TestStore_PublishedMatchesPersisted(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	s := openTestStore(t, mem)

	var published []Snapshot
	cancel := s.Subscribe(func(sn Snapshot) { published = append(published, sn) })
	defer cancel()

	steps := []func() ([]game.Event, error){
		func() ([]game.Event, error) { return s.ManualKill(ctx, 2) },
		func() ([]game.Event, error) { return s.OpenCellar(ctx, 0) },
		func() ([]game.Event, error) { return s.HireAdventurers(ctx, 0, 3, 10) },
		func() ([]game.Event, error) { return s.AdventurerKill(ctx, 2) },
		func() ([]game.Event, error) { return s.GotoCellar(ctx) },
		func() ([]game.Event, error) { return s.AcceptQuest(ctx, "rat_problem") },
		func() ([]game.Event, error) { return s.HireAdventurers(ctx, 0, 1, 1e9) },
		func() ([]game.Event, error) { return s.AdvanceTavernStage(ctx) },
		func() ([]game.Event, error) { return s.Rest(ctx) },
	}
	for i, step := range steps {
		if _, err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		last := published[len(published)-1]
		if !bytes.Equal(last.JSON, saved(t, mem)) {
			t.Fatalf("step %d: published and saved differ:\n%s\n%s", i, last.JSON, saved(t, mem))
		}
		if last.Seq != uint64(i+1) {
			t.Fatalf("step %d: seq=%d", i, last.Seq)
		}
	}
	// Initial call plus one per step.
	if len(published) != len(steps)+1 {
		t.Fatalf("published=%d want %d", len(published), len(steps)+1)
	}
}

func TestStore_OpenMergesSavedState(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	_ = mem.Put(ctx, StateKey, []byte(`{"gold":99,"level":4,"openedCellars":[{"id":1,"adventurersHired":2,"adventurerKillRemainder":0.5}]}`))

	s := openTestStore(t, mem)
	if s.Outcome() != LoadResumed {
		t.Fatalf("outcome=%s", s.Outcome())
	}
	st := s.Current().State
	if st.Gold != 99 || st.Level != 4 || len(st.OpenedCellars) != 1 {
		t.Fatalf("state=%+v", st)
	}
	if st.ClickPower != 1 || st.SchemaVersion != game.SchemaVersion {
		t.Fatalf("defaults not applied: %+v", st)
	}
}

func TestStore_OpenToleratesBadSaves(t *testing.T) {
	cases := map[string]string{
		"garbage":    `{{{`,
		"wrong_type": `{"gold":"many"}`,
		"schema":     `{"level":0}`,
		"array":      `[1,2,3]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			mem := kv.NewMemory()
			_ = mem.Put(context.Background(), StateKey, []byte(raw))
			s := openTestStore(t, mem)
			if s.Outcome() != LoadCorrupt {
				t.Fatalf("outcome=%s", s.Outcome())
			}
			want := s.Rules().Default()
			if !reflect.DeepEqual(s.Current().State, want) {
				t.Fatalf("state=%+v want defaults", s.Current().State)
			}
		})
	}
}

func TestStore_OpenFresh(t *testing.T) {
	s := openTestStore(t, kv.NewMemory())
	if s.Outcome() != LoadFresh {
		t.Fatalf("outcome=%s", s.Outcome())
	}
	if s.Current().State.Level != 1 {
		t.Fatalf("level=%d", s.Current().State.Level)
	}
}

func TestStore_PersistFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	s := openTestStore(t, mem)
	if _, err := s.ManualKill(ctx, 1); err != nil {
		t.Fatalf("kill: %v", err)
	}
	before := s.Current()

	calls := 0
	cancel := s.Subscribe(func(Snapshot) { calls++ })
	defer cancel()

	boom := errors.New("disk full")
	mem.FailPut = boom
	if _, err := s.ManualKill(ctx, 1); !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}
	if calls != 1 {
		t.Fatalf("subscriber called %d times, want only the initial call", calls)
	}
	after := s.Current()
	if after.Seq != before.Seq || !bytes.Equal(after.JSON, before.JSON) {
		t.Fatalf("state changed despite failed save")
	}

	mem.FailPut = nil
	if _, err := s.ManualKill(ctx, 1); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if got := s.Current().State.Kills; got != 2 {
		t.Fatalf("kills=%v want 2", got)
	}
}

func TestStore_ResetRestoresDefaults(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	s := openTestStore(t, mem)

	_, _ = s.ManualKill(ctx, 50)
	_, _ = s.OpenCellar(ctx, 1)
	_, _ = s.GotoShop(ctx)
	_, _ = s.AcceptQuest(ctx, "wine_vault")

	evs, err := s.Reset(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !game.HasKind(evs, game.EventStateReset) {
		t.Fatalf("events=%v", evs)
	}
	want := s.Rules().Default()
	if !reflect.DeepEqual(s.Current().State, want) {
		t.Fatalf("state=%+v want defaults", s.Current().State)
	}
	wantJSON, _ := game.Encode(want)
	if !bytes.Equal(saved(t, mem), wantJSON) {
		t.Fatalf("saved=%s want %s", saved(t, mem), wantJSON)
	}
}

func TestStore_AutoLevelInvariant(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, kv.NewMemory())
	for i := 0; i < 200; i++ {
		if _, err := s.ManualKill(ctx, float64(i%7)+0.5); err != nil {
			t.Fatalf("kill: %v", err)
		}
		st := s.Current().State
		if st.Experience >= s.Rules().Requirement(st.Level) {
			t.Fatalf("iteration %d: experience %v >= requirement %v", i, st.Experience, s.Rules().Requirement(st.Level))
		}
	}
}

func TestStore_SubscribeCancel(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, kv.NewMemory())

	var got []uint64
	cancel := s.Subscribe(func(sn Snapshot) { got = append(got, sn.Seq) })
	if len(got) != 1 || got[0] != 0 {
		t.Fatalf("initial delivery=%v", got)
	}
	_, _ = s.GotoShop(ctx)
	cancel()
	cancel()
	_, _ = s.GotoTavern(ctx)
	if len(got) != 2 || got[1] != 1 {
		t.Fatalf("deliveries=%v", got)
	}
	if s.Subscribers() != 0 {
		t.Fatalf("subscribers=%d", s.Subscribers())
	}
}

func TestStore_SnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, kv.NewMemory())
	_, _ = s.OpenCellar(ctx, 0)

	sn := s.Current()
	sn.State.OpenedCellars[0].AdventurersHired = 1000
	sn.State.Quests["x"] = game.QuestState{Status: game.QuestCompleted}

	cur := s.Current().State
	if cur.OpenedCellars[0].AdventurersHired != 0 || len(cur.Quests) != 0 {
		t.Fatalf("caller mutation leaked into the store: %+v", cur)
	}
}

func TestStore_Closed(t *testing.T) {
	s := openTestStore(t, kv.NewMemory())
	_ = s.Close()
	if _, err := s.ManualKill(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v want ErrClosed", err)
	}
}
