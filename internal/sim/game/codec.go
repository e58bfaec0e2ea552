package game

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed state.schema.json
var stateSchemaJSON string

const stateSchemaURL = "https://ratcellar.io/schemas/state.schema.json"

var (
	stateSchemaOnce sync.Once
	stateSchema     *jsonschema.Schema
	stateSchemaErr  error
)

// StateSchema returns the compiled schema for persisted state blobs.
func StateSchema() (*jsonschema.Schema, error) {
	stateSchemaOnce.Do(func() {
		stateSchema, stateSchemaErr = jsonschema.CompileString(stateSchemaURL, stateSchemaJSON)
	})
	return stateSchema, stateSchemaErr
}

// Validate checks a persisted blob against the state schema. The schema is
// advisory: unknown fields are allowed so newer saves still load.
func Validate(raw []byte) error {
	sch, err := StateSchema()
	if err != nil {
		return fmt.Errorf("compile state schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return sch.Validate(v)
}

func Encode(s State) ([]byte, error) {
	return json.Marshal(s)
}

type stateAlias State

// Decode merges the top-level fields present in raw over base. Fields absent
// from raw keep base's values. On error base is returned unchanged.
func Decode(base State, raw []byte) (State, error) {
	aux := struct {
		stateAlias
		// Older saves may contain null holes in the cellar list.
		OpenedCellars []*CellarState `json:"openedCellars"`
	}{stateAlias: stateAlias(base.Clone())}

	if err := json.Unmarshal(raw, &aux); err != nil {
		return base, err
	}
	s := State(aux.stateAlias)
	if aux.OpenedCellars != nil {
		s.OpenedCellars = normalizeCellars(aux.OpenedCellars)
	}
	if s.OpenedCellars == nil {
		s.OpenedCellars = []CellarState{}
	}
	if s.Quests == nil {
		s.Quests = map[string]QuestState{}
	}
	return s, nil
}

func normalizeCellars(in []*CellarState) []CellarState {
	byID := make(map[int]CellarState, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		byID[c.ID] = *c
	}
	out := make([]CellarState, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
