package game

import (
	"sort"

	"ratcellar.io/internal/sim/tuning"
)

// SchemaVersion is written into every fresh state.
const SchemaVersion = 1

type Scene int

const (
	SceneCellar Scene = iota
	SceneTavern
	SceneShop
)

func (s Scene) String() string {
	switch s {
	case SceneCellar:
		return "CELLAR"
	case SceneTavern:
		return "TAVERN"
	case SceneShop:
		return "SHOP"
	default:
		return "UNKNOWN"
	}
}

type QuestStatus string

const (
	QuestInactive  QuestStatus = "inactive"
	QuestAccepted  QuestStatus = "accepted"
	QuestCompleted QuestStatus = "completed"
)

type QuestState struct {
	Status QuestStatus `json:"status"`
}

type CellarState struct {
	ID               int `json:"id"`
	AdventurersHired int `json:"adventurersHired"`
	// Fractional kills carried between ticks, always in [0,1).
	AdventurerKillRemainder float64 `json:"adventurerKillRemainder"`
}

// State is one complete snapshot of player progress. Values are treated as
// immutable once published: mutations run against a Clone.
type State struct {
	Gold          float64 `json:"gold"`
	AdventurerKps float64 `json:"adventurerKps"`
	ClickPower    float64 `json:"clickPower"`
	Experience    float64 `json:"experience"`
	Kills         float64 `json:"kills"`
	Level         int     `json:"level"`
	Scene         Scene   `json:"scene"`
	SchemaVersion int     `json:"schemaVersion"`
	TavernStage   int     `json:"tavernStage"`

	Energy    float64 `json:"energy"`
	MaxEnergy float64 `json:"maxEnergy"`

	OpenedCellars []CellarState         `json:"openedCellars"`
	Quests        map[string]QuestState `json:"quests"`
}

// Default computes a fresh state from tuning.
func Default(t tuning.Tuning) State {
	return State{
		Gold:          0,
		AdventurerKps: t.AdventurerKps,
		ClickPower:    t.ClickPower,
		Experience:    0,
		Kills:         0,
		Level:         1,
		Scene:         SceneTavern,
		SchemaVersion: SchemaVersion,
		TavernStage:   0,
		Energy:        t.Energy.Max,
		MaxEnergy:     t.Energy.Max,
		OpenedCellars: []CellarState{},
		Quests:        map[string]QuestState{},
	}
}

func (s State) Clone() State {
	out := s
	out.OpenedCellars = make([]CellarState, len(s.OpenedCellars))
	copy(out.OpenedCellars, s.OpenedCellars)
	out.Quests = make(map[string]QuestState, len(s.Quests))
	for k, v := range s.Quests {
		out.Quests[k] = v
	}
	return out
}

// Cellar returns the opened cellar with the given id.
func (s *State) Cellar(id int) (*CellarState, bool) {
	i := s.cellarIndex(id)
	if i < 0 {
		return nil, false
	}
	return &s.OpenedCellars[i], true
}

func (s *State) cellarIndex(id int) int {
	i := sort.Search(len(s.OpenedCellars), func(i int) bool { return s.OpenedCellars[i].ID >= id })
	if i < len(s.OpenedCellars) && s.OpenedCellars[i].ID == id {
		return i
	}
	return -1
}

// putCellar inserts c keeping OpenedCellars ordered by id, replacing any
// existing entry with the same id.
func (s *State) putCellar(c CellarState) {
	i := sort.Search(len(s.OpenedCellars), func(i int) bool { return s.OpenedCellars[i].ID >= c.ID })
	if i < len(s.OpenedCellars) && s.OpenedCellars[i].ID == c.ID {
		s.OpenedCellars[i] = c
		return
	}
	s.OpenedCellars = append(s.OpenedCellars, CellarState{})
	copy(s.OpenedCellars[i+1:], s.OpenedCellars[i:])
	s.OpenedCellars[i] = c
}

func (s State) QuestStatus(id string) QuestStatus {
	q, ok := s.Quests[id]
	if !ok || q.Status == "" {
		return QuestInactive
	}
	return q.Status
}
