package game

type EventKind string

const (
	EventLeveledUp           EventKind = "LEVELED_UP"
	EventCellarOpened        EventKind = "CELLAR_OPENED"
	EventAdventurersHired    EventKind = "ADVENTURERS_HIRED"
	EventQuestAccepted       EventKind = "QUEST_ACCEPTED"
	EventQuestCompleted      EventKind = "QUEST_COMPLETED"
	EventTavernStageAdvanced EventKind = "TAVERN_STAGE_ADVANCED"
	EventStateReset          EventKind = "STATE_RESET"
)

// Event is a side effect requested by a transition. Transitions never act on
// events themselves; callers (audio, logs, transports) do.
type Event struct {
	Kind EventKind `json:"kind"`

	Level    int    `json:"level,omitempty"`
	CellarID *int   `json:"cellar_id,omitempty"`
	Count    int    `json:"count,omitempty"`
	QuestID  string `json:"quest_id,omitempty"`
	Stage    int    `json:"stage,omitempty"`
}

func cellarRef(id int) *int { return &id }

// HasKind reports whether any event in evs is of kind k.
func HasKind(evs []Event, k EventKind) bool {
	for _, e := range evs {
		if e.Kind == k {
			return true
		}
	}
	return false
}
