package observerproto

import "ratcellar.io/internal/sim/game"

// Version is the observer protocol version (separate from the player WS protocol).
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeState     = "STATE"
)

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// MinIntervalMs throttles pushes; 0 means every committed update.
	MinIntervalMs int  `json:"min_interval_ms,omitempty"`
	IncludeEvents bool `json:"include_events,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string       `json:"protocol_version"`
	Seq             uint64       `json:"seq"`
	LoadOutcome     string       `json:"load_outcome"`
	Cellars         []CellarInfo `json:"cellars"`
	Quests          []QuestInfo  `json:"quests"`
	TavernStages    int          `json:"tavern_stages"`
}

type CellarInfo struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	RatGold  float64 `json:"rat_gold"`
	HireCost float64 `json:"hire_cost"`
}

type QuestInfo struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	RewardGold float64 `json:"reward_gold"`
	RewardXP   float64 `json:"reward_xp"`
}

// Server -> Client. A summarized view of one committed snapshot.
type StateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Op              string `json:"op,omitempty"`

	Level       int     `json:"level"`
	Experience  float64 `json:"experience"`
	Requirement float64 `json:"requirement"`
	Gold        float64 `json:"gold"`
	Kills       float64 `json:"kills"`
	Scene       string  `json:"scene"`
	TavernStage int     `json:"tavern_stage"`

	Cellars []CellarSummary   `json:"cellars"`
	Quests  map[string]string `json:"quests,omitempty"`
	Events  []game.Event      `json:"events,omitempty"`
}

type CellarSummary struct {
	ID          int     `json:"id"`
	Adventurers int     `json:"adventurers"`
	GoldPerSec  float64 `json:"gold_per_sec"`
}
