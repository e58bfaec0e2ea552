package protocol

import (
	"encoding/json"

	"ratcellar.io/internal/sim/game"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerName      string `json:"player_name"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	Catalogs        CatalogDigests `json:"catalogs"`
	Tuning          TuningParams   `json:"tuning"`
}

type CatalogDigests struct {
	Cellars      DigestRef `json:"cellars"`
	Tavern       DigestRef `json:"tavern"`
	Quests       DigestRef `json:"quests"`
	TuningDigest string    `json:"tuning_digest,omitempty"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// TuningParams is the client-visible subset of tuning.
type TuningParams struct {
	TickDurationMs int     `json:"tick_duration_ms"`
	ClickPower     float64 `json:"click_power"`
	ManualGold     float64 `json:"manual_gold"`
	ManualXP       float64 `json:"manual_xp"`
	AutoLevel      bool    `json:"auto_level"`
	EnergyEnabled  bool    `json:"energy_enabled"`
}

// STATE (server -> client). State carries the exact bytes that were saved.
type StateMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Seq             uint64          `json:"seq"`
	Op              string          `json:"op,omitempty"`
	State           json.RawMessage `json:"state"`
	TavernMessage   string          `json:"tavern_message"`
	CellarMessage   string          `json:"cellar_message,omitempty"`
	Requirement     float64         `json:"requirement"`
}

// EVENTS (server -> client): events emitted by one committed update.
type EventsMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Seq             uint64       `json:"seq"`
	Events          []game.Event `json:"events"`
}

// ERROR (server -> client). ActID echoes the rejected ACT's id, if any.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActID           string `json:"act_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
