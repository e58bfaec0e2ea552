package protocol

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ACT operations.
const (
	OpManualKill      = "MANUAL_KILL"
	OpHireAdventurers = "HIRE_ADVENTURERS"
	OpOpenCellar      = "OPEN_CELLAR"
	OpGotoTavern      = "GOTO_TAVERN"
	OpGotoCellar      = "GOTO_CELLAR"
	OpGotoShop        = "GOTO_SHOP"
	OpRest            = "REST"
	OpAcceptQuest     = "ACCEPT_QUEST"
	OpCompleteQuest   = "COMPLETE_QUEST"
	OpAdvanceTavern   = "ADVANCE_TAVERN"
	OpLevelUp         = "LEVEL_UP"
)

// MaxXP caps the experience a single MANUAL_KILL may claim.
const MaxXP = 1e6

// ACT (client -> server). Only the fields the op needs are read.
type ActMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ID              string  `json:"id,omitempty"`
	Op              string  `json:"op"`
	CellarID        *int    `json:"cellar_id,omitempty"`
	Count           int     `json:"count,omitempty"`
	Cost            float64 `json:"cost,omitempty"`
	XP              float64 `json:"xp,omitempty"`
	QuestID         string  `json:"quest_id,omitempty"`
}

//go:embed act.schema.json
var actSchemaJSON string

var (
	actSchemaOnce sync.Once
	actSchema     *jsonschema.Schema
	actSchemaErr  error
)

func ActSchema() (*jsonschema.Schema, error) {
	actSchemaOnce.Do(func() {
		actSchema, actSchemaErr = jsonschema.CompileString("https://ratcellar.io/schemas/act.schema.json", actSchemaJSON)
	})
	return actSchema, actSchemaErr
}

// DecodeAct parses and validates a raw ACT message.
func DecodeAct(raw []byte) (ActMsg, *Error) {
	var act ActMsg
	sch, err := ActSchema()
	if err != nil {
		return act, Errorf(ErrInternal, fmt.Sprintf("act schema: %v", err))
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return act, Errorf(ErrProtoBadRequest, "malformed json")
	}
	if err := sch.Validate(v); err != nil {
		// Recover the id so the error can be correlated.
		_ = json.Unmarshal(raw, &act)
		return act, Errorf(ErrProtoBadRequest, err.Error())
	}
	if err := json.Unmarshal(raw, &act); err != nil {
		return act, Errorf(ErrProtoBadRequest, err.Error())
	}
	if act.ProtocolVersion != Version {
		return act, Errorf(ErrProtoVersion, "unsupported protocol_version")
	}
	return act, act.Check()
}

// Check validates the op-specific arguments.
func (a ActMsg) Check() *Error {
	switch a.Op {
	case OpManualKill:
		if a.XP < 0 || math.IsNaN(a.XP) || math.IsInf(a.XP, 0) {
			return Errorf(ErrBadRequest, "xp must be a non-negative number")
		}
		if a.XP > MaxXP {
			return Errorf(ErrBadRequest, "xp too large")
		}
	case OpHireAdventurers:
		if a.CellarID == nil {
			return Errorf(ErrBadRequest, "missing cellar_id")
		}
		if a.Count <= 0 {
			return Errorf(ErrBadRequest, "count must be positive")
		}
		if a.Cost < 0 || math.IsNaN(a.Cost) || math.IsInf(a.Cost, 0) {
			return Errorf(ErrBadRequest, "cost must be a non-negative number")
		}
	case OpOpenCellar:
		if a.CellarID == nil {
			return Errorf(ErrBadRequest, "missing cellar_id")
		}
	case OpAcceptQuest, OpCompleteQuest:
		if a.QuestID == "" {
			return Errorf(ErrBadRequest, "missing quest_id")
		}
	case OpGotoTavern, OpGotoCellar, OpGotoShop, OpRest, OpAdvanceTavern, OpLevelUp:
	default:
		return Errorf(ErrUnknownOp, fmt.Sprintf("unknown op %q", a.Op))
	}
	return nil
}
