package ws

import (
	"context"
	"errors"

	"ratcellar.io/internal/protocol"
	"ratcellar.io/internal/sim/game"
	"ratcellar.io/internal/store"
)

// Dispatch runs a validated ACT against the store. Store failures come back
// as *protocol.Error so they can be reported to the client.
func Dispatch(ctx context.Context, st *store.Store, act protocol.ActMsg) ([]game.Event, error) {
	var (
		evs []game.Event
		err error
	)
	switch act.Op {
	case protocol.OpManualKill:
		evs, err = st.ManualKill(ctx, act.XP)
	case protocol.OpHireAdventurers:
		cost, perr := hireCost(st.Rules(), act)
		if perr != nil {
			return nil, perr
		}
		evs, err = st.HireAdventurers(ctx, *act.CellarID, act.Count, cost)
	case protocol.OpOpenCellar:
		evs, err = st.OpenCellar(ctx, *act.CellarID)
	case protocol.OpGotoTavern:
		evs, err = st.GotoTavern(ctx)
	case protocol.OpGotoCellar:
		evs, err = st.GotoCellar(ctx)
	case protocol.OpGotoShop:
		evs, err = st.GotoShop(ctx)
	case protocol.OpRest:
		evs, err = st.Rest(ctx)
	case protocol.OpAcceptQuest:
		evs, err = st.AcceptQuest(ctx, act.QuestID)
	case protocol.OpCompleteQuest:
		evs, err = st.CompleteQuest(ctx, act.QuestID)
	case protocol.OpAdvanceTavern:
		evs, err = st.AdvanceTavernStage(ctx)
	case protocol.OpLevelUp:
		evs, err = st.LevelUp(ctx)
	default:
		return nil, protocol.Errorf(protocol.ErrUnknownOp, "unknown op "+act.Op)
	}
	if err != nil {
		if errors.Is(err, store.ErrClosed) {
			return nil, protocol.Errorf(protocol.ErrUnavailable, "store closed")
		}
		return nil, protocol.Errorf(protocol.ErrInternal, err.Error())
	}
	return evs, nil
}

// hireCost prices a hire from the catalog. A positive client cost is a
// ceiling the catalog price must not exceed; it never lowers the price.
func hireCost(r *game.Rules, act protocol.ActMsg) (float64, *protocol.Error) {
	def, ok := r.Catalogs.Cellars.ByID[*act.CellarID]
	if !ok {
		return 0, protocol.Errorf(protocol.ErrInvalidTarget, "unknown cellar")
	}
	price := def.HireCost * float64(act.Count)
	if act.Cost > 0 && price > act.Cost {
		return 0, protocol.Errorf(protocol.ErrBadRequest, "price above quoted cost")
	}
	return price, nil
}
