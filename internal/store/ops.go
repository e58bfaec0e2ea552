package store

import (
	"context"

	"ratcellar.io/internal/sim/game"
)

// Operation names, as recorded on snapshots and in the event log.
const (
	OpManualKill         = "manual_kill"
	OpAdventurerKill     = "adventurer_kill"
	OpHireAdventurers    = "hire_adventurers"
	OpOpenCellar         = "open_cellar"
	OpGotoTavern         = "goto_tavern"
	OpGotoCellar         = "goto_cellar"
	OpGotoShop           = "goto_shop"
	OpRest               = "rest"
	OpAcceptQuest        = "accept_quest"
	OpCompleteQuest      = "complete_quest"
	OpAdvanceTavernStage = "advance_tavern_stage"
	OpLevelUp            = "level_up"
	OpReset              = "reset"
)

func (s *Store) ManualKill(ctx context.Context, xpGain float64) ([]game.Event, error) {
	return s.Update(ctx, OpManualKill, game.ManualKill(xpGain))
}

func (s *Store) AdventurerKill(ctx context.Context, dt float64) ([]game.Event, error) {
	return s.Update(ctx, OpAdventurerKill, game.AdventurerKill(dt))
}

func (s *Store) HireAdventurers(ctx context.Context, cellarID, count int, cost float64) ([]game.Event, error) {
	return s.Update(ctx, OpHireAdventurers, game.HireAdventurers(cellarID, count, cost))
}

func (s *Store) OpenCellar(ctx context.Context, cellarID int) ([]game.Event, error) {
	return s.Update(ctx, OpOpenCellar, game.OpenCellar(cellarID))
}

func (s *Store) GotoTavern(ctx context.Context) ([]game.Event, error) {
	return s.Update(ctx, OpGotoTavern, game.GotoTavern())
}

func (s *Store) GotoCellar(ctx context.Context) ([]game.Event, error) {
	return s.Update(ctx, OpGotoCellar, game.GotoCellar())
}

func (s *Store) GotoShop(ctx context.Context) ([]game.Event, error) {
	return s.Update(ctx, OpGotoShop, game.GotoShop())
}

func (s *Store) Rest(ctx context.Context) ([]game.Event, error) {
	return s.Update(ctx, OpRest, game.Rest())
}

func (s *Store) AcceptQuest(ctx context.Context, questID string) ([]game.Event, error) {
	return s.Update(ctx, OpAcceptQuest, game.AcceptQuest(questID))
}

func (s *Store) CompleteQuest(ctx context.Context, questID string) ([]game.Event, error) {
	return s.Update(ctx, OpCompleteQuest, game.CompleteQuest(questID))
}

func (s *Store) AdvanceTavernStage(ctx context.Context) ([]game.Event, error) {
	return s.Update(ctx, OpAdvanceTavernStage, game.AdvanceTavernStage())
}

func (s *Store) LevelUp(ctx context.Context) ([]game.Event, error) {
	return s.Update(ctx, OpLevelUp, game.LevelUp())
}

// Reset replaces the state with fresh defaults, ignoring whatever was saved.
func (s *Store) Reset(ctx context.Context) ([]game.Event, error) {
	return s.Update(ctx, OpReset, func(r *game.Rules, d *game.State) []game.Event {
		*d = r.Default()
		return []game.Event{{Kind: game.EventStateReset}}
	})
}
