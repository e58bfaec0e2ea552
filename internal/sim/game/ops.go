package game

import "math"

// Mutation edits a draft state in place and returns the events it emits.
// It must only touch the draft it is given.
type Mutation func(r *Rules, draft *State) []Event

// Apply runs m against a copy of s and returns the new snapshot. s is never
// modified. With auto-leveling enabled the level-up loop runs afterwards.
func Apply(r *Rules, s State, m Mutation) (State, []Event) {
	next := s.Clone()
	var events []Event
	if m != nil {
		events = m(r, &next)
	}
	if r.Tuning.AutoLevel {
		events = append(events, levelUpWhileReady(r, &next)...)
	}
	return next, events
}

func levelUpWhileReady(r *Rules, s *State) []Event {
	var events []Event
	for {
		need := r.Requirement(s.Level)
		// A non-positive or infinite requirement would never terminate, and
		// neither would infinite or NaN experience.
		if need <= 0 || math.IsInf(need, 0) || math.IsNaN(need) {
			return events
		}
		if math.IsInf(s.Experience, 0) || math.IsNaN(s.Experience) || s.Experience < need {
			return events
		}
		s.Experience -= need
		s.Level++
		events = append(events, Event{Kind: EventLeveledUp, Level: s.Level})
	}
}

// ManualKill credits one click. xpGain <= 0 uses the tuned default.
func ManualKill(xpGain float64) Mutation {
	return func(r *Rules, s *State) []Event {
		if r.Tuning.Energy.Enabled {
			if s.Energy <= 0 {
				return nil
			}
			s.Energy--
		}
		if xpGain <= 0 {
			xpGain = r.Tuning.ManualXP
		}
		s.Kills += s.ClickPower
		s.Experience += xpGain
		s.Gold += r.Tuning.ManualGold
		return nil
	}
}

// AdventurerKill advances passive production by dt seconds. Each cellar
// keeps its own fractional remainder so partial kills are never lost.
func AdventurerKill(dt float64) Mutation {
	return func(r *Rules, s *State) []Event {
		for i := range s.OpenedCellars {
			c := &s.OpenedCellars[i]
			raw := float64(c.AdventurersHired)*s.AdventurerKps*dt + c.AdventurerKillRemainder
			whole := math.Floor(raw)
			c.AdventurerKillRemainder = raw - whole
			s.Kills += whole
			s.Gold += r.Catalogs.RatGold(c.ID) * whole
		}
		return nil
	}
}

// HireAdventurers is a no-op when gold is short or the cellar is not open.
func HireAdventurers(cellarID, count int, cost float64) Mutation {
	return func(r *Rules, s *State) []Event {
		if s.Gold < cost {
			return nil
		}
		c, ok := s.Cellar(cellarID)
		if !ok {
			return nil
		}
		c.AdventurersHired += count
		s.Gold -= cost
		return []Event{{Kind: EventAdventurersHired, CellarID: cellarRef(cellarID), Count: count}}
	}
}

// OpenCellar (re)opens a cellar with no adventurers. Re-opening resets it.
func OpenCellar(cellarID int) Mutation {
	return func(r *Rules, s *State) []Event {
		s.putCellar(CellarState{ID: cellarID})
		return []Event{{Kind: EventCellarOpened, CellarID: cellarRef(cellarID)}}
	}
}

func GotoTavern() Mutation { return gotoScene(SceneTavern) }
func GotoCellar() Mutation { return gotoScene(SceneCellar) }
func GotoShop() Mutation   { return gotoScene(SceneShop) }

func gotoScene(sc Scene) Mutation {
	return func(r *Rules, s *State) []Event {
		s.Scene = sc
		return nil
	}
}

func Rest() Mutation {
	return func(r *Rules, s *State) []Event {
		s.Energy = s.MaxEnergy
		return nil
	}
}

func AcceptQuest(questID string) Mutation {
	return func(r *Rules, s *State) []Event {
		prev := s.QuestStatus(questID)
		s.Quests[questID] = QuestState{Status: QuestAccepted}
		if prev == QuestAccepted {
			return nil
		}
		return []Event{{Kind: EventQuestAccepted, QuestID: questID}}
	}
}

// CompleteQuest pays the catalog reward for an accepted quest. Completed
// quests can be accepted again, so rewards repeat like bounties.
func CompleteQuest(questID string) Mutation {
	return func(r *Rules, s *State) []Event {
		if s.QuestStatus(questID) != QuestAccepted {
			return nil
		}
		s.Quests[questID] = QuestState{Status: QuestCompleted}
		if r.Catalogs != nil {
			if def, ok := r.Catalogs.Quests.ByID[questID]; ok {
				s.Gold += def.RewardGold
				s.Experience += def.RewardXP
			}
		}
		return []Event{{Kind: EventQuestCompleted, QuestID: questID}}
	}
}

func AdvanceTavernStage() Mutation {
	return func(r *Rules, s *State) []Event {
		if r.Catalogs != nil && s.TavernStage >= r.Catalogs.LastTavernStage() {
			return nil
		}
		s.TavernStage++
		return []Event{{Kind: EventTavernStageAdvanced, Stage: s.TavernStage}}
	}
}

// LevelUp spends one level's worth of experience unconditionally.
func LevelUp() Mutation {
	return func(r *Rules, s *State) []Event {
		s.Experience -= r.Requirement(s.Level)
		s.Level++
		return []Event{{Kind: EventLeveledUp, Level: s.Level}}
	}
}
