// Package store owns the canonical game state. Every operation produces a new
// snapshot, saves it to the key-value slot and then publishes it; a snapshot
// that failed to save is never published.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"ratcellar.io/internal/persistence/kv"
	"ratcellar.io/internal/sim/game"
)

// StateKey is the slot the whole state is saved under.
const StateKey = "state"

var ErrClosed = errors.New("store: closed")

type LoadOutcome string

const (
	LoadFresh   LoadOutcome = "fresh"
	LoadResumed LoadOutcome = "resumed"
	LoadCorrupt LoadOutcome = "corrupt"
)

// Snapshot is one committed state. JSON holds the exact bytes that were
// saved for it. Receivers must treat State as read-only.
type Snapshot struct {
	Seq    uint64       `json:"seq"`
	Op     string       `json:"op"`
	State  game.State   `json:"state"`
	JSON   []byte       `json:"-"`
	Events []game.Event `json:"events,omitempty"`
}

type Options struct {
	KV     kv.Store
	Rules  *game.Rules
	Logger *log.Logger
}

type subscriber struct {
	id uint64
	fn func(Snapshot)
}

type Store struct {
	kv    kv.Store
	rules *game.Rules
	log   *log.Logger

	mu      sync.Mutex
	cur     Snapshot
	subs    []subscriber
	nextSub uint64
	closed  bool
	outcome LoadOutcome
}

// Open loads the saved state (if any) over fresh defaults. A missing or
// unreadable save is not an error: the store starts from defaults.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.KV == nil {
		return nil, fmt.Errorf("store: nil kv")
	}
	if opts.Rules == nil {
		return nil, fmt.Errorf("store: nil rules")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &Store{kv: opts.KV, rules: opts.Rules, log: logger}

	raw, ok, err := opts.KV.Get(ctx, StateKey)
	if err != nil {
		return nil, fmt.Errorf("store: read %q: %w", StateKey, err)
	}
	st, outcome := s.decodeSaved(raw, ok)
	b, err := game.Encode(st)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	s.cur = Snapshot{Op: "load", State: st, JSON: b}
	s.outcome = outcome

	logger.Printf("state %s: level=%d gold=%.0f kills=%.0f cellars=%d", outcome, st.Level, st.Gold, st.Kills, len(st.OpenedCellars))
	return s, nil
}

func (s *Store) decodeSaved(raw []byte, ok bool) (game.State, LoadOutcome) {
	def := s.rules.Default()
	if !ok {
		return def, LoadFresh
	}
	if err := game.Validate(raw); err != nil {
		s.log.Printf("saved state rejected, starting fresh: %v", err)
		return def, LoadCorrupt
	}
	st, err := game.Decode(def, raw)
	if err != nil {
		s.log.Printf("saved state unreadable, starting fresh: %v", err)
		return s.rules.Default(), LoadCorrupt
	}
	return st, LoadResumed
}

// Outcome reports how the state was obtained at Open.
func (s *Store) Outcome() LoadOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

func (s *Store) Rules() *game.Rules { return s.rules }

// Current returns the latest committed snapshot.
func (s *Store) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyCurrent()
}

func (s *Store) copyCurrent() Snapshot {
	out := s.cur
	out.State = s.cur.State.Clone()
	out.JSON = append([]byte(nil), s.cur.JSON...)
	out.Events = append([]game.Event(nil), s.cur.Events...)
	return out
}

// Subscribe registers fn and calls it immediately with the current snapshot,
// then once per committed update, in commit order. fn runs with the store
// locked and must not call back into the store.
func (s *Store) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	fn(s.copyCurrent())

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Update applies m as one transaction: the new snapshot is saved, then
// published. If saving fails the store keeps its previous snapshot.
func (s *Store) Update(ctx context.Context, op string, m game.Mutation) ([]game.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	next, events := game.Apply(s.rules, s.cur.State, m)
	b, err := game.Encode(next)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	if err := s.kv.Put(ctx, StateKey, b); err != nil {
		return nil, fmt.Errorf("store: persist: %w", err)
	}

	s.cur = Snapshot{
		Seq:    s.cur.Seq + 1,
		Op:     op,
		State:  next,
		JSON:   b,
		Events: events,
	}
	for _, sub := range s.subs {
		sub.fn(s.copyCurrent())
	}
	return events, nil
}

// Close stops accepting updates and drops all subscribers. The kv store is
// owned by the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = nil
	return nil
}
