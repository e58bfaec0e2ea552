package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"ratcellar.io/internal/observerproto"
	"ratcellar.io/internal/sim/game"
	"ratcellar.io/internal/store"
)

type Server struct {
	store *store.Store
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	sessions atomic.Int64

	// AllowRemote disables the loopback check (tests, trusted networks).
	AllowRemote bool
}

func NewServer(st *store.Store, logger *log.Logger) *Server {
	return &Server{
		store: st,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Sessions is the number of connected observers.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.AllowRemote && !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cats := s.store.Rules().Catalogs
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Seq:             s.store.Current().Seq,
			LoadOutcome:     string(s.store.Outcome()),
			Cellars:         []observerproto.CellarInfo{},
			Quests:          []observerproto.QuestInfo{},
			TavernStages:    cats.LastTavernStage() + 1,
		}
		for _, c := range cats.Cellars.Defs {
			resp.Cellars = append(resp.Cellars, observerproto.CellarInfo{ID: c.ID, Name: c.Name, RatGold: c.RatGold, HireCost: c.HireCost})
		}
		for _, q := range cats.Quests.Defs {
			resp.Quests = append(resp.Quests, observerproto.QuestInfo{ID: q.ID, Title: q.Title, RewardGold: q.RewardGold, RewardXP: q.RewardXP})
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.AllowRemote && !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		var settings session
		settings.apply(sub)

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		s.log.Printf("observer %s connected from %s", sid, r.RemoteAddr)

		latest := make(chan store.Snapshot, 1)
		unsubscribe := s.store.Subscribe(func(sn store.Snapshot) { offer(latest, sn) })
		defer unsubscribe()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		rules := s.store.Rules()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case sn := <-latest:
					b, err := json.Marshal(Summarize(rules, sn, settings.events.Load()))
					if err != nil {
						writeErr <- err
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
					if d := time.Duration(settings.intervalMs.Load()) * time.Millisecond; d > 0 {
						select {
						case <-ctx.Done():
						case <-time.After(d):
						}
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var sub observerproto.SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				continue
			}
			if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
				continue
			}
			settings.apply(sub)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.Printf("observer %s disconnected", sid)
	}
}

type session struct {
	intervalMs atomic.Int64
	events     atomic.Bool
}

func (s *session) apply(sub observerproto.SubscribeMsg) {
	ms := sub.MinIntervalMs
	if ms < 0 {
		ms = 0
	}
	if ms > 60_000 {
		ms = 60_000
	}
	s.intervalMs.Store(int64(ms))
	s.events.Store(sub.IncludeEvents)
}

// offer replaces whatever the consumer has not picked up yet with sn.
func offer(ch chan store.Snapshot, sn store.Snapshot) {
	for {
		select {
		case ch <- sn:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Summarize builds the observer view of a snapshot.
func Summarize(rules *game.Rules, sn store.Snapshot, includeEvents bool) observerproto.StateMsg {
	st := sn.State
	msg := observerproto.StateMsg{
		Type:            observerproto.TypeState,
		ProtocolVersion: observerproto.Version,
		Seq:             sn.Seq,
		Op:              sn.Op,
		Level:           st.Level,
		Experience:      st.Experience,
		Requirement:     rules.Requirement(st.Level),
		Gold:            st.Gold,
		Kills:           st.Kills,
		Scene:           st.Scene.String(),
		TavernStage:     st.TavernStage,
		Cellars:         make([]observerproto.CellarSummary, 0, len(st.OpenedCellars)),
	}
	for _, c := range st.OpenedCellars {
		msg.Cellars = append(msg.Cellars, observerproto.CellarSummary{
			ID:          c.ID,
			Adventurers: c.AdventurersHired,
			GoldPerSec:  rules.GoldPerSecond(st, c),
		})
	}
	if len(st.Quests) > 0 {
		msg.Quests = make(map[string]string, len(st.Quests))
		for id, q := range st.Quests {
			msg.Quests[id] = string(q.Status)
		}
	}
	if includeEvents {
		msg.Events = sn.Events
	}
	return msg
}

// IsLoopbackRemote reports whether an http.Request.RemoteAddr is a loopback address.
func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
