package ws

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"ratcellar.io/internal/protocol"
	"ratcellar.io/internal/store"
)

type Server struct {
	store *store.Store
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	// MaxActsPerSec caps ACT messages per connection; 0 disables the cap.
	MaxActsPerSec int

	sessions atomic.Int64
	acts     atomic.Uint64
	rejected atomic.Uint64
	dropped  atomic.Uint64
}

type Stats struct {
	Sessions int64
	Acts     uint64
	Rejected uint64
	Dropped  uint64
}

func NewServer(st *store.Store, logger *log.Logger) *Server {
	return &Server{
		store:         st,
		log:           logger,
		MaxActsPerSec: 50,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Stats() Stats {
	return Stats{
		Sessions: s.sessions.Load(),
		Acts:     s.acts.Load(),
		Rejected: s.rejected.Load(),
		Dropped:  s.dropped.Load(),
	}
}

// frame is one committed snapshot as wire messages. events is nil when the
// update emitted none.
type frame struct {
	state  []byte
	events []byte
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hello, ok := s.handshake(conn)
		if !ok {
			return
		}
		sid := fmt.Sprintf("P%d", s.nextID.Add(1))
		if err := writeJSON(conn, s.welcome(sid)); err != nil {
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		s.log.Printf("player %s (%s) connected from %s", sid, hello.PlayerName, r.RemoteAddr)

		states := make(chan frame, 1)
		replies := make(chan []byte, 16)
		unsubscribe := s.store.Subscribe(func(sn store.Snapshot) {
			if s.offer(states, s.frameFor(sn)) {
				s.dropped.Add(1)
			}
		})
		defer unsubscribe()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case f := <-states:
					if err := writeRaw(conn, f.state); err != nil {
						cancel()
						return
					}
					if f.events != nil {
						if err := writeRaw(conn, f.events); err != nil {
							cancel()
							return
						}
					}
				case b := <-replies:
					if err := writeRaw(conn, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		reply := func(actID string, perr *protocol.Error) {
			s.rejected.Add(1)
			msg := protocol.ErrorMessage(perr)
			msg.ActID = actID
			b, _ := json.Marshal(msg)
			select {
			case replies <- b:
			default:
			}
		}

		lim := rateWindow{max: s.MaxActsPerSec}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				reply("", protocol.Errorf(protocol.ErrProtoBadRequest, "malformed json"))
				continue
			}
			if base.Type != protocol.TypeAct {
				reply("", protocol.Errorf(protocol.ErrProtoBadRequest, "unexpected message type "+base.Type))
				continue
			}
			act, perr := protocol.DecodeAct(msg)
			if perr != nil {
				reply(act.ID, perr)
				continue
			}
			if !lim.allow(time.Now()) {
				reply(act.ID, protocol.Errorf(protocol.ErrRateLimit, "too many actions"))
				continue
			}
			s.acts.Add(1)
			if _, err := Dispatch(ctx, s.store, act); err != nil {
				var pe *protocol.Error
				if !errors.As(err, &pe) {
					pe = protocol.Errorf(protocol.ErrInternal, err.Error())
				}
				s.log.Printf("player %s: %s failed: %v", sid, act.Op, err)
				reply(act.ID, pe)
			}
		}
		cancel()
		s.log.Printf("player %s disconnected", sid)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (protocol.HelloMsg, bool) {
	var hello protocol.HelloMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return hello, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return hello, false
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		return hello, false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return hello, false
	}
	if hello.PlayerName == "" {
		hello.PlayerName = "player"
	}
	return hello, true
}

func (s *Server) welcome(sid string) protocol.WelcomeMsg {
	rules := s.store.Rules()
	t := rules.Tuning
	cats := rules.Catalogs
	tb, _ := json.Marshal(t)
	sum := sha256.Sum256(tb)
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sid,
		Catalogs: protocol.CatalogDigests{
			Cellars:      protocol.DigestRef{Digest: cats.Cellars.Digest, Count: len(cats.Cellars.Defs)},
			Tavern:       protocol.DigestRef{Digest: cats.Tavern.Digest, Count: len(cats.Tavern.Stages)},
			Quests:       protocol.DigestRef{Digest: cats.Quests.Digest, Count: len(cats.Quests.Defs)},
			TuningDigest: hex.EncodeToString(sum[:]),
		},
		Tuning: protocol.TuningParams{
			TickDurationMs: t.TickDurationMs,
			ClickPower:     t.ClickPower,
			ManualGold:     t.ManualGold,
			ManualXP:       t.ManualXP,
			AutoLevel:      t.AutoLevel,
			EnergyEnabled:  t.Energy.Enabled,
		},
	}
}

func (s *Server) frameFor(sn store.Snapshot) frame {
	rules := s.store.Rules()
	tavern, cellar := rules.Narrative(sn.State)
	var f frame
	f.state, _ = json.Marshal(protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Seq:             sn.Seq,
		Op:              sn.Op,
		State:           sn.JSON,
		TavernMessage:   tavern,
		CellarMessage:   cellar,
		Requirement:     rules.Requirement(sn.State.Level),
	})
	if len(sn.Events) > 0 {
		f.events, _ = json.Marshal(protocol.EventsMsg{
			Type:            protocol.TypeEvents,
			ProtocolVersion: protocol.Version,
			Seq:             sn.Seq,
			Events:          sn.Events,
		})
	}
	return f
}

// offer replaces an unsent frame with f. Every frame carries the complete
// state, so a slow client only loses intermediate states.
func (s *Server) offer(ch chan frame, f frame) (dropped bool) {
	for {
		select {
		case ch <- f:
			return dropped
		default:
		}
		select {
		case <-ch:
			dropped = true
		default:
		}
	}
}

type rateWindow struct {
	max   int
	start time.Time
	n     int
}

func (w *rateWindow) allow(now time.Time) bool {
	if w.max <= 0 {
		return true
	}
	if now.Sub(w.start) >= time.Second {
		w.start = now
		w.n = 0
	}
	if w.n >= w.max {
		return false
	}
	w.n++
	return true
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeRaw(conn, b)
}

func writeRaw(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
