package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ratcellar.io/internal/persistence/kv"
	"ratcellar.io/internal/protocol"
	"ratcellar.io/internal/sim/catalogs"
	"ratcellar.io/internal/sim/game"
	"ratcellar.io/internal/sim/tuning"
	"ratcellar.io/internal/store"
)

type harness struct {
	mem   *kv.Memory
	store *store.Store
	srv   *Server
	url   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := kv.NewMemory()
	st, err := store.Open(context.Background(), store.Options{
		KV:    mem,
		Rules: game.NewRules(tuning.Defaults(), catalogs.Defaults()),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	srv := NewServer(st, log.New(io.Discard, "", 0))
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &harness{mem: mem, store: st, srv: srv, url: "ws" + strings.TrimPrefix(hs.URL, "http")}
}

func (h *harness) join(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, PlayerName: "tester"}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var welcome protocol.WelcomeMsg
	readInto(t, conn, protocol.TypeWelcome, &welcome)
	if welcome.SessionID == "" || welcome.Catalogs.Cellars.Count == 0 || welcome.Catalogs.TuningDigest == "" {
		t.Fatalf("welcome=%+v", welcome)
	}
	return conn
}

func readInto(t *testing.T, conn *websocket.Conn, wantType string, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read %s: %v", wantType, err)
	}
	base, err := protocol.DecodeBase(b)
	if err != nil {
		t.Fatalf("decode base: %v", err)
	}
	if base.Type != wantType {
		t.Fatalf("type=%s want %s: %s", base.Type, wantType, b)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", wantType, err)
	}
}

func act(op string) map[string]any {
	return map[string]any{"type": protocol.TypeAct, "protocol_version": protocol.Version, "op": op}
}

func TestHandler_ActUpdatesAndPublishes(t *testing.T) {
	h := newHarness(t)
	conn := h.join(t)

	var initial protocol.StateMsg
	readInto(t, conn, protocol.TypeState, &initial)
	if initial.Seq != 0 || initial.TavernMessage == "" || initial.Requirement != 10 {
		t.Fatalf("initial=%+v", initial)
	}

	kill := act(protocol.OpManualKill)
	kill["xp"] = 10
	if err := conn.WriteJSON(kill); err != nil {
		t.Fatalf("write: %v", err)
	}

	var st protocol.StateMsg
	readInto(t, conn, protocol.TypeState, &st)
	if st.Seq != 1 || st.Op != store.OpManualKill {
		t.Fatalf("state=%+v", st)
	}
	saved, ok, err := h.mem.Get(context.Background(), store.StateKey)
	if err != nil || !ok {
		t.Fatalf("saved: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(st.State, saved) {
		t.Fatalf("published state differs from saved:\n%s\n%s", st.State, saved)
	}
	var decoded game.State
	if err := json.Unmarshal(st.State, &decoded); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if decoded.Level != 2 || decoded.Experience != 0 {
		t.Fatalf("level=%d xp=%v", decoded.Level, decoded.Experience)
	}

	var evs protocol.EventsMsg
	readInto(t, conn, protocol.TypeEvents, &evs)
	if evs.Seq != 1 || !game.HasKind(evs.Events, game.EventLeveledUp) {
		t.Fatalf("events=%+v", evs)
	}
}

func TestHandler_Errors(t *testing.T) {
	h := newHarness(t)
	conn := h.join(t)
	var initial protocol.StateMsg
	readInto(t, conn, protocol.TypeState, &initial)

	bad := act("DANCE")
	bad["id"] = "a1"
	_ = conn.WriteJSON(bad)
	var e protocol.ErrorMsg
	readInto(t, conn, protocol.TypeError, &e)
	if e.Code != protocol.ErrUnknownOp || e.ActID != "a1" {
		t.Fatalf("error=%+v", e)
	}

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
	readInto(t, conn, protocol.TypeError, &e)
	if e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("error=%+v", e)
	}

	_ = conn.WriteJSON(map[string]any{"type": protocol.TypeHello, "protocol_version": protocol.Version})
	readInto(t, conn, protocol.TypeError, &e)
	if e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("error=%+v", e)
	}

	// The connection survives rejected messages.
	_ = conn.WriteJSON(act(protocol.OpGotoShop))
	var st protocol.StateMsg
	readInto(t, conn, protocol.TypeState, &st)
	if st.Op != store.OpGotoShop {
		t.Fatalf("state=%+v", st)
	}
	if got := h.srv.Stats().Rejected; got != 3 {
		t.Fatalf("rejected=%d want 3", got)
	}
}

func TestHandler_RejectsBadHello(t *testing.T) {
	h := newHarness(t)
	conn, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1"})
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v want policy violation close", err)
	}
}

func TestDispatch_HireUsesCatalogPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = h.store.ManualKill(ctx, 0)
	}
	_, _ = h.store.OpenCellar(ctx, 0)
	gold := h.store.Current().State.Gold

	id := 0
	evs, err := Dispatch(ctx, h.store, protocol.ActMsg{Op: protocol.OpHireAdventurers, CellarID: &id, Count: 2})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !game.HasKind(evs, game.EventAdventurersHired) {
		t.Fatalf("events=%v", evs)
	}
	price := h.store.Rules().Catalogs.Cellars.ByID[0].HireCost * 2
	if got := h.store.Current().State.Gold; got != gold-price {
		t.Fatalf("gold=%v want %v", got, gold-price)
	}
}

func TestDispatch_HireIgnoresLowQuote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = h.store.ManualKill(ctx, 0)
	}
	_, _ = h.store.OpenCellar(ctx, 0)
	gold := h.store.Current().State.Gold
	hired := h.store.Current().State.OpenedCellars[0].AdventurersHired

	id := 0
	_, err := Dispatch(ctx, h.store, protocol.ActMsg{Op: protocol.OpHireAdventurers, CellarID: &id, Count: 2, Cost: 0.01})
	var pe *protocol.Error
	if !errors.As(err, &pe) || pe.Code != protocol.ErrBadRequest {
		t.Fatalf("err=%v", err)
	}
	cur := h.store.Current().State
	if cur.Gold != gold || cur.OpenedCellars[0].AdventurersHired != hired {
		t.Fatalf("gold=%v hired=%d want %v %d", cur.Gold, cur.OpenedCellars[0].AdventurersHired, gold, hired)
	}

	// A generous quote still pays only the catalog price.
	price := h.store.Rules().Catalogs.Cellars.ByID[0].HireCost * 2
	if _, err := Dispatch(ctx, h.store, protocol.ActMsg{Op: protocol.OpHireAdventurers, CellarID: &id, Count: 2, Cost: gold}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := h.store.Current().State.Gold; got != gold-price {
		t.Fatalf("gold=%v want %v", got, gold-price)
	}

	bad := 999
	_, err = Dispatch(ctx, h.store, protocol.ActMsg{Op: protocol.OpHireAdventurers, CellarID: &bad, Count: 1})
	if !errors.As(err, &pe) || pe.Code != protocol.ErrInvalidTarget {
		t.Fatalf("unknown cellar err=%v", err)
	}
}

func TestDispatch_ClosedStore(t *testing.T) {
	h := newHarness(t)
	_ = h.store.Close()
	_, err := Dispatch(context.Background(), h.store, protocol.ActMsg{Op: protocol.OpRest})
	var pe *protocol.Error
	if !errors.As(err, &pe) || pe.Code != protocol.ErrUnavailable {
		t.Fatalf("err=%v", err)
	}
}

func TestRateWindow(t *testing.T) {
	w := rateWindow{max: 2}
	now := time.Unix(100, 0)
	if !w.allow(now) || !w.allow(now) || w.allow(now) {
		t.Fatalf("window should admit exactly 2")
	}
	if !w.allow(now.Add(time.Second)) {
		t.Fatalf("window should reset after a second")
	}
}
