package observer

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ratcellar.io/internal/observerproto"
	"ratcellar.io/internal/persistence/kv"
	"ratcellar.io/internal/sim/catalogs"
	"ratcellar.io/internal/sim/game"
	"ratcellar.io/internal/sim/tuning"
	"ratcellar.io/internal/store"
)

func newTestServer(t *testing.T) (*store.Store, *httptest.Server) {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{
		KV:    kv.NewMemory(),
		Rules: game.NewRules(tuning.Defaults(), catalogs.Defaults()),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	srv := NewServer(st, log.New(io.Discard, "", 0))
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/v1/observer/bootstrap", srv.BootstrapHandler())
	mux.HandleFunc("/admin/v1/observer/ws", srv.WSHandler())
	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)
	return st, hs
}

func readState(t *testing.T, conn *websocket.Conn) observerproto.StateMsg {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg observerproto.StateMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != observerproto.TypeState {
		t.Fatalf("type=%q", msg.Type)
	}
	return msg
}

func TestBootstrap(t *testing.T) {
	_, hs := newTestServer(t)
	resp, err := http.Get(hs.URL + "/admin/v1/observer/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var boot observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if boot.ProtocolVersion != observerproto.Version || len(boot.Cellars) == 0 || len(boot.Quests) == 0 {
		t.Fatalf("bootstrap=%+v", boot)
	}
	if boot.LoadOutcome != string(store.LoadFresh) {
		t.Fatalf("load_outcome=%q", boot.LoadOutcome)
	}
}

func TestWS_StreamsStates(t *testing.T) {
	st, hs := newTestServer(t)
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/admin/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version, IncludeEvents: true}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	first := readState(t, conn)
	if first.Seq != 0 || first.Level != 1 || first.Scene != "TAVERN" {
		t.Fatalf("first=%+v", first)
	}

	ctx := context.Background()
	if _, err := st.OpenCellar(ctx, 0); err != nil {
		t.Fatalf("open cellar: %v", err)
	}
	got := readState(t, conn)
	for got.Seq < 1 {
		got = readState(t, conn)
	}
	if got.Op != store.OpOpenCellar || len(got.Cellars) != 1 || got.Cellars[0].ID != 0 {
		t.Fatalf("after open=%+v", got)
	}
	if !game.HasKind(got.Events, game.EventCellarOpened) {
		t.Fatalf("events=%+v", got.Events)
	}
}

func TestWS_RejectsMissingSubscribe(t *testing.T) {
	_, hs := newTestServer(t)
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/admin/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(map[string]string{"type": "HELLO", "protocol_version": observerproto.Version})
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v want policy violation close", err)
	}
}

func TestSummarize(t *testing.T) {
	rules := game.NewRules(tuning.Defaults(), catalogs.Defaults())
	s := rules.Default()
	s.OpenedCellars = []game.CellarState{{ID: 1, AdventurersHired: 3}}
	s.Quests["rat_problem"] = game.QuestState{Status: game.QuestAccepted}
	sn := store.Snapshot{Seq: 4, Op: store.OpHireAdventurers, State: s, Events: []game.Event{{Kind: game.EventAdventurersHired}}}

	msg := Summarize(rules, sn, false)
	if msg.Events != nil {
		t.Fatalf("events should be omitted")
	}
	if msg.Quests["rat_problem"] != "accepted" {
		t.Fatalf("quests=%v", msg.Quests)
	}
	if want := rules.GoldPerSecond(s, s.OpenedCellars[0]); msg.Cellars[0].GoldPerSec != want {
		t.Fatalf("gps=%v want %v", msg.Cellars[0].GoldPerSec, want)
	}
	if msg.Requirement != rules.Requirement(1) {
		t.Fatalf("requirement=%v", msg.Requirement)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:1234": true,
		"[::1]:80":       true,
		"::1":            true,
		"10.0.0.2:80":    false,
		"8.8.8.8:1234":   false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := IsLoopbackRemote(in); got != want {
			t.Fatalf("IsLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}
