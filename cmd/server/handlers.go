package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ratcellar.io/internal/transport/observer"
	"ratcellar.io/internal/transport/ws"
)

type muxOptions struct {
	AdminHTTP bool
	WS        *ws.Server
	Observer  *observer.Server
}

func newMux(rt *serverRuntime, opts muxOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		writeMetrics(rw, rt, opts)
	})
	if opts.WS != nil {
		mux.HandleFunc("/v1/ws", opts.WS.Handler())
	}
	if !opts.AdminHTTP {
		rt.log.Printf("admin endpoints disabled (RC_ENABLE_ADMIN_HTTP=false)")
		return mux
	}

	// Local-only admin endpoints.
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		cur := rt.store.Current()
		tavern, cellar := rt.store.Rules().Narrative(cur.State)
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			Profile       string          `json:"profile"`
			Seq           uint64          `json:"seq"`
			Op            string          `json:"op"`
			LoadOutcome   string          `json:"load_outcome"`
			UptimeSec     int64           `json:"uptime_sec"`
			Requirement   float64         `json:"requirement"`
			TavernMessage string          `json:"tavern_message"`
			CellarMessage string          `json:"cellar_message,omitempty"`
			State         json.RawMessage `json:"state"`
		}{
			Profile:       rt.profile,
			Seq:           cur.Seq,
			Op:            cur.Op,
			LoadOutcome:   string(rt.store.Outcome()),
			UptimeSec:     int64(time.Since(rt.started).Seconds()),
			Requirement:   rt.store.Rules().Requirement(cur.State.Level),
			TavernMessage: tavern,
			CellarMessage: cellar,
			State:         cur.JSON,
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})
	mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		path, snap, err := rt.Snapshot()
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "seq": snap.Header.Seq, "path": path})
	})
	mux.HandleFunc("/admin/v1/reset", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		res, err := rt.Reset(ctx)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "run": res.Run, "archived": res.Archived, "seq": res.Seq})
	})
	if opts.Observer != nil {
		mux.HandleFunc("/admin/v1/observer/bootstrap", opts.Observer.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", opts.Observer.WSHandler())
	}
	return mux
}

func writeMetrics(rw http.ResponseWriter, rt *serverRuntime, opts muxOptions) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	cur := rt.store.Current()
	st := cur.State
	adventurers := 0
	gps := 0.0
	for _, c := range st.OpenedCellars {
		adventurers += c.AdventurersHired
		gps += rt.store.Rules().GoldPerSecond(st, c)
	}
	p := rt.profile

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP ratcellar_state_seq Committed updates since start.\n")
	fmt.Fprintf(rw, "# TYPE ratcellar_state_seq counter\n")
	fmt.Fprintf(rw, "ratcellar_state_seq{profile=%q} %d\n", p, cur.Seq)

	fmt.Fprintf(rw, "# HELP ratcellar_level Current player level.\n")
	fmt.Fprintf(rw, "# TYPE ratcellar_level gauge\n")
	fmt.Fprintf(rw, "ratcellar_level{profile=%q} %d\n", p, st.Level)

	fmt.Fprintf(rw, "# HELP ratcellar_gold Current gold.\n")
	fmt.Fprintf(rw, "# TYPE ratcellar_gold gauge\n")
	fmt.Fprintf(rw, "ratcellar_gold{profile=%q} %.3f\n", p, st.Gold)

	fmt.Fprintf(rw, "# HELP ratcellar_kills Total rats killed.\n")
	fmt.Fprintf(rw, "# TYPE ratcellar_kills gauge\n")
	fmt.Fprintf(rw, "ratcellar_kills{profile=%q} %.0f\n", p, st.Kills)

	fmt.Fprintf(rw, "# HELP ratcellar_cellars_open Opened cellars.\n")
	fmt.Fprintf(rw, "# TYPE ratcellar_cellars_open gauge\n")
	fmt.Fprintf(rw, "ratcellar_cellars_open{profile=%q} %d\n", p, len(st.OpenedCellars))

	fmt.Fprintf(rw, "# HELP ratcellar_adventurers Hired adventurers across all cellars.\n")
	fmt.Fprintf(rw, "# TYPE ratcellar_adventurers gauge\n")
	fmt.Fprintf(rw, "ratcellar_adventurers{profile=%q} %d\n", p, adventurers)

	fmt.Fprintf(rw, "# HELP ratcellar_gold_per_second Passive income at the current rate.\n")
	fmt.Fprintf(rw, "# TYPE ratcellar_gold_per_second gauge\n")
	fmt.Fprintf(rw, "ratcellar_gold_per_second{profile=%q} %.3f\n", p, gps)

	fmt.Fprintf(rw, "# HELP ratcellar_subscribers Store subscribers (clients, logs, observers).\n")
	fmt.Fprintf(rw, "# TYPE ratcellar_subscribers gauge\n")
	fmt.Fprintf(rw, "ratcellar_subscribers{profile=%q} %d\n", p, rt.store.Subscribers())

	if opts.WS != nil {
		s := opts.WS.Stats()
		fmt.Fprintf(rw, "# HELP ratcellar_ws_sessions Connected player sessions.\n")
		fmt.Fprintf(rw, "# TYPE ratcellar_ws_sessions gauge\n")
		fmt.Fprintf(rw, "ratcellar_ws_sessions{profile=%q} %d\n", p, s.Sessions)

		fmt.Fprintf(rw, "# HELP ratcellar_ws_messages_total Player messages by outcome.\n")
		fmt.Fprintf(rw, "# TYPE ratcellar_ws_messages_total counter\n")
		fmt.Fprintf(rw, "ratcellar_ws_messages_total{profile=%q,outcome=%q} %d\n", p, "applied", s.Acts)
		fmt.Fprintf(rw, "ratcellar_ws_messages_total{profile=%q,outcome=%q} %d\n", p, "rejected", s.Rejected)

		fmt.Fprintf(rw, "# HELP ratcellar_ws_dropped_states_total States skipped for slow clients.\n")
		fmt.Fprintf(rw, "# TYPE ratcellar_ws_dropped_states_total counter\n")
		fmt.Fprintf(rw, "ratcellar_ws_dropped_states_total{profile=%q} %d\n", p, s.Dropped)
	}
	if opts.Observer != nil {
		fmt.Fprintf(rw, "# HELP ratcellar_observer_sessions Connected observers.\n")
		fmt.Fprintf(rw, "# TYPE ratcellar_observer_sessions gauge\n")
		fmt.Fprintf(rw, "ratcellar_observer_sessions{profile=%q} %d\n", p, opts.Observer.Sessions())
	}
	if rt.chime != nil {
		fmt.Fprintf(rw, "# HELP ratcellar_chimes_total Level-up chimes played.\n")
		fmt.Fprintf(rw, "# TYPE ratcellar_chimes_total counter\n")
		fmt.Fprintf(rw, "ratcellar_chimes_total{profile=%q} %d\n", p, rt.chime.Played())
	}
	if rt.idx != nil {
		s := rt.idx.Stats()
		fmt.Fprintf(rw, "# HELP ratcellar_index_queue_depth Index writer backlog.\n")
		fmt.Fprintf(rw, "# TYPE ratcellar_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "ratcellar_index_queue_depth{profile=%q} %d\n", p, s.QueueDepth)

		fmt.Fprintf(rw, "# HELP ratcellar_index_dropped_total Index writes dropped because the queue was full.\n")
		fmt.Fprintf(rw, "# TYPE ratcellar_index_dropped_total counter\n")
		fmt.Fprintf(rw, "ratcellar_index_dropped_total{profile=%q,kind=%q} %d\n", p, "update", s.DropUpdateTotal)
		fmt.Fprintf(rw, "ratcellar_index_dropped_total{profile=%q,kind=%q} %d\n", p, "snapshot", s.DropSnapshotTotal)
		fmt.Fprintf(rw, "ratcellar_index_dropped_total{profile=%q,kind=%q} %d\n", p, "run", s.DropRunTotal)
	}
}
