package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"ratcellar.io/internal/audio"
	"ratcellar.io/internal/config"
	"ratcellar.io/internal/persistence/kv"
	persistlog "ratcellar.io/internal/persistence/log"
	"ratcellar.io/internal/persistence/snapshot"
	"ratcellar.io/internal/sim/catalogs"
	"ratcellar.io/internal/sim/clock"
	"ratcellar.io/internal/sim/game"
	"ratcellar.io/internal/sim/tuning"
	"ratcellar.io/internal/store"
	"ratcellar.io/internal/transport/observer"
	"ratcellar.io/internal/transport/ws"
)

func main() {
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	var (
		addr       = flag.String("addr", cfg.Addr, "http listen address")
		profile    = flag.String("profile", cfg.Profile, "save profile name")
		configDir  = flag.String("configs", cfg.ConfigDir, "config directory")
		dataDir    = flag.String("data", cfg.DataDir, "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		storage    = flag.String("storage", cfg.Storage, "state backend: sqlite, file, file+zstd or memory")
		disableDB  = flag.Bool("disable_db", !cfg.Index, "disable the history index")
		noAudio    = flag.Bool("no_audio", !cfg.Audio, "disable the level-up chime")

		restoreLatest = flag.Bool("restore_latest_snapshot", true, "restore the newest backup snapshot when the saved state is unreadable")
		snapshotEvery = flag.Duration("snapshot_every", 10*time.Minute, "backup snapshot interval (0 to disable)")
	)
	flag.Parse()

	cfg.Addr = *addr
	cfg.Profile = *profile
	cfg.ConfigDir = *configDir
	cfg.DataDir = *dataDir
	cfg.Storage = *storage
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}
	profileDir := cfg.ProfileDir()
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		logger.Fatalf("profile dir: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(cfg.ConfigDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	cats, err := catalogs.Load(cfg.ConfigDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	rules := game.NewRules(tune, cats)

	slots, err := kv.Open(cfg.Storage, profileDir)
	if err != nil {
		logger.Fatalf("open storage: %v", err)
	}
	defer slots.Close()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx, slots, rules, filepath.Join(profileDir, "snapshots"), *restoreLatest, logger)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	idx, err := openRuntimeIndex(profileDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	rt := &serverRuntime{
		profile:    cfg.Profile,
		profileDir: profileDir,
		started:    time.Now(),
		log:        logger,
		store:      st,
		idx:        idx,
		adminLog:   persistlog.NewAdminLogger(profileDir),
	}
	defer rt.adminLog.Close()
	if cfg.EventLog {
		rt.events = persistlog.NewEventLogger(profileDir)
		defer rt.events.Close()
	}
	if !*noAudio {
		ch := audio.NewChime()
		if err := ch.Init(); err != nil {
			logger.Printf("audio unavailable, chime disabled: %v", err)
		} else {
			rt.chime = ch
			defer ch.Close()
		}
	}
	unsubscribe := st.Subscribe(rt.onSnapshot)
	defer unsubscribe()

	// Passive production.
	interval := time.Duration(tune.TickDurationMs) * time.Millisecond
	if cfg.TickInterval > 0 {
		interval = cfg.TickInterval
	}
	go func() {
		err := clock.Run(ctx, interval, func(dt float64) {
			if !hasAdventurers(st.Current()) {
				return
			}
			if _, err := st.AdventurerKill(ctx, dt); err != nil && ctx.Err() == nil {
				logger.Printf("adventurer kill: %v", err)
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("clock stopped: %v", err)
		}
	}()

	if *snapshotEvery > 0 {
		go func() {
			t := time.NewTicker(*snapshotEvery)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if _, _, err := rt.Snapshot(); err != nil {
						logger.Printf("%v", err)
					}
				}
			}
		}()
	}

	wsSrv := ws.NewServer(st, logger)
	wsSrv.MaxActsPerSec = cfg.MaxActsPerSec
	opts := muxOptions{AdminHTTP: cfg.AdminEnabled(), WS: wsSrv}
	if opts.AdminHTTP {
		opts.Observer = observer.NewServer(st, logger)
	}
	mux := newMux(rt, opts)
	if cfg.PprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (RC_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("profile=%s storage=%s listening on %s", cfg.Profile, cfg.Storage, cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		return
	}
	if _, _, err := rt.Snapshot(); err != nil {
		logger.Printf("final %v", err)
	}
}

// openStore opens the state store. When the saved state is unreadable and
// restore is set, the newest readable backup snapshot is written back to the
// slot and the store is reopened from it.
func openStore(ctx context.Context, slots kv.Store, rules *game.Rules, snapDir string, restore bool, logger *log.Logger) (*store.Store, error) {
	st, err := store.Open(ctx, store.Options{KV: slots, Rules: rules, Logger: logger})
	if err != nil {
		return nil, err
	}
	if st.Outcome() != store.LoadCorrupt || !restore {
		return st, nil
	}
	for _, path := range snapshot.List(snapDir) {
		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			logger.Printf("restore %s: %v", filepath.Base(path), err)
			continue
		}
		b, err := game.Encode(snap.State)
		if err != nil {
			logger.Printf("restore %s: %v", filepath.Base(path), err)
			continue
		}
		_ = st.Close()
		if err := slots.Put(ctx, store.StateKey, b); err != nil {
			return nil, err
		}
		logger.Printf("restored state from snapshot=%s seq=%d level=%d", filepath.Base(path), snap.Header.Seq, snap.Header.Level)
		return store.Open(ctx, store.Options{KV: slots, Rules: rules, Logger: logger})
	}
	logger.Printf("no readable backup snapshot to restore; continuing from defaults")
	return st, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
