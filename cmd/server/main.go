package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"clearsite.ai/internal/logging"
	"clearsite.ai/internal/persistence/indexdb"
	runlog "clearsite.ai/internal/persistence/log"
	"clearsite.ai/internal/persistence/snapshot"
	"clearsite.ai/internal/scenario"
	"clearsite.ai/internal/sim/tuning"
	"clearsite.ai/internal/sim/world/grid"
	"clearsite.ai/internal/sim/world/logic/vacate"
	"clearsite.ai/internal/transport/ws"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		configDir    = flag.String("configs", "./configs", "config directory")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir      = flag.String("data", "./data", "runtime data directory (journal and index)")
		scenarioPath = flag.String("scenario", "", "start from a scenario's map and units instead of a generated map")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite run index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot and -scenario are empty)")
		saveOnExit = flag.Bool("save_snapshot", true, "write a snapshot of the hosted map on shutdown")
	)
	flag.Parse()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}
	if tune.Journal.Dir == "" {
		tune.Journal.Dir = *dataDir
	}
	if tune.Journal.IndexDB == "" && !*disableDB {
		tune.Journal.IndexDB = filepath.Join(*dataDir, "index", "runs.sqlite")
	}
	if *disableDB {
		tune.Journal.IndexDB = ""
	}

	logger, err := logging.New(tune.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer logging.Close(logger)

	snapDir := filepath.Join(*dataDir, "snapshots")
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest && strings.TrimSpace(*scenarioPath) == "" {
		snapshotToLoad = snapshot.Latest(snapDir)
	}
	w, err := buildWorld(tune, strings.TrimSpace(*scenarioPath), snapshotToLoad)
	if err != nil {
		logger.WithError(err).Fatal("world")
	}
	mw, mh := w.Size()
	logger.WithFields(logrus.Fields{"width": mw, "height": mh, "units": len(w.Units()), "digest": w.Digest()}).Info("world ready")

	journal := runlog.NewRunLogger(tune.Journal.Dir)
	journal.OnRotate(func(path string) {
		fields := logrus.Fields{"path": path}
		if fi, err := os.Stat(path); err == nil {
			fields["size"] = humanize.Bytes(uint64(fi.Size()))
		}
		logger.WithFields(fields).Info("journal file finished")
	})
	defer journal.Close()

	var idx *indexdb.SQLiteIndex
	var sinks []runlog.RunSink
	tuningDigest := ""
	if tune.Journal.IndexDB != "" {
		idx, err = indexdb.OpenSQLite(tune.Journal.IndexDB, logger)
		if err != nil {
			logger.WithError(err).Fatal("open index")
		}
		defer idx.Close()
		if tuningDigest, err = idx.UpsertTuning(tune); err != nil {
			logger.WithError(err).Warn("index: upsert tuning")
		}
		sinks = append(sinks, idx)
	}
	rec := runlog.NewRecorder(journal, logger, sinks...)

	seed := tune.Vacate.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	srv := ws.NewServer(ws.Config{
		World:        w,
		Rand:         rand.New(rand.NewSource(seed)),
		Vacate:       vacate.OptionsFromTuning(tune.Vacate),
		Recorder:     rec,
		TuningDigest: tuningDigest,
		Log:          logger,
	})

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", srv.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := srv.Metrics()

		fmt.Fprintf(rw, "# HELP clearsite_sessions Connected websocket sessions.\n")
		fmt.Fprintf(rw, "# TYPE clearsite_sessions gauge\n")
		fmt.Fprintf(rw, "clearsite_sessions %d\n", m.Sessions)

		fmt.Fprintf(rw, "# HELP clearsite_units Units on the hosted map.\n")
		fmt.Fprintf(rw, "# TYPE clearsite_units gauge\n")
		fmt.Fprintf(rw, "clearsite_units %d\n", m.Units)

		fmt.Fprintf(rw, "# HELP clearsite_vacate_runs_total Vacate requests by outcome.\n")
		fmt.Fprintf(rw, "# TYPE clearsite_vacate_runs_total counter\n")
		fmt.Fprintf(rw, "clearsite_vacate_runs_total{outcome=%q} %d\n", "cleared", m.Runs-m.Uncleared)
		fmt.Fprintf(rw, "clearsite_vacate_runs_total{outcome=%q} %d\n", "uncleared", m.Uncleared)
		fmt.Fprintf(rw, "clearsite_vacate_runs_total{outcome=%q} %d\n", "error", m.Failed)

		js := journal.Stats()
		fmt.Fprintf(rw, "# HELP clearsite_journal_entries_total Runs written to the journal.\n")
		fmt.Fprintf(rw, "# TYPE clearsite_journal_entries_total counter\n")
		fmt.Fprintf(rw, "clearsite_journal_entries_total %d\n", js.Entries)
		fmt.Fprintf(rw, "# HELP clearsite_journal_bytes_total Uncompressed journal bytes.\n")
		fmt.Fprintf(rw, "# TYPE clearsite_journal_bytes_total counter\n")
		fmt.Fprintf(rw, "clearsite_journal_bytes_total %d\n", js.Bytes)

		if idx != nil {
			st := idx.Stats()
			fmt.Fprintf(rw, "# HELP clearsite_index_queue_depth Run index writer backlog.\n")
			fmt.Fprintf(rw, "# TYPE clearsite_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "clearsite_index_queue_depth %d\n", st.QueueDepth)
			fmt.Fprintf(rw, "# HELP clearsite_index_dropped_total Runs dropped by the index writer.\n")
			fmt.Fprintf(rw, "# TYPE clearsite_index_dropped_total counter\n")
			fmt.Fprintf(rw, "clearsite_index_dropped_total %d\n", st.DropRunTotal)
		}
	})

	if envBool("CS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			var resp struct {
				Width  int    `json:"width"`
				Height int    `json:"height"`
				Units  int    `json:"units"`
				Digest string `json:"digest"`
				Runs   uint64 `json:"runs"`
			}
			srv.World(func(w *grid.World) {
				resp.Width, resp.Height = w.Size()
				resp.Units = len(w.Units())
				resp.Digest = w.Digest()
			})
			resp.Runs = srv.Metrics().Runs
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/runs", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			if idx == nil {
				http.Error(rw, "index disabled", http.StatusServiceUnavailable)
				return
			}
			var (
				rows []indexdb.RunRow
				err  error
			)
			if r.URL.Query().Get("uncleared") != "" {
				rows, err = idx.UnclearedRuns(r.Context())
			} else {
				rows, err = idx.RecentRuns(r.Context(), 50)
			}
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(rows)
		})
	}

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", *addr).Info("listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("http server")
	}
	// Sessions must be gone before the deferred journal and index closes run.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(drainCtx); err != nil {
		logger.WithError(err).Warn("websocket sessions still open")
	}
	drainCancel()

	if *saveOnExit {
		at := time.Now()
		var snap snapshot.SnapshotV1
		srv.World(func(w *grid.World) { snap = w.ExportSnapshot("server", at) })
		path := snapshot.PathFor(snapDir, at)
		if err := snapshot.WriteSnapshot(path, snap); err != nil {
			logger.WithError(err).Error("snapshot write")
		} else {
			logger.WithField("path", path).Info("snapshot saved")
		}
	}

	m := srv.Metrics()
	logger.WithFields(logrus.Fields{
		"runs":      humanize.Comma(int64(m.Runs)),
		"uncleared": humanize.Comma(int64(m.Uncleared)),
		"journal":   journal.Path(),
		"written":   humanize.Bytes(journal.Stats().Bytes),
	}).Info("shutdown")
}

func buildWorld(tune tuning.Tuning, scenarioPath, snapPath string) (*grid.World, error) {
	switch {
	case snapPath != "":
		snap, err := snapshot.ReadSnapshot(snapPath)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", snapPath, err)
		}
		return grid.FromSnapshot(snap)
	case scenarioPath == "":
		return grid.Generate(tune.Map), nil
	}
	sc, err := scenario.Load(scenarioPath)
	if err != nil {
		return nil, err
	}
	return sc.Build()
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

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
