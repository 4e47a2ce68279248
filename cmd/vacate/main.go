package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"clearsite.ai/internal/logging"
	"clearsite.ai/internal/persistence/indexdb"
	runlog "clearsite.ai/internal/persistence/log"
	"clearsite.ai/internal/scenario"
	"clearsite.ai/internal/sim/tuning"
	"clearsite.ai/internal/sim/world/logic/vacate"
)

func main() {
	var (
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (missing file means defaults)")
		journalDir = flag.String("journal", "", "journal directory (default: tuning journal.dir; empty disables)")
		indexPath  = flag.String("index", "", "sqlite index path (default: tuning journal.index_db; empty disables)")
		verbose    = flag.Bool("v", false, "print every order")
	)
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: vacate [flags] scenario.json [scenario.json.zst ...]")
		os.Exit(2)
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}
	if *journalDir != "" {
		tune.Journal.Dir = *journalDir
	}
	if *indexPath != "" {
		tune.Journal.IndexDB = *indexPath
	}

	logger, err := logging.New(tune.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer logging.Close(logger)

	rec, closeRec, err := openRecorder(tune, logger)
	if err != nil {
		logger.WithError(err).Fatal("open journal")
	}
	defer closeRec()

	failed := false
	for _, path := range flag.Args() {
		if !runScenario(path, tune, rec, logger, *verbose) {
			failed = true
		}
	}
	if failed {
		closeRec()
		logging.Close(logger)
		os.Exit(1)
	}
}

// openRecorder wires the JSONL journal and the SQLite index behind one
// recorder. Both are optional.
func openRecorder(tune tuning.Tuning, logger *logrus.Logger) (*runlog.Recorder, func(), error) {
	var journal *runlog.RunLogger
	var idx *indexdb.SQLiteIndex
	closeAll := func() {
		if journal != nil {
			_ = journal.Close()
			journal = nil
		}
		if idx != nil {
			st := idx.Stats()
			_ = idx.Close()
			if st.DropRunTotal > 0 {
				logger.WithField("dropped", st.DropRunTotal).Warn("index dropped runs")
			}
			idx = nil
		}
	}

	if tune.Journal.Dir != "" {
		journal = runlog.NewRunLogger(tune.Journal.Dir)
	}
	var sinks []runlog.RunSink
	if tune.Journal.IndexDB != "" {
		var err error
		idx, err = indexdb.OpenSQLite(tune.Journal.IndexDB, logger)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		if digest, err := idx.UpsertTuning(tune); err != nil {
			logger.WithError(err).Warn("index: upsert tuning")
		} else {
			logger.WithField("tuning_digest", digest).Debug("index ready")
		}
		sinks = append(sinks, idx)
	}
	return runlog.NewRecorder(journal, logger, sinks...), closeAll, nil
}

func runScenario(path string, tune tuning.Tuning, rec *runlog.Recorder, logger *logrus.Logger, verbose bool) bool {
	sc, err := scenario.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		return false
	}
	name := sc.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	rec.SetLabel(name)

	opts := vacate.OptionsFromTuning(tune.Vacate)
	opts.Recorder = rec
	start := time.Now()
	w, out, err := scenario.Run(sc, opts, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		return false
	}
	took := time.Since(start)

	ok := true
	orders := 0
	for _, o := range out {
		req := sc.Requests[o.Index]
		fp := req.Footprint
		status := "ok"
		if len(o.Mismatches) > 0 {
			status = "MISMATCH"
			ok = false
		}
		if o.Err != nil {
			fmt.Printf("  #%d %dx%d@%d,%d nation=%d error=%s [%s]\n", o.Index, fp.Width, fp.Height, fp.X, fp.Y, req.Nation, scenario.ErrorCode(o.Err), status)
		} else {
			r := o.Result
			fmt.Printf("  #%d %dx%d@%d,%d nation=%d occupancy=%d obstacles=%d remaining=%d orders=%d stages=%s [%s]\n",
				o.Index, fp.Width, fp.Height, fp.X, fp.Y, req.Nation, r.Occupancy, r.Obstacles, r.Remaining, len(r.Orders), stageList(r), status)
			if verbose {
				for _, od := range r.Orders {
					mark := ""
					if od.Desperate {
						mark = " (desperate)"
					}
					fmt.Printf("      unit %d %d,%d -> %d,%d%s\n", od.Handle, od.From.X, od.From.Y, od.To.X, od.To.Y, mark)
				}
			}
		}
		for _, m := range o.Mismatches {
			fmt.Printf("      %s\n", m)
		}
		orders += len(o.Result.Orders)
	}

	mw, mh := w.Size()
	fmt.Printf("%s: %s requests, %s orders on %sx%s map in %s\n",
		name, humanize.Comma(int64(len(out))), humanize.Comma(int64(orders)),
		humanize.Comma(int64(mw)), humanize.Comma(int64(mh)), took.Round(time.Microsecond))
	return ok
}

func stageList(r vacate.Result) string {
	if len(r.Stages) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(r.Stages))
	for _, s := range r.Stages {
		parts = append(parts, fmt.Sprintf("%s:%d", s.Stage, s.Remaining))
	}
	return strings.Join(parts, ",")
}
