package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"clearsite.ai/internal/persistence/indexdb"
)

// dbCmd queries the run index: recent, uncleared, run <id>, unit <handle>.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/runs.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "recent"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "runs.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(1)
	}

	lg := logrus.New()
	lg.SetLevel(logrus.WarnLevel)
	idx, err := indexdb.OpenSQLite(path, lg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	ctx := context.Background()
	enc := json.NewEncoder(os.Stdout)
	var out any
	switch q {
	case "recent":
		out, err = idx.RecentRuns(ctx, *limit)
	case "uncleared":
		out, err = idx.UnclearedRuns(ctx)
	case "run":
		if fs.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: admin db run <run_id>")
			os.Exit(2)
		}
		out, err = idx.OrdersForRun(ctx, fs.Arg(1))
	case "unit":
		var h int
		if fs.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: admin db unit <handle>")
			os.Exit(2)
		}
		if _, err := fmt.Sscanf(fs.Arg(1), "%d", &h); err != nil {
			fmt.Fprintln(os.Stderr, "bad handle:", fs.Arg(1))
			os.Exit(2)
		}
		out, err = idx.OrdersForUnit(ctx, h)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	_ = enc.Encode(out)
}
