package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"

	runlog "clearsite.ai/internal/persistence/log"
)

// journalCmd prints the runs recorded in journal files. It accepts files or
// directories; directories are searched for runs-*.jsonl.zst.
func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	runID := fs.String("run", "", "only this run id")
	dump := fs.Bool("dump", false, "dump full entries")
	_ = fs.Parse(args)

	paths := fs.Args()
	if len(paths) == 0 {
		paths = []string{filepath.Join("data", "runs")}
	}
	files, err := journalFiles(paths)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files found")
		os.Exit(1)
	}

	cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, SortKeys: true}
	total, uncleared := 0, 0
	for _, path := range files {
		runs, err := runlog.ReadRuns(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		for _, e := range runs {
			if *runID != "" && e.RunID != *runID {
				continue
			}
			total++
			r := e.Result
			if r.Remaining > 0 {
				uncleared++
			}
			fp := r.Footprint
			fmt.Printf("%s %s %-12s %dx%d@%d,%d nation=%d occupancy=%d remaining=%d orders=%d\n",
				e.RunID, humanize.Time(e.At), e.Label, fp.Width, fp.Height, fp.X, fp.Y, r.Nation, r.Occupancy, r.Remaining, len(r.Orders))
			if *dump {
				cfg.Fdump(os.Stdout, e.Result)
			}
		}
	}
	fmt.Printf("%s runs, %s uncleared, %d files\n", humanize.Comma(int64(total)), humanize.Comma(int64(uncleared)), len(files))
}

func journalFiles(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() {
			out = append(out, p)
			continue
		}
		ents, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, e := range ents {
			name := e.Name()
			if !e.IsDir() && strings.HasPrefix(name, "runs-") && strings.HasSuffix(name, ".jsonl.zst") {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, filepath.Join(p, name))
		}
	}
	return out, nil
}
