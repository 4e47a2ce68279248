package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"clearsite.ai/internal/persistence/snapshot"
)

// snapshotsCmd lists saved maps; with -units it also loads each one.
func snapshotsCmd(args []string) {
	fs := flag.NewFlagSet("snapshots", flag.ExitOnError)
	dir := fs.String("dir", filepath.Join("data", "snapshots"), "snapshot directory")
	units := fs.Bool("units", false, "decode each snapshot and report map size and unit count")
	_ = fs.Parse(args)

	paths := snapshot.List(*dir)
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "no snapshots in", *dir)
		os.Exit(1)
	}
	for _, p := range paths {
		var size string
		if fi, err := os.Stat(p); err == nil {
			size = humanize.Bytes(uint64(fi.Size()))
		}
		h, err := snapshot.ReadHeader(p)
		if err != nil {
			fmt.Printf("%s  %s  unreadable: %v\n", filepath.Base(p), size, err)
			continue
		}
		line := fmt.Sprintf("%s  %s  v%d  %-10s  saved %s  digest %.12s",
			filepath.Base(p), size, h.Version, h.Label, humanize.Time(h.SavedAt), h.Digest)
		if *units {
			if snap, err := snapshot.ReadSnapshot(p); err != nil {
				line += fmt.Sprintf("  decode: %v", err)
			} else {
				line += fmt.Sprintf("  %dx%d  %s units", snap.Width, snap.Height, humanize.Comma(int64(len(snap.Units))))
			}
		}
		fmt.Println(line)
	}
}
