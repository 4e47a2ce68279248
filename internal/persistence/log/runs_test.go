package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"clearsite.ai/internal/sim/world/logic/vacate"
)

type sinkFunc func(RunEntry)

func (f sinkFunc) RecordRun(e RunEntry) { f(e) }

func TestRecorder_JournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	journal := NewRunLogger(dir)
	var sunk []RunEntry
	rec := NewRecorder(journal, nil, sinkFunc(func(e RunEntry) { sunk = append(sunk, e) }))
	rec.now = func() time.Time { return time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC) }
	journal.w.now = rec.now

	rec.SetLabel("crowded-town")
	rec.RecordVacate(vacate.Result{
		Footprint: vacate.Footprint{X: 4, Y: 4, Width: 2, Height: 2},
		Nation:    1, Builder: 9, Occupancy: 2,
		Orders: []vacate.Order{{Handle: 3, From: vacate.Pos{X: 4, Y: 4}, To: vacate.Pos{X: 3, Y: 3}}},
	})
	rec.SetLabel("")
	rec.RecordVacate(vacate.Result{Nation: 1, Builder: 9})

	path := journal.Path()
	if want := filepath.Join(dir, "runs", "runs-2026-03-01-10.jsonl.zst"); path != want {
		t.Fatalf("path=%q want %q", path, want)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := ReadRuns(path)
	if err != nil {
		t.Fatalf("ReadRuns: %v", err)
	}
	if len(got) != 2 || len(sunk) != 2 {
		t.Fatalf("entries=%d sunk=%d", len(got), len(sunk))
	}
	if got[0].Label != "crowded-town" || got[0].Result.Orders[0].To != (vacate.Pos{X: 3, Y: 3}) {
		t.Fatalf("entry0=%+v", got[0])
	}
	if got[0].RunID == "" || got[0].RunID == got[1].RunID || got[1].RunID != rec.LastRunID() {
		t.Fatalf("run ids: %q %q last=%q", got[0].RunID, got[1].RunID, rec.LastRunID())
	}
	if sunk[0].RunID != got[0].RunID {
		t.Fatalf("sink saw %q, journal %q", sunk[0].RunID, got[0].RunID)
	}
}

func TestReadRuns_AppendedFrames(t *testing.T) {
	dir := t.TempDir()
	at := func() time.Time { return time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC) }
	for i := 0; i < 2; i++ {
		l := NewRunLogger(dir)
		l.w.now = at
		if err := l.WriteRun(RunEntry{RunID: "r", At: at()}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	got, err := ReadRuns(filepath.Join(dir, "runs", "runs-2026-03-01-11.jsonl.zst"))
	if err != nil {
		t.Fatalf("ReadRuns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries=%d want 2", len(got))
	}
}

func TestReadRuns_Missing(t *testing.T) {
	if _, err := ReadRuns(filepath.Join(t.TempDir(), "none.jsonl.zst")); !os.IsNotExist(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestRunLogger_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	l := NewRunLogger(dir)
	var finished []string
	l.OnRotate(func(p string) { finished = append(finished, filepath.Base(p)) })

	at := time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return at }
	for i := 0; i < 3; i++ {
		if i == 2 {
			at = at.Add(2 * time.Minute)
		}
		if err := l.WriteRun(RunEntry{RunID: "r", At: at}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if len(finished) != 1 || finished[0] != "runs-2026-03-01-11.jsonl.zst" {
		t.Fatalf("finished=%v", finished)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(finished) != 2 || finished[1] != "runs-2026-03-01-12.jsonl.zst" {
		t.Fatalf("finished=%v", finished)
	}
	st := l.Stats()
	if st.Entries != 3 || st.Files != 2 || st.Bytes == 0 {
		t.Fatalf("stats=%+v", st)
	}
	got, err := ReadRuns(filepath.Join(dir, "runs", "runs-2026-03-01-11.jsonl.zst"))
	if err != nil || len(got) != 2 {
		t.Fatalf("hour 11: %d entries, err=%v", len(got), err)
	}
}
