package indexdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	runlog "clearsite.ai/internal/persistence/log"
	"clearsite.ai/internal/sim/tuning"
	"clearsite.ai/internal/sim/world/logic/vacate"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan runlog.RunEntry, 1)}
	s.RecordRun(runlog.RunEntry{RunID: "a"})
	s.RecordRun(runlog.RunEntry{RunID: "b"})

	st := s.Stats()
	if st.DropRunTotal != 1 {
		t.Fatalf("DropRunTotal=%d want=1", st.DropRunTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_RunsAndOrders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "runs.sqlite")
	idx, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := idx.UpsertTuning(tuning.Defaults()); err != nil {
		t.Fatalf("tuning: %v", err)
	}

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	idx.RecordRun(runlog.RunEntry{
		RunID: "run-1",
		At:    t0,
		Label: "town",
		Result: vacate.Result{
			Footprint: vacate.Footprint{X: 5, Y: 5, Width: 2, Height: 2},
			Nation:    1, Builder: 9, Occupancy: 2, Remaining: 1,
			Stages: []vacate.StageReport{{Stage: vacate.StagePush, Remaining: 1}},
			Orders: []vacate.Order{
				{Handle: 3, From: vacate.Pos{X: 5, Y: 5}, To: vacate.Pos{X: 4, Y: 4}},
				{Handle: 4, From: vacate.Pos{X: 6, Y: 6}, To: vacate.Pos{X: 4, Y: 5}, Desperate: true},
			},
		},
	})
	idx.RecordRun(runlog.RunEntry{
		RunID: "run-2",
		At:    t0.Add(time.Minute),
		Result: vacate.Result{
			Footprint: vacate.Footprint{X: 5, Y: 5, Width: 2, Height: 2},
			Nation:    1, Builder: 9, Occupancy: 1,
			Orders: []vacate.Order{{Handle: 4, From: vacate.Pos{X: 4, Y: 5}, To: vacate.Pos{X: 3, Y: 5}}},
		},
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	runs, err := idx.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-2" || runs[1].Label != "town" || runs[1].MobileType != "LAND" {
		t.Fatalf("runs=%+v", runs)
	}
	uncleared, err := idx.UnclearedRuns(ctx)
	if err != nil || len(uncleared) != 1 || uncleared[0].RunID != "run-1" {
		t.Fatalf("uncleared=%+v err=%v", uncleared, err)
	}
	orders, err := idx.OrdersForRun(ctx, "run-1")
	if err != nil || len(orders) != 2 || !orders[1].Desperate || orders[0].ToX != 4 {
		t.Fatalf("orders=%+v err=%v", orders, err)
	}
	hist, err := idx.OrdersForUnit(ctx, 4)
	if err != nil || len(hist) != 2 || hist[0].RunID != "run-1" || hist[1].RunID != "run-2" {
		t.Fatalf("history=%+v err=%v", hist, err)
	}
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSQLiteIndex_RerecordReplacesOrders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.sqlite")
	idx, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	e := runlog.RunEntry{RunID: "r", At: time.Now(), Result: vacate.Result{
		Orders: []vacate.Order{{Handle: 1}, {Handle: 2}, {Handle: 3}},
	}}
	idx.RecordRun(e)
	e.Result.Orders = e.Result.Orders[:1]
	idx.RecordRun(e)
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	orders, err := idx.OrdersForRun(context.Background(), "r")
	if err != nil || len(orders) != 1 || orders[0].Handle != 1 {
		t.Fatalf("orders=%+v err=%v", orders, err)
	}
	runs, err := idx.RecentRuns(context.Background(), 0)
	if err != nil || len(runs) != 1 || runs[0].Orders != 1 {
		t.Fatalf("runs=%+v err=%v", runs, err)
	}
}

func TestSQLiteIndex_RecordDuringClose(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "runs.sqlite"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				idx.RecordRun(runlog.RunEntry{RunID: fmt.Sprintf("%d-%d", g, i), At: time.Now()})
			}
		}(g)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()

	before := idx.Stats().DropRunTotal
	idx.RecordRun(runlog.RunEntry{RunID: "late"})
	if got := idx.Stats().DropRunTotal; got != before+1 {
		t.Fatalf("late run: drops %d -> %d", before, got)
	}
}
