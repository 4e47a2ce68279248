package indexdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	runlog "clearsite.ai/internal/persistence/log"
	"clearsite.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable read model of journaled vacate runs. Runs are
// queued to a single writer goroutine that commits them in batches. A full
// queue drops runs; the JSONL journal stays the source of truth.
type SQLiteIndex struct {
	db  *sqlx.DB
	log logrus.FieldLogger

	ch   chan runlog.RunEntry
	wg   sync.WaitGroup
	once sync.Once

	// mu orders RecordRun's send against Close closing ch.
	mu      sync.RWMutex
	closed  bool
	dropRun atomic.Uint64
}

type Stats struct {
	DropRunTotal  uint64
	QueueDepth    int
	QueueCapacity int
}

const defaultQueue = 4096

func OpenSQLite(path string, log logrus.FieldLogger) (*SQLiteIndex, error) {
	return openSQLite(path, log, defaultQueue)
}

func openSQLite(path string, log logrus.FieldLogger, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		log: log.WithField("component", "indexdb"),
		ch:  make(chan runlog.RunEntry, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tuning (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			at TEXT NOT NULL,
			label TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			w INTEGER NOT NULL,
			h INTEGER NOT NULL,
			nation INTEGER NOT NULL,
			builder INTEGER NOT NULL,
			mobile_type TEXT NOT NULL,
			occupancy INTEGER NOT NULL,
			obstacles INTEGER NOT NULL,
			remaining INTEGER NOT NULL,
			stages_json TEXT NOT NULL,
			orders INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_at ON runs(at);`,
		`CREATE TABLE IF NOT EXISTS orders (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			seq INTEGER NOT NULL,
			handle INTEGER NOT NULL,
			from_x INTEGER NOT NULL,
			from_y INTEGER NOT NULL,
			to_x INTEGER NOT NULL,
			to_y INTEGER NOT NULL,
			desperate INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_handle ON orders(handle, run_id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordRun queues a run for indexing. It satisfies log.RunSink. Runs
// recorded after Close are dropped.
func (s *SQLiteIndex) RecordRun(e runlog.RunEntry) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropRun.Add(1)
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropRun.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropRunTotal:  s.dropRun.Load(),
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
	}
}

// UpsertTuning stores the tuning values in effect, keyed by their digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) (string, error) {
	b, err := json.Marshal(tune)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTxx(context.Background(), nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return "", err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return "", err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tuning(digest,json,updated_at) VALUES(?,?,?)`, digest, string(b), now); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return digest, nil
}

const (
	batchMax  = 256
	batchWait = 500 * time.Millisecond
)

// loop groups queued runs into one transaction per batch. A batch is written
// when it is full, when batchWait passes, or when the queue closes.
func (s *SQLiteIndex) loop() {
	tick := time.NewTicker(batchWait)
	defer tick.Stop()

	batch := make([]runlog.RunEntry, 0, batchMax)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.writeBatch(batch); err != nil {
			s.log.WithError(err).WithField("runs", len(batch)).Warn("index batch failed")
		}
		batch = batch[:0]
	}
	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= batchMax {
				flush()
			}
		case <-tick.C:
			flush()
		}
	}
}

const (
	insertRunSQL = `INSERT OR REPLACE INTO runs(run_id,at,label,x,y,w,h,nation,builder,mobile_type,occupancy,obstacles,remaining,stages_json,orders)
		VALUES(:run_id,:at,:label,:x,:y,:w,:h,:nation,:builder,:mobile_type,:occupancy,:obstacles,:remaining,:stages_json,:orders)`
	insertOrderSQL = `INSERT OR REPLACE INTO orders(run_id,seq,handle,from_x,from_y,to_x,to_y,desperate)
		VALUES(:run_id,:seq,:handle,:from_x,:from_y,:to_x,:to_y,:desperate)`
)

func (s *SQLiteIndex) writeBatch(batch []runlog.RunEntry) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range batch {
		run, orders := rowsFor(e)
		// A rerecorded run must not keep orders from its earlier version.
		if _, err := tx.Exec(`DELETE FROM orders WHERE run_id = ?`, e.RunID); err != nil {
			return fmt.Errorf("run %s: %w", e.RunID, err)
		}
		if _, err := tx.NamedExec(insertRunSQL, run); err != nil {
			return fmt.Errorf("run %s: %w", e.RunID, err)
		}
		for _, o := range orders {
			if _, err := tx.NamedExec(insertOrderSQL, o); err != nil {
				return fmt.Errorf("run %s order %d: %w", e.RunID, o.Seq, err)
			}
		}
	}
	return tx.Commit()
}

func rowsFor(e runlog.RunEntry) (RunRow, []OrderRow) {
	res := e.Result
	stages, _ := json.Marshal(res.Stages)
	run := RunRow{
		RunID:      e.RunID,
		At:         e.At.UTC().Format(time.RFC3339Nano),
		Label:      e.Label,
		X:          res.Footprint.X,
		Y:          res.Footprint.Y,
		W:          res.Footprint.Width,
		H:          res.Footprint.Height,
		Nation:     res.Nation,
		Builder:    res.Builder,
		MobileType: res.MobileType.String(),
		Occupancy:  res.Occupancy,
		Obstacles:  res.Obstacles,
		Remaining:  res.Remaining,
		StagesJSON: string(stages),
		Orders:     len(res.Orders),
	}
	orders := make([]OrderRow, 0, len(res.Orders))
	for i, o := range res.Orders {
		orders = append(orders, OrderRow{
			RunID: e.RunID, Seq: i, Handle: o.Handle,
			FromX: o.From.X, FromY: o.From.Y,
			ToX: o.To.X, ToY: o.To.Y,
			Desperate: o.Desperate,
		})
	}
	return run, orders
}
