package indexdb

import "context"

type RunRow struct {
	RunID      string `db:"run_id"`
	At         string `db:"at"`
	Label      string `db:"label"`
	X          int    `db:"x"`
	Y          int    `db:"y"`
	W          int    `db:"w"`
	H          int    `db:"h"`
	Nation     int    `db:"nation"`
	Builder    int    `db:"builder"`
	MobileType string `db:"mobile_type"`
	Occupancy  int    `db:"occupancy"`
	Obstacles  int    `db:"obstacles"`
	Remaining  int    `db:"remaining"`
	StagesJSON string `db:"stages_json"`
	Orders     int    `db:"orders"`
}

type OrderRow struct {
	RunID     string `db:"run_id"`
	Seq       int    `db:"seq"`
	Handle    int    `db:"handle"`
	FromX     int    `db:"from_x"`
	FromY     int    `db:"from_y"`
	ToX       int    `db:"to_x"`
	ToY       int    `db:"to_y"`
	Desperate bool   `db:"desperate"`
}

// RecentRuns returns up to limit runs, newest first.
func (s *SQLiteIndex) RecentRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []RunRow
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM runs ORDER BY at DESC, run_id LIMIT ?`, limit)
	return out, err
}

// UnclearedRuns returns runs that left units on the site.
func (s *SQLiteIndex) UnclearedRuns(ctx context.Context) ([]RunRow, error) {
	var out []RunRow
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM runs WHERE remaining > 0 ORDER BY at, run_id`)
	return out, err
}

// OrdersForRun returns the orders of one run in issue order.
func (s *SQLiteIndex) OrdersForRun(ctx context.Context, runID string) ([]OrderRow, error) {
	var out []OrderRow
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM orders WHERE run_id = ? ORDER BY seq`, runID)
	return out, err
}

// OrdersForUnit returns every order a unit received across runs.
func (s *SQLiteIndex) OrdersForUnit(ctx context.Context, handle int) ([]OrderRow, error) {
	var out []OrderRow
	err := s.db.SelectContext(ctx, &out,
		`SELECT o.* FROM orders o JOIN runs r ON r.run_id = o.run_id WHERE o.handle = ? ORDER BY r.at, o.seq`, handle)
	return out, err
}
