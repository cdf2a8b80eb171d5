// Package store persists closed trades and equity curves per run.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tungnguyentu/trade/position"
	"github.com/tungnguyentu/trade/types"
)

// Recorder is what the engine and simulator write results to.
type Recorder interface {
	RecordTrade(ctx context.Context, runID string, t position.TradeRecord) error
	RecordEquity(ctx context.Context, runID string, points []types.EquityPoint) error
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	run_id      TEXT NOT NULL,
	id          TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	direction   TEXT NOT NULL,
	strategy    TEXT NOT NULL,
	entry_price REAL NOT NULL,
	exit_price  REAL NOT NULL,
	quantity    REAL NOT NULL,
	leverage    INTEGER NOT NULL,
	opened_at   INTEGER NOT NULL,
	closed_at   INTEGER NOT NULL,
	gross_pnl   REAL NOT NULL,
	fees        REAL NOT NULL,
	pnl         REAL NOT NULL,
	return_pct  REAL NOT NULL,
	exit_reason TEXT NOT NULL,
	rationale   TEXT NOT NULL,
	transitions INTEGER NOT NULL,
	PRIMARY KEY (run_id, id)
);
CREATE TABLE IF NOT EXISTS equity (
	run_id TEXT NOT NULL,
	ts     INTEGER NOT NULL,
	equity REAL NOT NULL,
	PRIMARY KEY (run_id, ts)
);`

// Store is a sqlite-backed Recorder.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at dsn. ":memory:" keeps it in process.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	// one connection: sqlite serialises writers, and :memory: is per connection
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dsn, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) RecordTrade(ctx context.Context, runID string, t position.TradeRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO trades (
		run_id, id, symbol, direction, strategy, entry_price, exit_price, quantity, leverage,
		opened_at, closed_at, gross_pnl, fees, pnl, return_pct, exit_reason, rationale, transitions
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, t.ID, t.Symbol, string(t.Direction), string(t.Strategy), t.EntryPrice, t.ExitPrice, t.Quantity, t.Leverage,
		t.OpenedAt.UnixMilli(), t.ClosedAt.UnixMilli(), t.GrossPnL, t.Fees, t.PnL, t.ReturnPct,
		string(t.ExitReason), t.Rationale, t.Transitions,
	)
	if err != nil {
		return fmt.Errorf("record trade %s: %w", t.ID, err)
	}
	return nil
}

// RecordEquity writes the points in one transaction. A point at an
// existing timestamp replaces it.
func (s *Store) RecordEquity(ctx context.Context, runID string, points []types.EquityPoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO equity (run_id, ts, equity) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, runID, p.Time.UnixMilli(), p.Equity); err != nil {
			return fmt.Errorf("record equity at %s: %w", p.Time, err)
		}
	}
	return tx.Commit()
}

// Trades returns a run's trades ordered by close time.
func (s *Store) Trades(ctx context.Context, runID string) ([]position.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, symbol, direction, strategy, entry_price, exit_price, quantity, leverage,
		opened_at, closed_at, gross_pnl, fees, pnl, return_pct, exit_reason, rationale, transitions
		FROM trades WHERE run_id = ? ORDER BY closed_at, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []position.TradeRecord
	for rows.Next() {
		var (
			t                  position.TradeRecord
			dir, strat, reason string
			openedMs, closedMs int64
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &dir, &strat, &t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.Leverage,
			&openedMs, &closedMs, &t.GrossPnL, &t.Fees, &t.PnL, &t.ReturnPct, &reason, &t.Rationale, &t.Transitions); err != nil {
			return nil, err
		}
		t.Direction = types.Direction(dir)
		t.Strategy = types.StrategyKind(strat)
		t.ExitReason = position.ExitReason(reason)
		t.OpenedAt = time.UnixMilli(openedMs).UTC()
		t.ClosedAt = time.UnixMilli(closedMs).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// EquityCurve returns a run's equity points in time order.
func (s *Store) EquityCurve(ctx context.Context, runID string) ([]types.EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts, equity FROM equity WHERE run_id = ? ORDER BY ts`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.EquityPoint
	for rows.Next() {
		var (
			ms int64
			p  types.EquityPoint
		)
		if err := rows.Scan(&ms, &p.Equity); err != nil {
			return nil, err
		}
		p.Time = time.UnixMilli(ms).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// Memory keeps results in process.
type Memory struct {
	mu     sync.Mutex
	trades map[string][]position.TradeRecord
	equity map[string]map[int64]float64
}

func NewMemory() *Memory {
	return &Memory{trades: map[string][]position.TradeRecord{}, equity: map[string]map[int64]float64{}}
}

func (m *Memory) RecordTrade(_ context.Context, runID string, t position.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[runID] = append(m.trades[runID], t)
	return nil
}

func (m *Memory) RecordEquity(_ context.Context, runID string, points []types.EquityPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	curve := m.equity[runID]
	if curve == nil {
		curve = map[int64]float64{}
		m.equity[runID] = curve
	}
	for _, p := range points {
		curve[p.Time.UnixMilli()] = p.Equity
	}
	return nil
}

func (m *Memory) Trades(runID string) []position.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]position.TradeRecord(nil), m.trades[runID]...)
}

func (m *Memory) EquityCurve(runID string) []types.EquityPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.EquityPoint, 0, len(m.equity[runID]))
	for ms, eq := range m.equity[runID] {
		out = append(out, types.EquityPoint{Time: time.UnixMilli(ms).UTC(), Equity: eq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
