// Package store persists backtest runs to SQLite.
//
// Each run gets a row in runs plus its orders, trades, and a daily equity
// curve, so results survive the process and can be compared across
// parameter changes. The schema is created and versioned by migrate on
// Open. All writes go through the single *sql.DB, which serializes access;
// WAL mode keeps concurrent readers cheap.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/link-light/apexquant/pkg/types"
)

// Store wraps the SQLite database holding run journals.
type Store struct {
	sql *sql.DB
}

// EquityPoint is one day of the run's equity curve.
type EquityPoint struct {
	Date             int // YYYYMMDD
	TotalAssets      float64
	AvailableCash    float64
	WithdrawableCash float64
	RealizedPnL      float64
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{sql: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) migrate() error {
	version := 0
	// Try to read current version
	s.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS runs (
				run_id          TEXT PRIMARY KEY,
				started_at      TEXT NOT NULL,
				initial_capital REAL NOT NULL
			);

			CREATE TABLE IF NOT EXISTS orders (
				order_id      TEXT PRIMARY KEY,
				run_id        TEXT NOT NULL REFERENCES runs(run_id),
				symbol        TEXT NOT NULL,
				side          TEXT NOT NULL,
				type          TEXT NOT NULL,
				price         REAL NOT NULL,
				volume        INTEGER NOT NULL,
				filled_volume INTEGER NOT NULL,
				status        TEXT NOT NULL,
				reject_reason TEXT,
				submit_time   INTEGER NOT NULL,
				filled_time   INTEGER,
				cancel_time   INTEGER
			);
			CREATE INDEX IF NOT EXISTS idx_orders_run ON orders(run_id);

			CREATE TABLE IF NOT EXISTS trades (
				trade_id     TEXT PRIMARY KEY,
				run_id       TEXT NOT NULL REFERENCES runs(run_id),
				order_id     TEXT NOT NULL,
				symbol       TEXT NOT NULL,
				side         TEXT NOT NULL,
				price        REAL NOT NULL,
				volume       INTEGER NOT NULL,
				commission   REAL NOT NULL,
				trade_time   INTEGER NOT NULL,
				realized_pnl REAL NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);
			CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(run_id, symbol);

			CREATE TABLE IF NOT EXISTS equity (
				run_id            TEXT NOT NULL REFERENCES runs(run_id),
				date              INTEGER NOT NULL,
				total_assets      REAL NOT NULL,
				available_cash    REAL NOT NULL,
				withdrawable_cash REAL NOT NULL,
				realized_pnl      REAL NOT NULL,
				PRIMARY KEY (run_id, date)
			);

			INSERT INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}
	return nil
}

// CreateRun registers a new run and returns its ID.
func (s *Store) CreateRun(initialCapital float64) (string, error) {
	runID := uuid.New().String()
	_, err := s.sql.Exec(
		"INSERT INTO runs (run_id, started_at, initial_capital) VALUES (?, ?, ?)",
		runID, time.Now().UTC().Format(time.RFC3339), initialCapital,
	)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return runID, nil
}

// SaveOrder inserts or updates an order's terminal snapshot.
func (s *Store) SaveOrder(runID string, o types.Order) error {
	_, err := s.sql.Exec(`
		INSERT INTO orders
			(order_id, run_id, symbol, side, type, price, volume, filled_volume,
			 status, reject_reason, submit_time, filled_time, cancel_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			filled_volume = excluded.filled_volume,
			status        = excluded.status,
			reject_reason = excluded.reject_reason,
			filled_time   = excluded.filled_time,
			cancel_time   = excluded.cancel_time`,
		o.OrderID, runID, o.Symbol, string(o.Side), string(o.Type), o.Price,
		o.Volume, o.FilledVolume, string(o.Status), o.RejectReason,
		o.SubmitTime, o.FilledTime, o.CancelTime,
	)
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.OrderID, err)
	}
	return nil
}

// SaveTrade appends a trade record.
func (s *Store) SaveTrade(runID string, tr types.TradeRecord) error {
	_, err := s.sql.Exec(`
		INSERT OR IGNORE INTO trades
			(trade_id, run_id, order_id, symbol, side, price, volume,
			 commission, trade_time, realized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.TradeID, runID, tr.OrderID, tr.Symbol, string(tr.Side), tr.Price,
		tr.Volume, tr.Commission, tr.TradeTime, tr.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("save trade %s: %w", tr.TradeID, err)
	}
	return nil
}

// SaveEquity records (or replaces) one day's equity point for the run.
func (s *Store) SaveEquity(runID string, p EquityPoint) error {
	_, err := s.sql.Exec(`
		INSERT INTO equity
			(run_id, date, total_assets, available_cash, withdrawable_cash, realized_pnl)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, date) DO UPDATE SET
			total_assets      = excluded.total_assets,
			available_cash    = excluded.available_cash,
			withdrawable_cash = excluded.withdrawable_cash,
			realized_pnl      = excluded.realized_pnl`,
		runID, p.Date, p.TotalAssets, p.AvailableCash, p.WithdrawableCash, p.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("save equity %d: %w", p.Date, err)
	}
	return nil
}

// Trades returns the run's trades in fill order.
func (s *Store) Trades(runID string) ([]types.TradeRecord, error) {
	rows, err := s.sql.Query(`
		SELECT trade_id, order_id, symbol, side, price, volume, commission,
		       trade_time, realized_pnl
		FROM trades WHERE run_id = ? ORDER BY trade_time, trade_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []types.TradeRecord
	for rows.Next() {
		var tr types.TradeRecord
		var side string
		if err := rows.Scan(&tr.TradeID, &tr.OrderID, &tr.Symbol, &side, &tr.Price,
			&tr.Volume, &tr.Commission, &tr.TradeTime, &tr.RealizedPnL); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		tr.Side = types.Side(side)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// EquityCurve returns the run's equity points in date order.
func (s *Store) EquityCurve(runID string) ([]EquityPoint, error) {
	rows, err := s.sql.Query(`
		SELECT date, total_assets, available_cash, withdrawable_cash, realized_pnl
		FROM equity WHERE run_id = ? ORDER BY date`, runID)
	if err != nil {
		return nil, fmt.Errorf("query equity: %w", err)
	}
	defer rows.Close()

	var out []EquityPoint
	for rows.Next() {
		var p EquityPoint
		if err := rows.Scan(&p.Date, &p.TotalAssets, &p.AvailableCash,
			&p.WithdrawableCash, &p.RealizedPnL); err != nil {
			return nil, fmt.Errorf("scan equity: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
