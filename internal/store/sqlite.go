package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"marko-dashboard/internal/models"
)

// SQLiteStore implements HistoryStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (and creates if needed) the history database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instance_id TEXT NOT NULL,
		fetched_at DATETIME NOT NULL,
		status TEXT NOT NULL,
		regime TEXT,
		equity REAL NOT NULL DEFAULT 0,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		warming_up INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS controls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		instance_id TEXT NOT NULL,
		action TEXT NOT NULL,
		outcome TEXT NOT NULL,
		message TEXT
	);

	CREATE TABLE IF NOT EXISTS bars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		UNIQUE(symbol, timeframe, timestamp)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_instance_time ON snapshots(instance_id, fetched_at);
	CREATE INDEX IF NOT EXISTS idx_controls_instance ON controls(instance_id);
	CREATE INDEX IF NOT EXISTS idx_bars_symbol_timeframe ON bars(symbol, timeframe);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Snapshots
// ============================================================================

// SaveSnapshot stores a telemetry record.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, rec models.TelemetryRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	warming := 0
	if rec.Status.IsWarmingUp {
		warming = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (instance_id, fetched_at, status, regime, equity, unrealized_pnl, warming_up, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.InstanceID, rec.FetchedAt.UTC(), string(rec.Status.Status), rec.Strategy.Regime, rec.Status.Equity, rec.Status.UnrealizedPnl, warming, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns snapshots newest first.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]Snapshot, error) {
	query := "SELECT id, instance_id, fetched_at, status, regime, equity, unrealized_pnl, warming_up, payload FROM snapshots WHERE 1=1"
	args := []interface{}{}

	if filter.InstanceID != "" {
		query += " AND instance_id = ?"
		args = append(args, filter.InstanceID)
	}
	if !filter.From.IsZero() {
		query += " AND fetched_at >= ?"
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query += " AND fetched_at <= ?"
		args = append(args, filter.To.UTC())
	}

	query += " ORDER BY fetched_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var snap Snapshot
		var regime sql.NullString
		var status, payload string
		var warming int
		if err := rows.Scan(&snap.ID, &snap.InstanceID, &snap.FetchedAt, &status, &regime, &snap.Equity, &snap.UnrealizedPnl, &warming, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.Status = models.InstanceStatus(status)
		snap.Regime = regime.String
		snap.WarmingUp = warming == 1
		if err := json.Unmarshal([]byte(payload), &snap.Record); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %d: %w", snap.ID, err)
		}
		snapshots = append(snapshots, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snapshots, nil
}

// ============================================================================
// Control audit
// ============================================================================

// LogControl appends an audit entry.
func (s *SQLiteStore) LogControl(ctx context.Context, entry ControlEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO controls (timestamp, instance_id, action, outcome, message)
		VALUES (?, ?, ?, ?, ?)
	`, entry.Timestamp.UTC(), entry.InstanceID, entry.Action, entry.Outcome, entry.Message)
	if err != nil {
		return fmt.Errorf("failed to log control: %w", err)
	}
	return nil
}

// ListControls returns audit entries newest first.
func (s *SQLiteStore) ListControls(ctx context.Context, filter ControlFilter) ([]ControlEntry, error) {
	query := "SELECT id, timestamp, instance_id, action, outcome, message FROM controls WHERE 1=1"
	args := []interface{}{}

	if filter.InstanceID != "" {
		query += " AND instance_id = ?"
		args = append(args, filter.InstanceID)
	}
	if !filter.From.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.From.UTC())
	}

	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query controls: %w", err)
	}
	defer rows.Close()

	var entries []ControlEntry
	for rows.Next() {
		var e ControlEntry
		var msg sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.InstanceID, &e.Action, &e.Outcome, &msg); err != nil {
			return nil, fmt.Errorf("failed to scan control: %w", err)
		}
		e.Message = msg.String
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating controls: %w", err)
	}
	return entries, nil
}

// ============================================================================
// Chart bars
// ============================================================================

// SaveBars upserts bars; a bar at an existing timestamp replaces the stored one.
func (s *SQLiteStore) SaveBars(ctx context.Context, symbol string, tf models.Timeframe, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, string(tf), b.Timestamp.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("failed to insert bar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetBars returns bars in [from, to] in chronological order.
func (s *SQLiteStore) GetBars(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, string(tf), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars: %w", err)
	}
	return bars, nil
}

// Prune deletes snapshots and bars older than before and returns the number of snapshot rows removed.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE fetched_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bars WHERE timestamp < ?`, before.UTC()); err != nil {
		return 0, fmt.Errorf("failed to prune bars: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
