package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sergeydz/perpmm/internal/domain"
)

// SQLiteJournal persists fills, order attempts and session summaries. It sits
// behind domain.TradeJournal; the trading loop treats every write as
// best-effort and never blocks on it.
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	j := &SQLiteJournal{db: db}
	if err := j.initSchema(); err != nil {
		return nil, err
	}

	return j, nil
}

func (j *SQLiteJournal) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			client_id TEXT NOT NULL DEFAULT '',
			asset TEXT NOT NULL,
			side TEXT NOT NULL,
			size REAL NOT NULL,
			price REAL NOT NULL,
			notional REAL NOT NULL,
			pnl REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_session ON fills(session_id);`,
		`CREATE TABLE IF NOT EXISTS order_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id TEXT NOT NULL,
			asset TEXT NOT NULL,
			side TEXT NOT NULL,
			size REAL NOT NULL,
			price REAL NOT NULL,
			reduce_only BOOLEAN NOT NULL DEFAULT 0,
			post_only BOOLEAN NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			reason TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_created ON order_attempts(created_at);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			asset TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			cycles INTEGER NOT NULL DEFAULT 0,
			fills INTEGER NOT NULL DEFAULT 0,
			volume REAL NOT NULL DEFAULT 0,
			pnl REAL NOT NULL DEFAULT 0
		);`,
	}

	for _, q := range queries {
		if _, err := j.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func (j *SQLiteJournal) SaveFill(ctx context.Context, sessionID, clientID string, f *domain.Fill) error {
	query := `INSERT INTO fills (session_id, client_id, asset, side, size, price, notional, pnl, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query,
		sessionID, clientID, f.Asset, string(f.Side), f.Size, f.Price, f.Notional(), f.ClosedPnL, f.Time)
	return err
}

func (j *SQLiteJournal) SaveOrderAttempt(ctx context.Context, a *domain.OrderAttempt) error {
	query := `INSERT INTO order_attempts (client_id, asset, side, size, price, reduce_only, post_only, status, reason, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query,
		a.ClientID, a.Asset, string(a.Side), a.Size, a.Price, a.ReduceOnly, a.PostOnly, a.Status, a.Reason, a.CreatedAt)
	return err
}

func (j *SQLiteJournal) ListFills(ctx context.Context, limit int) ([]*domain.JournalFill, error) {
	query := `SELECT id, session_id, client_id, asset, side, size, price, notional, pnl, created_at
			  FROM fills ORDER BY id DESC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []*domain.JournalFill
	for rows.Next() {
		var f domain.JournalFill
		var side string
		if err := rows.Scan(&f.ID, &f.SessionID, &f.ClientID, &f.Asset, &side, &f.Size, &f.Price, &f.Notional, &f.PnL, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Side = domain.Side(side)
		fills = append(fills, &f)
	}
	return fills, rows.Err()
}

func (j *SQLiteJournal) OpenSession(ctx context.Context, sessionID, asset string, startedAt time.Time) error {
	query := `INSERT INTO sessions (id, asset, started_at) VALUES (?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query, sessionID, asset, startedAt)
	return err
}

func (j *SQLiteJournal) CloseSession(ctx context.Context, sessionID string, endedAt time.Time, cycles, fills int, volume, pnl float64) error {
	query := `UPDATE sessions SET ended_at = ?, cycles = ?, fills = ?, volume = ?, pnl = ? WHERE id = ?`
	_, err := j.db.ExecContext(ctx, query, endedAt, cycles, fills, volume, pnl, sessionID)
	return err
}

func (j *SQLiteJournal) ListSessions(ctx context.Context, limit int) ([]*domain.SessionRow, error) {
	query := `SELECT id, asset, started_at, ended_at, cycles, fills, volume, pnl
			  FROM sessions ORDER BY started_at DESC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.SessionRow
	for rows.Next() {
		var s domain.SessionRow
		var ended sql.NullTime
		if err := rows.Scan(&s.ID, &s.Asset, &s.StartedAt, &ended, &s.Cycles, &s.Fills, &s.Volume, &s.PnL); err != nil {
			return nil, err
		}
		if ended.Valid {
			s.EndedAt = ended.Time
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}
