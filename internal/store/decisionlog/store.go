package decisionlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is an append-only audit log of bot decision verdicts. Every decide
// call lands here regardless of outcome, so an operator can answer "why did
// bot X skip signal Y" after the fact.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Record is one decide call and its verdict.
type Record struct {
	ID        int64  `json:"id"`
	Timestamp int64  `json:"ts"`
	SignalID  string `json:"signal_id"`
	Symbol    string `json:"symbol"`
	UserID    string `json:"user_id"`
	Action    string `json:"action"`
	Execute   bool   `json:"execute"`
	Reason    string `json:"reason"`
	LatencyMs int64  `json:"latency_ms"`
}

// Query filters List.
type Query struct {
	SignalID string
	UserID   string
	Limit    int
	Offset   int
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decision log path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bot_decision_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			signal_id TEXT NOT NULL,
			symbol TEXT,
			user_id TEXT NOT NULL,
			action TEXT,
			execute INTEGER NOT NULL,
			reason TEXT,
			latency_ms INTEGER,
			created_at INTEGER NOT NULL
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_bot_logs_ts ON bot_decision_logs(ts);`,
		`CREATE INDEX IF NOT EXISTS idx_bot_logs_signal ON bot_decision_logs(signal_id);`,
		`CREATE INDEX IF NOT EXISTS idx_bot_logs_user ON bot_decision_logs(user_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Append(ctx context.Context, rec Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, fmt.Errorf("decision log store is closed")
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}
	execute := 0
	if rec.Execute {
		execute = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_decision_logs
			(ts, signal_id, symbol, user_id, action, execute, reason, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp, rec.SignalID, rec.Symbol, rec.UserID, rec.Action,
		execute, rec.Reason, rec.LatencyMs, time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) List(ctx context.Context, q Query) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("decision log store is closed")
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	if q.SignalID != "" {
		where = append(where, "signal_id = ?")
		args = append(args, q.SignalID)
	}
	if q.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, q.UserID)
	}
	query := `SELECT id, ts, signal_id, symbol, user_id, action, execute, reason, latency_ms
		FROM bot_decision_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var execute int
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.SignalID, &rec.Symbol,
			&rec.UserID, &rec.Action, &execute, &rec.Reason, &rec.LatencyMs); err != nil {
			return nil, err
		}
		rec.Execute = execute != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}
