// Package ledger persists credit balances and usage records in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"realmforge/internal/domain"
)

// MissionTaskSummary is stored with every completed-mission record.
const MissionTaskSummary = "Completed Mission Execution"

// SQLiteStore implements domain.LedgerStore.
type SQLiteStore struct {
	db  *sql.DB
	ids *idSource
	now func() time.Time
}

var _ domain.LedgerStore = (*SQLiteStore)(nil)

// Open opens (or creates) the ledger database at path and migrates it.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	// One writer keeps deductions serialized inside SQLite as well.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}
	return &SQLiteStore{db: db, ids: newIDSource(), now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS credit_accounts (
			key        TEXT PRIMARY KEY,
			balance    INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS usage_logs (
			id           TEXT PRIMARY KEY,
			key          TEXT NOT NULL,
			agent_id     TEXT NOT NULL DEFAULT '',
			silo_id      TEXT NOT NULL DEFAULT '',
			mission_id   TEXT NOT NULL DEFAULT '',
			task_summary TEXT NOT NULL DEFAULT '',
			tokens       INTEGER NOT NULL DEFAULT 0,
			cost         INTEGER NOT NULL,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_usage_logs_key ON usage_logs(key, silo_id);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Deduct debits req.Cost from the caller's balance and appends a usage row in
// one transaction. A missing account or insufficient balance yields false.
func (s *SQLiteStore) Deduct(ctx context.Context, req domain.DeductRequest) (bool, error) {
	if req.Cost <= 0 {
		return false, domain.NewSubSystemError("ledger", "Ledger.Deduct", domain.ErrInvalidInput, "cost must be positive")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, s.writeErr("Ledger.Deduct", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now().UTC()
	res, err := tx.ExecContext(ctx,
		"UPDATE credit_accounts SET balance = balance - ?, updated_at = ? WHERE key = ? AND balance >= ?",
		req.Cost, now.Format(time.RFC3339Nano), req.CallerKey, req.Cost,
	)
	if err != nil {
		return false, s.writeErr("Ledger.Deduct", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if err := s.insertUsage(ctx, tx, domain.UsageRecord{
		CallerKey:   req.CallerKey,
		MissionID:   req.MissionID,
		AgentID:     req.AgentID,
		Department:  req.Department,
		Tokens:      req.Tokens,
		Cost:        req.Cost,
		TaskSummary: req.Context,
		CreatedAt:   now,
	}); err != nil {
		return false, s.writeErr("Ledger.Deduct", err)
	}

	if err := tx.Commit(); err != nil {
		return false, s.writeErr("Ledger.Deduct", err)
	}
	return true, nil
}

// RecordTransaction appends a completed-mission record.
func (s *SQLiteStore) RecordTransaction(ctx context.Context, callerKey, missionID, agentID, department string, cost int) error {
	rec := domain.UsageRecord{
		CallerKey:   callerKey,
		MissionID:   missionID,
		AgentID:     agentID,
		Department:  department,
		Cost:        cost,
		TaskSummary: MissionTaskSummary,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.insertUsage(ctx, s.db, rec); err != nil {
		return s.writeErr("Ledger.RecordTransaction", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) insertUsage(ctx context.Context, ex execer, rec domain.UsageRecord) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO usage_logs (id, key, agent_id, silo_id, mission_id, task_summary, tokens, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ids.next(rec.CreatedAt), rec.CallerKey, rec.AgentID, rec.Department, rec.MissionID,
		rec.TaskSummary, rec.Tokens, rec.Cost, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// UsageReport sums cost per department for callerKey.
func (s *SQLiteStore) UsageReport(ctx context.Context, callerKey string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT silo_id, SUM(cost) FROM usage_logs WHERE key = ? GROUP BY silo_id", callerKey)
	if err != nil {
		return nil, domain.WrapOp("Ledger.UsageReport", err)
	}
	defer rows.Close()

	report := make(map[string]int)
	for rows.Next() {
		var dept string
		var total int
		if err := rows.Scan(&dept, &total); err != nil {
			return nil, domain.WrapOp("Ledger.UsageReport", err)
		}
		report[dept] = total
	}
	return report, rows.Err()
}

// Records returns the most recent usage records for callerKey, newest first.
func (s *SQLiteStore) Records(ctx context.Context, callerKey string, limit int) ([]domain.UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, agent_id, silo_id, mission_id, task_summary, tokens, cost, created_at
		 FROM usage_logs WHERE key = ? ORDER BY id DESC LIMIT ?`, callerKey, limit)
	if err != nil {
		return nil, domain.WrapOp("Ledger.Records", err)
	}
	defer rows.Close()

	var out []domain.UsageRecord
	for rows.Next() {
		var r domain.UsageRecord
		var created string
		if err := rows.Scan(&r.ID, &r.CallerKey, &r.AgentID, &r.Department, &r.MissionID,
			&r.TaskSummary, &r.Tokens, &r.Cost, &created); err != nil {
			return nil, domain.WrapOp("Ledger.Records", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Credit adds amount to the caller's balance, opening the account if needed,
// and returns the new balance.
func (s *SQLiteStore) Credit(ctx context.Context, callerKey string, amount int) (int, error) {
	if callerKey == "" || amount <= 0 {
		return 0, domain.NewSubSystemError("ledger", "Ledger.Credit", domain.ErrInvalidInput, "key and positive amount required")
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_accounts (key, balance, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET balance = balance + excluded.balance, updated_at = excluded.updated_at`,
		callerKey, amount, now,
	)
	if err != nil {
		return 0, s.writeErr("Ledger.Credit", err)
	}
	return s.Balance(ctx, callerKey)
}

// Balance returns the caller's balance.
func (s *SQLiteStore) Balance(ctx context.Context, callerKey string) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx, "SELECT balance FROM credit_accounts WHERE key = ?", callerKey).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.NewSubSystemError("ledger", "Ledger.Balance", domain.ErrNotFound, "no account for caller")
	}
	if err != nil {
		return 0, domain.WrapOp("Ledger.Balance", err)
	}
	return balance, nil
}

func (s *SQLiteStore) writeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapOp(op, err)
	}
	return domain.NewSubSystemError("ledger", op, domain.ErrLedgerWrite, err.Error())
}
