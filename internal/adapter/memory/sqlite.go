package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"realmforge/internal/domain"
)

// SQLiteStore keeps knowledge events in SQLite and recalls them with FTS5
// BM25 ranking.
type SQLiteStore struct {
	db    *sql.DB
	limit int
}

// OpenSQLite opens (or creates) the knowledge database at path.
func OpenSQLite(path string, limit int) (*SQLiteStore, error) {
	if limit <= 0 {
		limit = 3
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("%w: create dir: %v", domain.ErrMemoryUnavailable, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrMemoryUnavailable, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrMemoryUnavailable, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrMemoryUnavailable, err)
	}
	return &SQLiteStore{db: db, limit: limit}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS knowledge (
			mission_id TEXT NOT NULL,
			agent_id   TEXT NOT NULL,
			agent_name TEXT NOT NULL DEFAULT '',
			department TEXT NOT NULL,
			action     TEXT NOT NULL,
			result     TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_knowledge_department ON knowledge(department);

		CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_fts USING fts5(
			action, result, content=knowledge, content_rowid=rowid
		);

		CREATE TRIGGER IF NOT EXISTS knowledge_ai AFTER INSERT ON knowledge BEGIN
			INSERT INTO knowledge_fts(rowid, action, result) VALUES (new.rowid, new.action, new.result);
		END;

		CREATE TRIGGER IF NOT EXISTS knowledge_ad AFTER DELETE ON knowledge BEGIN
			INSERT INTO knowledge_fts(knowledge_fts, rowid, action, result) VALUES ('delete', old.rowid, old.action, old.result);
		END;
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Commit(ctx context.Context, ev domain.KnowledgeEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge (mission_id, agent_id, agent_name, department, action, result, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.MissionID, ev.AgentID, ev.AgentName, ev.Department, ev.Action, ev.Result,
		ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrMemoryUnavailable, err)
	}
	return nil
}

// Recall matches any keyword of query. Terms are quoted so user text never
// reaches the FTS5 query parser as syntax.
func (s *SQLiteStore) Recall(ctx context.Context, query, department string) (string, error) {
	want := terms(query)
	if len(want) == 0 {
		return "", nil
	}
	quoted := make([]string, len(want))
	for i, t := range want {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}

	q := `SELECT k.mission_id, k.agent_id, k.agent_name, k.department, k.action, k.result, k.created_at
		  FROM knowledge_fts f
		  JOIN knowledge k ON k.rowid = f.rowid
		  WHERE knowledge_fts MATCH ?`
	args := []any{strings.Join(quoted, " OR ")}
	if department != "" {
		q += ` AND k.department = ? COLLATE NOCASE`
		args = append(args, department)
	}
	q += ` ORDER BY bm25(knowledge_fts) LIMIT ?`
	args = append(args, s.limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return "", fmt.Errorf("%w: recall: %v", domain.ErrMemoryUnavailable, err)
	}
	defer rows.Close()

	var events []domain.KnowledgeEvent
	for rows.Next() {
		var ev domain.KnowledgeEvent
		var created string
		if err := rows.Scan(&ev.MissionID, &ev.AgentID, &ev.AgentName, &ev.Department,
			&ev.Action, &ev.Result, &created); err != nil {
			return "", fmt.Errorf("%w: scan: %v", domain.ErrMemoryUnavailable, err)
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("%w: recall: %v", domain.ErrMemoryUnavailable, err)
	}
	return formatRecall(events), nil
}
