package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/responses-relay/internal/storage"
)

// Store is a SQLite implementation of storage.TurnStore
type Store struct {
	db *sql.DB
}

var _ storage.TurnStore = (*Store)(nil)

// New opens (creating if needed) the SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	if !strings.HasPrefix(dbPath, "file:") && dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			response_id TEXT,
			model TEXT NOT NULL,
			status TEXT NOT NULL,
			input_items INTEGER NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			event_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_response ON turns(response_id)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_status ON turns(status)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) SaveTurn(ctx context.Context, rec *storage.TurnRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `INSERT INTO turns (id, response_id, model, status, input_items, input_tokens, event_count, error_message, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		nullString(rec.ResponseID),
		rec.Model,
		string(rec.Status),
		rec.InputItems,
		rec.InputTokens,
		rec.EventCount,
		nullString(rec.Error),
		int64(rec.Duration),
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return nil
}

func (s *Store) GetTurn(ctx context.Context, id string) (*storage.TurnRecord, error) {
	query := `SELECT id, response_id, model, status, input_items, input_tokens, event_count, error_message, duration_ns, created_at
		FROM turns WHERE id = ?`

	rec, err := scanTurn(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}
	return rec, nil
}

func (s *Store) ListTurns(ctx context.Context, opts storage.ListOptions) ([]*storage.TurnRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	query := `SELECT id, response_id, model, status, input_items, input_tokens, event_count, error_message, duration_ns, created_at
		FROM turns`
	var args []any
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	result := []*storage.TurnRecord{}
	for rows.Next() {
		rec, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	return result, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (*storage.TurnRecord, error) {
	var (
		rec        storage.TurnRecord
		responseID sql.NullString
		errMsg     sql.NullString
		status     string
		durationNS int64
	)

	if err := row.Scan(
		&rec.ID,
		&responseID,
		&rec.Model,
		&status,
		&rec.InputItems,
		&rec.InputTokens,
		&rec.EventCount,
		&errMsg,
		&durationNS,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	rec.ResponseID = responseID.String
	rec.Error = errMsg.String
	rec.Status = storage.TurnStatus(status)
	rec.Duration = time.Duration(durationNS)
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
