// Package db provides PostgreSQL persistence for generation runs and their documents.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/bom-generator/internal/types"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS generation_runs (
		id            UUID PRIMARY KEY,
		industry      TEXT NOT NULL,
		product_type  TEXT NOT NULL,
		part_count    INTEGER NOT NULL,
		nesting_depth INTEGER NOT NULL,
		status        TEXT NOT NULL DEFAULT 'running',
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		calls         INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at  TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS run_documents (
		id         BIGSERIAL PRIMARY KEY,
		run_id     UUID NOT NULL REFERENCES generation_runs(id) ON DELETE CASCADE,
		stage      TEXT NOT NULL,
		filename   TEXT NOT NULL,
		content    BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS run_documents_run_id_idx ON run_documents (run_id)`,
}

// EnsureSchema creates the tables used by this package if they do not exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// CreateRun inserts a run record in the running state
func (db *DB) CreateRun(ctx context.Context, runID uuid.UUID, req types.GenerationRequest) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO generation_runs (id, industry, product_type, part_count, nesting_depth, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		runID, req.Industry, req.ProductType, req.Parts(), req.Depth(), StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// SaveDocument stores one generated document for a run. Documents sharing a
// filename are stored as separate rows.
func (db *DB) SaveDocument(ctx context.Context, runID uuid.UUID, stage string, doc types.NamedDocument) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO run_documents (run_id, stage, filename, content)
		 VALUES ($1, $2, $3, $4)`,
		runID, stage, doc.Filename, doc.Bytes,
	)
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.Filename, err)
	}
	return nil
}

// CompleteRun records the final status and token usage of a run
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, status string, usage types.UsageSummary) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE generation_runs
		 SET status = $1, input_tokens = $2, output_tokens = $3, calls = $4, completed_at = NOW()
		 WHERE id = $5`,
		status, usage.InputTokens, usage.OutputTokens, usage.Calls, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

const runColumns = `id, industry, product_type, part_count, nesting_depth, status,
	input_tokens, output_tokens, calls, created_at, completed_at`

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.Industry, &run.ProductType, &run.PartCount, &run.NestingDepth, &run.Status,
		&run.InputTokens, &run.OutputTokens, &run.Calls, &run.CreatedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun retrieves a run by ID. It returns nil when no run exists.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM generation_runs WHERE id = $1`, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// RunFilters holds optional filters for listing runs
type RunFilters struct {
	Status string
	Limit  int
}

// ListRuns retrieves recent runs, newest first
func (db *DB) ListRuns(ctx context.Context, filters RunFilters) ([]Run, error) {
	if filters.Limit <= 0 {
		filters.Limit = 50
	}

	query := `SELECT ` + runColumns + ` FROM generation_runs WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filters.Status)
		argNum++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
	args = append(args, filters.Limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// ListDocuments returns a run's documents in the order they were saved
func (db *DB) ListDocuments(ctx context.Context, runID uuid.UUID) ([]Document, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, stage, filename, content, created_at
		 FROM run_documents WHERE run_id = $1 ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.RunID, &d.Stage, &d.Filename, &d.Content, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// DeleteRun deletes a run and all its documents (via cascade)
func (db *DB) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	result, err := db.pool.Exec(ctx, `DELETE FROM generation_runs WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}
