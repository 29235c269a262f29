package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ibeckermayer/postpulse/internal/types"
)

// Store keeps engagement records in SQLite, one row per record and run.
type Store struct {
	db *sql.DB
}

// New creates a new Store with SQLite backend
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		record_count INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		account TEXT NOT NULL,
		site TEXT NOT NULL,
		text TEXT,
		published_at TEXT,
		url TEXT,
		comments INTEGER NOT NULL,
		reshares INTEGER NOT NULL,
		likes INTEGER NOT NULL,
		shares INTEGER NOT NULL,
		has_media BOOLEAN NOT NULL,
		mentions INTEGER NOT NULL,
		missing TEXT,
		scraped_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_run ON records(run_id);
	CREATE INDEX IF NOT EXISTS idx_records_url ON records(url);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun stores records under a new run id and returns it. Records are
// written in one transaction.
func (s *Store) SaveRun(ctx context.Context, startedAt time.Time, records []types.EngagementRecord) (string, error) {
	runID := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, record_count) VALUES (?, ?, ?)`,
		runID, startedAt.UTC(), len(records),
	); err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (run_id, account, site, text, published_at, url,
			comments, reshares, likes, shares, has_media, mentions, missing, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			runID, r.SourceAccount, r.Site, r.Text, r.PublishedAt, r.URL,
			r.Counters.Comment, r.Counters.Reshare, r.Counters.Like, r.Counters.Share,
			r.HasMedia, r.Mentions, r.MissingString(), r.ScrapedAt.UTC(),
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return runID, nil
}

// RunRecords returns the records of one run in insertion order.
func (s *Store) RunRecords(ctx context.Context, runID string) ([]types.EngagementRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, site, text, published_at, url,
			comments, reshares, likes, shares, has_media, mentions, missing, scraped_at
		FROM records
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []types.EngagementRecord
	for rows.Next() {
		var r types.EngagementRecord
		var missing string

		err := rows.Scan(
			&r.SourceAccount, &r.Site, &r.Text, &r.PublishedAt, &r.URL,
			&r.Counters.Comment, &r.Counters.Reshare, &r.Counters.Like, &r.Counters.Share,
			&r.HasMedia, &r.Mentions, &missing, &r.ScrapedAt,
		)
		if err != nil {
			return nil, err
		}
		if missing != "" {
			for _, m := range strings.Split(missing, ";") {
				r.Missing = append(r.Missing, types.Metric(m))
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RunInfo summarizes a stored run.
type RunInfo struct {
	ID          string
	StartedAt   time.Time
	RecordCount int
}

// Runs lists stored runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, started_at, record_count FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var ri RunInfo
		if err := rows.Scan(&ri.ID, &ri.StartedAt, &ri.RecordCount); err != nil {
			return nil, err
		}
		runs = append(runs, ri)
	}
	return runs, rows.Err()
}
