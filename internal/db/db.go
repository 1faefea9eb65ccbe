// Package db is the optional sqlite journal of passes and moves.
package db

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chmdznr/orgphotos/pkg/models"
)

//go:embed schema.sql
var schema string

// DB represents a database connection
type DB struct {
	*sql.DB
}

// New opens (and creates if needed) the journal at path.
func New(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// one writer; the sorter records sequentially anyway
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sqlDB}
	if err := db.initialize(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("initialize journal: %w", err)
	}
	return db, nil
}

// initialize creates the necessary tables if they don't exist
func (db *DB) initialize() error {
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	_, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
		PRAGMA temp_store=MEMORY;
	`)
	return err
}

// RecordPass upserts a pass summary.
func (db *DB) RecordPass(p models.PassRecord) error {
	var finished any
	if !p.FinishedAt.IsZero() {
		finished = p.FinishedAt.UTC()
	}
	_, err := db.Exec(`
		INSERT OR REPLACE INTO passes
			(id, started_at, finished_at, listed, moved, unsorted, already_sorted, vanished, failed, aborted, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID,
		p.StartedAt.UTC(),
		finished,
		p.Listed,
		p.Moved,
		p.Unsorted,
		p.AlreadySorted,
		p.Vanished,
		p.Failed,
		p.Aborted,
		p.Error,
	)
	return err
}

// RecordMove appends one move outcome.
func (db *DB) RecordMove(m models.MoveRecord) error {
	var resolved any
	if m.ResolvedAt != nil {
		resolved = m.ResolvedAt.UTC()
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO moves
			(pass_id, item_id, name, source_path, target_path, size, tier, method, resolved_at, outcome, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.PassID,
		m.ItemID,
		m.Name,
		m.SourcePath,
		m.TargetPath,
		m.Size,
		int(m.Tier),
		m.Method,
		resolved,
		string(m.Outcome),
		m.Error,
		created.UTC(),
	)
	return err
}

// ListMoves returns the most recent moves first; limit <= 0 means all.
func (db *DB) ListMoves(limit int) ([]models.MoveRecord, error) {
	q := `
		SELECT pass_id, item_id, name, COALESCE(source_path, ''), COALESCE(target_path, ''),
			size, tier, COALESCE(method, ''), resolved_at, outcome, COALESCE(error, ''), created_at
		FROM moves
		ORDER BY id DESC`
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var moves []models.MoveRecord
	for rows.Next() {
		var (
			m        models.MoveRecord
			tier     int
			outcome  string
			resolved sql.NullTime
		)
		if err := rows.Scan(
			&m.PassID,
			&m.ItemID,
			&m.Name,
			&m.SourcePath,
			&m.TargetPath,
			&m.Size,
			&tier,
			&m.Method,
			&resolved,
			&outcome,
			&m.Error,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		m.Tier = models.Tier(tier)
		m.Outcome = models.Outcome(outcome)
		if resolved.Valid {
			t := resolved.Time.UTC()
			m.ResolvedAt = &t
		}
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

// ListPasses returns the most recent passes first; limit <= 0 means all.
func (db *DB) ListPasses(limit int) ([]models.PassRecord, error) {
	q := `
		SELECT id, started_at, finished_at, listed, moved, unsorted, already_sorted,
			vanished, failed, aborted, COALESCE(error, '')
		FROM passes
		ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passes []models.PassRecord
	for rows.Next() {
		var (
			p        models.PassRecord
			finished sql.NullTime
		)
		if err := rows.Scan(
			&p.ID,
			&p.StartedAt,
			&finished,
			&p.Listed,
			&p.Moved,
			&p.Unsorted,
			&p.AlreadySorted,
			&p.Vanished,
			&p.Failed,
			&p.Aborted,
			&p.Error,
		); err != nil {
			return nil, err
		}
		if finished.Valid {
			p.FinishedAt = finished.Time
		}
		passes = append(passes, p)
	}
	return passes, rows.Err()
}

// GetStats returns journal totals.
func (db *DB) GetStats() (*models.Stats, error) {
	var stats models.Stats
	err := db.QueryRow(`
		SELECT
			COUNT(*),
			COUNT(CASE WHEN aborted THEN 1 END)
		FROM passes
	`).Scan(&stats.Passes, &stats.AbortedPasses)
	if err != nil {
		return nil, fmt.Errorf("failed to get pass stats: %v", err)
	}

	err = db.QueryRow(`
		SELECT
			COUNT(*) as total_files,
			COUNT(CASE WHEN outcome = 'moved' THEN 1 END) as moved_files,
			COALESCE(SUM(CASE WHEN outcome = 'moved' THEN size ELSE 0 END), 0) as moved_size,
			COUNT(CASE WHEN outcome = 'unsorted' THEN 1 END) as unsorted_files,
			COALESCE(SUM(CASE WHEN outcome = 'unsorted' THEN size ELSE 0 END), 0) as unsorted_size,
			COUNT(CASE WHEN outcome = 'already_sorted' THEN 1 END) as already_sorted,
			COUNT(CASE WHEN outcome = 'vanished' THEN 1 END) as vanished_files,
			COUNT(CASE WHEN outcome = 'failed' THEN 1 END) as failed_files
		FROM moves
	`).Scan(
		&stats.TotalFiles,
		&stats.MovedFiles,
		&stats.MovedSize,
		&stats.UnsortedFiles,
		&stats.UnsortedSize,
		&stats.AlreadySorted,
		&stats.VanishedFiles,
		&stats.FailedFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get move stats: %v", err)
	}

	var last sql.NullTime
	err = db.QueryRow(`SELECT started_at FROM passes ORDER BY started_at DESC LIMIT 1`).Scan(&last)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("failed to get last pass: %v", err)
	case last.Valid:
		t := last.Time
		stats.LastPassAt = &t
	}
	return &stats, nil
}
