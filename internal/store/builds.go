package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Build statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrNotFound is returned when a build ID is unknown.
var ErrNotFound = errors.New("build not found")

// Build is one recorded build invocation.
type Build struct {
	ID             string
	Seq            int64
	Mode           string
	DefinitionHash string
	StartedAt      time.Time

	// FinishedAt is zero while the build is running.
	FinishedAt time.Time

	Status string
	Error  string

	// ExternalExitCode is nil when the build had no external step or never
	// reached it.
	ExternalExitCode *int
}

// File is one file a build wrote.
type File struct {
	Path        string
	Size        int64
	ContentHash string
}

// Outcome is how a build ended.
type Outcome struct {
	// Err is nil for a successful build.
	Err              error
	ExternalExitCode *int
	Files            []File
}

const timeLayout = time.RFC3339Nano

// BeginBuild records a running build and returns its ID.
func (s *Store) BeginBuild(ctx context.Context, mode, definitionHash string) (string, error) {
	id := s.ids.Generate()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO builds (id, seq, mode, definition_hash, started_at, status)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM builds), ?, ?, ?, ?)
	`,
		id,
		mode,
		definitionHash,
		s.clock().UTC().Format(timeLayout),
		StatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("begin build: %w", err)
	}
	return id, nil
}

// FinishBuild records the outcome of a running build and the files it
// wrote, atomically. A partially written failed build may still list files.
func (s *Store) FinishBuild(ctx context.Context, id string, outcome Outcome) error {
	status, msg := StatusSucceeded, ""
	if outcome.Err != nil {
		status, msg = StatusFailed, outcome.Err.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finish build: %w", err)
	}
	defer tx.Rollback()

	var exitCode sql.NullInt64
	if outcome.ExternalExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*outcome.ExternalExitCode), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE builds
		SET finished_at = ?, status = ?, error = ?, external_exit_code = ?
		WHERE id = ? AND status = ?
	`,
		s.clock().UTC().Format(timeLayout),
		status,
		msg,
		exitCode,
		id,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("finish build: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish build: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish build %s: %w or already finished", id, ErrNotFound)
	}

	for _, f := range outcome.Files {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO build_files (build_id, path, size, content_hash)
			VALUES (?, ?, ?, ?)
		`, id, f.Path, f.Size, f.ContentHash)
		if err != nil {
			return fmt.Errorf("finish build: record %s: %w", f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("finish build: %w", err)
	}
	return nil
}

// ListBuilds returns the most recent builds, newest first. A limit of zero
// or less returns every build.
func (s *Store) ListBuilds(ctx context.Context, limit int) ([]Build, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, mode, definition_hash, started_at, finished_at, status, error, external_exit_code
		FROM builds
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	builds := []Build{}
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate builds: %w", err)
	}
	return builds, nil
}

// GetBuild returns one build by ID.
func (s *Store) GetBuild(ctx context.Context, id string) (Build, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, mode, definition_hash, started_at, finished_at, status, error, external_exit_code
		FROM builds
		WHERE id = ?
	`, id)
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Build{}, fmt.Errorf("get build %s: %w", id, ErrNotFound)
	}
	return b, err
}

// BuildFiles returns the files a build wrote, ordered by path.
func (s *Store) BuildFiles(ctx context.Context, id string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, size, content_hash
		FROM build_files
		WHERE build_id = ?
		ORDER BY path COLLATE BINARY ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query build files: %w", err)
	}
	defer rows.Close()

	files := []File{}
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.Path, &f.Size, &f.ContentHash); err != nil {
			return nil, fmt.Errorf("scan build file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate build files: %w", err)
	}
	return files, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (Build, error) {
	var (
		b          Build
		startedAt  string
		finishedAt sql.NullString
		exitCode   sql.NullInt64
	)
	err := row.Scan(&b.ID, &b.Seq, &b.Mode, &b.DefinitionHash, &startedAt, &finishedAt, &b.Status, &b.Error, &exitCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Build{}, err
		}
		return Build{}, fmt.Errorf("scan build: %w", err)
	}

	if b.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return Build{}, fmt.Errorf("parse started_at: %w", err)
	}
	if finishedAt.Valid {
		if b.FinishedAt, err = time.Parse(timeLayout, finishedAt.String); err != nil {
			return Build{}, fmt.Errorf("parse finished_at: %w", err)
		}
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		b.ExternalExitCode = &code
	}
	return b, nil
}
