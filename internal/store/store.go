package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/reelworks/shortgen/internal/models"
)

// Store persists run records in Postgres.
type Store struct {
	*sql.DB
}

func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Store{DB: db}, nil
}

// Migrate creates the runs table when missing. Kept idempotent so every
// process can call it at startup.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			topic TEXT NOT NULL,
			target_duration_seconds DOUBLE PRECISION NOT NULL,
			fps INTEGER NOT NULL,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			sections_total INTEGER NOT NULL DEFAULT 0,
			sections_rendered INTEGER NOT NULL DEFAULT 0,
			sections JSONB,
			output_path TEXT,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_runs_status ON runs (status);
		CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs (created_at DESC);
	`
	if _, err := s.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate runs table: %w", err)
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run *models.Run, sections []models.Section) error {
	var sectionsJSON []byte
	if len(sections) > 0 {
		var err error
		sectionsJSON, err = json.Marshal(sections)
		if err != nil {
			return fmt.Errorf("failed to marshal sections: %w", err)
		}
	}

	query := `
		INSERT INTO runs (
			id, topic, target_duration_seconds, fps, status, progress, sections
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	return s.QueryRowContext(
		ctx, query,
		run.ID, run.Topic, run.TargetDurationSeconds, run.FPS,
		run.Status, run.Progress, nullableJSON(sectionsJSON),
	).Scan(&run.CreatedAt, &run.UpdatedAt)
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	query := `
		SELECT
			id, topic, target_duration_seconds, fps, status, progress,
			sections_total, sections_rendered, output_path, error_message,
			created_at, updated_at
		FROM runs
		WHERE id = $1
	`

	run := &models.Run{}
	err := s.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Topic, &run.TargetDurationSeconds, &run.FPS,
		&run.Status, &run.Progress, &run.SectionsTotal, &run.SectionsRendered,
		&run.OutputPath, &run.ErrorMessage, &run.CreatedAt, &run.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// GetRunSections returns the caller-provided script for a run, or nil when
// the run was created topic-only and the worker plans the script itself.
func (s *Store) GetRunSections(ctx context.Context, id uuid.UUID) ([]models.Section, error) {
	var raw []byte
	err := s.QueryRowContext(ctx, `SELECT sections FROM runs WHERE id = $1`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run sections: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var sections []models.Section
	if err := json.Unmarshal(raw, &sections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sections: %w", err)
	}
	return sections, nil
}

// ListRuns returns runs newest first, with an optional status filter.
func (s *Store) ListRuns(ctx context.Context, status string, limit, offset int) ([]models.Run, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseSelect := `
		SELECT
			id, topic, target_duration_seconds, fps, status, progress,
			sections_total, sections_rendered, output_path, error_message,
			created_at, updated_at
		FROM runs
	`

	if status != "" {
		query := baseSelect + ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		rows, err = s.QueryContext(ctx, query, status, limit, offset)
	} else {
		query := baseSelect + ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		rows, err = s.QueryContext(ctx, query, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var run models.Run
		err := rows.Scan(
			&run.ID, &run.Topic, &run.TargetDurationSeconds, &run.FPS,
			&run.Status, &run.Progress, &run.SectionsTotal, &run.SectionsRendered,
			&run.OutputPath, &run.ErrorMessage, &run.CreatedAt, &run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (s *Store) CountRuns(ctx context.Context, status string) (int, error) {
	var (
		count int
		err   error
	)
	if status != "" {
		err = s.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE status = $1`, status).Scan(&count)
	} else {
		err = s.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.RunStatus) error {
	query := `UPDATE runs SET status = $1, updated_at = now() WHERE id = $2`
	_, err := s.ExecContext(ctx, query, status, id)
	return err
}

// UpdateRunProgress records the latest progress estimate and segment counts.
func (s *Store) UpdateRunProgress(ctx context.Context, id uuid.UUID, progress, total, rendered int) error {
	query := `
		UPDATE runs
		SET progress = $1, sections_total = $2, sections_rendered = $3, updated_at = now()
		WHERE id = $4
	`
	_, err := s.ExecContext(ctx, query, progress, total, rendered, id)
	return err
}

func (s *Store) CompleteRun(ctx context.Context, id uuid.UUID, outputPath string) error {
	query := `
		UPDATE runs
		SET status = $1, progress = 100, output_path = $2, updated_at = now()
		WHERE id = $3
	`
	_, err := s.ExecContext(ctx, query, models.RunStatusCompleted, outputPath, id)
	return err
}

func (s *Store) FailRun(ctx context.Context, id uuid.UUID, status models.RunStatus, errorMessage string) error {
	query := `
		UPDATE runs
		SET status = $1, error_message = $2, updated_at = now()
		WHERE id = $3
	`
	_, err := s.ExecContext(ctx, query, status, errorMessage, id)
	return err
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
