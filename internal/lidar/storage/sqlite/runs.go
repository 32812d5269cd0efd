package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// Run is one recording session.
type Run struct {
	RunID      string
	StartedAt  time.Time
	ConfigJSON string
	Notes      string
}

// CreateRun inserts a new run with a random id.
func (db *DB) CreateRun(ctx context.Context, startedAt time.Time, configJSON, notes string) (Run, error) {
	if configJSON == "" {
		configJSON = "{}"
	}
	run := Run{
		RunID:      uuid.NewString(),
		StartedAt:  startedAt,
		ConfigJSON: configJSON,
		Notes:      notes,
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at_ns, config_json, notes) VALUES (?, ?, ?, ?)`,
		run.RunID, startedAt.UnixNano(), configJSON, notes)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// GetRun returns the run with the given id.
func (db *DB) GetRun(ctx context.Context, runID string) (Run, error) {
	var r Run
	var startedNs int64
	err := db.QueryRowContext(ctx,
		`SELECT run_id, started_at_ns, config_json, notes FROM runs WHERE run_id = ?`, runID).
		Scan(&r.RunID, &startedNs, &r.ConfigJSON, &r.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	r.StartedAt = time.Unix(0, startedNs)
	return r, nil
}

// ListRuns returns all runs, newest first.
func (db *DB) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, started_at_ns, config_json, notes FROM runs ORDER BY started_at_ns DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedNs int64
		if err := rows.Scan(&r.RunID, &startedNs, &r.ConfigJSON, &r.Notes); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, startedNs)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRunID returns the id of the most recently started run.
func (db *DB) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `SELECT run_id FROM runs ORDER BY started_at_ns DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRunNotFound
	}
	return id, err
}
