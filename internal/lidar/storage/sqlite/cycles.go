package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// DynamicCycle is one recorded dynamic-extraction cycle. DynamicPoints and
// StaticPoints are nil for skipped cycles.
type DynamicCycle struct {
	RunID         string
	FrameID       string
	Timestamp     time.Time
	TargetPoints  int
	DynamicPoints *int
	StaticPoints  *int
	SkippedReason string
	Duration      time.Duration
}

// VelocityRow is the recorded velocity of one cluster. Velocity is nil when
// the cluster was not associated with a previous centroid.
type VelocityRow struct {
	ClusterIndex int
	ClusterSize  int
	Centroid     r3.Vec
	Velocity     *r3.Vec
}

// DetectionCycle is one recorded detection cycle with its estimates.
type DetectionCycle struct {
	RunID         string
	FrameID       string
	Timestamp     time.Time
	Interval      float64 // seconds; 0 when association did not run
	Reference     string
	SkippedReason string
	Duration      time.Duration
	Estimates     []VelocityRow
}

// Matched returns the number of estimates with a defined velocity.
func (c DetectionCycle) Matched() int {
	n := 0
	for _, e := range c.Estimates {
		if e.Velocity != nil {
			n++
		}
	}
	return n
}

// InsertDynamicCycle records one dynamic-extraction cycle.
func (db *DB) InsertDynamicCycle(ctx context.Context, c DynamicCycle) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO dynamic_cycles
			(run_id, frame_id, frame_ts_ns, target_points, dynamic_points, static_points, skipped_reason, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.FrameID, c.Timestamp.UnixNano(), c.TargetPoints,
		nullInt(c.DynamicPoints), nullInt(c.StaticPoints), c.SkippedReason, c.Duration.Microseconds())
	if err != nil {
		return fmt.Errorf("insert dynamic cycle %s: %w", c.FrameID, err)
	}
	return nil
}

// InsertDetectionCycle records one detection cycle and its estimates in a
// single transaction and returns the cycle id.
func (db *DB) InsertDetectionCycle(ctx context.Context, c DetectionCycle) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var interval sql.NullFloat64
	if c.Interval > 0 {
		interval = sql.NullFloat64{Float64: c.Interval, Valid: true}
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO detection_cycles
			(run_id, frame_id, frame_ts_ns, clusters, matched, interval_s, reference, skipped_reason, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.FrameID, c.Timestamp.UnixNano(), len(c.Estimates), c.Matched(),
		interval, c.Reference, c.SkippedReason, c.Duration.Microseconds())
	if err != nil {
		return 0, fmt.Errorf("insert detection cycle %s: %w", c.FrameID, err)
	}
	cycleID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if len(c.Estimates) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO velocity_estimates
				(cycle_id, cluster_index, cluster_size, cx, cy, cz, vx, vy, vz, speed_mps)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()
		for _, e := range c.Estimates {
			var vx, vy, vz, speed sql.NullFloat64
			if e.Velocity != nil && finite(*e.Velocity) {
				vx = sql.NullFloat64{Float64: e.Velocity.X, Valid: true}
				vy = sql.NullFloat64{Float64: e.Velocity.Y, Valid: true}
				vz = sql.NullFloat64{Float64: e.Velocity.Z, Valid: true}
				speed = sql.NullFloat64{Float64: r3.Norm(*e.Velocity), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, cycleID, e.ClusterIndex, e.ClusterSize,
				e.Centroid.X, e.Centroid.Y, e.Centroid.Z, vx, vy, vz, speed); err != nil {
				return 0, fmt.Errorf("insert estimate %d of cycle %d: %w", e.ClusterIndex, cycleID, err)
			}
		}
	}
	return cycleID, tx.Commit()
}

// DynamicCycles returns the recorded dynamic cycles of a run in time order.
func (db *DB) DynamicCycles(ctx context.Context, runID string) ([]DynamicCycle, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT frame_id, frame_ts_ns, target_points, dynamic_points, static_points, skipped_reason, duration_us
		FROM dynamic_cycles WHERE run_id = ? ORDER BY frame_ts_ns, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query dynamic cycles: %w", err)
	}
	defer rows.Close()

	var out []DynamicCycle
	for rows.Next() {
		c := DynamicCycle{RunID: runID}
		var ts, durUs int64
		var dyn, stat sql.NullInt64
		if err := rows.Scan(&c.FrameID, &ts, &c.TargetPoints, &dyn, &stat, &c.SkippedReason, &durUs); err != nil {
			return nil, err
		}
		c.Timestamp = time.Unix(0, ts)
		c.Duration = time.Duration(durUs) * time.Microsecond
		c.DynamicPoints = intPtr(dyn)
		c.StaticPoints = intPtr(stat)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Estimates returns the velocity rows of one detection cycle in cluster
// order.
func (db *DB) Estimates(ctx context.Context, cycleID int64) ([]VelocityRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT cluster_index, cluster_size, cx, cy, cz, vx, vy, vz
		FROM velocity_estimates WHERE cycle_id = ? ORDER BY cluster_index`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query estimates: %w", err)
	}
	defer rows.Close()

	var out []VelocityRow
	for rows.Next() {
		var r VelocityRow
		var vx, vy, vz sql.NullFloat64
		if err := rows.Scan(&r.ClusterIndex, &r.ClusterSize, &r.Centroid.X, &r.Centroid.Y, &r.Centroid.Z, &vx, &vy, &vz); err != nil {
			return nil, err
		}
		if vx.Valid && vy.Valid && vz.Valid {
			r.Velocity = &r3.Vec{X: vx.Float64, Y: vy.Float64, Z: vz.Float64}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DetectionCycleIDs returns the ids of a run's detection cycles in time order.
func (db *DB) DetectionCycleIDs(ctx context.Context, runID string) ([]int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT cycle_id FROM detection_cycles WHERE run_id = ? ORDER BY frame_ts_ns, cycle_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query detection cycles: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SpeedSamples returns every defined speed (m/s) recorded for a run.
func (db *DB) SpeedSamples(ctx context.Context, runID string) ([]float64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT e.speed_mps
		FROM velocity_estimates e
		JOIN detection_cycles c ON c.cycle_id = e.cycle_id
		WHERE c.run_id = ? AND e.speed_mps IS NOT NULL
		ORDER BY c.frame_ts_ns, e.cluster_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query speed samples: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func finite(v r3.Vec) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
