package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"dronecraft.ai/internal/sim/world"
)

// Reader queries an index written by SQLiteIndex once the writer is closed.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

// AuditsAt returns the edit history of one cell, oldest first.
func (r *Reader) AuditsAt(ctx context.Context, pos [3]int, limit int) ([]world.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `SELECT tick,actor,action,from_state,to_state,COALESCE(reason,'')
		FROM audits WHERE x=? AND y=? AND z=? ORDER BY tick, seq LIMIT ?`, pos[0], pos[1], pos[2], limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []world.AuditEntry
	for rows.Next() {
		e := world.AuditEntry{Pos: pos}
		var tick int64
		if err := rows.Scan(&tick, &e.Actor, &e.Action, &e.From, &e.To, &e.Reason); err != nil {
			return nil, err
		}
		e.Tick = uint64(tick)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Reader) Snapshots(ctx context.Context) ([]SnapshotRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT tick,path,cells,intents,jobs,drones FROM snapshots ORDER BY tick`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var s SnapshotRow
		var tick int64
		if err := rows.Scan(&tick, &s.Path, &s.Cells, &s.Intents, &s.Jobs, &s.Drones); err != nil {
			return nil, err
		}
		s.Tick = uint64(tick)
		out = append(out, s)
	}
	return out, rows.Err()
}

// TickDigest returns the recorded state digest of tick.
func (r *Reader) TickDigest(ctx context.Context, tick uint64) (string, error) {
	var d string
	err := r.db.QueryRowContext(ctx, `SELECT digest FROM ticks WHERE tick=?`, int64(tick)).Scan(&d)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("tick %d not indexed", tick)
	}
	return d, err
}

// DroneEventCount counts indexed events for one drone.
func (r *Reader) DroneEventCount(ctx context.Context, droneID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM drone_events WHERE drone=?`, droneID).Scan(&n)
	return n, err
}
