package indexdb

import (
	"context"
	"database/sql"
	"errors"
)

type AuditRow struct {
	Tick      uint64 `json:"tick"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Pos       [3]int `json:"pos"`
	Block     string `json:"block"`
	NetworkID uint64 `json:"network_id,omitempty"`
	Connected bool   `json:"connected"`
}

type SnapshotRow struct {
	Tick     uint64 `json:"tick"`
	Path     string `json:"path"`
	Blocks   int    `json:"blocks"`
	Networks int    `json:"networks"`
}

// AuditsAt returns the most recent audits for a position, newest first.
func (s *SQLiteIndex) AuditsAt(ctx context.Context, pos [3]int, limit int) ([]AuditRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick,actor,action,x,y,z,block,network_id,connected FROM audits
		 WHERE x=? AND y=? AND z=? ORDER BY tick DESC, seq DESC LIMIT ?`,
		pos[0], pos[1], pos[2], limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var (
			r    AuditRow
			tick int64
			nid  sql.NullInt64
		)
		if err := rows.Scan(&tick, &r.Actor, &r.Action, &r.Pos[0], &r.Pos[1], &r.Pos[2], &r.Block, &nid, &r.Connected); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		if nid.Valid {
			r.NetworkID = uint64(nid.Int64)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestSnapshot returns the newest indexed snapshot; ok is false when none is recorded.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (SnapshotRow, bool, error) {
	var (
		r    SnapshotRow
		tick int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT tick,path,blocks,networks FROM snapshots ORDER BY tick DESC LIMIT 1`).
		Scan(&tick, &r.Path, &r.Blocks, &r.Networks)
	if errors.Is(err, sql.ErrNoRows) {
		return r, false, nil
	}
	if err != nil {
		return r, false, err
	}
	r.Tick = uint64(tick)
	return r, true, nil
}
