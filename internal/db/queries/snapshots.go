package queries

import (
	"context"
	"time"
)

type LeaderboardSnapshot struct {
	ID          int64
	DateISO     string
	GeneratedAt time.Time
	Entries     []byte
	SourceHash  string
}

// Identical payloads for the same date are stored once.
const insertLeaderboardSnapshot = `
INSERT INTO leaderboard_snapshots (date_iso, generated_at, entries, source_hash)
VALUES ($1, $2, $3, $4)
ON CONFLICT (date_iso, source_hash) DO NOTHING`

type InsertLeaderboardSnapshotParams struct {
	DateISO     string
	GeneratedAt time.Time
	Entries     []byte
	SourceHash  string
}

func (q *Queries) InsertLeaderboardSnapshot(ctx context.Context, arg InsertLeaderboardSnapshotParams) error {
	_, err := q.db.Exec(ctx, insertLeaderboardSnapshot, arg.DateISO, arg.GeneratedAt, arg.Entries, arg.SourceHash)
	return err
}

const latestLeaderboardSnapshot = `
SELECT id, date_iso, generated_at, entries, source_hash FROM leaderboard_snapshots
WHERE date_iso = $1
ORDER BY generated_at DESC
LIMIT 1`

func (q *Queries) LatestLeaderboardSnapshot(ctx context.Context, dateISO string) (LeaderboardSnapshot, error) {
	row := q.db.QueryRow(ctx, latestLeaderboardSnapshot, dateISO)
	var i LeaderboardSnapshot
	err := row.Scan(&i.ID, &i.DateISO, &i.GeneratedAt, &i.Entries, &i.SourceHash)
	return i, err
}
