package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gokatarajesh/geotap/internal/db/queries"
)

type snapshotStore interface {
	InsertLeaderboardSnapshot(ctx context.Context, arg queries.InsertLeaderboardSnapshotParams) error
	LatestLeaderboardSnapshot(ctx context.Context, dateISO string) (queries.LeaderboardSnapshot, error)
}

// SnapshotRepository persists serialized leaderboard snapshots.
type SnapshotRepository struct {
	store snapshotStore
}

func NewSnapshotRepository(store snapshotStore) *SnapshotRepository {
	return &SnapshotRepository{store: store}
}

// Insert stores a snapshot payload for a date.
func (r *SnapshotRepository) Insert(ctx context.Context, date string, generatedAt time.Time, entries []byte, hash string) error {
	return r.store.InsertLeaderboardSnapshot(ctx, queries.InsertLeaderboardSnapshotParams{
		DateISO:     date,
		GeneratedAt: generatedAt,
		Entries:     entries,
		SourceHash:  hash,
	})
}

// Latest returns the newest snapshot payload for a date, or nil when none exists.
func (r *SnapshotRepository) Latest(ctx context.Context, date string) ([]byte, error) {
	row, err := r.store.LatestLeaderboardSnapshot(ctx, date)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.Entries, nil
}
