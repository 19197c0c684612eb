package leaderboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/geotap/internal/daykey"
)

type snapshotSource interface {
	SnapshotTop(ctx context.Context, date string) ([]Entry, error)
}

type snapshotSink interface {
	Insert(ctx context.Context, date string, generatedAt time.Time, entries []byte, hash string) error
}

// SnapshotWorker periodically persists the current and previous day's
// Redis leaderboards into Postgres.
type SnapshotWorker struct {
	source   snapshotSource
	sink     snapshotSink
	days     *daykey.Clock
	clock    clockwork.Clock
	logger   zerolog.Logger
	interval time.Duration
}

func NewSnapshotWorker(source snapshotSource, sink snapshotSink, days *daykey.Clock, clock clockwork.Clock, interval time.Duration, logger zerolog.Logger) *SnapshotWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SnapshotWorker{
		source:   source,
		sink:     sink,
		days:     days,
		clock:    clock,
		logger:   logger.With().Str("component", "leaderboard_snapshot_worker").Logger(),
		interval: interval,
	}
}

// Run blocks until context cancellation.
func (w *SnapshotWorker) Run(ctx context.Context) error {
	if w.source == nil || w.sink == nil {
		return nil
	}

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	// run immediately
	w.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			w.tick(ctx)
		}
	}
}

// The previous day stays open until its late submissions settle.
func (w *SnapshotWorker) tick(ctx context.Context) {
	today := w.days.Today()
	dates := []string{today}
	if prev, err := daykey.AddDays(today, -1); err == nil {
		dates = append(dates, prev)
	}
	for _, date := range dates {
		if err := w.snapshotDate(ctx, date); err != nil {
			w.logger.Warn().Err(err).Str("date", date).Msg("snapshot failed")
		}
	}
}

func (w *SnapshotWorker) snapshotDate(ctx context.Context, date string) error {
	entries, err := w.source.SnapshotTop(ctx, date)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	wsEntries := toWSEntries(entries)
	data, err := json.Marshal(wsEntries)
	if err != nil {
		return err
	}

	sourceHash := sha256.Sum256(data)
	now := w.clock.Now().UTC()

	if err := w.sink.Insert(ctx, date, now, data, hex.EncodeToString(sourceHash[:])); err != nil {
		return err
	}

	w.logger.Info().
		Str("date", date).
		Int("entries", len(wsEntries)).
		Time("generated_at", now).
		Msg("leaderboard snapshot persisted")

	return nil
}
