package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/gokatarajesh/geotap/internal/db/queries"
)

// ErrNoResult is returned when a device has no public result for a date.
var ErrNoResult = errors.New("repository: no result")

type resultsStore interface {
	UpsertPublicResult(ctx context.Context, arg queries.UpsertPublicResultParams) error
	GetPublicResult(ctx context.Context, arg queries.GetPublicResultParams) (queries.DailyResultPublic, error)
	ListPublicResults(ctx context.Context, arg queries.ListPublicResultsParams) ([]queries.DailyResultPublic, error)
	ListFriends(ctx context.Context, deviceID string) ([]string, error)
	UpsertH2H(ctx context.Context, arg queries.UpsertH2HParams) error
}

// ResultsRepository contains DB helpers for public daily results and head-to-head rows.
type ResultsRepository struct {
	store resultsStore
}

// NewResultsRepository constructs a new results repository.
func NewResultsRepository(store resultsStore) *ResultsRepository {
	return &ResultsRepository{store: store}
}

// UpsertDaily stores a device's total for a date, keeping the lower value.
func (r *ResultsRepository) UpsertDaily(ctx context.Context, deviceID, date string, totalKm int) error {
	return r.store.UpsertPublicResult(ctx, queries.UpsertPublicResultParams{
		DeviceID: deviceID,
		DateISO:  date,
		TotalKm:  int32(totalKm),
	})
}

// GetDaily returns a device's public total for a date.
func (r *ResultsRepository) GetDaily(ctx context.Context, deviceID, date string) (int, error) {
	row, err := r.store.GetPublicResult(ctx, queries.GetPublicResultParams{DeviceID: deviceID, DateISO: date})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNoResult
		}
		return 0, err
	}
	return int(row.TotalKm), nil
}

// FetchRange returns date -> totalKm for an inclusive date range.
func (r *ResultsRepository) FetchRange(ctx context.Context, deviceID, from, to string) (map[string]int, error) {
	rows, err := r.store.ListPublicResults(ctx, queries.ListPublicResultsParams{
		DeviceID: deviceID,
		FromISO:  from,
		ToISO:    to,
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.DateISO] = int(row.TotalKm)
	}
	return out, nil
}

// Friends lists the device ids linked to deviceID.
func (r *ResultsRepository) Friends(ctx context.Context, deviceID string) ([]string, error) {
	return r.store.ListFriends(ctx, deviceID)
}

// H2H is a canonical head-to-head row where A sorts before B.
type H2H struct {
	Date   string
	A, B   string
	AKm    int
	BKm    int
	Winner string
}

// CanonicalH2H orders the pair and decides the winner (lower km wins).
func CanonicalH2H(date, dev1 string, km1 int, dev2 string, km2 int) H2H {
	a, b, aKm, bKm := dev1, dev2, km1, km2
	if b < a {
		a, b, aKm, bKm = b, a, bKm, aKm
	}
	winner := "draw"
	switch {
	case aKm < bKm:
		winner = "a"
	case bKm < aKm:
		winner = "b"
	}
	return H2H{Date: date, A: a, B: b, AKm: aKm, BKm: bKm, Winner: winner}
}

// UpsertH2H writes a head-to-head row.
func (r *ResultsRepository) UpsertH2H(ctx context.Context, h H2H) error {
	return r.store.UpsertH2H(ctx, queries.UpsertH2HParams{
		DateISO:   h.Date,
		ADeviceID: h.A,
		BDeviceID: h.B,
		AKm:       int32(h.AKm),
		BKm:       int32(h.BKm),
		Winner:    h.Winner,
	})
}
