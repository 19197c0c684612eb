package queries

import (
	"context"
	"time"
)

type DailyResultPublic struct {
	DeviceID  string
	DateISO   string
	TotalKm   int32
	UpdatedAt time.Time
}

// Keeps the lower of the stored and submitted totals.
const upsertPublicResult = `
INSERT INTO daily_results_public (device_id, date_iso, total_km, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (device_id, date_iso) DO UPDATE
SET total_km = LEAST(daily_results_public.total_km, EXCLUDED.total_km), updated_at = now()`

type UpsertPublicResultParams struct {
	DeviceID string
	DateISO  string
	TotalKm  int32
}

func (q *Queries) UpsertPublicResult(ctx context.Context, arg UpsertPublicResultParams) error {
	_, err := q.db.Exec(ctx, upsertPublicResult, arg.DeviceID, arg.DateISO, arg.TotalKm)
	return err
}

const getPublicResult = `
SELECT device_id, date_iso, total_km, updated_at FROM daily_results_public
WHERE device_id = $1 AND date_iso = $2`

type GetPublicResultParams struct {
	DeviceID string
	DateISO  string
}

func (q *Queries) GetPublicResult(ctx context.Context, arg GetPublicResultParams) (DailyResultPublic, error) {
	row := q.db.QueryRow(ctx, getPublicResult, arg.DeviceID, arg.DateISO)
	var i DailyResultPublic
	err := row.Scan(&i.DeviceID, &i.DateISO, &i.TotalKm, &i.UpdatedAt)
	return i, err
}

const listPublicResults = `
SELECT device_id, date_iso, total_km, updated_at FROM daily_results_public
WHERE device_id = $1 AND date_iso >= $2 AND date_iso <= $3
ORDER BY date_iso`

type ListPublicResultsParams struct {
	DeviceID string
	FromISO  string
	ToISO    string
}

func (q *Queries) ListPublicResults(ctx context.Context, arg ListPublicResultsParams) ([]DailyResultPublic, error) {
	rows, err := q.db.Query(ctx, listPublicResults, arg.DeviceID, arg.FromISO, arg.ToISO)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DailyResultPublic
	for rows.Next() {
		var i DailyResultPublic
		if err := rows.Scan(&i.DeviceID, &i.DateISO, &i.TotalKm, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listFriends = `SELECT friend_device_id FROM friends WHERE device_id = $1 ORDER BY friend_device_id`

func (q *Queries) ListFriends(ctx context.Context, deviceID string) ([]string, error) {
	rows, err := q.db.Query(ctx, listFriends, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	return items, rows.Err()
}

const upsertH2H = `
INSERT INTO h2h_daily (date_iso, a_device_id, b_device_id, a_km, b_km, winner, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (date_iso, a_device_id, b_device_id) DO UPDATE
SET a_km = EXCLUDED.a_km, b_km = EXCLUDED.b_km, winner = EXCLUDED.winner, updated_at = now()`

type UpsertH2HParams struct {
	DateISO   string
	ADeviceID string
	BDeviceID string
	AKm       int32
	BKm       int32
	Winner    string
}

func (q *Queries) UpsertH2H(ctx context.Context, arg UpsertH2HParams) error {
	_, err := q.db.Exec(ctx, upsertH2H, arg.DateISO, arg.ADeviceID, arg.BDeviceID, arg.AKm, arg.BKm, arg.Winner)
	return err
}
