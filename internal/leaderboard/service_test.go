package leaderboard

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ws "github.com/gokatarajesh/geotap/pkg/http/ws"
)

func newTestService(t *testing.T, opts ServiceOptions) (*Service, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(client, zerolog.Nop(), opts), client, mr
}

var t0 = time.Date(2025, 1, 10, 9, 30, 0, 0, time.UTC)

func TestSubmitKeepsBestTotal(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, ServiceOptions{})

	changed, err := svc.Submit(ctx, SubmitRequest{Date: "2025-01-10", ParticipantID: "dev-a", DisplayName: "Ana", TotalKm: 500, At: t0})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = svc.Submit(ctx, SubmitRequest{Date: "2025-01-10", ParticipantID: "dev-a", TotalKm: 800, At: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = svc.Submit(ctx, SubmitRequest{Date: "2025-01-10", ParticipantID: "dev-a", TotalKm: 300, At: t0.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.True(t, changed)

	top, err := svc.Top(ctx, "2025-01-10", 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "dev-a", top[0].ParticipantID)
	assert.Equal(t, "Ana", top[0].DisplayName)
	assert.Equal(t, 300, top[0].TotalKm)
	assert.Equal(t, t0.Add(2*time.Minute), top[0].SubmittedAt)
}

func TestTopOrdersByKmThenSubmissionTime(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, ServiceOptions{})

	for _, req := range []SubmitRequest{
		{ParticipantID: "late", TotalKm: 400, At: t0.Add(time.Hour)},
		{ParticipantID: "early", TotalKm: 400, At: t0},
		{ParticipantID: "best", TotalKm: 120, At: t0.Add(2 * time.Hour)},
		{ParticipantID: "worst", TotalKm: 9000, At: t0},
	} {
		req.Date = "2025-01-10"
		_, err := svc.Submit(ctx, req)
		require.NoError(t, err)
	}

	top, err := svc.Top(ctx, "2025-01-10", 3)
	require.NoError(t, err)
	ids := make([]string, len(top))
	for i, e := range top {
		ids[i] = e.ParticipantID
	}
	assert.Equal(t, []string{"best", "early", "late"}, ids)

	rank, ok, err := svc.Rank(ctx, "2025-01-10", "worst")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, rank)

	_, ok, err = svc.Rank(ctx, "2025-01-10", "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDatesAreSeparateBoards(t *testing.T) {
	ctx := context.Background()
	svc, _, mr := newTestService(t, ServiceOptions{EntryTTL: 48 * time.Hour})

	_, err := svc.Submit(ctx, SubmitRequest{Date: "2025-01-09", ParticipantID: "dev-a", DisplayName: "Ana", TotalKm: 100, At: t0})
	require.NoError(t, err)

	top, err := svc.Top(ctx, "2025-01-10", 10)
	require.NoError(t, err)
	assert.Empty(t, top)

	assert.Equal(t, 48*time.Hour, mr.TTL("lb:2025-01-09"))
	assert.Equal(t, 48*time.Hour, mr.TTL("lb:2025-01-09:names"))
}

func TestSubmitRequiresParticipant(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceOptions{})
	_, err := svc.Submit(context.Background(), SubmitRequest{Date: "2025-01-10", TotalKm: 10})
	assert.Error(t, err)
}

func TestSubmitPublishesUpdate(t *testing.T) {
	ctx := context.Background()
	svc, client, _ := newTestService(t, ServiceOptions{})

	sub := client.Subscribe(ctx, svc.Channel())
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, SubmitRequest{Date: "2025-01-10", ParticipantID: "dev-a", TotalKm: 250, At: t0})
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		var payload ws.LeaderboardUpdatePayload
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
		assert.Equal(t, "2025-01-10", payload.Date)
		require.Len(t, payload.Top, 1)
		assert.Equal(t, 1, payload.Top[0].Rank)
		assert.Equal(t, 250, payload.Top[0].TotalKm)
	case <-time.After(2 * time.Second):
		t.Fatal("no leaderboard update published")
	}
}

func TestScoreEncoding(t *testing.T) {
	epoch, err := dateEpoch("2025-01-10")
	require.NoError(t, err)

	km, at := decodeScore(encodeScore(4321, epoch, t0), epoch)
	assert.Equal(t, 4321, km)
	assert.Equal(t, t0, at)

	assert.Less(t, encodeScore(10, epoch, t0.Add(time.Hour)), encodeScore(11, epoch, t0))

	_, at = decodeScore(encodeScore(5, epoch, epoch.Add(-time.Hour)), epoch)
	assert.Equal(t, epoch, at)
}

func TestLargeTotalsKeepSecondTieBreak(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, ServiceOptions{})

	const total = 5_000_000
	for _, req := range []SubmitRequest{
		{ParticipantID: "late", TotalKm: total, At: t0.Add(time.Second)},
		{ParticipantID: "early", TotalKm: total, At: t0},
		{ParticipantID: "better", TotalKm: total - 1, At: t0.Add(time.Hour)},
	} {
		req.Date = "2025-01-10"
		_, err := svc.Submit(ctx, req)
		require.NoError(t, err)
	}

	top, err := svc.Top(ctx, "2025-01-10", 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, []string{"better", "early", "late"},
		[]string{top[0].ParticipantID, top[1].ParticipantID, top[2].ParticipantID})
	assert.Equal(t, total, top[1].TotalKm)
	assert.Equal(t, t0, top[1].SubmittedAt)
	assert.Equal(t, t0.Add(time.Second), top[2].SubmittedAt)

	_, err = svc.Submit(ctx, SubmitRequest{Date: "tomorrow", ParticipantID: "x", TotalKm: 1, At: t0})
	assert.Error(t, err)
}
