package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokatarajesh/geotap/internal/daykey"
	"github.com/gokatarajesh/geotap/internal/store"
	"github.com/gokatarajesh/geotap/internal/store/memory"
)

// brokenStore fails every operation.
type brokenStore struct{}

var errBroken = errors.New("disk on fire")

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errBroken }
func (brokenStore) Set(context.Context, string, []byte) error { return errBroken }
func (brokenStore) Keys(context.Context, string) ([]string, error) { return nil, errBroken }
func (brokenStore) Delete(context.Context, string) error { return errBroken }

// flakyStore fails the next Get after failNextGet is called.
type flakyStore struct {
	store.Store

	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) failNextGet() {
	f.mu.Lock()
	f.fail = true
	f.mu.Unlock()
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	fail := f.fail
	f.fail = false
	f.mu.Unlock()
	if fail {
		return nil, errBroken
	}
	return f.Store.Get(ctx, key)
}

// testClock is fixed at 2025-01-10 12:00 London time.
func testClock(t *testing.T) (*daykey.Clock, *clockwork.FakeClock) {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	fake := clockwork.NewFakeClockAt(time.Date(2025, 1, 10, 12, 0, 0, 0, loc))
	c, err := daykey.NewClock(fake, 5, "Europe/London")
	require.NoError(t, err)
	return c, fake
}

func newTestAggregator(t *testing.T, s store.Store) *Aggregator {
	t.Helper()
	c, _ := testClock(t)
	return NewAggregator(s, c, zerolog.Nop(), Options{})
}

func TestRecordDailyResultKeepsBest(t *testing.T) {
	ctx := context.Background()
	a := newTestAggregator(t, memory.New())

	assert.Equal(t, 500, a.RecordDailyResult(ctx, "2025-01-01", 500))
	assert.Equal(t, 500, a.RecordDailyResult(ctx, "2025-01-01", 800))
	km, ok := a.BestFor(ctx, "2025-01-01")
	require.True(t, ok)
	assert.Equal(t, 500, km)

	assert.Equal(t, 300, a.RecordDailyResult(ctx, "2025-01-01", 300))
	km, _ = a.BestFor(ctx, "2025-01-01")
	assert.Equal(t, 300, km)
}

func TestRecordDailyResultConcurrentSubmissions(t *testing.T) {
	ctx := context.Background()
	a := newTestAggregator(t, memory.New())

	var wg sync.WaitGroup
	for km := 1000; km > 0; km -= 10 {
		wg.Add(1)
		go func(km int) {
			defer wg.Done()
			a.RecordDailyResult(ctx, "2025-01-01", km)
		}(km)
	}
	wg.Wait()

	km, ok := a.BestFor(ctx, "2025-01-01")
	require.True(t, ok)
	assert.Equal(t, 10, km)
}

func TestComputeStats(t *testing.T) {
	ctx := context.Background()
	a := newTestAggregator(t, memory.New())

	assert.Equal(t, Stats{}, a.ComputeStats(ctx))

	a.RecordDailyResult(ctx, "2025-01-10", 100)
	a.RecordDailyResult(ctx, "2025-01-09", 200)
	a.RecordDailyResult(ctx, "2025-01-08", 301)
	a.RecordDailyResult(ctx, "2025-01-05", 50)

	st := a.ComputeStats(ctx)
	assert.Equal(t, 4, st.Plays)
	assert.Equal(t, 163, st.AvgKm)
	assert.Equal(t, 50, st.BestKm)
	assert.Equal(t, 3, st.StreakDays)
}

func TestComputeStatsStreakSurvivesUntilTodayIsPlayed(t *testing.T) {
	ctx := context.Background()
	a := newTestAggregator(t, memory.New())

	a.RecordDailyResult(ctx, "2025-01-09", 200)
	a.RecordDailyResult(ctx, "2025-01-08", 300)
	assert.Equal(t, 2, a.ComputeStats(ctx).StreakDays)

	b := newTestAggregator(t, memory.New())
	b.RecordDailyResult(ctx, "2025-01-07", 200)
	assert.Equal(t, 0, b.ComputeStats(ctx).StreakDays)
}

func TestRecentResultsNewestFirst(t *testing.T) {
	ctx := context.Background()
	a := newTestAggregator(t, memory.New())
	for _, d := range []string{"2025-01-03", "2025-01-01", "2025-01-02"} {
		a.RecordDailyResult(ctx, d, 1)
	}

	got := a.RecentResults(ctx, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "2025-01-03", got[0].Date)
	assert.Equal(t, "2025-01-02", got[1].Date)
	assert.Len(t, a.RecentResults(ctx, 10), 3)
}

func TestLocalLeaderboardOneEntryPerParticipant(t *testing.T) {
	ctx := context.Background()
	c, fake := testClock(t)
	a := NewAggregator(memory.New(), c, zerolog.Nop(), Options{})

	a.AddLocalResult(ctx, "2025-01-10", "alice", 700)
	fake.Advance(time.Second)
	a.AddLocalResult(ctx, "2025-01-10", "bob", 500)
	fake.Advance(time.Second)
	a.AddLocalResult(ctx, "2025-01-10", "carol", 500)
	fake.Advance(time.Second)
	a.AddLocalResult(ctx, "2025-01-10", "alice", 900)
	fake.Advance(time.Second)
	list := a.AddLocalResult(ctx, "2025-01-10", "alice", 400)

	require.Len(t, list, 3)
	assert.Equal(t, "alice", list[0].ID)
	assert.Equal(t, 400, list[0].TotalKm)
	assert.Equal(t, "bob", list[1].ID)
	assert.Equal(t, "carol", list[2].ID)

	assert.Equal(t, list, a.LocalLeaderboard(ctx, "2025-01-10"))
	assert.Empty(t, a.LocalLeaderboard(ctx, "2025-01-11"))
}

func TestSummaries(t *testing.T) {
	ctx := context.Background()
	a := newTestAggregator(t, memory.New())

	_, ok := a.LoadSummary(ctx, "2025-01-10")
	assert.False(t, ok)
	assert.False(t, a.HasPlayed(ctx, "2025-01-10"))

	a.SaveSummary(ctx, "2025-01-10", 420, []SummaryItem{{ID: "q1", Prompt: "Where is Paris?", Km: 420}})
	a.SaveSummary(ctx, "2025-01-08", 10, nil)

	s, ok := a.LoadSummary(ctx, "2025-01-10")
	require.True(t, ok)
	assert.Equal(t, 420, s.TotalKm)
	require.Len(t, s.Items, 1)
	assert.Equal(t, "q1", s.Items[0].ID)
	assert.True(t, a.HasPlayed(ctx, "2025-01-10"))

	assert.Equal(t, []string{"2025-01-08", "2025-01-10"}, a.ListSummaryDates(ctx))
}

func TestChallengeCounters(t *testing.T) {
	ctx := context.Background()
	a := newTestAggregator(t, memory.New())

	assert.Empty(t, a.ChallengeCounts(ctx))
	assert.Equal(t, 1, a.IncrementChallengeLevelCompletion(ctx, 3))
	assert.Equal(t, 2, a.IncrementChallengeLevelCompletion(ctx, 3))
	assert.Equal(t, 1, a.IncrementChallengeLevelCompletion(ctx, 1))

	assert.Equal(t, map[int]int{1: 1, 3: 2}, a.ChallengeCounts(ctx))
}

func TestAttemptLogIsCapped(t *testing.T) {
	ctx := context.Background()
	c, _ := testClock(t)
	a := NewAggregator(memory.New(), c, zerolog.Nop(), Options{MaxAttempts: 3})

	for i := 0; i < 5; i++ {
		a.RecordAttempt(ctx, Attempt{Mode: "practice", MetaID: string(rune('a' + i))})
	}
	got := a.Attempts(ctx)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].MetaID)
	assert.Equal(t, "e", got[2].MetaID)
	assert.NotZero(t, got[0].TS)
}

func TestMigrateLegacyTakesMinimumAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	a := newTestAggregator(t, s)

	require.NoError(t, store.SetJSON(ctx, s, "lb.2025-01-01", []LocalEntry{
		{ID: "run_1", TotalKm: 900, TS: 1},
		{ID: "run_2", TotalKm: 650, TS: 2},
	}))
	require.NoError(t, store.SetJSON(ctx, s, "lb.2025-01-02", []LocalEntry{{ID: "run_3", TotalKm: 1200, TS: 3}}))
	require.NoError(t, store.SetJSON(ctx, s, "lb.2025-01-03", []LocalEntry{}))
	require.NoError(t, s.Set(ctx, "lb.2025-01-04", []byte("{corrupt")))
	require.NoError(t, store.SetJSON(ctx, s, "summary.2025-01-05", Summary{TotalKm: 77}))
	a.RecordDailyResult(ctx, "2025-01-02", 1000)

	assert.False(t, a.Migrated(ctx))
	assert.Equal(t, 4, a.MigrateLegacy(ctx))
	assert.True(t, a.Migrated(ctx))

	want := []DailyResult{
		{Date: "2025-01-05", TotalKm: 77},
		{Date: "2025-01-02", TotalKm: 1000},
		{Date: "2025-01-01", TotalKm: 650},
	}
	assert.Equal(t, want, a.AllResults(ctx))

	a.MigrateLegacy(ctx)
	assert.Equal(t, want, a.AllResults(ctx))
}

func TestPersistenceFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	c, _ := testClock(t)

	var mu sync.Mutex
	var ops []string
	a := NewAggregator(brokenStore{}, c, zerolog.Nop(), Options{OnFailure: func(op string) {
		mu.Lock()
		defer mu.Unlock()
		ops = append(ops, op)
	}})

	assert.Equal(t, 250, a.RecordDailyResult(ctx, "2025-01-10", 250))
	assert.Equal(t, Stats{}, a.ComputeStats(ctx))
	assert.Nil(t, a.ListSummaryDates(ctx))
	assert.Equal(t, 0, a.MigrateLegacy(ctx))

	_, err := a.Streak().UpdateStreakFor(ctx, "2025-01-10")
	assert.ErrorIs(t, err, errBroken)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, ops, "load_daily_results")
	assert.Contains(t, ops, "load_streak")
	assert.NotContains(t, ops, "record_daily_result")
	assert.NotContains(t, ops, "update_streak")
}

func TestFailedReadSkipsWrite(t *testing.T) {
	ctx := context.Background()
	s := &flakyStore{Store: memory.New()}
	a := newTestAggregator(t, s)

	a.RecordDailyResult(ctx, "2025-01-01", 300)
	a.RecordDailyResult(ctx, "2025-01-02", 400)
	s.failNextGet()
	assert.Equal(t, 900, a.RecordDailyResult(ctx, "2025-01-01", 900))

	assert.Equal(t, []DailyResult{
		{Date: "2025-01-02", TotalKm: 400},
		{Date: "2025-01-01", TotalKm: 300},
	}, a.AllResults(ctx))

	a.IncrementChallengeLevelCompletion(ctx, 1)
	a.IncrementChallengeLevelCompletion(ctx, 2)
	a.IncrementChallengeLevelCompletion(ctx, 2)
	s.failNextGet()
	assert.Equal(t, 1, a.IncrementChallengeLevelCompletion(ctx, 1))
	assert.Equal(t, map[int]int{1: 1, 2: 2}, a.ChallengeCounts(ctx))

	a.RecordAttempt(ctx, Attempt{Mode: "daily", MetaID: "a"})
	s.failNextGet()
	a.RecordAttempt(ctx, Attempt{Mode: "daily", MetaID: "b"})
	require.Len(t, a.Attempts(ctx), 1)

	a.AddLocalResult(ctx, "2025-01-01", "dev-1", 500)
	s.failNextGet()
	got := a.AddLocalResult(ctx, "2025-01-01", "dev-2", 100)
	require.Len(t, got, 1)
	assert.Equal(t, "dev-2", got[0].ID)
	local := a.LocalLeaderboard(ctx, "2025-01-01")
	require.Len(t, local, 1)
	assert.Equal(t, "dev-1", local[0].ID)
}

func TestFailedReadLeavesStreakIntact(t *testing.T) {
	ctx := context.Background()
	s := &flakyStore{Store: memory.New()}
	streak := newTestAggregator(t, s).Streak()

	for _, d := range []string{"2025-01-01", "2025-01-02", "2025-01-03"} {
		_, err := streak.UpdateStreakFor(ctx, d)
		require.NoError(t, err)
	}
	s.failNextGet()
	_, err := streak.UpdateStreakFor(ctx, "2025-01-04")
	require.ErrorIs(t, err, errBroken)
	assert.Equal(t, StreakState{LastPlayedDate: "2025-01-03", Count: 3}, streak.State(ctx))

	n, err := streak.UpdateStreakFor(ctx, "2025-01-04")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestMigrateLegacyRetriesAfterFailedRead(t *testing.T) {
	ctx := context.Background()
	s := &flakyStore{Store: memory.New()}
	a := newTestAggregator(t, s)
	require.NoError(t, store.SetJSON(ctx, s, "lb.2025-01-01", []LocalEntry{{ID: "run_1", TotalKm: 650, TS: 1}}))

	s.failNextGet()
	a.MigrateLegacy(ctx)
	assert.False(t, a.Migrated(ctx))

	a.MigrateLegacy(ctx)
	assert.True(t, a.Migrated(ctx))
	km, ok := a.BestFor(ctx, "2025-01-01")
	require.True(t, ok)
	assert.Equal(t, 650, km)
}

func TestDirectoryIsolatesDevices(t *testing.T) {
	ctx := context.Background()
	c, _ := testClock(t)
	d := NewDirectory(memory.New(), c, zerolog.Nop(), Options{})

	assert.Same(t, d.For("dev-1"), d.For("dev-1"))
	d.For("dev-1").RecordDailyResult(ctx, "2025-01-10", 10)

	_, ok := d.For("dev-2").BestFor(ctx, "2025-01-10")
	assert.False(t, ok)
	km, ok := d.For("dev-1").BestFor(ctx, "2025-01-10")
	require.True(t, ok)
	assert.Equal(t, 10, km)
}

func TestDirectoryOpenMigratesLegacyHistoryOnce(t *testing.T) {
	ctx := context.Background()
	c, _ := testClock(t)
	base := memory.New()
	legacy := store.WithPrefix(base, "device:dev-1")
	require.NoError(t, store.SetJSON(ctx, legacy, "lb.2025-01-08", []LocalEntry{{ID: "run_1", TotalKm: 420, TS: 1}}))

	d := NewDirectory(base, c, zerolog.Nop(), Options{})
	a := d.Open(ctx, "dev-1")
	assert.True(t, a.Migrated(ctx))
	km, ok := a.BestFor(ctx, "2025-01-08")
	require.True(t, ok)
	assert.Equal(t, 420, km)

	a.RecordDailyResult(ctx, "2025-01-08", 300)
	assert.Same(t, a, d.Open(ctx, "dev-1"))
	km, _ = a.BestFor(ctx, "2025-01-08")
	assert.Equal(t, 300, km)
}
