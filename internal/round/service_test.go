package round

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
	"github.com/gokatarajesh/geotap/internal/question"
	"github.com/gokatarajesh/geotap/internal/remote"
	"github.com/gokatarajesh/geotap/internal/stats"
	"github.com/gokatarajesh/geotap/internal/store/memory"
)

type fakeSets struct {
	size int
}

func (f fakeSets) Daily(_ context.Context, date string) (question.Set, error) {
	set := pointSet(f.size)
	set.SeedKey = date
	return set, nil
}

func (f fakeSets) Archive(ctx context.Context, date string) (question.Set, error) {
	return f.Daily(ctx, date)
}

func (f fakeSets) Challenge(_ context.Context, _ string, _ int, _ question.Difficulty, count int) (question.Set, error) {
	return pointSet(count), nil
}

func (f fakeSets) Practice(_ context.Context, topic string) (question.Set, error) {
	if topic == "" {
		return question.Set{}, question.ErrUnknownTopic
	}
	return pointSet(f.size), nil
}

type fakeRemote struct {
	mu   sync.Mutex
	subs []remote.Submission
}

func (f *fakeRemote) PublishAsync(sub remote.Submission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
}

const serviceLadder = `
version: 1
levels:
  - id: 1
    difficulty: easy
    numQuestions: 2
    advanceMaxKm: 300
  - id: 2
    difficulty: medium
    numQuestions: 2
    advanceMaxKm: 300
`

type serviceFixture struct {
	svc    *Service
	clock  *clockwork.FakeClock
	dir    *stats.Directory
	remote *fakeRemote
	events *recorder
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC))
	days, err := daykey.NewClock(clock, 5, "UTC")
	require.NoError(t, err)
	ladder, err := ParseLadder([]byte(serviceLadder))
	require.NoError(t, err)

	f := &serviceFixture{
		clock:  clock,
		dir:    stats.NewDirectory(memory.New(), days, zerolog.Nop(), stats.Options{}),
		remote: &fakeRemote{},
		events: &recorder{},
	}
	f.svc = NewService(fakeSets{size: 2}, ladder, testEngine(), f.dir, f.remote, nil, f.events.sink,
		ServiceOptions{Clock: clock}, zerolog.Nop())
	t.Cleanup(f.svc.Shutdown)
	return f
}

// play answers every question at lngOffset degrees east of the target and
// waits for the round to finish.
func (f *serviceFixture) play(t *testing.T, sess *Session, lngOffset float64) {
	t.Helper()
	d := sess.Driver()
	require.Eventually(t, func() bool {
		snap := sess.Snapshot()
		if snap.Phase.Terminal() {
			return true
		}
		if snap.Phase == PhaseActive && !snap.Advancing {
			if err := d.PlaceGuess(0, float64(snap.Index)+lngOffset); err == nil {
				_, _ = d.Confirm()
			}
			return false
		}
		f.clock.Advance(500 * time.Millisecond)
		return false
	}, 2*time.Second, time.Millisecond)
}

func waitDone(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("round result was not persisted")
	}
}

func TestDailyRoundPersistsAndGuardsReplay(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	p := Player{DeviceID: "dev-a", DisplayName: "Ana"}

	sess, err := f.svc.StartDaily(ctx, p)
	require.NoError(t, err)
	f.play(t, sess, 0)
	waitDone(t, sess)
	assert.Equal(t, PhaseComplete, sess.Snapshot().Phase)

	agg := f.dir.For("dev-a")
	best, ok := agg.BestFor(ctx, "2025-01-10")
	require.True(t, ok)
	assert.Equal(t, 0, best)
	assert.Len(t, agg.LocalLeaderboard(ctx, "2025-01-10"), 1)
	assert.Len(t, agg.Attempts(ctx), 2)
	assert.Equal(t, 1, agg.Streak().State(ctx).Count)

	f.remote.mu.Lock()
	require.Len(t, f.remote.subs, 1)
	assert.Equal(t, "Ana", f.remote.subs[0].DisplayName)
	assert.Equal(t, "2025-01-10", f.remote.subs[0].Date)
	f.remote.mu.Unlock()

	_, err = f.svc.StartDaily(ctx, p)
	require.ErrorIs(t, err, ErrAlreadyPlayed)
	var played *AlreadyPlayedError
	require.True(t, errors.As(err, &played))
	assert.Equal(t, "2025-01-10", played.Summary.Date)
	assert.Len(t, played.Summary.Items, 2)
}

func TestPracticeRoundIsNotScored(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	sess, err := f.svc.StartPractice(ctx, Player{DeviceID: "dev-a"}, "countries")
	require.NoError(t, err)
	f.play(t, sess, 1)
	waitDone(t, sess)

	agg := f.dir.For("dev-a")
	assert.False(t, agg.HasPlayed(ctx, "2025-01-10"))
	assert.Len(t, agg.Attempts(ctx), 2)
	assert.Empty(t, f.remote.subs)

	_, err = f.svc.StartPractice(ctx, Player{DeviceID: "dev-a"}, "")
	assert.ErrorIs(t, err, question.ErrUnknownTopic)
}

func TestChallengePassUnlocksNextLevel(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	sess, err := f.svc.StartChallenge(ctx, Player{DeviceID: "dev-a"}, 1)
	require.NoError(t, err)

	_, err = f.svc.NextLevel(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotAccepting)

	f.play(t, sess, 0)
	waitDone(t, sess)
	assert.Equal(t, PhasePassed, sess.Snapshot().Phase)
	assert.Equal(t, map[int]int{1: 1}, f.dir.For("dev-a").ChallengeCounts(ctx))

	next, err := f.svc.NextLevel(ctx, sess.ID)
	require.NoError(t, err)
	rule, ok := next.Level()
	require.True(t, ok)
	assert.Equal(t, 2, rule.ID)

	f.play(t, next, 0)
	waitDone(t, next)
	_, err = f.svc.NextLevel(ctx, next.ID)
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestChallengeFailAllowsRetry(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	sess, err := f.svc.StartChallenge(ctx, Player{DeviceID: "dev-a"}, 1)
	require.NoError(t, err)
	f.play(t, sess, 10)
	waitDone(t, sess)
	assert.Equal(t, PhaseFailed, sess.Snapshot().Phase)
	assert.Empty(t, f.dir.For("dev-a").ChallengeCounts(ctx))

	_, err = f.svc.NextLevel(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotAccepting)

	retry, err := f.svc.RetryLevel(ctx, sess.ID)
	require.NoError(t, err)
	rule, _ := retry.Level()
	assert.Equal(t, 1, rule.ID)

	_, err = f.svc.StartChallenge(ctx, Player{DeviceID: "dev-a"}, 9)
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestArchiveOnlyForPastDates(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	p := Player{DeviceID: "dev-a"}

	_, err := f.svc.StartArchive(ctx, p, "2025-01-10")
	assert.ErrorIs(t, err, ErrArchiveDate)
	_, err = f.svc.StartArchive(ctx, p, "2025-02-01")
	assert.ErrorIs(t, err, ErrArchiveDate)
	_, err = f.svc.StartArchive(ctx, p, "last week")
	assert.Error(t, err)

	sess, err := f.svc.StartArchive(ctx, p, "2025-01-03")
	require.NoError(t, err)
	assert.Equal(t, ModeArchive, sess.Snapshot().Mode)
	f.play(t, sess, 0)
	waitDone(t, sess)
	assert.False(t, f.dir.For("dev-a").HasPlayed(ctx, "2025-01-03"))
}

func TestNewRoundAbandonsPrevious(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	p := Player{DeviceID: "dev-a"}

	first, err := f.svc.StartPractice(ctx, p, "countries")
	require.NoError(t, err)
	second, err := f.svc.StartPractice(ctx, p, "countries")
	require.NoError(t, err)

	assert.Equal(t, PhaseAbandoned, first.Snapshot().Phase)
	assert.Equal(t, PhaseActive, second.Snapshot().Phase)
	_, err = f.svc.Session(first.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, f.svc.Abandon(second.ID))
	assert.Equal(t, PhaseAbandoned, second.Snapshot().Phase)
	assert.Contains(t, f.events.types(), EventRoundAbandoned)
	assert.ErrorIs(t, f.svc.Abandon("missing"), ErrSessionNotFound)
}

func TestFinishedSessionsExpire(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	p := Player{DeviceID: "dev-a"}

	done, err := f.svc.StartChallenge(ctx, p, 1)
	require.NoError(t, err)
	f.play(t, done, 10)
	waitDone(t, done)

	_, err = f.svc.RetryLevel(ctx, done.ID)
	require.NoError(t, err)
	_, err = f.svc.Session(done.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	dropped, err := f.svc.StartPractice(ctx, Player{DeviceID: "dev-b"}, "countries")
	require.NoError(t, err)
	require.NoError(t, f.svc.Abandon(dropped.ID))

	f.clock.Advance(defaultSessionTTL + time.Second)
	require.Eventually(t, func() bool {
		_, err := f.svc.Session(dropped.ID)
		return errors.Is(err, ErrSessionNotFound)
	}, time.Second, time.Millisecond)

	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	assert.NotContains(t, f.svc.byDevice, "dev-b")
	assert.Contains(t, f.svc.byDevice, "dev-a")
	assert.Len(t, f.svc.sessions, 1)
}

func TestStartRequiresDevice(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.StartPractice(context.Background(), Player{}, "countries")
	assert.Error(t, err)
}
