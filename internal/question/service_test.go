package question

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	mu     sync.Mutex
	store  map[string][]string
	getErr error
	puts   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{store: map[string][]string{}}
}

func (c *memoryCache) key(version, seed string, count int) string {
	return strings.Join([]string{version, seed, strconv.Itoa(count)}, "|")
}

func (c *memoryCache) Get(_ context.Context, version, seed string, count int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.store[c.key(version, seed, count)], nil
}

func (c *memoryCache) Put(_ context.Context, version, seed string, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	c.store[c.key(version, seed, len(ids))] = ids
	return nil
}

func (c *memoryCache) putCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts
}

func TestDailyUsesCache(t *testing.T) {
	cat := fixtureCatalog(10, 10, 10)
	cache := newMemoryCache()
	svc := NewService(cat, cache, zerolog.Nop(), ServiceOptions{DailyCount: 5})

	first, err := svc.Daily(context.Background(), "2025-01-01")
	require.NoError(t, err)
	require.Len(t, first.Questions, 5)
	assert.Equal(t, 1, cache.puts)

	second, err := svc.Daily(context.Background(), "2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, first.IDs(), second.IDs())
	assert.Equal(t, 1, cache.puts)
}

func TestDailyPrefersCachedSequence(t *testing.T) {
	cat := fixtureCatalog(10, 10, 10)
	cache := newMemoryCache()
	cached := []string{"easy-city-9", "hard-state-0", "medium-country-3"}
	cache.store[cache.key(cat.Version(), "2025-01-01", 3)] = cached
	svc := NewService(cat, cache, zerolog.Nop(), ServiceOptions{DailyCount: 3})

	set, err := svc.Daily(context.Background(), "2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, cached, set.IDs())
}

func TestDailyIgnoresStaleCacheEntries(t *testing.T) {
	cat := fixtureCatalog(10, 10, 10)
	cache := newMemoryCache()
	cache.store[cache.key(cat.Version(), "2025-01-01", 3)] = []string{"gone", "also-gone", "nope"}
	svc := NewService(cat, cache, zerolog.Nop(), ServiceOptions{DailyCount: 3})

	set, err := svc.Daily(context.Background(), "2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, Build(cat, BuildRequest{SeedKey: "2025-01-01", Count: 3}).IDs(), set.IDs())
}

func TestDailySurvivesCacheFailure(t *testing.T) {
	cat := fixtureCatalog(10, 10, 10)
	cache := newMemoryCache()
	cache.getErr = errors.New("redis down")
	svc := NewService(cat, cache, zerolog.Nop(), ServiceOptions{})

	set, err := svc.Daily(context.Background(), "2025-01-01")
	require.NoError(t, err)
	assert.Len(t, set.Questions, 10)
}

func TestDailyRejectsBadDate(t *testing.T) {
	svc := NewService(fixtureCatalog(1, 1, 1), nil, zerolog.Nop(), ServiceOptions{})

	_, err := svc.Daily(context.Background(), "01/02/2025")
	assert.Error(t, err)
}

func TestChallengeSeedAndDifficulty(t *testing.T) {
	cat := fixtureCatalog(10, 10, 10)
	svc := NewService(cat, nil, zerolog.Nop(), ServiceOptions{})

	set, err := svc.Challenge(context.Background(), "2025-01-01", 3, DifficultyHard, 5)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01#L3#hard", set.SeedKey)
	assert.Equal(t, 5, countBy(set, DifficultyHard))

	again, err := svc.Challenge(context.Background(), "2025-01-01", 3, DifficultyHard, 5)
	require.NoError(t, err)
	assert.Equal(t, set.IDs(), again.IDs())
}

func TestPracticeVariesWithClock(t *testing.T) {
	cat := fixtureCatalog(30, 30, 30)
	tick := time.Unix(1700000000, 0)
	svc := NewService(cat, newMemoryCache(), zerolog.Nop(), ServiceOptions{
		PracticeCount: 10,
		Now: func() time.Time {
			tick = tick.Add(time.Millisecond)
			return tick
		},
	})

	a, err := svc.Practice(context.Background(), TopicCities)
	require.NoError(t, err)
	b, err := svc.Practice(context.Background(), TopicCities)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a.SeedKey, "practice#cities#"))
	assert.NotEqual(t, a.SeedKey, b.SeedKey)
	for _, q := range a.Questions {
		assert.Equal(t, KindCity, q.Kind)
	}

	_, err = svc.Practice(context.Background(), "rivers")
	assert.ErrorIs(t, err, ErrUnknownTopic)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewCache(client, time.Hour)
	ctx := context.Background()

	ids, err := cache.Get(ctx, "v1", "2025-01-01", 2)
	require.NoError(t, err)
	assert.Nil(t, ids)

	require.NoError(t, cache.Put(ctx, "v1", "2025-01-01", []string{"a", "b"}))
	require.NoError(t, cache.Put(ctx, "v1", "2025-01-01", []string{"c", "d"}))

	ids, err = cache.Get(ctx, "v1", "2025-01-01", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.Equal(t, time.Hour, mr.TTL("questionset:v1:2025-01-01:2"))
}

func TestPrewarmWorker(t *testing.T) {
	cache := newMemoryCache()
	svc := NewService(fixtureCatalog(10, 10, 10), cache, zerolog.Nop(), ServiceOptions{})
	w := NewPrewarmWorker(svc, zerolog.Nop(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.True(t, w.Enqueue("2025-01-02"))
	require.Eventually(t, func() bool { return cache.putCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
