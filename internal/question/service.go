package question

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gokatarajesh/geotap/internal/daykey"
)

// ServiceOptions tunes set sizes and the practice seed clock.
type ServiceOptions struct {
	DailyCount    int
	PracticeCount int
	Now           func() time.Time
}

// Service builds the sets for each play mode over one catalog.
type Service struct {
	catalog *Catalog
	cache   SetCache
	logger  zerolog.Logger

	dailyCount    int
	practiceCount int
	now           func() time.Time
}

// NewService constructs a set service. cache may be nil.
func NewService(catalog *Catalog, cache SetCache, logger zerolog.Logger, opts ServiceOptions) *Service {
	daily := opts.DailyCount
	if daily <= 0 {
		daily = 10
	}
	practice := opts.PracticeCount
	if practice <= 0 {
		practice = 10
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		catalog:       catalog,
		cache:         cache,
		logger:        logger.With().Str("component", "question_service").Logger(),
		dailyCount:    daily,
		practiceCount: practice,
		now:           now,
	}
}

// Catalog exposes the loaded catalog.
func (s *Service) Catalog() *Catalog { return s.catalog }

// DailySeed is the seed key shared by every player for a date.
func DailySeed(date string) string { return date }

// ChallengeSeed is the seed key for one challenge level on a date.
func ChallengeSeed(date string, level int, d Difficulty) string {
	return fmt.Sprintf("%s#L%d#%s", date, level, d)
}

// PracticeSeed includes wall-clock nanoseconds so repeated practice rounds
// differ. This is the one intentionally non-reproducible seed.
func PracticeSeed(topic string, at time.Time) string {
	return fmt.Sprintf("practice#%s#%d", topic, at.UnixNano())
}

// Daily returns the stratified set for a date.
func (s *Service) Daily(ctx context.Context, date string) (Set, error) {
	if _, err := daykey.Parse(date); err != nil {
		return Set{}, err
	}
	return s.cached(ctx, BuildRequest{SeedKey: DailySeed(date), Count: s.dailyCount}), nil
}

// Archive replays a past date's daily set.
func (s *Service) Archive(ctx context.Context, date string) (Set, error) {
	return s.Daily(ctx, date)
}

// Challenge returns the set for one level, drawn from its difficulty first.
func (s *Service) Challenge(ctx context.Context, date string, level int, d Difficulty, count int) (Set, error) {
	if _, err := daykey.Parse(date); err != nil {
		return Set{}, err
	}
	if count <= 0 {
		return Set{}, fmt.Errorf("challenge level %d: question count must be positive", level)
	}
	return s.cached(ctx, BuildRequest{
		SeedKey: ChallengeSeed(date, level, d),
		Count:   count,
		Strata:  []Stratum{{Difficulty: d, Count: count}},
	}), nil
}

// Practice returns a fresh set for a topic. Never cached.
func (s *Service) Practice(_ context.Context, topic string) (Set, error) {
	pred, err := ByTopic(topic)
	if err != nil {
		return Set{}, err
	}
	return Build(s.catalog, BuildRequest{
		SeedKey: PracticeSeed(topic, s.now()),
		Count:   s.practiceCount,
		Filter:  pred,
		Strata:  []Stratum{{Count: s.practiceCount}},
	}), nil
}

// Prewarm builds and caches the daily set for a date.
func (s *Service) Prewarm(ctx context.Context, date string) error {
	set, err := s.Daily(ctx, date)
	if err != nil {
		return err
	}
	if !set.Ready() {
		return fmt.Errorf("prewarm %s: catalog is empty", date)
	}
	return nil
}

func (s *Service) cached(ctx context.Context, req BuildRequest) Set {
	version := s.catalog.Version()
	if s.cache != nil {
		ids, err := s.cache.Get(ctx, version, req.SeedKey, req.Count)
		if err != nil {
			s.logger.Warn().Err(err).Str("seed", req.SeedKey).Msg("set cache read failed")
		} else if set, ok := s.resolve(req.SeedKey, ids); ok {
			return set
		}
	}

	set := Build(s.catalog, req)
	if s.cache != nil && set.Ready() {
		if err := s.cache.Put(ctx, version, req.SeedKey, set.IDs()); err != nil {
			s.logger.Warn().Err(err).Str("seed", req.SeedKey).Msg("set cache write failed")
		}
	}
	return set
}

func (s *Service) resolve(seed string, ids []string) (Set, bool) {
	if len(ids) == 0 {
		return Set{}, false
	}
	qs := make([]Question, 0, len(ids))
	for _, id := range ids {
		q, ok := s.catalog.Lookup(id)
		if !ok {
			return Set{}, false
		}
		qs = append(qs, q)
	}
	return Set{SeedKey: seed, Questions: qs}, true
}
