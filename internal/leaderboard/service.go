package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	ws "github.com/gokatarajesh/geotap/pkg/http/ws"
)

// tsSpan separates the km component from the tie-break in a member's
// score, so ascending order is (totalKm, submittedAt). The tie-break counts
// seconds from the board date's UTC midnight and saturates after tsSpan.
const tsSpan = 1e7

// Entry represents a leaderboard record sent to clients.
type Entry struct {
	ParticipantID string
	DisplayName   string
	TotalKm       int
	SubmittedAt   time.Time
}

// SubmitRequest captures one daily total.
type SubmitRequest struct {
	Date          string
	ParticipantID string
	DisplayName   string
	TotalKm       int
	At            time.Time
}

// ServiceOptions configures leaderboard service behavior.
type ServiceOptions struct {
	TopN             int
	PubSubChannel    string
	EntryTTL         time.Duration
	RedisKeyPrefix   string
	SnapshotTopLimit int
	// Async publishes updates in a goroutine. Tests disable it.
	Async bool
}

// Service manages per-date leaderboards in Redis and emits updates over Pub/Sub.
type Service struct {
	redis          *redis.Client
	logger         zerolog.Logger
	topN           int
	pubsubChannel  string
	entryTTL       time.Duration
	prefix         string
	snapshotTopLim int
	async          bool
}

// NewService constructs a leaderboard service instance.
func NewService(redis *redis.Client, logger zerolog.Logger, opts ServiceOptions) *Service {
	topN := opts.TopN
	if topN <= 0 {
		topN = 50
	}
	channel := opts.PubSubChannel
	if channel == "" {
		channel = "lb:updates"
	}
	prefix := opts.RedisKeyPrefix
	if prefix == "" {
		prefix = "lb"
	}
	snapTop := opts.SnapshotTopLimit
	if snapTop <= 0 {
		snapTop = 100
	}

	return &Service{
		redis:          redis,
		logger:         logger.With().Str("component", "leaderboard").Logger(),
		topN:           topN,
		pubsubChannel:  channel,
		entryTTL:       opts.EntryTTL,
		prefix:         prefix,
		snapshotTopLim: snapTop,
		async:          opts.Async,
	}
}

// Channel returns the Pub/Sub channel updates are published on.
func (s *Service) Channel() string { return s.pubsubChannel }

// Submit records a participant's total for a date. Only an improvement
// replaces an existing entry; it reports whether the board changed.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (bool, error) {
	if req.ParticipantID == "" {
		return false, errors.New("leaderboard: participant id required")
	}
	if req.At.IsZero() {
		req.At = time.Now()
	}
	epoch, err := dateEpoch(req.Date)
	if err != nil {
		return false, err
	}
	zKey := s.leaderboardKey(req.Date)
	score := encodeScore(req.TotalKm, epoch, req.At)

	changed := false
	txf := func(tx *redis.Tx) error {
		prev, err := tx.ZScore(ctx, zKey, req.ParticipantID).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if km, _ := decodeScore(prev, epoch); km <= req.TotalKm {
				changed = false
				return nil
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, zKey, redis.Z{Score: score, Member: req.ParticipantID})
			if req.DisplayName != "" {
				pipe.HSet(ctx, s.namesKey(req.Date), req.ParticipantID, req.DisplayName)
			}
			if s.entryTTL > 0 {
				pipe.Expire(ctx, zKey, s.entryTTL)
				pipe.Expire(ctx, s.namesKey(req.Date), s.entryTTL)
			}
			return nil
		})
		if err == nil {
			changed = true
		}
		return err
	}

	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		err = s.redis.Watch(ctx, txf, zKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return false, fmt.Errorf("submit leaderboard %s: %w", req.Date, err)
	}

	if changed {
		if s.async {
			go s.publishUpdate(context.Background(), req.Date)
		} else {
			s.publishUpdate(ctx, req.Date)
		}
	}
	return changed, nil
}

// Top retrieves the best entries for a date, best first.
func (s *Service) Top(ctx context.Context, date string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > s.topN {
		limit = s.topN
	}

	epoch, err := dateEpoch(date)
	if err != nil {
		return nil, err
	}
	zKey := s.leaderboardKey(date)
	results, err := s.redis.ZRangeWithScores(ctx, zKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch leaderboard: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	members := make([]string, len(results))
	for i, z := range results {
		members[i] = z.Member.(string)
	}
	names, err := s.redis.HMGet(ctx, s.namesKey(date), members...).Result()
	if err != nil {
		s.logger.Warn().Err(err).Str("date", date).Msg("failed to read leaderboard names")
		names = nil
	}

	entries := make([]Entry, 0, len(results))
	for i, z := range results {
		km, at := decodeScore(z.Score, epoch)
		e := Entry{ParticipantID: members[i], TotalKm: km, SubmittedAt: at}
		if i < len(names) {
			if name, ok := names[i].(string); ok {
				e.DisplayName = name
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Rank returns the 1-based position of a participant on a date.
func (s *Service) Rank(ctx context.Context, date, participantID string) (int, bool, error) {
	rank, err := s.redis.ZRank(ctx, s.leaderboardKey(date), participantID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("rank leaderboard: %w", err)
	}
	return int(rank) + 1, true, nil
}

// SnapshotTop returns the configured snapshot size for persistence jobs.
func (s *Service) SnapshotTop(ctx context.Context, date string) ([]Entry, error) {
	return s.Top(ctx, date, s.snapshotTopLim)
}

func (s *Service) publishUpdate(ctx context.Context, date string) {
	entries, err := s.Top(ctx, date, 10)
	if err != nil {
		s.logger.Warn().Err(err).Str("date", date).Msg("failed to collect leaderboard update")
		return
	}
	if len(entries) == 0 {
		return
	}

	payload := ws.LeaderboardUpdatePayload{
		Date: date,
		Top:  toWSEntries(entries),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal leaderboard update")
		return
	}
	if err := s.redis.Publish(ctx, s.pubsubChannel, data).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish leaderboard update")
	}
}

func (s *Service) leaderboardKey(date string) string {
	return fmt.Sprintf("%s:%s", s.prefix, date)
}

func (s *Service) namesKey(date string) string {
	return fmt.Sprintf("%s:%s:names", s.prefix, date)
}

func dateEpoch(date string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("leaderboard: invalid date %q: %w", date, err)
	}
	return t, nil
}

func encodeScore(totalKm int, epoch, at time.Time) float64 {
	offset := at.Unix() - epoch.Unix()
	offset = max(0, min(offset, tsSpan-1))
	return float64(totalKm)*tsSpan + float64(offset)
}

func decodeScore(score float64, epoch time.Time) (int, time.Time) {
	km := math.Floor(score / tsSpan)
	offset := int64(score - km*tsSpan)
	return int(km), epoch.Add(time.Duration(offset) * time.Second).UTC()
}
