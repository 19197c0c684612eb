// Package remote pushes finished daily totals to shared services. Every
// target is best-effort: the local score record stays authoritative.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gokatarajesh/geotap/internal/db/repository"
	"github.com/gokatarajesh/geotap/internal/leaderboard"
)

// Submission is one device's finished daily round.
type Submission struct {
	DeviceID    string
	DisplayName string
	Date        string
	TotalKm     int
	At          time.Time
}

// Publisher delivers a submission to one remote target.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, sub Submission) error
}

type resultsRepo interface {
	UpsertDaily(ctx context.Context, deviceID, date string, totalKm int) error
	GetDaily(ctx context.Context, deviceID, date string) (int, error)
	FetchRange(ctx context.Context, deviceID, from, to string) (map[string]int, error)
	Friends(ctx context.Context, deviceID string) ([]string, error)
	UpsertH2H(ctx context.Context, h repository.H2H) error
}

// PGPublisher records public daily results and head-to-head rows in Postgres.
type PGPublisher struct {
	repo resultsRepo
}

func NewPGPublisher(repo resultsRepo) *PGPublisher {
	return &PGPublisher{repo: repo}
}

func (p *PGPublisher) Name() string { return "postgres" }

// Publish upserts the public result, then one head-to-head row for every
// friend who played the same date.
func (p *PGPublisher) Publish(ctx context.Context, sub Submission) error {
	if err := p.repo.UpsertDaily(ctx, sub.DeviceID, sub.Date, sub.TotalKm); err != nil {
		return fmt.Errorf("upsert daily result: %w", err)
	}

	// Read back the stored best; the upsert keeps the lower total.
	mine, err := p.repo.GetDaily(ctx, sub.DeviceID, sub.Date)
	if err != nil {
		mine = sub.TotalKm
	}

	friends, err := p.repo.Friends(ctx, sub.DeviceID)
	if err != nil {
		return fmt.Errorf("list friends: %w", err)
	}

	var errs []error
	for _, friend := range friends {
		theirs, err := p.repo.GetDaily(ctx, friend, sub.Date)
		if errors.Is(err, repository.ErrNoResult) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("friend %s: %w", friend, err))
			continue
		}
		h := repository.CanonicalH2H(sub.Date, sub.DeviceID, mine, friend, theirs)
		if err := p.repo.UpsertH2H(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("h2h %s/%s: %w", h.A, h.B, err))
		}
	}
	return errors.Join(errs...)
}

// History returns date -> totalKm for an inclusive range.
func (p *PGPublisher) History(ctx context.Context, deviceID, from, to string) (map[string]int, error) {
	return p.repo.FetchRange(ctx, deviceID, from, to)
}

type leaderboardSubmitter interface {
	Submit(ctx context.Context, req leaderboard.SubmitRequest) (bool, error)
}

// LeaderboardPublisher pushes totals to the shared Redis leaderboard.
type LeaderboardPublisher struct {
	board leaderboardSubmitter
}

func NewLeaderboardPublisher(board leaderboardSubmitter) *LeaderboardPublisher {
	return &LeaderboardPublisher{board: board}
}

func (p *LeaderboardPublisher) Name() string { return "leaderboard" }

func (p *LeaderboardPublisher) Publish(ctx context.Context, sub Submission) error {
	_, err := p.board.Submit(ctx, leaderboard.SubmitRequest{
		Date:          sub.Date,
		ParticipantID: sub.DeviceID,
		DisplayName:   sub.DisplayName,
		TotalKm:       sub.TotalKm,
		At:            sub.At,
	})
	return err
}

// FailureCounter records a failed publish per target.
type FailureCounter interface {
	RemoteSyncFailure(target string)
}

// Multi fans a submission out to every publisher. Failures are logged and
// counted, never returned.
type Multi struct {
	publishers []Publisher
	failures   FailureCounter
	timeout    time.Duration
	logger     zerolog.Logger

	wg sync.WaitGroup
}

// NewMulti builds a fan-out over publishers. failures may be nil.
func NewMulti(publishers []Publisher, failures FailureCounter, timeout time.Duration, logger zerolog.Logger) *Multi {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Multi{
		publishers: publishers,
		failures:   failures,
		timeout:    timeout,
		logger:     logger.With().Str("component", "remote_sync").Logger(),
	}
}

// Publish delivers sub to every target concurrently and reports how many
// targets accepted it.
func (m *Multi) Publish(ctx context.Context, sub Submission) int {
	if m == nil || len(m.publishers) == 0 {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var (
		mu sync.Mutex
		ok int
	)
	var g errgroup.Group
	for _, p := range m.publishers {
		g.Go(func() error {
			if err := p.Publish(ctx, sub); err != nil {
				m.logger.Warn().Err(err).
					Str("target", p.Name()).
					Str("device", sub.DeviceID).
					Str("date", sub.Date).
					Msg("remote sync failed")
				if m.failures != nil {
					m.failures.RemoteSyncFailure(p.Name())
				}
				return nil
			}
			mu.Lock()
			ok++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return ok
}

// PublishAsync runs Publish in the background, detached from the caller's
// context.
func (m *Multi) PublishAsync(sub Submission) {
	if m == nil || len(m.publishers) == 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Publish(context.Background(), sub)
	}()
}

// Wait blocks until every PublishAsync call has finished.
func (m *Multi) Wait() {
	if m == nil {
		return
	}
	m.wg.Wait()
}
