package app

import (
	"fmt"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/geotap/internal/daykey"
)

type prewarmQueue interface {
	Enqueue(date string) bool
}

// RolloverScheduler prewarms daily sets at every day boundary.
type RolloverScheduler struct {
	sched   gocron.Scheduler
	days    *daykey.Clock
	prewarm prewarmQueue
	logger  zerolog.Logger
}

// NewRolloverScheduler registers one daily job at the cutoff hour of the
// day clock's timezone. The job also runs once at start.
func NewRolloverScheduler(days *daykey.Clock, clock clockwork.Clock, prewarm prewarmQueue, logger zerolog.Logger) (*RolloverScheduler, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	sched, err := gocron.NewScheduler(
		gocron.WithLocation(days.Location()),
		gocron.WithClock(clock),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	r := &RolloverScheduler{
		sched:   sched,
		days:    days,
		prewarm: prewarm,
		logger:  logger.With().Str("component", "rollover_scheduler").Logger(),
	}

	_, err = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(days.CutoffHour()), 0, 5))),
		gocron.NewTask(r.rollover),
		gocron.WithName("daily-rollover"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("register rollover job: %w", err)
	}
	return r, nil
}

// Start begins running scheduled jobs.
func (r *RolloverScheduler) Start() { r.sched.Start() }

// Shutdown stops the scheduler and waits for running jobs.
func (r *RolloverScheduler) Shutdown() error { return r.sched.Shutdown() }

// rollover queues today's set and the next one.
func (r *RolloverScheduler) rollover() {
	today := r.days.Today()
	dates := []string{today}
	if next, err := daykey.AddDays(today, 1); err == nil {
		dates = append(dates, next)
	}
	for _, date := range dates {
		if !r.prewarm.Enqueue(date) {
			r.logger.Warn().Str("date", date).Msg("prewarm not queued")
		}
	}
	r.logger.Info().Str("today", today).Msg("day rollover")
}
