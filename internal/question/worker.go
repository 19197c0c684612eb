package question

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PrewarmWorker builds upcoming daily sets ahead of the rollover so the
// first players of the day hit the cache.
type PrewarmWorker struct {
	service *Service
	queue   chan string
	logger  zerolog.Logger
	timeout time.Duration
}

func NewPrewarmWorker(service *Service, logger zerolog.Logger, timeout time.Duration) *PrewarmWorker {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &PrewarmWorker{
		service: service,
		queue:   make(chan string, 8),
		logger:  logger.With().Str("component", "question_prewarm").Logger(),
		timeout: timeout,
	}
}

// Enqueue schedules a date for prewarming. Returns false when the queue is full.
func (w *PrewarmWorker) Enqueue(date string) bool {
	select {
	case w.queue <- date:
		return true
	default:
		w.logger.Warn().Str("date", date).Msg("prewarm queue full, dropping")
		return false
	}
}

// Run blocks until the context is cancelled.
func (w *PrewarmWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("prewarm worker stopping")
			return ctx.Err()
		case date := <-w.queue:
			w.handle(ctx, date)
		}
	}
}

func (w *PrewarmWorker) handle(ctx context.Context, date string) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.service.Prewarm(ctx, date); err != nil {
		w.logger.Warn().Err(err).Str("date", date).Msg("prewarm failed")
		return
	}
	w.logger.Info().Str("date", date).Msg("daily set prewarmed")
}
