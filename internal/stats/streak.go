package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gokatarajesh/geotap/internal/daykey"
	"github.com/gokatarajesh/geotap/internal/store"
)

const keyStreak = "streak_v1"

// StreakState is the persisted consecutive-day counter.
type StreakState struct {
	LastPlayedDate string `json:"lastPlayedDate"`
	Count          int    `json:"count"`
}

// StreakCalculator is the only writer of StreakState.
type StreakCalculator struct {
	store     store.Store
	logger    zerolog.Logger
	onFailure func(op string)

	mu sync.Mutex
}

func newStreakCalculator(s store.Store, logger zerolog.Logger, onFailure func(string)) *StreakCalculator {
	return &StreakCalculator{store: s, logger: logger, onFailure: onFailure}
}

// UpdateStreakFor records a play on date and returns the streak. Replaying
// the last date is a no-op, the following date increments and anything else
// resets to one. A date before the last played date leaves the state alone.
// If the stored state cannot be read nothing is written and the error is
// returned.
func (c *StreakCalculator) UpdateStreakFor(ctx context.Context, date string) (int, error) {
	if _, err := daykey.Parse(date); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.loadLocked(ctx)
	if err != nil {
		return 0, fmt.Errorf("load streak: %w", err)
	}
	next := StreakState{LastPlayedDate: date, Count: 1}
	if st.LastPlayedDate != "" {
		gap, err := daykey.DaysBetween(st.LastPlayedDate, date)
		switch {
		case err != nil:
			c.logger.Warn().Err(err).Str("stored", st.LastPlayedDate).Msg("corrupt streak date, resetting")
		case gap == 0:
			return st.Count, nil
		case gap < 0:
			return st.Count, nil
		case gap == 1:
			next.Count = st.Count + 1
		}
	}

	if err := store.SetJSON(ctx, c.store, keyStreak, next); err != nil {
		c.logger.Warn().Err(err).Msg("persist streak failed")
		c.onFailure("update_streak")
	}
	return next.Count, nil
}

// State returns the stored streak state.
func (c *StreakCalculator) State(ctx context.Context) StreakState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, _ := c.loadLocked(ctx)
	return st
}

// loadLocked reads the stored state. A missing or undecodable value reads
// as a fresh state; any other failure is returned.
func (c *StreakCalculator) loadLocked(ctx context.Context) (StreakState, error) {
	var st StreakState
	err := store.GetJSON(ctx, c.store, keyStreak, &st)
	switch {
	case err == nil, errors.Is(err, store.ErrNotFound):
		return st, nil
	case errors.Is(err, store.ErrCorrupt):
		c.logger.Warn().Err(err).Msg("corrupt streak state, resetting")
		return StreakState{}, nil
	default:
		c.logger.Warn().Err(err).Msg("load streak failed")
		c.onFailure("load_streak")
		return StreakState{}, err
	}
}
