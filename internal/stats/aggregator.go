// Package stats owns the durable per-device score records: best result per
// day, the local per-day leaderboard, daily summaries, challenge counters,
// the attempt log and the play streak.
package stats

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/geotap/internal/daykey"
	"github.com/gokatarajesh/geotap/internal/store"
)

const (
	keyDailyResults    = "daily_results_v1"
	keyMigrated        = "daily_results_v1:migrated"
	keyChallengeCounts = "challenge.counts.v1"
	keyAttempts        = "attempts_v1"
	prefixLeaderboard  = "lb."
	prefixSummary      = "summary."

	defaultMaxAttempts = 5000
)

// DailyResult is the best total for one date.
type DailyResult struct {
	Date    string `json:"date"`
	TotalKm int    `json:"totalKm"`
}

// Stats summarises every recorded daily result.
type Stats struct {
	Plays      int `json:"plays"`
	AvgKm      int `json:"avgKm"`
	BestKm     int `json:"bestKm"`
	StreakDays int `json:"streakDays"`
}

// LocalEntry is one row of the per-day local leaderboard.
type LocalEntry struct {
	ID      string `json:"id"`
	RunID   string `json:"runId,omitempty"`
	TotalKm int    `json:"totalKm"`
	TS      int64  `json:"ts"`
}

// SummaryItem is one answered question of a stored daily summary.
type SummaryItem struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Km     int    `json:"km"`
}

// Summary is the stored outcome of a daily round, shown by the replay guard.
type Summary struct {
	Date    string        `json:"date"`
	TotalKm int           `json:"totalKm"`
	Items   []SummaryItem `json:"items"`
}

// Attempt is one answered question, kept for analytics.
type Attempt struct {
	TS         int64  `json:"ts"`
	Mode       string `json:"mode"`
	Topic      string `json:"topic,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Region     string `json:"region,omitempty"`
	CorrectKm  *int   `json:"correctKm,omitempty"`
	WasCorrect *bool  `json:"wasCorrect,omitempty"`
	MetaID     string `json:"metaId,omitempty"`
}

// Options tunes an Aggregator.
type Options struct {
	MaxAttempts int
	// OnFailure is called with the operation name whenever a store read or
	// write fails. Failures never surface as errors; a failed read skips the
	// write that would have followed it.
	OnFailure func(op string)
}

// Aggregator is the single writer of one device's score records. Every
// read-modify-write runs under one mutex so rapid repeated submissions
// cannot lose an update.
type Aggregator struct {
	store       store.Store
	clock       *daykey.Clock
	logger      zerolog.Logger
	maxAttempts int
	onFailure   func(op string)

	mu     sync.Mutex
	streak *StreakCalculator
}

// NewAggregator builds an aggregator over s.
func NewAggregator(s store.Store, clock *daykey.Clock, logger zerolog.Logger, opts Options) *Aggregator {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	onFailure := opts.OnFailure
	if onFailure == nil {
		onFailure = func(string) {}
	}
	a := &Aggregator{
		store:       s,
		clock:       clock,
		logger:      logger.With().Str("component", "stats").Logger(),
		maxAttempts: maxAttempts,
		onFailure:   onFailure,
	}
	a.streak = newStreakCalculator(s, a.logger, onFailure)
	return a
}

// Streak returns the device's streak calculator.
func (a *Aggregator) Streak() *StreakCalculator { return a.streak }

// RecordDailyResult stores min(existing, totalKm) for date and returns the
// resulting best. A stored best never increases. When the stored map cannot
// be read the write is skipped and totalKm is returned.
func (a *Aggregator) RecordDailyResult(ctx context.Context, date string, totalKm int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, err := a.loadResultsLocked(ctx)
	if err != nil {
		return totalKm
	}
	if prev, ok := m[date]; ok && prev <= totalKm {
		return prev
	}
	m[date] = totalKm
	a.save(ctx, "record_daily_result", keyDailyResults, m)
	return totalKm
}

// BestFor returns the stored best for date.
func (a *Aggregator) BestFor(ctx context.Context, date string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, _ := a.loadResultsLocked(ctx)
	km, ok := m[date]
	return km, ok
}

// AllResults returns every stored daily best, newest first.
func (a *Aggregator) AllResults(ctx context.Context) []DailyResult {
	a.mu.Lock()
	m, _ := a.loadResultsLocked(ctx)
	a.mu.Unlock()

	out := make([]DailyResult, 0, len(m))
	for date, km := range m {
		out = append(out, DailyResult{Date: date, TotalKm: km})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}

// RecentResults returns at most n results, newest first.
func (a *Aggregator) RecentResults(ctx context.Context, n int) []DailyResult {
	all := a.AllResults(ctx)
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// ComputeStats derives plays, average, best and streak from the stored
// daily bests. The streak counts consecutive dates ending today, or ending
// yesterday when today has not been played yet.
func (a *Aggregator) ComputeStats(ctx context.Context) Stats {
	all := a.AllResults(ctx)
	if len(all) == 0 {
		return Stats{}
	}

	best := math.MaxInt
	sum := 0
	played := make(map[string]struct{}, len(all))
	for _, r := range all {
		sum += r.TotalKm
		if r.TotalKm < best {
			best = r.TotalKm
		}
		played[r.Date] = struct{}{}
	}

	return Stats{
		Plays:      len(all),
		AvgKm:      int(math.Round(float64(sum) / float64(len(all)))),
		BestKm:     best,
		StreakDays: consecutiveEnding(played, a.clock.Today()),
	}
}

func consecutiveEnding(played map[string]struct{}, today string) int {
	day := today
	if _, ok := played[day]; !ok {
		prev, err := daykey.AddDays(today, -1)
		if err != nil {
			return 0
		}
		day = prev
	}
	n := 0
	for {
		if _, ok := played[day]; !ok {
			return n
		}
		n++
		prev, err := daykey.AddDays(day, -1)
		if err != nil {
			return n
		}
		day = prev
	}
}

// AddLocalResult records participantID's total on the local per-day
// leaderboard, keeping only their best run, and returns the sorted list.
func (a *Aggregator) AddLocalResult(ctx context.Context, date, participantID string, totalKm int) []LocalEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	list, err := a.loadLocalLocked(ctx, date)
	entry := LocalEntry{
		ID:      participantID,
		RunID:   uuid.NewString(),
		TotalKm: totalKm,
		TS:      a.clock.Now().UnixMilli(),
	}

	replaced := false
	changed := true
	for i := range list {
		if list[i].ID != participantID {
			continue
		}
		replaced = true
		if totalKm < list[i].TotalKm {
			list[i] = entry
		} else {
			changed = false
		}
		break
	}
	if !replaced {
		list = append(list, entry)
	}
	sortLocal(list)
	if err == nil && changed {
		a.save(ctx, "add_local_result", prefixLeaderboard+date, list)
	}
	return list
}

// LocalLeaderboard returns the local entries for date sorted by
// (totalKm, ts).
func (a *Aggregator) LocalLeaderboard(ctx context.Context, date string) []LocalEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	list, _ := a.loadLocalLocked(ctx, date)
	sortLocal(list)
	return list
}

func sortLocal(list []LocalEntry) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].TotalKm != list[j].TotalKm {
			return list[i].TotalKm < list[j].TotalKm
		}
		return list[i].TS < list[j].TS
	})
}

// SaveSummary stores the per-question breakdown of a daily round.
func (a *Aggregator) SaveSummary(ctx context.Context, date string, totalKm int, items []SummaryItem) {
	if items == nil {
		items = []SummaryItem{}
	}
	a.save(ctx, "save_summary", prefixSummary+date, Summary{Date: date, TotalKm: totalKm, Items: items})
}

// LoadSummary returns the stored summary for date.
func (a *Aggregator) LoadSummary(ctx context.Context, date string) (Summary, bool) {
	var s Summary
	if found, _ := a.load(ctx, "load_summary", prefixSummary+date, &s); !found {
		return Summary{}, false
	}
	s.Date = date
	if s.Items == nil {
		s.Items = []SummaryItem{}
	}
	return s, true
}

// ListSummaryDates returns every date with a stored summary, ascending.
func (a *Aggregator) ListSummaryDates(ctx context.Context) []string {
	keys, err := a.store.Keys(ctx, prefixSummary)
	if err != nil {
		a.fail("list_summaries", err)
		return nil
	}
	dates := make([]string, 0, len(keys))
	for _, k := range keys {
		dates = append(dates, strings.TrimPrefix(k, prefixSummary))
	}
	sort.Strings(dates)
	return dates
}

// HasPlayed reports whether a daily result or summary exists for date.
func (a *Aggregator) HasPlayed(ctx context.Context, date string) bool {
	if _, ok := a.BestFor(ctx, date); ok {
		return true
	}
	_, ok := a.LoadSummary(ctx, date)
	return ok
}

// IncrementChallengeLevelCompletion bumps the pass counter of level and
// returns the new count.
func (a *Aggregator) IncrementChallengeLevelCompletion(ctx context.Context, level int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := map[string]int{}
	_, err := a.load(ctx, "load_challenge_counts", keyChallengeCounts, &counts)
	if counts == nil {
		counts = map[string]int{}
	}
	key := strconv.Itoa(level)
	counts[key]++
	if err != nil {
		return counts[key]
	}
	a.save(ctx, "increment_challenge", keyChallengeCounts, counts)
	return counts[key]
}

// ChallengeCounts returns pass counters keyed by level id.
func (a *Aggregator) ChallengeCounts(ctx context.Context) map[int]int {
	raw := map[string]int{}
	_, _ = a.load(ctx, "load_challenge_counts", keyChallengeCounts, &raw)

	out := make(map[int]int, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out
}

// RecordAttempt appends to the attempt log, dropping the oldest entries
// beyond the cap.
func (a *Aggregator) RecordAttempt(ctx context.Context, at Attempt) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if at.TS == 0 {
		at.TS = a.clock.Now().UnixMilli()
	}
	var list []Attempt
	if _, err := a.load(ctx, "load_attempts", keyAttempts, &list); err != nil {
		return
	}
	list = append(list, at)
	if over := len(list) - a.maxAttempts; over > 0 {
		list = list[over:]
	}
	a.save(ctx, "record_attempt", keyAttempts, list)
}

// Attempts returns the attempt log, oldest first.
func (a *Aggregator) Attempts(ctx context.Context) []Attempt {
	var list []Attempt
	_, _ = a.load(ctx, "load_attempts", keyAttempts, &list)
	return list
}

// MigrateLegacy folds every legacy per-day leaderboard list and stored
// summary into the best-per-day map, taking the minimum per date. It is
// safe to run repeatedly and returns the number of dates scanned. Corrupt
// legacy values are skipped; any other read failure leaves the migration
// unflagged so the next run retries it.
func (a *Aggregator) MigrateLegacy(ctx context.Context) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys, err := a.store.Keys(ctx, prefixLeaderboard)
	if err != nil {
		a.fail("migrate_list", err)
		return 0
	}
	m, err := a.loadResultsLocked(ctx)
	if err != nil {
		return 0
	}
	complete := true
	read := func(key string, dst any) bool {
		found, err := a.load(ctx, "migrate_read", key, dst)
		if err != nil && !errors.Is(err, store.ErrCorrupt) {
			complete = false
		}
		return found
	}
	merge := func(date string, km int) {
		if prev, ok := m[date]; !ok || km < prev {
			m[date] = km
		}
	}

	for _, k := range keys {
		date := strings.TrimPrefix(k, prefixLeaderboard)
		if _, err := daykey.Parse(date); err != nil {
			continue
		}
		var list []LocalEntry
		if !read(k, &list) || len(list) == 0 {
			continue
		}
		best := math.MaxInt
		for _, e := range list {
			if e.TotalKm >= 0 && e.TotalKm < best {
				best = e.TotalKm
			}
		}
		if best != math.MaxInt {
			merge(date, best)
		}
	}

	summaryKeys, err := a.store.Keys(ctx, prefixSummary)
	if err != nil {
		a.fail("migrate_list", err)
		complete = false
	}
	for _, k := range summaryKeys {
		var s Summary
		if read(k, &s) && s.TotalKm >= 0 {
			merge(strings.TrimPrefix(k, prefixSummary), s.TotalKm)
		}
	}

	if a.save(ctx, "migrate_write", keyDailyResults, m) && complete {
		a.save(ctx, "migrate_flag", keyMigrated, a.clock.Now().UTC().Format(time.RFC3339))
	}
	return len(keys)
}

// Migrated reports whether MigrateLegacy has completed at least once.
func (a *Aggregator) Migrated(ctx context.Context) bool {
	_, err := a.store.Get(ctx, keyMigrated)
	return err == nil
}

// loadResultsLocked returns the best-per-day map. On error the map is empty
// and must not be written back.
func (a *Aggregator) loadResultsLocked(ctx context.Context) (map[string]int, error) {
	m := map[string]int{}
	_, err := a.load(ctx, "load_daily_results", keyDailyResults, &m)
	if err != nil || m == nil {
		m = map[string]int{}
	}
	return m, err
}

func (a *Aggregator) loadLocalLocked(ctx context.Context, date string) ([]LocalEntry, error) {
	var list []LocalEntry
	if _, err := a.load(ctx, "load_local_leaderboard", prefixLeaderboard+date, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// load decodes key into dst and reports whether the key exists. A missing
// key is not an error; a failed read or an undecodable value is logged,
// counted and returned so read-modify-write callers skip their write.
func (a *Aggregator) load(ctx context.Context, op, key string, dst any) (bool, error) {
	err := store.GetJSON(ctx, a.store, key, dst)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		a.fail(op, err)
		return false, err
	}
}

func (a *Aggregator) save(ctx context.Context, op, key string, v any) bool {
	if err := store.SetJSON(ctx, a.store, key, v); err != nil {
		a.fail(op, err)
		return false
	}
	return true
}

func (a *Aggregator) fail(op string, err error) {
	a.logger.Warn().Err(err).Str("op", op).Msg("score store operation failed")
	a.onFailure(op)
}
