package round

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/geotap/internal/daykey"
	"github.com/gokatarajesh/geotap/internal/metrics"
	"github.com/gokatarajesh/geotap/internal/question"
	"github.com/gokatarajesh/geotap/internal/remote"
	"github.com/gokatarajesh/geotap/internal/round/scoring"
	"github.com/gokatarajesh/geotap/internal/stats"
)

// ErrArchiveDate is returned for archive rounds on today or a future date.
var ErrArchiveDate = errors.New("round: archive date must be in the past")

// AlreadyPlayedError carries the stored summary of today's daily round.
type AlreadyPlayedError struct {
	Summary stats.Summary
}

func (e *AlreadyPlayedError) Error() string {
	return fmt.Sprintf("round: daily %s already played", e.Summary.Date)
}

func (e *AlreadyPlayedError) Is(target error) bool { return target == ErrAlreadyPlayed }

// SetSource builds the question sets of every mode.
type SetSource interface {
	Daily(ctx context.Context, date string) (question.Set, error)
	Archive(ctx context.Context, date string) (question.Set, error)
	Challenge(ctx context.Context, date string, level int, d question.Difficulty, count int) (question.Set, error)
	Practice(ctx context.Context, topic string) (question.Set, error)
}

// RemoteSync receives finished daily totals in the background.
type RemoteSync interface {
	PublishAsync(sub remote.Submission)
}

// Player identifies who starts a round.
type Player struct {
	DeviceID    string
	DisplayName string
}

const defaultSessionTTL = 30 * time.Minute

// ServiceOptions configures round timing.
type ServiceOptions struct {
	QuestionSeconds int
	// SessionTTL is how long a finished or abandoned session stays
	// addressable for snapshots, retry and next level.
	SessionTTL time.Duration
	Driver     DriverConfig
	Clock      clockwork.Clock
}

// Session is one running or finished round of a device.
type Session struct {
	ID       string
	Player   Player
	driver   *Driver
	level    *LevelRule
	finished chan struct{}
}

// Driver returns the session's round driver.
func (s *Session) Driver() *Driver { return s.driver }

// Snapshot returns the current round state.
func (s *Session) Snapshot() Snapshot { return s.driver.Machine().Snapshot() }

// Level returns the challenge rule of the session, if any.
func (s *Session) Level() (LevelRule, bool) {
	if s.level == nil {
		return LevelRule{}, false
	}
	return *s.level, true
}

// Done is closed once the round's result has been persisted. It stays
// open for abandoned rounds.
func (s *Session) Done() <-chan struct{} { return s.finished }

// Service starts rounds and persists their outcomes. A device has at most
// one session; starting another abandons the previous one.
type Service struct {
	sets    SetSource
	ladder  *Ladder
	engine  *scoring.Engine
	stats   *stats.Directory
	days    *daykey.Clock
	remote  RemoteSync
	metrics *metrics.Metrics
	sink    func(Event)
	clock   clockwork.Clock
	opts    ServiceOptions
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	byDevice map[string]string
}

// NewService wires the round service. publisher, m and sink may be nil.
func NewService(
	sets SetSource,
	ladder *Ladder,
	engine *scoring.Engine,
	dir *stats.Directory,
	publisher RemoteSync,
	m *metrics.Metrics,
	sink func(Event),
	opts ServiceOptions,
	logger zerolog.Logger,
) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if sink == nil {
		sink = func(Event) {}
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	return &Service{
		sets:     sets,
		ladder:   ladder,
		engine:   engine,
		stats:    dir,
		days:     dir.Clock(),
		remote:   publisher,
		metrics:  m,
		sink:     sink,
		clock:    clock,
		opts:     opts,
		logger:   logger.With().Str("component", "round_service").Logger(),
		sessions: make(map[string]*Session),
		byDevice: make(map[string]string),
	}
}

// Ladder returns the loaded challenge ladder.
func (s *Service) Ladder() *Ladder { return s.ladder }

// StartDaily starts today's shared round. A device that already finished
// today's round gets an *AlreadyPlayedError with the stored summary.
func (s *Service) StartDaily(ctx context.Context, p Player) (*Session, error) {
	date := s.days.Today()
	agg := s.stats.Open(ctx, p.DeviceID)
	if agg.HasPlayed(ctx, date) {
		sum, ok := agg.LoadSummary(ctx, date)
		if !ok {
			best, _ := agg.BestFor(ctx, date)
			sum = stats.Summary{Date: date, TotalKm: best, Items: []stats.SummaryItem{}}
		}
		return nil, &AlreadyPlayedError{Summary: sum}
	}

	set, err := s.sets.Daily(ctx, date)
	if err != nil {
		return nil, err
	}
	return s.start(p, ModeDaily, date, set, nil)
}

// StartPractice starts a fresh, non-scoring round for a topic.
func (s *Service) StartPractice(ctx context.Context, p Player, topic string) (*Session, error) {
	set, err := s.sets.Practice(ctx, topic)
	if err != nil {
		return nil, err
	}
	return s.start(p, ModePractice, s.days.Today(), set, nil)
}

// StartArchive replays a past date's daily set without scoring.
func (s *Service) StartArchive(ctx context.Context, p Player, date string) (*Session, error) {
	today := s.days.Today()
	n, err := daykey.DaysBetween(date, today)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, ErrArchiveDate
	}
	set, err := s.sets.Archive(ctx, date)
	if err != nil {
		return nil, err
	}
	return s.start(p, ModeArchive, date, set, nil)
}

// StartChallenge starts a challenge level.
func (s *Service) StartChallenge(ctx context.Context, p Player, level int) (*Session, error) {
	rule, ok := s.ladder.Level(level)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoChallenge, level)
	}
	date := s.days.Today()
	set, err := s.sets.Challenge(ctx, date, rule.ID, rule.Difficulty, rule.NumQuestions)
	if err != nil {
		return nil, err
	}
	return s.start(p, ModeChallenge, date, set, &rule)
}

// RetryLevel restarts the level of a finished challenge session.
func (s *Service) RetryLevel(ctx context.Context, sessionID string) (*Session, error) {
	prev, rule, err := s.challengeSession(sessionID)
	if err != nil {
		return nil, err
	}
	return s.StartChallenge(ctx, prev.Player, rule.ID)
}

// NextLevel starts the level after a passed challenge session.
func (s *Service) NextLevel(ctx context.Context, sessionID string) (*Session, error) {
	prev, rule, err := s.challengeSession(sessionID)
	if err != nil {
		return nil, err
	}
	if prev.Snapshot().Phase != PhasePassed {
		return nil, ErrNotAccepting
	}
	next, ok := s.ladder.Next(rule.ID)
	if !ok {
		return nil, fmt.Errorf("%w: after %d", ErrNoChallenge, rule.ID)
	}
	return s.StartChallenge(ctx, prev.Player, next.ID)
}

// Session looks up a session by id.
func (s *Service) Session(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Abandon ends a session without a result.
func (s *Service) Abandon(id string) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}
	s.abandon(sess)
	return nil
}

// Shutdown abandons every running session.
func (s *Service) Shutdown() {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()

	for _, sess := range all {
		s.abandon(sess)
	}
}

func (s *Service) challengeSession(id string) (*Session, LevelRule, error) {
	prev, err := s.Session(id)
	if err != nil {
		return nil, LevelRule{}, err
	}
	rule, ok := prev.Level()
	if !ok {
		return nil, LevelRule{}, ErrNoChallenge
	}
	if !prev.Snapshot().Phase.Terminal() {
		return nil, LevelRule{}, ErrNotAccepting
	}
	return prev, rule, nil
}

func (s *Service) start(p Player, mode Mode, date string, set question.Set, rule *LevelRule) (*Session, error) {
	if p.DeviceID == "" {
		return nil, errors.New("round: device id required")
	}
	if !set.Ready() {
		return nil, ErrNotReady
	}

	sess := &Session{
		ID:       uuid.NewString(),
		Player:   p,
		level:    rule,
		finished: make(chan struct{}),
	}
	cfg := MachineConfig{
		SessionID:       sess.ID,
		Mode:            mode,
		Date:            date,
		Set:             set,
		QuestionSeconds: s.opts.QuestionSeconds,
		Now:             s.clock.Now,
	}
	if rule != nil {
		cfg.Challenge = &Challenge{Level: rule.ID, TargetKm: rule.AdvanceMaxKm}
	}
	m := NewMachine(cfg, s.engine, s.sink)
	sess.driver = NewDriver(m, s.clock, s.opts.Driver, s.logger, func(res RoundResult) {
		s.finish(sess, set, res)
	})

	s.mu.Lock()
	var prev *Session
	if prevID, ok := s.byDevice[p.DeviceID]; ok {
		prev = s.sessions[prevID]
		delete(s.sessions, prevID)
	}
	s.sessions[sess.ID] = sess
	s.byDevice[p.DeviceID] = sess.ID
	s.mu.Unlock()

	if prev != nil {
		s.abandon(prev)
	}

	if err := sess.driver.Start(); err != nil {
		s.mu.Lock()
		delete(s.sessions, sess.ID)
		delete(s.byDevice, p.DeviceID)
		s.mu.Unlock()
		return nil, err
	}
	s.metrics.RoundStarted()
	s.logger.Info().
		Str("session", sess.ID).
		Str("device", p.DeviceID).
		Str("mode", string(mode)).
		Str("date", date).
		Int("questions", len(set.Questions)).
		Msg("round started")
	return sess, nil
}

func (s *Service) abandon(sess *Session) {
	if !sess.driver.Abandon() {
		return
	}
	res := sess.driver.Machine().Result()
	s.countAnswers(res)
	s.metrics.RoundEnded(string(res.Mode), string(PhaseAbandoned))
	s.logger.Info().Str("session", sess.ID).Msg("round abandoned")
	s.expire(sess)
}

// expire drops sess from the session tables once SessionTTL has passed. A
// device that has since started another round keeps its newer mapping.
func (s *Service) expire(sess *Session) {
	s.clock.AfterFunc(s.opts.SessionTTL, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.sessions[sess.ID] == sess {
			delete(s.sessions, sess.ID)
		}
		if s.byDevice[sess.Player.DeviceID] == sess.ID {
			delete(s.byDevice, sess.Player.DeviceID)
		}
	})
}

// finish persists a terminal round. Persistence failures are swallowed by
// the aggregator so the player always sees their result.
func (s *Service) finish(sess *Session, set question.Set, res RoundResult) {
	s.expire(sess)
	defer close(sess.finished)

	ctx := context.Background()
	agg := s.stats.For(sess.Player.DeviceID)

	s.countAnswers(res)
	s.metrics.RoundEnded(string(res.Mode), string(res.Phase))

	for i, ans := range res.Answers {
		at := stats.Attempt{
			TS:     res.EndedAt.UnixMilli(),
			Mode:   string(res.Mode),
			MetaID: ans.QuestionID,
		}
		if i < len(set.Questions) {
			q := set.Questions[i]
			at.Topic = q.Topic
			at.Kind = string(q.Kind)
			at.Region = q.Region
			if q.IsPolygon() {
				inside := ans.Inside
				at.WasCorrect = &inside
			}
		}
		km := ans.DistanceKm
		at.CorrectKm = &km
		agg.RecordAttempt(ctx, at)
	}

	switch res.Mode {
	case ModeDaily:
		s.finishDaily(ctx, sess, agg, res)
	case ModeChallenge:
		if res.Passed {
			n := agg.IncrementChallengeLevelCompletion(ctx, res.Level)
			s.logger.Info().Str("session", sess.ID).Int("level", res.Level).Int("completions", n).Msg("challenge level passed")
		}
	}

	s.logger.Info().
		Str("session", sess.ID).
		Str("mode", string(res.Mode)).
		Str("phase", string(res.Phase)).
		Int("total_km", res.TotalKm).
		Msg("round finished")
}

func (s *Service) finishDaily(ctx context.Context, sess *Session, agg *stats.Aggregator, res RoundResult) {
	best := agg.RecordDailyResult(ctx, res.Date, res.TotalKm)

	items := make([]stats.SummaryItem, 0, len(res.Answers))
	for _, ans := range res.Answers {
		items = append(items, stats.SummaryItem{ID: ans.QuestionID, Prompt: ans.Prompt, Km: ans.DistanceKm})
	}
	agg.SaveSummary(ctx, res.Date, res.TotalKm, items)
	agg.AddLocalResult(ctx, res.Date, sess.Player.DeviceID, res.TotalKm)

	if res.Date == s.days.Today() {
		if _, err := agg.Streak().UpdateStreakFor(ctx, res.Date); err != nil {
			s.logger.Warn().Err(err).Str("session", sess.ID).Msg("streak update failed")
		}
	}

	if s.remote != nil {
		s.remote.PublishAsync(remote.Submission{
			DeviceID:    sess.Player.DeviceID,
			DisplayName: sess.Player.DisplayName,
			Date:        res.Date,
			TotalKm:     best,
			At:          res.EndedAt,
		})
	}
}

func (s *Service) countAnswers(res RoundResult) {
	for _, ans := range res.Answers {
		s.metrics.AnswerScored(string(res.Mode), string(ans.Source), ans.DistanceKm)
	}
}
