package round

import (
	"fmt"
	"sync"
	"time"

	"github.com/gokatarajesh/geotap/internal/question"
	"github.com/gokatarajesh/geotap/internal/round/scoring"
)

// MachineConfig describes one play-through.
type MachineConfig struct {
	SessionID string
	Mode      Mode
	Date      string
	Set       question.Set
	// QuestionSeconds is the per-question countdown. Defaults to 20.
	QuestionSeconds int
	// Challenge is nil outside challenge mode.
	Challenge *Challenge
	Now       func() time.Time
}

// Snapshot is a read-only copy of machine state.
type Snapshot struct {
	SessionID string             `json:"sessionId"`
	Mode      Mode               `json:"mode"`
	Phase     Phase              `json:"phase"`
	Index     int                `json:"index"`
	Total     int                `json:"total"`
	Remaining int                `json:"remaining"`
	TotalKm   int                `json:"totalKm"`
	HasGuess  bool               `json:"hasGuess"`
	Advancing bool               `json:"advancing"`
	Answers   []ScoredAnswer     `json:"answers"`
	Question  *question.Question `json:"-"`
	Level     int                `json:"level,omitempty"`
	TargetKm  int                `json:"targetKm,omitempty"`
}

// Machine is the round state machine. All methods are safe for concurrent
// use; the timer and user input may race and only the first submission for
// a question is applied.
type Machine struct {
	cfg    MachineConfig
	engine *scoring.Engine
	sink   func(Event)

	mu        sync.Mutex
	phase     Phase
	index     int
	remaining int
	advancing bool
	guess     *scoring.LatLng
	polygon   *scoring.PolygonScore
	answers   []ScoredAnswer
	totalKm   int
	failed    bool
	endedAt   time.Time
}

// NewMachine returns an idle machine. sink may be nil.
func NewMachine(cfg MachineConfig, engine *scoring.Engine, sink func(Event)) *Machine {
	if cfg.QuestionSeconds <= 0 {
		cfg.QuestionSeconds = 20
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if sink == nil {
		sink = func(Event) {}
	}
	return &Machine{
		cfg:    cfg,
		engine: engine,
		sink:   sink,
		phase:  PhaseIdle,
	}
}

// SessionID returns the configured session id.
func (m *Machine) SessionID() string { return m.cfg.SessionID }

// Mode returns the round mode.
func (m *Machine) Mode() Mode { return m.cfg.Mode }

// Start enters Active(0). An empty set is not ready.
func (m *Machine) Start() error {
	m.mu.Lock()
	if m.phase != PhaseIdle {
		m.mu.Unlock()
		return ErrNotAccepting
	}
	if !m.cfg.Set.Ready() {
		m.mu.Unlock()
		return ErrNotReady
	}
	ev := m.enterActiveLocked(0)
	m.mu.Unlock()

	m.sink(ev)
	return nil
}

// PlaceGuess records a tap. For polygon questions the region distance is
// computed immediately so that confirm has a result to submit.
func (m *Machine) PlaceGuess(lat, lng float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.acceptingLocked() {
		return ErrNotAccepting
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: (%f, %f) out of range", ErrInvalidGuess, lat, lng)
	}
	g := scoring.LatLng{Lat: lat, Lng: lng}
	m.guess = &g

	if t, ok := m.currentLocked().Target.(question.PolygonTarget); ok {
		ps := m.engine.ScorePolygon(g, t)
		m.polygon = &ps
	}
	return nil
}

// PlacePolygonResult records a boundary distance computed by the caller.
func (m *Machine) PlacePolygonResult(km float64, inside bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.acceptingLocked() {
		return ErrNotAccepting
	}
	if !m.currentLocked().IsPolygon() {
		return fmt.Errorf("%w: question %s is not a region question", ErrInvalidGuess, m.currentLocked().ID)
	}
	ps := scoring.PolygonScore{Km: m.engine.Clamp(km), Inside: inside}
	if inside {
		ps.Km = 0
	}
	m.polygon = &ps
	return nil
}

// Confirm submits the current guess. Without a guess it returns a
// GuessRequiredError and the state is unchanged.
func (m *Machine) Confirm() (ScoredAnswer, error) {
	m.mu.Lock()
	if !m.acceptingLocked() {
		m.mu.Unlock()
		return ScoredAnswer{}, ErrNotAccepting
	}
	q := m.currentLocked()
	if (q.IsPolygon() && m.polygon == nil) || (!q.IsPolygon() && m.guess == nil) {
		prompt := PromptPlacePin
		if q.IsPolygon() {
			prompt = PromptPlaceRegion
		}
		ev := m.eventLocked(EventGuessRejected)
		ev.Prompt = prompt
		m.mu.Unlock()

		m.sink(ev)
		return ScoredAnswer{}, &GuessRequiredError{Prompt: prompt}
	}
	ans, ev := m.submitLocked(SourceConfirm)
	m.mu.Unlock()

	m.sink(ev)
	return ans, nil
}

// Tick advances the countdown by one second. When it reaches zero the
// current guess, if any, is submitted; otherwise the question scores the
// worst case. It reports whether a reveal started.
func (m *Machine) Tick() bool {
	m.mu.Lock()
	if !m.acceptingLocked() {
		m.mu.Unlock()
		return false
	}
	if m.remaining > 0 {
		m.remaining--
	}
	if m.remaining > 0 {
		ev := m.eventLocked(EventTick)
		m.mu.Unlock()
		m.sink(ev)
		return false
	}
	_, ev := m.submitLocked(SourceTimeout)
	m.mu.Unlock()

	m.sink(ev)
	return true
}

// FailPending reports whether the current reveal ends a challenge round.
func (m *Machine) FailPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase == PhaseRevealing && m.failed
}

// FinishReveal leaves Revealing for the next question or a terminal phase.
func (m *Machine) FinishReveal() (Phase, error) {
	m.mu.Lock()
	if m.phase != PhaseRevealing {
		p := m.phase
		m.mu.Unlock()
		return p, ErrNotAccepting
	}

	var ev Event
	switch {
	case m.failed:
		ev = m.endLocked(PhaseFailed, EventRoundFailed)
	case m.index+1 < len(m.cfg.Set.Questions):
		ev = m.enterActiveLocked(m.index + 1)
	case m.cfg.Challenge != nil:
		ev = m.endLocked(PhasePassed, EventRoundPassed)
	default:
		ev = m.endLocked(PhaseComplete, EventRoundComplete)
	}
	p := m.phase
	m.mu.Unlock()

	m.sink(ev)
	return p, nil
}

// Abandon ends the round without a result. It is a no-op once terminal.
func (m *Machine) Abandon() bool {
	m.mu.Lock()
	if m.phase.Terminal() {
		m.mu.Unlock()
		return false
	}
	ev := m.endLocked(PhaseAbandoned, EventRoundAbandoned)
	m.mu.Unlock()

	m.sink(ev)
	return true
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Snapshot copies the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		SessionID: m.cfg.SessionID,
		Mode:      m.cfg.Mode,
		Phase:     m.phase,
		Index:     m.index,
		Total:     len(m.cfg.Set.Questions),
		Remaining: m.remaining,
		TotalKm:   m.totalKm,
		HasGuess:  m.guess != nil || m.polygon != nil,
		Advancing: m.advancing,
		Answers:   append([]ScoredAnswer(nil), m.answers...),
	}
	if m.phase == PhaseActive || m.phase == PhaseRevealing {
		q := m.currentLocked()
		s.Question = &q
	}
	if c := m.cfg.Challenge; c != nil {
		s.Level, s.TargetKm = c.Level, c.TargetKm
	}
	return s
}

// Result returns the round result. It is meaningful once terminal.
func (m *Machine) Result() RoundResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resultLocked()
}

func (m *Machine) resultLocked() RoundResult {
	r := RoundResult{
		Mode:    m.cfg.Mode,
		Date:    m.cfg.Date,
		SeedKey: m.cfg.Set.SeedKey,
		Answers: append([]ScoredAnswer(nil), m.answers...),
		TotalKm: m.totalKm,
		Phase:   m.phase,
		EndedAt: m.endedAt,
	}
	if c := m.cfg.Challenge; c != nil {
		r.Level, r.TargetKm = c.Level, c.TargetKm
		r.Passed = m.phase == PhasePassed
	}
	return r
}

func (m *Machine) acceptingLocked() bool {
	return m.phase == PhaseActive && !m.advancing
}

func (m *Machine) currentLocked() question.Question {
	return m.cfg.Set.Questions[m.index]
}

func (m *Machine) enterActiveLocked(i int) Event {
	m.phase = PhaseActive
	m.index = i
	m.remaining = m.cfg.QuestionSeconds
	m.guess = nil
	m.polygon = nil
	m.advancing = false

	ev := m.eventLocked(EventQuestionStarted)
	q := m.currentLocked()
	ev.Question = &q
	return ev
}

// submitLocked scores the current question and enters Revealing. The
// advancing flag is set before anything else so a racing trigger is dropped.
func (m *Machine) submitLocked(src Source) (ScoredAnswer, Event) {
	m.advancing = true
	q := m.currentLocked()

	ans := ScoredAnswer{QuestionID: q.ID, Prompt: q.Prompt, Source: src}
	switch {
	case q.IsPolygon() && m.polygon != nil:
		ans.DistanceKm = m.polygon.Km
		ans.Inside = m.polygon.Inside
		ans.Guess = m.guess
	case !q.IsPolygon() && m.guess != nil:
		ans.DistanceKm = m.engine.Score(m.guess, q.Target)
		ans.Guess = m.guess
	default:
		ans.DistanceKm = m.engine.TimeoutScore()
	}
	if p, ok := m.engine.ResolvePoint(q.Target); ok {
		ans.Answer = &p
	}

	m.answers = append(m.answers, ans)
	m.totalKm += ans.DistanceKm
	m.phase = PhaseRevealing
	if c := m.cfg.Challenge; c != nil && m.totalKm > c.TargetKm {
		m.failed = true
	}

	ev := m.eventLocked(EventRevealed)
	ev.Answer = &ans
	ev.Question = &q
	ev.FailPending = m.failed
	return ans, ev
}

func (m *Machine) endLocked(p Phase, t EventType) Event {
	m.phase = p
	m.advancing = false
	m.endedAt = m.cfg.Now()
	ev := m.eventLocked(t)
	if p != PhaseAbandoned {
		r := m.resultLocked()
		ev.Result = &r
	}
	return ev
}

func (m *Machine) eventLocked(t EventType) Event {
	return Event{
		Type:      t,
		SessionID: m.cfg.SessionID,
		Index:     m.index,
		Total:     len(m.cfg.Set.Questions),
		Remaining: m.remaining,
		TotalKm:   m.totalKm,
	}
}
