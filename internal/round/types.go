package round

import (
	"errors"
	"time"

	"github.com/gokatarajesh/geotap/internal/question"
	"github.com/gokatarajesh/geotap/internal/round/scoring"
)

// Phase is the machine state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseActive    Phase = "active"
	PhaseRevealing Phase = "revealing"
	PhaseComplete  Phase = "complete"
	PhaseFailed    Phase = "round_failed"
	PhasePassed    Phase = "round_passed"
	PhaseAbandoned Phase = "abandoned"
)

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseComplete, PhaseFailed, PhasePassed, PhaseAbandoned:
		return true
	default:
		return false
	}
}

// Mode selects how a finished round is persisted.
type Mode string

const (
	ModeDaily     Mode = "daily"
	ModePractice  Mode = "practice"
	ModeChallenge Mode = "challenge"
	ModeArchive   Mode = "archive"
)

// Scoring reports whether results of this mode feed the aggregates.
func (m Mode) Scoring() bool {
	return m == ModeDaily || m == ModeChallenge
}

// Source records how an answer was submitted.
type Source string

const (
	SourceConfirm Source = "confirm"
	SourceTimeout Source = "timeout"
)

// Prompts shown when confirm is pressed without a guess.
const (
	PromptPlacePin    = "Tap the map to drop your guess."
	PromptPlaceRegion = "Tap inside or near the region first."
)

var (
	// ErrNotReady is returned when a round is started with an empty set.
	ErrNotReady = errors.New("round: question set not ready")
	// ErrNotAccepting is returned for input outside the active, non-advancing state.
	ErrNotAccepting = errors.New("round: not accepting input")
	// ErrAlreadyPlayed is returned by the daily replay guard.
	ErrAlreadyPlayed = errors.New("round: daily already played")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("round: session not found")
	// ErrInvalidGuess is returned for coordinates outside the globe or a
	// region result on a point question.
	ErrInvalidGuess = errors.New("round: invalid guess")
	// ErrNoChallenge is returned for challenge operations on other modes or unknown levels.
	ErrNoChallenge = errors.New("round: no such challenge level")
)

// GuessRequiredError rejects a confirm with no guess. Prompt is user facing.
type GuessRequiredError struct {
	Prompt string
}

func (e *GuessRequiredError) Error() string { return "round: guess required: " + e.Prompt }

// ScoredAnswer is one revealed question.
type ScoredAnswer struct {
	QuestionID string          `json:"questionId"`
	Prompt     string          `json:"prompt"`
	DistanceKm int             `json:"distanceKm"`
	Source     Source          `json:"source"`
	Guess      *scoring.LatLng `json:"guess,omitempty"`
	Answer     *scoring.LatLng `json:"answer,omitempty"`
	Inside     bool            `json:"inside,omitempty"`
}

// RoundResult is the outcome of one play-through.
type RoundResult struct {
	Mode     Mode           `json:"mode"`
	Date     string         `json:"date"`
	SeedKey  string         `json:"seedKey"`
	Answers  []ScoredAnswer `json:"answers"`
	TotalKm  int            `json:"totalKm"`
	Phase    Phase          `json:"phase"`
	Level    int            `json:"level,omitempty"`
	TargetKm int            `json:"targetKm,omitempty"`
	Passed   bool           `json:"passed,omitempty"`
	EndedAt  time.Time      `json:"endedAt"`
}

// Completed reports whether every question was answered.
func (r RoundResult) Completed() bool {
	return r.Phase == PhaseComplete || r.Phase == PhasePassed
}

// Challenge parameters of a round.
type Challenge struct {
	Level    int
	TargetKm int
}

// EventType names machine notifications.
type EventType string

const (
	EventQuestionStarted EventType = "question_started"
	EventTick            EventType = "tick"
	EventGuessRejected   EventType = "guess_rejected"
	EventRevealed        EventType = "revealed"
	EventRoundComplete   EventType = "round_complete"
	EventRoundFailed     EventType = "round_failed"
	EventRoundPassed     EventType = "round_passed"
	EventRoundAbandoned  EventType = "round_abandoned"
)

// Event is emitted on every observable transition.
type Event struct {
	Type      EventType          `json:"type"`
	SessionID string             `json:"sessionId,omitempty"`
	Index     int                `json:"index"`
	Total     int                `json:"total"`
	Remaining int                `json:"remaining,omitempty"`
	Question  *question.Question `json:"-"`
	Answer    *ScoredAnswer      `json:"answer,omitempty"`
	TotalKm   int                `json:"totalKm"`
	Prompt    string             `json:"prompt,omitempty"`
	Result    *RoundResult       `json:"result,omitempty"`
	// FailPending marks a reveal after which the challenge round fails.
	FailPending bool `json:"failPending,omitempty"`
}
