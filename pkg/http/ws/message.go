package ws

import "encoding/json"

// MessageType constants for WebSocket protocol.
const (
	// Client -> Server
	TypeStartRound    = "start_round"
	TypePlaceGuess    = "place_guess"
	TypePolygonResult = "polygon_result"
	TypeConfirm       = "confirm"
	TypeAbandon       = "abandon"
	TypeRetryLevel    = "retry_level"
	TypeNextLevel     = "next_level"
	TypeRequestState  = "request_state"

	// Server -> Client
	TypeRoundStarted      = "round_started"
	TypeAlreadyPlayed     = "already_played"
	TypeQuestionStarted   = "question_started"
	TypeTick              = "tick"
	TypeGuessAck          = "guess_ack"
	TypeGuessRejected     = "guess_rejected"
	TypeRevealed          = "revealed"
	TypeRoundComplete     = "round_complete"
	TypeRoundFailed       = "round_failed"
	TypeRoundPassed       = "round_passed"
	TypeRoundAbandoned    = "round_abandoned"
	TypeRoundState        = "round_state"
	TypeLeaderboardUpdate = "leaderboard_update"
	TypeError             = "error"
	TypePing              = "ping"
	TypePong              = "pong"
)

// Message wraps all WebSocket payloads with type and optional request ID.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"request_id,omitempty"`
}

// Client Messages (incoming)

type StartRoundPayload struct {
	Mode  string `json:"mode"`            // daily | practice | challenge | archive
	Date  string `json:"date,omitempty"`  // archive only
	Topic string `json:"topic,omitempty"` // practice only
	Level int    `json:"level,omitempty"` // challenge only
}

type PlaceGuessPayload struct {
	SessionID string  `json:"session_id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

type PolygonResultPayload struct {
	SessionID  string  `json:"session_id"`
	DistanceKm float64 `json:"distance_km"`
	Inside     bool    `json:"inside"`
}

type SessionPayload struct {
	SessionID string `json:"session_id"`
}

// Server Messages (outgoing)

type RoundStartedPayload struct {
	SessionID       string `json:"session_id"`
	Mode            string `json:"mode"`
	Date            string `json:"date"`
	SeedKey         string `json:"seed_key"`
	QuestionCount   int    `json:"question_count"`
	QuestionSeconds int    `json:"question_seconds"`
	Level           int    `json:"level,omitempty"`
	TargetKm        int    `json:"target_km,omitempty"`
}

type AlreadyPlayedPayload struct {
	Date    string        `json:"date"`
	TotalKm int           `json:"total_km"`
	Items   []SummaryItem `json:"items"`
}

type SummaryItem struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Km     int    `json:"km"`
}

type QuestionPayload struct {
	Order  int    `json:"order"`
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Prompt string `json:"prompt"`
	Image  string `json:"image,omitempty"`
	// Region questions name the boundary the client should draw.
	Dataset string `json:"dataset,omitempty"`
	Code    string `json:"code,omitempty"`
}

type QuestionStartedPayload struct {
	SessionID        string          `json:"session_id"`
	Question         QuestionPayload `json:"question"`
	Total            int             `json:"total"`
	RemainingSeconds int             `json:"remaining_seconds"`
	TotalKm          int             `json:"total_km"`
}

type TickPayload struct {
	SessionID        string `json:"session_id"`
	QuestionOrder    int    `json:"question_order"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

type GuessRejectedPayload struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type RevealedPayload struct {
	SessionID     string  `json:"session_id"`
	QuestionOrder int     `json:"question_order"`
	QuestionID    string  `json:"question_id"`
	Answer        string  `json:"answer,omitempty"`
	DistanceKm    int     `json:"distance_km"`
	Source        string  `json:"source"`
	Inside        bool    `json:"inside,omitempty"`
	Guess         *LatLng `json:"guess,omitempty"`
	Location      *LatLng `json:"location,omitempty"`
	TotalKm       int     `json:"total_km"`
	FailPending   bool    `json:"fail_pending,omitempty"`
}

type RoundResultPayload struct {
	SessionID string         `json:"session_id"`
	Mode      string         `json:"mode"`
	Date      string         `json:"date"`
	TotalKm   int            `json:"total_km"`
	Answers   []AnswerResult `json:"answers"`
	Level     int            `json:"level,omitempty"`
	TargetKm  int            `json:"target_km,omitempty"`
	Passed    bool           `json:"passed,omitempty"`
	NextLevel int            `json:"next_level,omitempty"`
}

type AnswerResult struct {
	QuestionID string `json:"question_id"`
	Prompt     string `json:"prompt"`
	DistanceKm int    `json:"distance_km"`
	Source     string `json:"source"`
}

type RoundStatePayload struct {
	SessionID        string `json:"session_id"`
	Phase            string `json:"phase"`
	QuestionOrder    int    `json:"question_order"`
	Total            int    `json:"total"`
	RemainingSeconds int    `json:"remaining_seconds"`
	TotalKm          int    `json:"total_km"`
	HasGuess         bool   `json:"has_guess"`
}

type LeaderboardUpdatePayload struct {
	Date string             `json:"date"`
	Top  []LeaderboardEntry `json:"top"`
}

type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name,omitempty"`
	TotalKm       int    `json:"total_km"`
	SubmittedAt   string `json:"submitted_at"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage marshals payload into a typed message.
func NewMessage(msgType string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Payload: raw}, nil
}
