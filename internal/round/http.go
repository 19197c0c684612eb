package round

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/gokatarajesh/geotap/internal/daykey"
	"github.com/gokatarajesh/geotap/internal/stats"
	httperrors "github.com/gokatarajesh/geotap/pkg/http/errors"
	ws "github.com/gokatarajesh/geotap/pkg/http/ws"
)

// HistorySource returns a device's public results for an inclusive range.
type HistorySource interface {
	History(ctx context.Context, deviceID, from, to string) (map[string]int, error)
}

// HTTPHandlers provides REST endpoints for daily sets and device stats.
type HTTPHandlers struct {
	service *Service
	history HistorySource
	logger  zerolog.Logger
}

// NewHTTPHandlers creates the round HTTP handlers. history may be nil.
func NewHTTPHandlers(service *Service, history HistorySource, logger zerolog.Logger) *HTTPHandlers {
	return &HTTPHandlers{
		service: service,
		history: history,
		logger:  logger.With().Str("component", "round_http").Logger(),
	}
}

// Register mounts the routes on mux.
func (h *HTTPHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/daily/{date}", h.GetDaily)
	mux.HandleFunc("GET /v1/stats/{device}", h.GetStats)
}

// DailyResponse describes a daily set without its answers.
type DailyResponse struct {
	Date      string               `json:"date"`
	SeedKey   string               `json:"seed_key"`
	Questions []ws.QuestionPayload `json:"questions"`
	NextReset time.Time            `json:"next_reset"`
}

// GetDaily handles GET /v1/daily/{date}. "today" resolves to the current
// date key; future dates are not revealed.
func (h *HTTPHandlers) GetDaily(w http.ResponseWriter, r *http.Request) {
	days := h.service.days
	date := r.PathValue("date")
	if date == "today" {
		date = days.Today()
	}
	n, err := daykey.DaysBetween(date, days.Today())
	if err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidDate, "date must be YYYY-MM-DD")
		return
	}
	if n < 0 {
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "daily set not available yet")
		return
	}

	set, err := h.service.sets.Daily(r.Context(), date)
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("failed to build daily set")
		httperrors.RespondInternalError(w, "failed to build daily set")
		return
	}
	if !set.Ready() {
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeRoundNotReady, "question catalog not ready")
		return
	}

	resp := DailyResponse{
		Date:      date,
		SeedKey:   set.SeedKey,
		Questions: make([]ws.QuestionPayload, len(set.Questions)),
		NextReset: days.NextReset(),
	}
	for i, q := range set.Questions {
		resp.Questions[i] = questionPayload(i, q)
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// StatsResponse is the per-device statistics view.
type StatsResponse struct {
	DeviceID        string              `json:"device_id"`
	Today           string              `json:"today"`
	PlayedToday     bool                `json:"played_today"`
	Stats           stats.Stats         `json:"stats"`
	Streak          stats.StreakState   `json:"streak"`
	Recent          []stats.DailyResult `json:"recent"`
	ChallengeCounts map[int]int         `json:"challenge_counts"`
	Remote          map[string]int      `json:"remote,omitempty"`
}

// GetStats handles GET /v1/stats/{device}.
func (h *HTTPHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	device := r.PathValue("device")
	if device == "" {
		httperrors.RespondValidationError(w, httperrors.ErrCodeMissingDevice, "device is required", "device")
		return
	}
	ctx := r.Context()
	agg := h.service.stats.Open(ctx, device)
	today := h.service.days.Today()

	resp := StatsResponse{
		DeviceID:        device,
		Today:           today,
		PlayedToday:     agg.HasPlayed(ctx, today),
		Stats:           agg.ComputeStats(ctx),
		Streak:          agg.Streak().State(ctx),
		Recent:          agg.RecentResults(ctx, 7),
		ChallengeCounts: agg.ChallengeCounts(ctx),
	}

	if h.history != nil {
		from, _ := daykey.AddDays(today, -29)
		remote, err := h.history.History(ctx, device, from, today)
		if err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Warn().Err(err).Str("device", device).Msg("remote history unavailable")
		} else {
			resp.Remote = remote
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandlers) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn().Err(err).Msg("failed to encode response")
	}
}
