package leaderboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/gokatarajesh/geotap/internal/daykey"
	"github.com/gokatarajesh/geotap/internal/stats"
	apierrors "github.com/gokatarajesh/geotap/pkg/http/errors"
	ws "github.com/gokatarajesh/geotap/pkg/http/ws"
)

type topSource interface {
	Top(ctx context.Context, date string, limit int) ([]Entry, error)
}

type snapshotReader interface {
	Latest(ctx context.Context, date string) ([]byte, error)
}

// HTTPHandler exposes REST endpoints for leaderboard queries.
type HTTPHandler struct {
	svc       topSource
	snapshots snapshotReader
	local     *stats.Directory
	logger    zerolog.Logger
}

// NewHTTPHandler constructs a leaderboard HTTP handler. Any dependency may
// be nil; the matching source is then skipped.
func NewHTTPHandler(svc topSource, snapshots snapshotReader, local *stats.Directory, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		svc:       svc,
		snapshots: snapshots,
		local:     local,
		logger:    logger.With().Str("component", "leaderboard_http").Logger(),
	}
}

// Register mounts the leaderboard routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/leaderboards/local/{date}", h.HandleLocal)
	mux.HandleFunc("GET /v1/leaderboards/{date}", h.HandleGet)
}

// HandleGet responds with the global leaderboard for a date.
// Route: GET /v1/leaderboards/{date}?limit=10
func (h *HTTPHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if _, err := daykey.Parse(date); err != nil {
		apierrors.RespondBadRequest(w, apierrors.ErrCodeInvalidDate, "date must be YYYY-MM-DD")
		return
	}
	limit := parseLimit(r)

	ctx := r.Context()
	var (
		top    []ws.LeaderboardEntry
		source = "redis"
	)

	if h.svc != nil {
		if entries, err := h.svc.Top(ctx, date, limit); err == nil {
			top = toWSEntries(entries)
		} else {
			h.logger.Warn().Err(err).Str("date", date).Msg("redis leaderboard fetch failed")
		}
	}

	if len(top) == 0 {
		source = "snapshot"
		top = h.snapshotFallback(ctx, date, limit)
	}
	if top == nil {
		top = []ws.LeaderboardEntry{}
	}

	writeJSON(w, map[string]interface{}{
		"date":        date,
		"top":         top,
		"source":      source,
		"retrievedAt": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleLocal responds with the on-device leaderboard of one device.
// Route: GET /v1/leaderboards/local/{date}?device=<id>
func (h *HTTPHandler) HandleLocal(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if _, err := daykey.Parse(date); err != nil {
		apierrors.RespondBadRequest(w, apierrors.ErrCodeInvalidDate, "date must be YYYY-MM-DD")
		return
	}
	device := r.URL.Query().Get("device")
	if device == "" {
		apierrors.RespondValidationError(w, apierrors.ErrCodeMissingDevice, "device is required", "device")
		return
	}
	if h.local == nil {
		apierrors.RespondServiceUnavailable(w, apierrors.ErrCodeServiceUnavailable, "local leaderboards unavailable")
		return
	}

	list := h.local.For(device).LocalLeaderboard(r.Context(), date)
	out := make([]ws.LeaderboardEntry, 0, len(list))
	for i, e := range list {
		out = append(out, ws.LeaderboardEntry{
			Rank:          i + 1,
			ParticipantID: e.ID,
			TotalKm:       e.TotalKm,
			SubmittedAt:   time.UnixMilli(e.TS).UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, map[string]interface{}{
		"date":   date,
		"device": device,
		"top":    out,
	})
}

func (h *HTTPHandler) snapshotFallback(ctx context.Context, date string, limit int) []ws.LeaderboardEntry {
	if h.snapshots == nil {
		return nil
	}
	raw, err := h.snapshots.Latest(ctx, date)
	if err != nil {
		h.logger.Warn().Err(err).Str("date", date).Msg("snapshot fetch failed")
		return nil
	}
	if raw == nil {
		return nil
	}

	var entries []ws.LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		h.logger.Warn().Err(err).Msg("snapshot payload decode failed")
		return nil
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func parseLimit(r *http.Request) int {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	return limit
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
