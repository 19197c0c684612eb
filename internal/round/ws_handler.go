package round

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/geotap/internal/question"
	"github.com/gokatarajesh/geotap/internal/round/scoring"
	"github.com/gokatarajesh/geotap/internal/server"
	httperrors "github.com/gokatarajesh/geotap/pkg/http/errors"
	ws "github.com/gokatarajesh/geotap/pkg/http/ws"
)

// Handler manages WebSocket connections and routes round messages.
type Handler struct {
	service *Service
	hub     *ws.Hub
	logger  zerolog.Logger
}

// NewHandler creates a round WebSocket handler.
func NewHandler(service *Service, hub *ws.Hub, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger.With().Str("component", "round_ws").Logger(),
	}
}

// HandleWebSocket upgrades the request. Devices identify themselves with the
// device_id query parameter and may pass a display name.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		httperrors.RespondValidationError(w, httperrors.ErrCodeMissingDevice, "Missing device_id", "device_id")
		return
	}
	name := r.URL.Query().Get("name")

	conn, err := server.WSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	h.HandleConnection(conn, Player{DeviceID: deviceID, DisplayName: name})
}

// HandleConnection serves one socket until it closes, then abandons the
// device's running round.
func (h *Handler) HandleConnection(conn *websocket.Conn, p Player) {
	wsConn := ws.NewConnection(conn, h.logger)
	h.hub.RegisterConnection(p.DeviceID, wsConn)

	go wsConn.WritePump()

	var current string
	wsConn.ReadPump(func(msg ws.Message) error {
		id, err := h.handleMessage(context.Background(), p, msg)
		if id != "" {
			current = id
		}
		return err
	})

	h.hub.UnregisterConnection(p.DeviceID, wsConn)
	if current != "" {
		_ = h.service.Abandon(current)
	}
}

// handleMessage routes one client message. It returns the id of a session
// the message started, if any.
func (h *Handler) handleMessage(ctx context.Context, p Player, msg ws.Message) (string, error) {
	switch msg.Type {
	case ws.TypeStartRound:
		var req ws.StartRoundPayload
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return "", h.sendError(p.DeviceID, httperrors.ErrCodeInvalidPayload, "Invalid start_round payload")
		}
		return h.handleStart(ctx, p, req)
	case ws.TypeRetryLevel, ws.TypeNextLevel:
		var req ws.SessionPayload
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return "", h.sendError(p.DeviceID, httperrors.ErrCodeInvalidPayload, "Invalid session payload")
		}
		if _, err := h.owned(p, req.SessionID); err != nil {
			return "", h.sendRoundError(p.DeviceID, err)
		}
		var (
			sess *Session
			err  error
		)
		if msg.Type == ws.TypeRetryLevel {
			sess, err = h.service.RetryLevel(ctx, req.SessionID)
		} else {
			sess, err = h.service.NextLevel(ctx, req.SessionID)
		}
		return h.started(p, sess, err)
	case ws.TypePlaceGuess:
		return "", h.handlePlaceGuess(p, msg.Payload)
	case ws.TypePolygonResult:
		return "", h.handlePolygonResult(p, msg.Payload)
	case ws.TypeConfirm:
		return "", h.handleConfirm(p, msg.Payload)
	case ws.TypeAbandon:
		var req ws.SessionPayload
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return "", h.sendError(p.DeviceID, httperrors.ErrCodeInvalidPayload, "Invalid abandon payload")
		}
		if _, err := h.owned(p, req.SessionID); err != nil {
			return "", h.sendRoundError(p.DeviceID, err)
		}
		return "", h.service.Abandon(req.SessionID)
	case ws.TypeRequestState:
		return "", h.handleRequestState(p, msg.Payload)
	case ws.TypePing:
		return "", h.send(p.DeviceID, ws.TypePong, struct{}{})
	default:
		return "", h.sendError(p.DeviceID, httperrors.ErrCodeUnknownMessageType, fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

func (h *Handler) handleStart(ctx context.Context, p Player, req ws.StartRoundPayload) (string, error) {
	var (
		sess *Session
		err  error
	)
	switch Mode(req.Mode) {
	case ModeDaily, "":
		sess, err = h.service.StartDaily(ctx, p)
	case ModePractice:
		sess, err = h.service.StartPractice(ctx, p, req.Topic)
	case ModeChallenge:
		level := req.Level
		if level == 0 {
			level = 1
		}
		sess, err = h.service.StartChallenge(ctx, p, level)
	case ModeArchive:
		sess, err = h.service.StartArchive(ctx, p, req.Date)
	default:
		return "", h.sendError(p.DeviceID, httperrors.ErrCodeInvalidRequest, fmt.Sprintf("Unknown mode: %s", req.Mode))
	}
	return h.started(p, sess, err)
}

// started joins the device to a new session and announces it. The first
// question_started event fired before the device joined, so it is resent.
func (h *Handler) started(p Player, sess *Session, err error) (string, error) {
	if err != nil {
		return "", h.sendRoundError(p.DeviceID, err)
	}
	h.hub.JoinSession(sess.ID, p.DeviceID)

	snap := sess.Snapshot()
	cfg := sess.driver.Machine().cfg
	payload := ws.RoundStartedPayload{
		SessionID:       sess.ID,
		Mode:            string(snap.Mode),
		Date:            cfg.Date,
		SeedKey:         cfg.Set.SeedKey,
		QuestionCount:   snap.Total,
		QuestionSeconds: cfg.QuestionSeconds,
		Level:           snap.Level,
		TargetKm:        snap.TargetKm,
	}
	if err := h.send(p.DeviceID, ws.TypeRoundStarted, payload); err != nil {
		return sess.ID, err
	}
	if snap.Question != nil {
		qs := ws.QuestionStartedPayload{
			SessionID:        sess.ID,
			Question:         questionPayload(snap.Index, *snap.Question),
			Total:            snap.Total,
			RemainingSeconds: snap.Remaining,
			TotalKm:          snap.TotalKm,
		}
		if err := h.send(p.DeviceID, ws.TypeQuestionStarted, qs); err != nil {
			return sess.ID, err
		}
	}
	return sess.ID, nil
}

func (h *Handler) handlePlaceGuess(p Player, payload json.RawMessage) error {
	var req ws.PlaceGuessPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.sendError(p.DeviceID, httperrors.ErrCodeInvalidPayload, "Invalid place_guess payload")
	}
	sess, err := h.owned(p, req.SessionID)
	if err != nil {
		return h.sendRoundError(p.DeviceID, err)
	}
	if err := sess.driver.PlaceGuess(req.Lat, req.Lng); err != nil {
		return h.sendRoundError(p.DeviceID, err)
	}
	return h.send(p.DeviceID, ws.TypeGuessAck, req)
}

func (h *Handler) handlePolygonResult(p Player, payload json.RawMessage) error {
	var req ws.PolygonResultPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.sendError(p.DeviceID, httperrors.ErrCodeInvalidPayload, "Invalid polygon_result payload")
	}
	sess, err := h.owned(p, req.SessionID)
	if err != nil {
		return h.sendRoundError(p.DeviceID, err)
	}
	if err := sess.driver.PlacePolygonResult(req.DistanceKm, req.Inside); err != nil {
		return h.sendRoundError(p.DeviceID, err)
	}
	return h.send(p.DeviceID, ws.TypeGuessAck, req)
}

func (h *Handler) handleConfirm(p Player, payload json.RawMessage) error {
	var req ws.SessionPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.sendError(p.DeviceID, httperrors.ErrCodeInvalidPayload, "Invalid confirm payload")
	}
	sess, err := h.owned(p, req.SessionID)
	if err != nil {
		return h.sendRoundError(p.DeviceID, err)
	}
	if _, err := sess.driver.Confirm(); err != nil {
		var gr *GuessRequiredError
		if errors.As(err, &gr) {
			// The machine already emitted guess_rejected.
			return nil
		}
		return h.sendRoundError(p.DeviceID, err)
	}
	return nil
}

func (h *Handler) handleRequestState(p Player, payload json.RawMessage) error {
	var req ws.SessionPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.sendError(p.DeviceID, httperrors.ErrCodeInvalidPayload, "Invalid request_state payload")
	}
	sess, err := h.owned(p, req.SessionID)
	if err != nil {
		return h.sendRoundError(p.DeviceID, err)
	}
	snap := sess.Snapshot()
	return h.send(p.DeviceID, ws.TypeRoundState, ws.RoundStatePayload{
		SessionID:        snap.SessionID,
		Phase:            string(snap.Phase),
		QuestionOrder:    snap.Index,
		Total:            snap.Total,
		RemainingSeconds: snap.Remaining,
		TotalKm:          snap.TotalKm,
		HasGuess:         snap.HasGuess,
	})
}

// owned resolves a session and checks it belongs to the device.
func (h *Handler) owned(p Player, sessionID string) (*Session, error) {
	sess, err := h.service.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Player.DeviceID != p.DeviceID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (h *Handler) sendRoundError(deviceID string, err error) error {
	var played *AlreadyPlayedError
	if errors.As(err, &played) {
		items := make([]ws.SummaryItem, len(played.Summary.Items))
		for i, it := range played.Summary.Items {
			items[i] = ws.SummaryItem{ID: it.ID, Prompt: it.Prompt, Km: it.Km}
		}
		return h.send(deviceID, ws.TypeAlreadyPlayed, ws.AlreadyPlayedPayload{
			Date:    played.Summary.Date,
			TotalKm: played.Summary.TotalKm,
			Items:   items,
		})
	}

	code := httperrors.ErrCodeInternalError
	switch {
	case errors.Is(err, ErrSessionNotFound):
		code = httperrors.ErrCodeSessionNotFound
	case errors.Is(err, ErrNotReady):
		code = httperrors.ErrCodeRoundNotReady
	case errors.Is(err, ErrNotAccepting):
		code = httperrors.ErrCodeNotAccepting
	case errors.Is(err, ErrNoChallenge):
		code = httperrors.ErrCodeUnknownLevel
	case errors.Is(err, question.ErrUnknownTopic):
		code = httperrors.ErrCodeUnknownTopic
	case errors.Is(err, ErrArchiveDate):
		code = httperrors.ErrCodeInvalidDate
	case errors.Is(err, ErrInvalidGuess):
		code = httperrors.ErrCodeInvalidGuess
	}
	h.logger.Debug().Err(err).Str("device_id", deviceID).Str("code", code).Msg("round request rejected")
	return h.sendError(deviceID, code, err.Error())
}

func (h *Handler) sendError(deviceID, code, message string) error {
	return h.send(deviceID, ws.TypeError, ws.ErrorPayload{Code: code, Message: message})
}

func (h *Handler) send(deviceID, msgType string, payload any) error {
	msg, err := ws.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return h.hub.SendToDevice(deviceID, msg)
}

// EventRelay turns machine events into WebSocket messages for the devices
// watching each session.
type EventRelay struct {
	hub    *ws.Hub
	ladder *Ladder
	logger zerolog.Logger
}

// NewEventRelay builds a relay. ladder may be nil.
func NewEventRelay(hub *ws.Hub, ladder *Ladder, logger zerolog.Logger) *EventRelay {
	return &EventRelay{
		hub:    hub,
		ladder: ladder,
		logger: logger.With().Str("component", "round_events").Logger(),
	}
}

// Publish is a Machine event sink.
func (r *EventRelay) Publish(ev Event) {
	msgType, payload := r.translate(ev)
	if msgType == "" {
		return
	}
	msg, err := ws.NewMessage(msgType, payload)
	if err != nil {
		r.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("failed to encode round event")
		return
	}
	if err := r.hub.BroadcastToSession(ev.SessionID, msg); err != nil {
		r.logger.Debug().Err(err).Str("session", ev.SessionID).Msg("round event not delivered")
	}
}

func (r *EventRelay) translate(ev Event) (string, any) {
	switch ev.Type {
	case EventQuestionStarted:
		if ev.Question == nil {
			return "", nil
		}
		return ws.TypeQuestionStarted, ws.QuestionStartedPayload{
			SessionID:        ev.SessionID,
			Question:         questionPayload(ev.Index, *ev.Question),
			Total:            ev.Total,
			RemainingSeconds: ev.Remaining,
			TotalKm:          ev.TotalKm,
		}
	case EventTick:
		return ws.TypeTick, ws.TickPayload{
			SessionID:        ev.SessionID,
			QuestionOrder:    ev.Index,
			RemainingSeconds: ev.Remaining,
		}
	case EventGuessRejected:
		return ws.TypeGuessRejected, ws.GuessRejectedPayload{SessionID: ev.SessionID, Prompt: ev.Prompt}
	case EventRevealed:
		if ev.Answer == nil {
			return "", nil
		}
		p := ws.RevealedPayload{
			SessionID:     ev.SessionID,
			QuestionOrder: ev.Index,
			QuestionID:    ev.Answer.QuestionID,
			DistanceKm:    ev.Answer.DistanceKm,
			Source:        string(ev.Answer.Source),
			Inside:        ev.Answer.Inside,
			Guess:         toWSLatLng(ev.Answer.Guess),
			Location:      toWSLatLng(ev.Answer.Answer),
			TotalKm:       ev.TotalKm,
			FailPending:   ev.FailPending,
		}
		if ev.Question != nil {
			p.Answer = ev.Question.Answer
		}
		return ws.TypeRevealed, p
	case EventRoundComplete, EventRoundFailed, EventRoundPassed:
		if ev.Result == nil {
			return "", nil
		}
		return string(ev.Type), r.resultPayload(ev.SessionID, *ev.Result)
	case EventRoundAbandoned:
		return ws.TypeRoundAbandoned, ws.SessionPayload{SessionID: ev.SessionID}
	default:
		return "", nil
	}
}

func (r *EventRelay) resultPayload(sessionID string, res RoundResult) ws.RoundResultPayload {
	answers := make([]ws.AnswerResult, len(res.Answers))
	for i, a := range res.Answers {
		answers[i] = ws.AnswerResult{
			QuestionID: a.QuestionID,
			Prompt:     a.Prompt,
			DistanceKm: a.DistanceKm,
			Source:     string(a.Source),
		}
	}
	p := ws.RoundResultPayload{
		SessionID: sessionID,
		Mode:      string(res.Mode),
		Date:      res.Date,
		TotalKm:   res.TotalKm,
		Answers:   answers,
		Level:     res.Level,
		TargetKm:  res.TargetKm,
		Passed:    res.Passed,
	}
	if res.Passed {
		if next, ok := r.ladder.Next(res.Level); ok {
			p.NextLevel = next.ID
		}
	}
	return p
}

func questionPayload(order int, q question.Question) ws.QuestionPayload {
	p := ws.QuestionPayload{
		Order:  order,
		ID:     q.ID,
		Kind:   string(q.Kind),
		Prompt: q.Prompt,
		Image:  q.Image,
	}
	if t, ok := q.Target.(question.PolygonTarget); ok {
		p.Dataset = string(t.Dataset)
		p.Code = t.Code
	}
	return p
}

func toWSLatLng(p *scoring.LatLng) *ws.LatLng {
	if p == nil {
		return nil
	}
	return &ws.LatLng{Lat: p.Lat, Lng: p.Lng}
}
