package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/apperror"
	"github.com/stemsi/exstem-portal/internal/service"
	"github.com/stemsi/exstem-portal/internal/session"
	ws "github.com/stemsi/exstem-portal/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams the exam controller over a WebSocket.
type WSHandler struct {
	examSessions *service.ExamSessionService
	log          zerolog.Logger
	upgrader     websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(examSessions *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		examSessions: examSessions,
		log:          log.With().Str("component", "ws_handler").Logger(),
		upgrader:     buildUpgrader(allowedOrigins),
	}
}

// ExamStream godoc
// WS /ws/v1/exam/stream
// Pushes the controller view on every change (timer ticks included) and
// accepts select, submit, retry and ping actions.
func (h *WSHandler) ExamStream(c *gin.Context) {
	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	// The stream outlives the upgrade request's context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := h.examSessions.Latest(ctx)
	changes, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	wsLog := h.log.With().Str("student_exam_id", ctrl.Snapshot().StudentExamID.String()).Logger()
	wsLog.Info().Msg("Stream connected")

	go h.pump(ctx, conn, ctrl, changes, wsLog)

	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionSelect:
			if msg.QuestionID.IsZero() || msg.AnswerID.IsZero() {
				_ = conn.WriteError(string(apperror.ErrValidation), "question_id and answer_id are required")
				continue
			}
			view := ctrl.Snapshot()
			if view.State.Terminal() {
				_ = conn.WriteError(string(apperror.ErrSessionInactive), apperror.GetMessage(apperror.ErrSessionInactive))
				continue
			}
			if q := view.Question; q != nil && q.ID.Equal(msg.QuestionID) && !q.HasAnswer(msg.AnswerID) {
				_ = conn.WriteError(string(apperror.ErrUnknownAnswer), apperror.GetMessage(apperror.ErrUnknownAnswer))
				continue
			}
			ctrl.SelectAnswer(msg.QuestionID, msg.AnswerID)
		case ws.ActionSubmit:
			// Runs beside the read loop so a second submit is answered
			// with SUBMISSION_IN_FLIGHT instead of queueing. Closing the
			// stream must not cancel it.
			go h.run(context.WithoutCancel(ctx), conn, ctrl.Submit)
		case ws.ActionRetry:
			go h.run(ctx, conn, ctrl.Retry)
		case ws.ActionPing:
			_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			_ = conn.WriteError(string(apperror.ErrValidation), "unknown action: "+string(msg.Action))
		}
	}
}

// pump writes the current view, then one view per change signal. After
// the controller finishes it writes the final view and closes the stream.
func (h *WSHandler) pump(ctx context.Context, conn *ws.Conn, ctrl *session.Controller, changes <-chan struct{}, log zerolog.Logger) {
	send := func() bool {
		if err := conn.WriteTyped(ws.StateResponse{Event: ws.EventState, State: ctrl.Snapshot()}); err != nil {
			log.Debug().Err(err).Msg("State write failed")
			return false
		}
		return true
	}

	if !send() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if !send() {
				return
			}
		case <-ctrl.Done():
			send()
			_ = conn.CloseNormal(string(ctrl.Snapshot().State))
			return
		}
	}
}

func (h *WSHandler) run(ctx context.Context, conn *ws.Conn, action func(context.Context) error) {
	if err := action(ctx); err != nil {
		_ = conn.WriteError(string(apperror.CodeOf(err)), apperror.MessageOf(err))
	}
}
