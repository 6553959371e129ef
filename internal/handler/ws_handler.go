package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/examgate/internal/middleware"
	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/service"
	ws "github.com/stemsi/examgate/internal/websocket"
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

// SessionSubscriber streams launch session events of an attempt. Subscribe
// returns once events published afterwards are guaranteed to be delivered.
type SessionSubscriber interface {
	Subscribe(ctx context.Context, attempt model.AttemptRef) (service.SessionSubscription, error)
}

// WSHandler keeps a live channel to the exam-taking app so a superseded or
// finalized launch session is closed the moment it stops being valid.
type WSHandler struct {
	events   SessionSubscriber
	launches middleware.LaunchValidator
	sessions AttemptSession
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	events SessionSubscriber,
	launches middleware.LaunchValidator,
	sessions AttemptSession,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		events:   events,
		launches: launches,
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ExamAppSessionStream godoc
// WS /ws/exam-app/session?launch_token=...
// Upgrades to WebSocket for autosave and session supersede notifications.
func (h *WSHandler) ExamAppSessionStream(c *gin.Context) {
	sess := middleware.GetLaunchSession(c)
	if sess == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before re-validating so a supersede landing in between is
	// still delivered.
	sub, err := h.events.Subscribe(ctx, sess.Attempt)
	if err != nil {
		h.log.Error().Err(err).Msg("Session event subscribe failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false})
		return
	}
	defer sub.Close()
	if _, err := h.launches.ValidateLaunch(ctx, middleware.LaunchToken(c)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int64("student_id", sess.StudentID).
		Str("kind", string(sess.Attempt.Kind())).
		Int64("attempt_id", sess.Attempt.ID()).
		Int64("launch_session_id", sess.ID).
		Logger()
	wsLog.Info().Msg("Exam app connected")

	// All writes happen on this goroutine; the reader only forwards requests.
	requests := make(chan ws.RequestPayload)
	go func() {
		defer cancel()
		for {
			var msg ws.RequestPayload
			if err := ws.ReadJSON(conn, &msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Msg("Unexpected close")
				} else {
					wsLog.Debug().Msg("Connection closed")
				}
				return
			}
			select {
			case requests <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	expiry := time.NewTimer(time.Until(sess.ExpiresAt))
	defer expiry.Stop()
	events := sub.Events()

	for {
		select {
		case <-ctx.Done():
			return

		case <-expiry.C:
			ws.WriteEvent(conn, ws.EventSessionExpired)
			ws.Close(conn, websocket.ClosePolicyViolation, string(ws.EventSessionExpired))
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if !ev.Affects(sess.ID) {
				continue
			}
			out := ws.EventSessionSuperseded
			if ev.Type == service.SessionEventFinalized {
				out = ws.EventAttemptFinalized
			}
			wsLog.Info().Str("event", string(out)).Msg("Closing exam app connection")
			ws.WriteEvent(conn, out)
			ws.Close(conn, websocket.ClosePolicyViolation, string(out))
			return

		case msg := <-requests:
			switch msg.Action {
			case ws.ActionPing:
				ws.WriteEvent(conn, ws.EventPong)
			case ws.ActionAutosave:
				if done := h.handleAutosave(ctx, conn, wsLog, sess, &msg); done {
					return
				}
			default:
				wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
				ws.WriteError(conn, "unknown action: "+string(msg.Action))
			}
		}
	}
}

// handleAutosave saves one answer. It reports true when the connection
// should close because the attempt is over.
func (h *WSHandler) handleAutosave(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, sess *model.ExamAppLaunchSession, msg *ws.RequestPayload) bool {
	if msg.QID == "" || len(msg.QID) > 64 || len(msg.Answer) > 65536 {
		ws.WriteError(conn, "invalid q_id or ans")
		return false
	}

	err := h.sessions.SaveAnswer(ctx, sess, model.SaveAnswerRequest{QuestionID: msg.QID, Answer: msg.Answer})
	switch {
	case err == nil:
		ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, QID: msg.QID})
		return false
	case errors.Is(err, service.ErrAttemptAlreadyFinalized):
		ws.WriteEvent(conn, ws.EventAttemptFinalized)
		ws.Close(conn, websocket.ClosePolicyViolation, string(ws.EventAttemptFinalized))
		return true
	case errors.Is(err, service.ErrInvalidLaunchSession):
		ws.WriteEvent(conn, ws.EventSessionSuperseded)
		ws.Close(conn, websocket.ClosePolicyViolation, string(ws.EventSessionSuperseded))
		return true
	default:
		wsLog.Error().Err(err).Msg("Autosave failed")
		ws.WriteError(conn, "save failed")
		return false
	}
}
