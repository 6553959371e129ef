package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/response"
	"github.com/stemsi/examgate/internal/service"
)

const (
	// ContextKeyLaunchSession is the Gin context key for the validated launch session.
	ContextKeyLaunchSession = "launch_session"
	HeaderLaunchToken       = "X-Launch-Token"
)

// LaunchValidator resolves a launch token to its live session.
type LaunchValidator interface {
	ValidateLaunch(ctx context.Context, launchToken string) (*model.ExamAppLaunchSession, error)
}

// RequireLaunchSession authenticates the exam-taking app by its launch token,
// read from X-Launch-Token or, for WebSocket upgrades, ?launch_token=.
func RequireLaunchSession(launches LaunchValidator, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := launches.ValidateLaunch(c.Request.Context(), LaunchToken(c))
		if err != nil {
			if !errors.Is(err, service.ErrInvalidLaunchSession) {
				log.Error().Err(err).Msg("Launch session lookup failed")
				response.AbortExamAppFail(c, http.StatusInternalServerError, response.ErrInternal)
				return
			}
			response.AbortExamAppFail(c, http.StatusUnauthorized, response.ErrInvalidLaunchSession)
			return
		}

		c.Set(ContextKeyLaunchSession, sess)
		c.Next()
	}
}

// LaunchToken returns the plaintext launch token presented with the request.
func LaunchToken(c *gin.Context) string {
	if tok := c.GetHeader(HeaderLaunchToken); tok != "" {
		return tok
	}
	return c.Query("launch_token")
}

// GetLaunchSession retrieves the launch session set by RequireLaunchSession.
func GetLaunchSession(c *gin.Context) *model.ExamAppLaunchSession {
	val, exists := c.Get(ContextKeyLaunchSession)
	if !exists {
		return nil
	}
	sess, ok := val.(*model.ExamAppLaunchSession)
	if !ok {
		return nil
	}
	return sess
}
