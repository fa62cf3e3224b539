package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-portal/internal/apperror"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/service"
	"github.com/stemsi/exstem-portal/internal/session"
)

// ContextKeyController is the Gin context key for the exam controller.
const ContextKeyController = "exam_controller"

// RequireExamController resolves the controller of the attempt being
// taken. Actions are only accepted on a controller that was already
// loaded through the state endpoint or the stream.
func RequireExamController(examSessions *service.ExamSessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctrl := examSessions.Peek()
		if ctrl == nil {
			response.AbortFail(c, http.StatusConflict, apperror.ErrSessionNotReady)
			return
		}
		c.Set(ContextKeyController, ctrl)
		c.Next()
	}
}

// GetController returns the controller set by RequireExamController.
func GetController(c *gin.Context) *session.Controller {
	v, ok := c.Get(ContextKeyController)
	if !ok {
		return nil
	}
	ctrl, _ := v.(*session.Controller)
	return ctrl
}
