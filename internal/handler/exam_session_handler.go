package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-portal/internal/apperror"
	"github.com/stemsi/exstem-portal/internal/middleware"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/service"
	"github.com/stemsi/exstem-portal/internal/validator"
)

// ExamSessionHandler drives the attempt being taken.
type ExamSessionHandler struct {
	examSessions *service.ExamSessionService
}

// NewExamSessionHandler creates a new ExamSessionHandler.
func NewExamSessionHandler(examSessions *service.ExamSessionService) *ExamSessionHandler {
	return &ExamSessionHandler{examSessions: examSessions}
}

type selectAnswerRequest struct {
	QuestionID model.ID `json:"question_id" binding:"required"`
	AnswerID   model.ID `json:"answer_id" binding:"required"`
}

// GetState godoc
// GET /api/v1/exam/state
// Returns the controller view, loading the persisted attempt when there
// is no controller yet, the last one found nothing to take, or a new
// attempt started after the last one finished.
// A load failure is reported through the view's error state.
func (h *ExamSessionHandler) GetState(c *gin.Context) {
	ctrl := h.examSessions.Latest(c.Request.Context())
	response.Success(c, http.StatusOK, ctrl.Snapshot())
}

// SelectAnswer godoc
// POST /api/v1/exam/answers
// Records the selected answer for a question. No network call is made.
func (h *ExamSessionHandler) SelectAnswer(c *gin.Context) {
	ctrl := middleware.GetController(c)

	var req selectAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, apperror.ErrValidation, fields)
		return
	}

	view := ctrl.Snapshot()
	if view.State.Terminal() {
		response.Fail(c, http.StatusGone, apperror.ErrSessionInactive)
		return
	}
	if q := view.Question; q != nil && q.ID.Equal(req.QuestionID) && !q.HasAnswer(req.AnswerID) {
		response.Fail(c, http.StatusBadRequest, apperror.ErrUnknownAnswer)
		return
	}

	ctrl.SelectAnswer(req.QuestionID, req.AnswerID)
	response.Success(c, http.StatusOK, ctrl.Snapshot())
}

// Submit godoc
// POST /api/v1/exam/submit
// Submits the selected answer of the current question.
func (h *ExamSessionHandler) Submit(c *gin.Context) {
	ctrl := middleware.GetController(c)
	if err := ctrl.Submit(c.Request.Context()); err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, ctrl.Snapshot())
}

// Retry godoc
// POST /api/v1/exam/retry
// Re-runs a failed load.
func (h *ExamSessionHandler) Retry(c *gin.Context) {
	ctrl := middleware.GetController(c)
	if err := ctrl.Retry(c.Request.Context()); err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, ctrl.Snapshot())
}
