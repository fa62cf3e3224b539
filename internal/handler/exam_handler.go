package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-portal/internal/apperror"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/service"
)

// ExamHandler serves the exam catalog.
type ExamHandler struct {
	catalog      *service.CatalogService
	examSessions *service.ExamSessionService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(catalog *service.CatalogService, examSessions *service.ExamSessionService) *ExamHandler {
	return &ExamHandler{catalog: catalog, examSessions: examSessions}
}

// catalogEntry decorates a descriptor with its display strings.
type catalogEntry struct {
	model.ExamDescriptor
	DurationDisplay     string `json:"duration_display"`
	PassingScoreDisplay string `json:"passing_score_display"`
}

// ListExams godoc
// GET /api/v1/exams?filter=all|active|inactive
// Lists the exams of the catalog.
func (h *ExamHandler) ListExams(c *gin.Context) {
	filter := model.ExamFilter(c.DefaultQuery("filter", string(model.ExamFilterAll)))

	exams, err := h.catalog.ListExams(c.Request.Context(), filter)
	if err != nil {
		response.FailErr(c, err)
		return
	}

	entries := make([]catalogEntry, 0, len(exams))
	for _, exam := range exams {
		entries = append(entries, catalogEntry{
			ExamDescriptor:      exam,
			DurationDisplay:     service.FormatDuration(exam.ExamTimer),
			PassingScoreDisplay: service.FormatPassingScore(exam.PassingScore),
		})
	}

	response.SuccessWithCount(c, http.StatusOK, gin.H{
		"exams":        entries,
		"active_count": service.CountActive(exams),
	}, len(entries))
}

// StartExam godoc
// POST /api/v1/exams/:exam_id/start
// Starts an attempt and persists its snapshot. Questions are fetched by
// the exam session endpoints.
func (h *ExamHandler) StartExam(c *gin.Context) {
	examID := model.ID(c.Param("exam_id"))
	if examID.IsZero() {
		response.Fail(c, http.StatusBadRequest, apperror.ErrInvalidID)
		return
	}

	exam, err := h.catalog.StartExam(c.Request.Context(), examID)
	if err != nil {
		response.FailErr(c, err)
		return
	}

	// The previous controller belongs to a finished attempt.
	h.examSessions.Reset()

	response.Success(c, http.StatusCreated, gin.H{"session": exam})
}
