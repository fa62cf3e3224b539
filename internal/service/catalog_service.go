package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/apperror"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/repository"
)

// CatalogGateway is the part of the backend API the catalog uses.
type CatalogGateway interface {
	ListExams(ctx context.Context) ([]model.ExamDescriptor, error)
	StartExam(ctx context.Context, examID model.ID) (*model.StartExamResponse, error)
}

// CatalogService lists exams and starts attempts.
type CatalogService struct {
	gw    CatalogGateway
	store *repository.SessionRepository
	log   zerolog.Logger
	now   func() time.Time
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(gw CatalogGateway, store *repository.SessionRepository, log zerolog.Logger) *CatalogService {
	return &CatalogService{
		gw:    gw,
		store: store,
		log:   log.With().Str("component", "catalog").Logger(),
		now:   time.Now,
	}
}

// ListExams returns the catalog narrowed by filter.
func (s *CatalogService) ListExams(ctx context.Context, filter model.ExamFilter) ([]model.ExamDescriptor, error) {
	if !filter.Valid() {
		return nil, apperror.ValidationFields(map[string]string{
			"filter": "filter must be one of all, active, inactive",
		})
	}
	exams, err := s.gw.ListExams(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.ExamDescriptor, 0, len(exams))
	for _, exam := range exams {
		if filter.Matches(exam) {
			out = append(out, exam)
		}
	}
	return out, nil
}

// CountActive returns how many exams are open for attempts.
func CountActive(exams []model.ExamDescriptor) int {
	n := 0
	for _, exam := range exams {
		if exam.IsActive {
			n++
		}
	}
	return n
}

// StartExam begins an attempt and persists its snapshot. It refuses to
// start while another attempt is still active.
func (s *CatalogService) StartExam(ctx context.Context, examID model.ID) (*model.ExamSession, error) {
	if examID.IsZero() {
		return nil, apperror.Validation(apperror.ErrInvalidID, "")
	}

	current, err := s.store.GetExamData(ctx)
	if err != nil {
		return nil, apperror.DataIntegrity(apperror.ErrCorruptStore, "", err)
	}
	if current.IsActive(s.now()) {
		s.log.Warn().
			Str("student_exam_id", current.StudentExamID.String()).
			Str("exam_id", examID.String()).
			Msg("Refusing to start a second exam")
		return nil, apperror.Validation(apperror.ErrExamAlreadyActive, "")
	}

	resp, err := s.gw.StartExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	exam, err := model.NewExamSession(resp)
	if err != nil {
		return nil, apperror.DataIntegrity(apperror.ErrInvalidPayload, "", err)
	}
	if err := s.store.SetExamData(ctx, exam); err != nil {
		return nil, fmt.Errorf("store exam session: %w", err)
	}

	s.log.Info().
		Str("student_exam_id", exam.StudentExamID.String()).
		Str("exam_id", exam.ExamID.String()).
		Str("end_time", exam.EndTime).
		Msg("Exam started")
	return exam, nil
}

// FormatDuration renders an exam timer for the catalog: 45s, 2m 5s or
// 1h 30m. Zero renders as N/A.
func FormatDuration(seconds int) string {
	switch {
	case seconds <= 0:
		return "N/A"
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	}
}

// FormatPassingScore renders scores above 100 as points, the rest as a
// percentage.
func FormatPassingScore(score float64) string {
	s := strconv.FormatFloat(score, 'f', -1, 64)
	if score > 100 {
		return s + " pts"
	}
	return s + "%"
}
