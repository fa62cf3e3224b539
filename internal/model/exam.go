package model

// ExamDescriptor is a catalog entry as listed by the backend.
type ExamDescriptor struct {
	ID            ID      `json:"id" binding:"required"`
	Name          string  `json:"exam_name"`
	Category      string  `json:"category"`
	Description   string  `json:"description"`
	QuestionCount int     `json:"number_of_questions"`
	ExamTimer     int     `json:"exam_timer"`
	PassingScore  float64 `json:"passing_score"`
	MaxScore      float64 `json:"max_score"`
	IsActive      bool    `json:"is_active"`
	CreatedAt     string  `json:"created_at,omitempty"`
	UpdatedAt     string  `json:"updated_at,omitempty"`
}

// ExamFilter narrows a catalog listing.
type ExamFilter string

const (
	ExamFilterAll      ExamFilter = "all"
	ExamFilterActive   ExamFilter = "active"
	ExamFilterInactive ExamFilter = "inactive"
)

// Valid reports whether f is a known filter. The empty filter means all.
func (f ExamFilter) Valid() bool {
	switch f {
	case "", ExamFilterAll, ExamFilterActive, ExamFilterInactive:
		return true
	}
	return false
}

// Matches reports whether exam passes the filter.
func (f ExamFilter) Matches(exam ExamDescriptor) bool {
	switch f {
	case ExamFilterActive:
		return exam.IsActive
	case ExamFilterInactive:
		return !exam.IsActive
	default:
		return true
	}
}

// StartExamRequest is the payload for starting an exam.
type StartExamRequest struct {
	ExamID ID `json:"exam_id"`
}

// StartExamResponse is returned by the backend when an exam attempt begins.
type StartExamResponse struct {
	StudentExamID ID            `json:"student_exam_id" binding:"required"`
	ExamID        ID            `json:"exam_id" binding:"required"`
	ExamName      string        `json:"exam_name"`
	StartTime     string        `json:"start_time" binding:"required"`
	Status        SessionStatus `json:"status" binding:"required"`
	MaxExamScore  float64       `json:"max_exam_score"`
	ExamTimer     int           `json:"exam_timer" binding:"gt=0"`
}
