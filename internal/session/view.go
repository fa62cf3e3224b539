package session

import (
	"github.com/stemsi/exstem-portal/internal/apperror"
	"github.com/stemsi/exstem-portal/internal/model"
)

// State is the controller's position in the exam-taking state machine.
type State string

const (
	StateLoading    State = "loading"
	StateError      State = "error"
	StateReady      State = "ready"
	StateSubmitting State = "submitting"
	StateCompleted  State = "completed"
	// StateRedirected means there was no active session to take; the
	// student belongs back in the catalog.
	StateRedirected State = "redirected"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRedirected
}

// View is a read-only projection of the controller for rendering.
type View struct {
	State            State                  `json:"state"`
	ExamName         string                 `json:"exam_name,omitempty"`
	StudentExamID    model.ID               `json:"student_exam_id,omitempty"`
	Question         *model.Question        `json:"question,omitempty"`
	QuestionIndex    int                    `json:"question_index"`
	QuestionCount    int                    `json:"question_count"`
	SelectedAnswer   model.ID               `json:"selected_answer,omitempty"`
	IsLastQuestion   bool                   `json:"is_last_question"`
	RemainingSeconds int                    `json:"remaining_seconds"`
	RemainingDisplay string                 `json:"remaining_display"`
	TimeLow          bool                   `json:"time_low"`
	Submitting       bool                   `json:"submitting"`
	Error            string                 `json:"error,omitempty"`
	ErrorCode        apperror.ErrCode       `json:"error_code,omitempty"`
	CompletionReason model.CompletionReason `json:"completion_reason,omitempty"`
	CompletionError  string                 `json:"completion_error,omitempty"`
}

// Progress returns the fraction of the exam reached, counting the
// current question, in [0, 1].
func (v View) Progress() float64 {
	if v.QuestionCount == 0 {
		return 0
	}
	return float64(v.QuestionIndex+1) / float64(v.QuestionCount)
}
