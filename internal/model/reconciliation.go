package model

import (
	"time"

	"github.com/google/uuid"
)

// CompletionReason records how an exam attempt ended on the client.
type CompletionReason string

const (
	CompletionSubmitted CompletionReason = "submitted"
	CompletionTimeout   CompletionReason = "timeout"
)

// ReconciliationEvent records an attempt that was torn down locally while
// the backend did not acknowledge the completion call.
type ReconciliationEvent struct {
	ID            uuid.UUID        `json:"id"`
	StudentExamID ID               `json:"student_exam_id"`
	ExamID        ID               `json:"exam_id"`
	Reason        CompletionReason `json:"reason"`
	LastError     string           `json:"last_error"`
	Attempts      int              `json:"attempts"`
	OccurredAt    time.Time        `json:"occurred_at"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
}
