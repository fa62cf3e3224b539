package model

import (
	"fmt"
	"time"
)

// SessionStatus enumerates exam session states as reported by the backend.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
)

// ExamSession is the persisted snapshot of one timed exam attempt.
type ExamSession struct {
	StudentExamID ID            `json:"student_exam_id"`
	ExamID        ID            `json:"exam_id"`
	ExamName      string        `json:"exam_name"`
	StartTime     string        `json:"start_time"`
	EndTime       string        `json:"end_time,omitempty"`
	Status        SessionStatus `json:"status"`
	MaxExamScore  float64       `json:"max_exam_score,omitempty"`
	ExamTimer     int           `json:"exam_timer"`
}

// NewExamSession builds the snapshot for a freshly started exam, deriving
// end_time from start_time + exam_timer.
func NewExamSession(resp *StartExamResponse) (*ExamSession, error) {
	start, err := ParseTimestamp(resp.StartTime)
	if err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	return &ExamSession{
		StudentExamID: resp.StudentExamID,
		ExamID:        resp.ExamID,
		ExamName:      resp.ExamName,
		StartTime:     resp.StartTime,
		EndTime:       FormatTimestamp(start.Add(time.Duration(resp.ExamTimer) * time.Second)),
		Status:        resp.Status,
		MaxExamScore:  resp.MaxExamScore,
		ExamTimer:     resp.ExamTimer,
	}, nil
}

// Start parses start_time.
func (s *ExamSession) Start() (time.Time, error) {
	return ParseTimestamp(s.StartTime)
}

// Deadline returns end_time, or start_time + exam_timer when end_time
// was never recorded.
func (s *ExamSession) Deadline() (time.Time, error) {
	if s.EndTime != "" {
		return ParseTimestamp(s.EndTime)
	}
	start, err := s.Start()
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(time.Duration(s.ExamTimer) * time.Second), nil
}

// IsActive reports status == in_progress and now < end_time.
// An unparseable deadline makes the session inactive.
func (s *ExamSession) IsActive(now time.Time) bool {
	if s == nil || s.Status != SessionStatusInProgress {
		return false
	}
	deadline, err := s.Deadline()
	if err != nil {
		return false
	}
	return now.Before(deadline)
}
