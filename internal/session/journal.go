package session

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/model"
)

// Journal records attempts that were torn down locally without a
// completion acknowledgement from the backend.
type Journal interface {
	Record(ctx context.Context, ev model.ReconciliationEvent) error
}

// LogJournal writes reconciliation events to the log only.
type LogJournal struct {
	log zerolog.Logger
}

// NewLogJournal creates a LogJournal.
func NewLogJournal(log zerolog.Logger) *LogJournal {
	return &LogJournal{log: log.With().Str("component", "reconcile_journal").Logger()}
}

func (j *LogJournal) Record(_ context.Context, ev model.ReconciliationEvent) error {
	j.log.Warn().
		Str("event_id", ev.ID.String()).
		Str("student_exam_id", ev.StudentExamID.String()).
		Str("exam_id", ev.ExamID.String()).
		Str("reason", string(ev.Reason)).
		Str("error", ev.LastError).
		Msg("Exam closed locally without server acknowledgement")
	return nil
}
