package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-portal/internal/model"
)

// AuditRepository persists reconciliation events to PostgreSQL.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Upsert records the latest state of a reconciliation event.
func (r *AuditRepository) Upsert(ctx context.Context, ev *model.ReconciliationEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO reconciliation_events
		   (id, student_exam_id, exam_id, reason, last_error, attempts, occurred_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE
		 SET last_error = EXCLUDED.last_error,
		     attempts = EXCLUDED.attempts,
		     resolved_at = EXCLUDED.resolved_at,
		     updated_at = NOW()`,
		ev.ID, ev.StudentExamID.String(), ev.ExamID.String(), string(ev.Reason),
		ev.LastError, ev.Attempts, ev.OccurredAt, ev.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert reconciliation event: %w", err)
	}
	return nil
}

// ListUnresolved returns the most recent events the backend never acknowledged.
func (r *AuditRepository) ListUnresolved(ctx context.Context, limit int) ([]model.ReconciliationEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_exam_id, exam_id, reason, last_error, attempts, occurred_at, resolved_at
		 FROM reconciliation_events
		 WHERE resolved_at IS NULL
		 ORDER BY occurred_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query reconciliation events: %w", err)
	}
	defer rows.Close()

	var events []model.ReconciliationEvent
	for rows.Next() {
		var (
			ev            model.ReconciliationEvent
			studentExamID string
			examID        string
			reason        string
		)
		if err := rows.Scan(&ev.ID, &studentExamID, &examID, &reason, &ev.LastError, &ev.Attempts, &ev.OccurredAt, &ev.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan reconciliation event: %w", err)
		}
		ev.StudentExamID = model.ID(studentExamID)
		ev.ExamID = model.ID(examID)
		ev.Reason = model.CompletionReason(reason)
		events = append(events, ev)
	}
	return events, rows.Err()
}
