package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/apperror"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/repository"
)

const (
	ReconcilePollTimeout = 1 * time.Second
	ReconcileRetryDelay  = 5 * time.Second
	ReconcileMaxAttempts = 5
)

// Queue is the reconciliation event list.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
	TryPop(ctx context.Context) ([]byte, error)
	Push(ctx context.Context, payload []byte) error
}

// AuditStore keeps the history of every reconciliation attempt.
type AuditStore interface {
	Upsert(ctx context.Context, ev *model.ReconciliationEvent) error
}

// Completer re-sends the completion call for an attempt.
type Completer interface {
	CompleteExam(ctx context.Context, studentExamID model.ID) error
}

// ReconcileWorker consumes the reconciliation queue, retries the backend
// completion call for every attempt that was closed locally without an
// acknowledgement, and records each outcome in the audit store.
type ReconcileWorker struct {
	queue       Queue
	audit       AuditStore
	gw          Completer
	log         zerolog.Logger
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
}

// NewReconcileWorker creates a new ReconcileWorker. audit may be nil, in
// which case outcomes are only logged.
func NewReconcileWorker(queue Queue, audit AuditStore, gw Completer, log zerolog.Logger) *ReconcileWorker {
	return &ReconcileWorker{
		queue:       queue,
		audit:       audit,
		gw:          gw,
		log:         log.With().Str("component", "reconcile_worker").Logger(),
		maxAttempts: ReconcileMaxAttempts,
		retryDelay:  ReconcileRetryDelay,
		now:         time.Now,
	}
}

type outcome int

const (
	resolved outcome = iota
	retry
	abandoned
)

// Start begins the infinite worker loop. Call in a goroutine.
func (w *ReconcileWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.Drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ReconcileWorker) processNext(ctx context.Context) {
	payload, err := w.queue.Pop(ctx, ReconcilePollTimeout)
	if err != nil {
		if !errors.Is(err, repository.ErrQueueEmpty) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Pop error")
		}
		return
	}

	if w.handle(ctx, payload) == retry {
		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
		}
	}
}

// Drain processes the events currently queued and returns how many were
// taken off the queue. It stops at the first event that has to be
// retried, leaving it queued.
func (w *ReconcileWorker) Drain(ctx context.Context) int {
	drained := 0
	for {
		payload, err := w.queue.TryPop(ctx)
		if err != nil {
			if !errors.Is(err, repository.ErrQueueEmpty) {
				w.log.Error().Err(err).Msg("Drain pop error")
			}
			break
		}
		if w.handle(ctx, payload) == retry {
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
	return drained
}

// handle runs one completion attempt. Events that need another attempt
// are pushed back to the tail of the queue.
func (w *ReconcileWorker) handle(ctx context.Context, payload []byte) outcome {
	var ev model.ReconciliationEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return abandoned
	}

	ev.Attempts++
	err := w.gw.CompleteExam(ctx, ev.StudentExamID)
	if err == nil {
		now := w.now().UTC()
		ev.ResolvedAt = &now
		ev.LastError = ""
		w.persist(ctx, &ev)
		w.log.Info().
			Str("event_id", ev.ID.String()).
			Str("student_exam_id", ev.StudentExamID.String()).
			Int("attempts", ev.Attempts).
			Msg("Exam completion reconciled")
		return resolved
	}

	ev.LastError = apperror.MessageOf(err)
	w.persist(ctx, &ev)

	if !retryable(err) || ev.Attempts >= w.maxAttempts {
		w.log.Error().Err(err).
			Str("event_id", ev.ID.String()).
			Str("student_exam_id", ev.StudentExamID.String()).
			Int("attempts", ev.Attempts).
			Msg("Giving up on exam completion")
		return abandoned
	}

	w.log.Warn().Err(err).
		Str("event_id", ev.ID.String()).
		Int("attempts", ev.Attempts).
		Msg("Completion retry failed, requeueing")

	requeue, _ := json.Marshal(ev)
	if err := w.queue.Push(ctx, requeue); err != nil {
		w.log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("Requeue failed")
		return abandoned
	}
	return retry
}

func (w *ReconcileWorker) persist(ctx context.Context, ev *model.ReconciliationEvent) {
	if w.audit == nil {
		return
	}
	if err := w.audit.Upsert(ctx, ev); err != nil {
		w.log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("Audit upsert failed")
	}
}

// retryable reports whether a completion failure may succeed later.
// Client errors other than timeouts and throttling will not.
func retryable(err error) bool {
	appErr, ok := apperror.As(err)
	if !ok || appErr.Status == 0 {
		return true
	}
	switch appErr.Status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return appErr.Status >= 500
}
