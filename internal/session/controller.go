package session

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/apperror"
	"github.com/stemsi/exstem-portal/internal/model"
)

// Store is the part of the session store the controller reads and destroys.
type Store interface {
	GetExamData(ctx context.Context) (*model.ExamSession, error)
	ClearExamData(ctx context.Context) error
}

// Gateway is the part of the remote API the controller drives.
type Gateway interface {
	GetQuestions(ctx context.Context, examID model.ID) ([]model.Question, error)
	SubmitAnswer(ctx context.Context, studentExamID, examQuestionID, answerID model.ID) error
	CompleteExam(ctx context.Context, studentExamID model.ID) error
}

// Options tunes a Controller. Zero values fall back to defaults.
type Options struct {
	TickInterval      time.Duration
	LowTimeThreshold  int
	CompletionTimeout time.Duration
	Journal           Journal
	Now               func() time.Time
}

const (
	defaultTickInterval      = time.Second
	defaultLowTimeThreshold  = 300
	defaultCompletionTimeout = 15 * time.Second
)

// Controller drives one timed exam attempt:
// Loading → {Error, Ready} → Submitting → {Ready, Completed}.
//
// At most one submission is in flight at a time. The timer task is owned
// by the controller and stopped by Close or on reaching a terminal state.
type Controller struct {
	store   Store
	gw      Gateway
	journal Journal
	log     zerolog.Logger

	now               func() time.Time
	tickInterval      time.Duration
	lowTime           int
	completionTimeout time.Duration
	newTicker         func(time.Duration) (<-chan time.Time, func())

	mu        sync.Mutex
	state     State
	loading   bool
	exam      *model.ExamSession
	start     time.Time
	deadline  time.Time
	questions []model.Question
	index     int
	selected  map[model.ID]model.ID
	remaining int
	inFlight  bool
	// expired is set when the deadline passes during a submission; the
	// submission then finishes the attempt with a timeout completion.
	expired       bool
	completing    bool
	lastErr       error
	reason        model.CompletionReason
	completionErr error
	closed        bool
	stopTimer     context.CancelFunc

	subscribers map[int]chan struct{}
	nextSub     int
	done        chan struct{}
	doneOnce    sync.Once
}

// NewController creates a Controller in the Loading state. Call Load to
// read the persisted session and fetch its questions.
func NewController(store Store, gw Gateway, opts Options, log zerolog.Logger) *Controller {
	log = log.With().Str("component", "exam_session").Logger()

	c := &Controller{
		store:             store,
		gw:                gw,
		journal:           opts.Journal,
		log:               log,
		now:               opts.Now,
		tickInterval:      opts.TickInterval,
		lowTime:           opts.LowTimeThreshold,
		completionTimeout: opts.CompletionTimeout,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		state:       StateLoading,
		selected:    make(map[model.ID]model.ID),
		subscribers: make(map[int]chan struct{}),
		done:        make(chan struct{}),
	}
	if c.journal == nil {
		c.journal = NewLogJournal(log)
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.tickInterval <= 0 {
		c.tickInterval = defaultTickInterval
	}
	if c.lowTime <= 0 {
		c.lowTime = defaultLowTimeThreshold
	}
	if c.completionTimeout <= 0 {
		c.completionTimeout = defaultCompletionTimeout
	}
	return c
}

// Load reads the persisted exam session and fetches its questions.
//
// A missing or inactive session moves the controller to Redirected and
// returns nil. A fetch failure moves it to Error and is returned; Retry
// runs the load again. Load is a no-op once questions are loaded.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperror.SessionInvalid(apperror.ErrSessionClosed)
	}
	if c.loading || (c.state != StateLoading && c.state != StateError) {
		c.mu.Unlock()
		return nil
	}
	c.loading = true
	c.state = StateLoading
	c.lastErr = nil
	c.notifyLocked()
	c.mu.Unlock()

	exam, questions, err := c.fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	if c.closed {
		return apperror.SessionInvalid(apperror.ErrSessionClosed)
	}

	now := c.now()
	switch {
	case err != nil:
		c.state = StateError
		c.lastErr = err
		c.notifyLocked()
		return err
	case exam == nil || !exam.IsActive(now):
		c.log.Info().Msg("No active exam session, redirecting to catalog")
		c.state = StateRedirected
		c.notifyLocked()
		c.finishLocked()
		return nil
	}

	// IsActive already proved both timestamps parse.
	c.start, _ = exam.Start()
	c.deadline, _ = exam.Deadline()
	c.exam = exam
	c.questions = questions
	c.index = 0
	c.remaining = c.remainingAt(now)
	c.state = StateReady

	c.log.Info().
		Str("student_exam_id", exam.StudentExamID.String()).
		Int("questions", len(questions)).
		Int("remaining_seconds", c.remaining).
		Msg("Exam session loaded")

	c.startTimerLocked()
	c.notifyLocked()
	return nil
}

// Retry re-runs the whole load after a failure.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != StateError {
		return apperror.Validation(apperror.ErrSessionNotReady, "")
	}
	return c.Load(ctx)
}

// fetch reads the snapshot and, for an active one, its question set.
// It returns a nil exam when there is nothing to take.
func (c *Controller) fetch(ctx context.Context) (*model.ExamSession, []model.Question, error) {
	exam, err := c.store.GetExamData(ctx)
	if err != nil {
		return nil, nil, apperror.DataIntegrity(apperror.ErrCorruptStore, "", err)
	}
	if exam == nil || !exam.IsActive(c.now()) {
		return nil, nil, nil
	}

	questions, err := c.gw.GetQuestions(ctx, exam.ExamID)
	if err != nil {
		c.log.Error().Err(err).Str("exam_id", exam.ExamID.String()).Msg("Failed to load questions")
		if apperror.IsKind(err, apperror.KindDataIntegrity) {
			return nil, nil, err
		}
		status := 0
		if appErr, ok := apperror.As(err); ok {
			status = appErr.Status
		}
		return nil, nil, apperror.Transport(apperror.ErrLoadFailed, status,
			apperror.GetMessage(apperror.ErrLoadFailed)+": "+apperror.MessageOf(err), err)
	}
	if len(questions) == 0 {
		return nil, nil, apperror.DataIntegrity(apperror.ErrNoQuestions, "", nil)
	}
	return exam, questions, nil
}

// SelectAnswer records answerID for questionID, replacing any earlier
// choice. Selections are ignored once the attempt has ended.
func (c *Controller) SelectAnswer(questionID, answerID model.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state.Terminal() {
		return
	}
	// Key selections by the ids the backend sent.
	for i := range c.questions {
		if q := &c.questions[i]; q.ID.Equal(questionID) {
			questionID = q.ID
			if a, ok := q.Answer(answerID); ok {
				answerID = a.ID
			}
			break
		}
	}
	if c.selected[questionID] == answerID {
		return
	}
	c.selected[questionID] = answerID
	c.lastErr = nil
	c.notifyLocked()
}

// Submit sends the selection for the current question.
//
// Without a selection it fails with a validation error and makes no
// network call; the same holds while another submission is in flight.
// A failed submission keeps the selection so it can be resubmitted.
// Submitting the last question completes the attempt; the local session
// is torn down even when the completion call fails, in which case that
// failure is returned.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperror.SessionInvalid(apperror.ErrSessionClosed)
	}
	if c.state.Terminal() {
		c.mu.Unlock()
		return apperror.SessionInvalid(apperror.ErrSessionInactive)
	}
	if c.inFlight || c.completing {
		c.mu.Unlock()
		return apperror.Validation(apperror.ErrSubmissionInFlight, "")
	}
	if c.state != StateReady {
		c.mu.Unlock()
		return apperror.Validation(apperror.ErrSessionNotReady, "")
	}
	if c.index >= len(c.questions) {
		c.mu.Unlock()
		return apperror.DataIntegrity(apperror.ErrQuestionNotFound, "", nil)
	}

	question := c.questions[c.index]
	answerID, ok := c.selected[question.ID]
	if !ok || answerID.IsZero() {
		c.mu.Unlock()
		return apperror.Validation(apperror.ErrNoAnswerSelected, "")
	}

	exam := c.exam
	isLast := c.index == len(c.questions)-1
	c.inFlight = true
	c.state = StateSubmitting
	c.lastErr = nil
	c.notifyLocked()
	c.mu.Unlock()

	err := c.gw.SubmitAnswer(ctx, exam.StudentExamID, question.ExamQuestionID, answerID)

	c.mu.Lock()
	c.inFlight = false
	if err != nil {
		err = submitError(err)
		c.log.Warn().Err(err).Str("exam_question_id", question.ExamQuestionID.String()).Msg("Answer submission failed")
		if c.expired {
			c.completing = true
			c.mu.Unlock()
			c.complete(model.CompletionTimeout)
			return err
		}
		if !c.closed {
			c.state = StateReady
			c.lastErr = err
			c.notifyLocked()
		}
		c.mu.Unlock()
		return err
	}

	c.log.Debug().
		Str("exam_question_id", question.ExamQuestionID.String()).
		Bool("last", isLast).
		Msg("Answer submitted")

	switch {
	case isLast:
		c.completing = true
		c.mu.Unlock()
		return c.complete(model.CompletionSubmitted)
	case c.expired:
		c.completing = true
		c.mu.Unlock()
		c.complete(model.CompletionTimeout)
		return nil
	}

	if !c.closed {
		c.index++
		c.state = StateReady
		c.notifyLocked()
	}
	c.mu.Unlock()
	return nil
}

func submitError(err error) error {
	if apperror.IsKind(err, apperror.KindDataIntegrity) {
		return err
	}
	status := 0
	if appErr, ok := apperror.As(err); ok {
		status = appErr.Status
	}
	return apperror.Transport(apperror.ErrSubmitFailed, status,
		apperror.GetMessage(apperror.ErrSubmitFailed)+": "+apperror.MessageOf(err), err)
}

// complete calls the backend completion endpoint and tears down the local
// session regardless of the outcome. The caller must have set completing.
// The returned error is the completion failure, if any.
func (c *Controller) complete(reason model.CompletionReason) error {
	c.mu.Lock()
	exam := c.exam
	c.mu.Unlock()

	// Completion outlives Close and the caller's context.
	ctx, cancel := context.WithTimeout(context.Background(), c.completionTimeout)
	defer cancel()

	var result error
	if err := c.gw.CompleteExam(ctx, exam.StudentExamID); err != nil {
		c.log.Error().Err(err).
			Str("student_exam_id", exam.StudentExamID.String()).
			Str("reason", string(reason)).
			Msg("Completion call failed, closing the exam locally")

		ev := model.ReconciliationEvent{
			ID:            uuid.New(),
			StudentExamID: exam.StudentExamID,
			ExamID:        exam.ExamID,
			Reason:        reason,
			LastError:     apperror.MessageOf(err),
			Attempts:      1,
			OccurredAt:    c.now().UTC(),
		}
		if jerr := c.journal.Record(ctx, ev); jerr != nil {
			c.log.Error().Err(jerr).Str("event_id", ev.ID.String()).Msg("Failed to journal reconciliation event")
		}
		status := 0
		if appErr, ok := apperror.As(err); ok {
			status = appErr.Status
		}
		result = apperror.Transport(apperror.ErrCompletionFailed, status, "", err)
	}

	if err := c.store.ClearExamData(ctx); err != nil {
		c.log.Error().Err(err).Msg("Failed to clear exam session")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	if c.closed {
		return result
	}
	c.state = StateCompleted
	c.reason = reason
	c.selected = make(map[model.ID]model.ID)
	c.lastErr = nil
	if reason == model.CompletionSubmitted {
		c.completionErr = result
	}
	c.log.Info().
		Str("student_exam_id", exam.StudentExamID.String()).
		Str("reason", string(reason)).
		Msg("Exam session completed")
	c.notifyLocked()
	c.finishLocked()

	if reason == model.CompletionTimeout {
		// Timer-driven completion never surfaces an error.
		return nil
	}
	return result
}

func (c *Controller) startTimerLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	c.stopTimer = cancel
	ticks, stop := c.newTicker(c.tickInterval)
	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				if !c.tick() {
					return
				}
			}
		}
	}()
}

func (c *Controller) stopTimerLocked() {
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}

// tick resyncs the remaining time and runs the timeout completion at
// zero. It reports whether the timer should keep running.
func (c *Controller) tick() bool {
	c.mu.Lock()
	if c.closed || c.completing || c.state.Terminal() {
		c.mu.Unlock()
		return false
	}

	if r := c.remainingAt(c.now()); r < c.remaining {
		c.remaining = r
		c.notifyLocked()
	}
	if c.remaining > 0 {
		c.mu.Unlock()
		return true
	}

	c.stopTimerLocked()
	if c.inFlight {
		c.expired = true
		c.mu.Unlock()
		return false
	}
	c.completing = true
	c.mu.Unlock()

	c.log.Info().Msg("Exam time is up, completing without pending answer")
	c.complete(model.CompletionTimeout)
	return false
}

// remainingAt is bounded by both start_time + exam_timer and end_time.
// The two agree whenever end_time was derived from start_time.
func (c *Controller) remainingAt(now time.Time) int {
	remaining := RemainingSeconds(c.start, c.exam.ExamTimer, now)
	untilDeadline := int(math.Ceil(c.deadline.Sub(now).Seconds()))
	if untilDeadline < remaining {
		remaining = untilDeadline
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Close stops the timer. A submission already in flight keeps running
// but its state transitions are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stopTimerLocked()
	c.finishLocked()
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		State:            c.state,
		QuestionIndex:    c.index,
		QuestionCount:    len(c.questions),
		RemainingSeconds: c.remaining,
		RemainingDisplay: FormatTime(c.remaining),
		Submitting:       c.inFlight || (c.completing && !c.state.Terminal()),
		CompletionReason: c.reason,
	}
	if c.exam != nil {
		v.ExamName = c.exam.ExamName
		v.StudentExamID = c.exam.StudentExamID
		v.TimeLow = c.state != StateCompleted && IsTimeRunningLow(c.remaining, c.lowTime)
	}
	if !c.state.Terminal() && c.index < len(c.questions) {
		q := c.questions[c.index]
		v.Question = &q
		v.SelectedAnswer = c.selected[q.ID]
		v.IsLastQuestion = c.index == len(c.questions)-1
	}
	if c.lastErr != nil {
		v.Error = apperror.MessageOf(c.lastErr)
		v.ErrorCode = apperror.CodeOf(c.lastErr)
	}
	if c.completionErr != nil {
		v.CompletionError = apperror.MessageOf(c.completionErr)
	}
	return v
}

// Subscribe returns a channel signalled after every state change, and a
// func that unsubscribes. Signals coalesce; read Snapshot for the state.
func (c *Controller) Subscribe() (<-chan struct{}, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan struct{}, 1)
	c.subscribers[id] = ch
	return ch, func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// Done is closed once the controller reaches a terminal state or is closed.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Err returns the error behind the Error state, or the last inline error.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// CompletionErr returns the completion failure of a submitted attempt.
func (c *Controller) CompletionErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completionErr
}

func (c *Controller) notifyLocked() {
	for _, ch := range c.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *Controller) finishLocked() {
	c.doneOnce.Do(func() { close(c.done) })
}

// IsClosedError reports whether err comes from using a closed controller.
func IsClosedError(err error) bool {
	return err != nil && apperror.CodeOf(err) == apperror.ErrSessionClosed
}
