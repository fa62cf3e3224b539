package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/apperror"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/repository"
)

var examStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(offset time.Duration) {
	c.mu.Lock()
	c.now = examStart.Add(offset)
	c.mu.Unlock()
}

type submission struct {
	studentExamID  model.ID
	examQuestionID model.ID
	answerID       model.ID
}

type stubGateway struct {
	mu          sync.Mutex
	questions   []model.Question
	questionErr error
	submitErr   error
	completeErr error
	submitted   []submission
	completed   []model.ID

	// When set, SubmitAnswer signals started and blocks on release.
	started chan struct{}
	release chan struct{}
}

func (g *stubGateway) GetQuestions(_ context.Context, _ model.ID) ([]model.Question, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.questionErr != nil {
		return nil, g.questionErr
	}
	return g.questions, nil
}

func (g *stubGateway) SubmitAnswer(_ context.Context, studentExamID, examQuestionID, answerID model.ID) error {
	if g.started != nil {
		g.started <- struct{}{}
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return g.submitErr
	}
	g.submitted = append(g.submitted, submission{studentExamID, examQuestionID, answerID})
	return nil
}

func (g *stubGateway) CompleteExam(_ context.Context, studentExamID model.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed = append(g.completed, studentExamID)
	return g.completeErr
}

func (g *stubGateway) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submitted), len(g.completed)
}

type memoryJournal struct {
	mu     sync.Mutex
	events []model.ReconciliationEvent
}

func (j *memoryJournal) Record(_ context.Context, ev model.ReconciliationEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return nil
}

type harness struct {
	ctrl    *Controller
	repo    *repository.SessionRepository
	gw      *stubGateway
	clock   *clock
	ticks   chan time.Time
	journal *memoryJournal
}

func twoQuestions() []model.Question {
	return []model.Question{
		{ID: "q1", Text: "2 + 2", ExamQuestionID: "eq1", Answers: []model.Answer{{ID: "a1", Text: "3"}, {ID: "a2", Text: "4"}}},
		{ID: "q2", Text: "3 + 3", ExamQuestionID: "eq2", Answers: []model.Answer{{ID: "b1", Text: "6"}, {ID: "b2", Text: "7"}}},
	}
}

func newHarness(t *testing.T, timer int, questions []model.Question) *harness {
	t.Helper()
	h := &harness{
		repo:    repository.NewSessionRepository(repository.NewMemoryKV(), "test"),
		gw:      &stubGateway{questions: questions},
		clock:   &clock{now: examStart},
		ticks:   make(chan time.Time),
		journal: &memoryJournal{},
	}
	exam, err := model.NewExamSession(&model.StartExamResponse{
		StudentExamID: "se-1",
		ExamID:        "e1",
		ExamName:      "Arithmetic",
		StartTime:     model.FormatTimestamp(examStart),
		Status:        model.SessionStatusInProgress,
		ExamTimer:     timer,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.repo.SetExamData(context.Background(), exam); err != nil {
		t.Fatal(err)
	}
	h.ctrl = NewController(h.repo, h.gw, Options{Journal: h.journal, Now: h.clock.Now}, zerolog.Nop())
	h.ctrl.newTicker = func(time.Duration) (<-chan time.Time, func()) {
		return h.ticks, func() {}
	}
	t.Cleanup(h.ctrl.Close)
	return h
}

// tick applies one timer tick synchronously, so the clock can be moved
// right after it returns.
func (h *harness) tick() { h.ctrl.tick() }

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("controller did not finish, state %s", c.Snapshot().State)
	}
}

func requireCode(t *testing.T, err error, code apperror.ErrCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	if got := apperror.CodeOf(err); got != code {
		t.Fatalf("expected %s, got %s (%v)", code, got, err)
	}
}

func TestLoadComputesRemainingTime(t *testing.T) {
	h := newHarness(t, 600, twoQuestions())
	h.clock.Set(90*time.Second + 700*time.Millisecond)

	if err := h.ctrl.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	v := h.ctrl.Snapshot()
	if v.State != StateReady {
		t.Fatalf("state = %s", v.State)
	}
	if v.RemainingSeconds != 510 {
		t.Fatalf("remaining = %d, want 510", v.RemainingSeconds)
	}
	if v.Question == nil || v.Question.ID != "q1" || v.QuestionCount != 2 || v.IsLastQuestion {
		t.Fatalf("unexpected question view %+v", v)
	}
	if v.ExamName != "Arithmetic" || v.RemainingDisplay != "8:30" {
		t.Fatalf("unexpected header %q %q", v.ExamName, v.RemainingDisplay)
	}
}

func TestLoadWithoutSessionRedirects(t *testing.T) {
	h := newHarness(t, 600, twoQuestions())
	if err := h.repo.ClearExamData(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s := h.ctrl.Snapshot().State; s != StateRedirected {
		t.Fatalf("state = %s, want redirected", s)
	}
	waitDone(t, h.ctrl)
}

func TestLoadExpiredSessionRedirects(t *testing.T) {
	h := newHarness(t, 60, twoQuestions())
	h.clock.Set(61 * time.Second)
	if err := h.ctrl.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v := h.ctrl.Snapshot(); v.State != StateRedirected || v.Error != "" {
		t.Fatalf("expected silent redirect, got %+v", v)
	}
}

func TestLoadFailureThenRetry(t *testing.T) {
	h := newHarness(t, 600, twoQuestions())
	h.gw.questionErr = apperror.Transport(apperror.ErrRequestFailed, 500, "boom", nil)

	err := h.ctrl.Load(context.Background())
	requireCode(t, err, apperror.ErrLoadFailed)
	v := h.ctrl.Snapshot()
	if v.State != StateError || v.Error != "Failed to load questions: boom" {
		t.Fatalf("unexpected view %+v", v)
	}

	h.gw.mu.Lock()
	h.gw.questionErr = nil
	h.gw.mu.Unlock()
	if err := h.ctrl.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if v := h.ctrl.Snapshot(); v.State != StateReady || v.Error != "" {
		t.Fatalf("unexpected view after retry %+v", v)
	}
}

func TestRetryOutsideErrorState(t *testing.T) {
	h := newHarness(t, 600, twoQuestions())
	if err := h.ctrl.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	requireCode(t, h.ctrl.Retry(context.Background()), apperror.ErrSessionNotReady)
}

func TestZeroQuestionsIsDataIntegrityError(t *testing.T) {
	h := newHarness(t, 600, nil)
	err := h.ctrl.Load(context.Background())
	requireCode(t, err, apperror.ErrNoQuestions)
	if !apperror.IsKind(err, apperror.KindDataIntegrity) {
		t.Fatalf("expected data integrity error, got %v", err)
	}
	if s := h.ctrl.Snapshot().State; s != StateError {
		t.Fatalf("state = %s", s)
	}
}

func TestSelectAnswerMatchesIDsAcrossJSONForms(t *testing.T) {
	h := newHarness(t, 600, []model.Question{
		{ID: "12", ExamQuestionID: "120", Answers: []model.Answer{{ID: "3"}, {ID: "4"}}},
	})
	ctx := context.Background()
	if err := h.ctrl.Load(ctx); err != nil {
		t.Fatal(err)
	}

	h.ctrl.SelectAnswer(model.StringID("12"), model.StringID("4"))
	if got := h.ctrl.Snapshot().SelectedAnswer; got != "4" {
		t.Fatalf("selected = %q", got)
	}
	if err := h.ctrl.Submit(ctx); err != nil {
		t.Fatal(err)
	}

	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	if len(h.gw.submitted) != 1 || h.gw.submitted[0].answerID != "4" {
		t.Fatalf("submitted %+v", h.gw.submitted)
	}
}

func TestSelectAnswerLastWriteWins(t *testing.T) {
	h := newHarness(t, 600, twoQuestions())
	if err := h.ctrl.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.ctrl.SelectAnswer("q1", "a1")
	h.ctrl.SelectAnswer("q1", "a1")
	if got := h.ctrl.Snapshot().SelectedAnswer; got != "a1" {
		t.Fatalf("selected = %q", got)
	}
	h.ctrl.SelectAnswer("q1", "a2")

	h.ctrl.mu.Lock()
	n := len(h.ctrl.selected)
	got := h.ctrl.selected["q1"]
	h.ctrl.mu.Unlock()
	if n != 1 || got != "a2" {
		t.Fatalf("selections = %d, q1 = %q", n, got)
	}
}

func TestSubmitWithoutSelection(t *testing.T) {
	h := newHarness(t, 600, twoQuestions())
	if err := h.ctrl.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := h.ctrl.Submit(context.Background())
	requireCode(t, err, apperror.ErrNoAnswerSelected)
	if !apperror.IsKind(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if submitted, _ := h.gw.counts(); submitted != 0 {
		t.Fatalf("network called %d times", submitted)
	}
}

func TestSubmitAdvancesOneQuestion(t *testing.T) {
	h := newHarness(t, 600, twoQuestions())
	if err := h.ctrl.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.ctrl.SelectAnswer("q1", "a2")
	if err := h.ctrl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	v := h.ctrl.Snapshot()
	if v.State != StateReady || v.QuestionIndex != 1 || !v.IsLastQuestion {
		t.Fatalf("unexpected view %+v", v)
	}
	want := submission{"se-1", "eq1", "a2"}
	if h.gw.submitted[0] != want {
		t.Fatalf("submitted %+v, want %+v", h.gw.submitted[0], want)
	}
}

func TestSubmitFailureKeepsSelection(t *testing.T) {
	h := newHarness(t, 600, twoQuestions())
	if err := h.ctrl.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.ctrl.SelectAnswer("q1", "a1")
	h.gw.submitErr = apperror.Transport(apperror.ErrRequestFailed, 400, "Exam closed", nil)

	err := h.ctrl.Submit(context.Background())
	requireCode(t, err, apperror.ErrSubmitFailed)
	if got := apperror.MessageOf(err); got != "Failed to submit answer: Exam closed" {
		t.Fatalf("message = %q", got)
	}
	v := h.ctrl.Snapshot()
	if v.State != StateReady || v.QuestionIndex != 0 || v.SelectedAnswer != "a1" || v.Error == "" {
		t.Fatalf("unexpected view %+v", v)
	}

	h.gw.mu.Lock()
	h.gw.submitErr = nil
	h.gw.mu.Unlock()
	if err := h.ctrl.Submit(context.Background()); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if v := h.ctrl.Snapshot(); v.QuestionIndex != 1 || v.Error != "" {
		t.Fatalf("unexpected view after resubmit %+v", v)
	}
}

func TestSecondSubmitWhileInFlightIsRejected(t *testing.T) {
	h := newHarness(t, 600, twoQuestions())
	if err := h.ctrl.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.gw.started = make(chan struct{})
	h.gw.release = make(chan struct{})
	h.ctrl.SelectAnswer("q1", "a1")

	first := make(chan error, 1)
	go func() { first <- h.ctrl.Submit(context.Background()) }()
	<-h.gw.started

	if !h.ctrl.Snapshot().Submitting {
		t.Fatal("expected submitting view")
	}
	requireCode(t, h.ctrl.Submit(context.Background()), apperror.ErrSubmissionInFlight)

	close(h.gw.release)
	if err := <-first; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if submitted, _ := h.gw.counts(); submitted != 1 {
		t.Fatalf("submitted %d times, want 1", submitted)
	}
	if v := h.ctrl.Snapshot(); v.QuestionIndex != 1 {
		t.Fatalf("index = %d, want 1", v.QuestionIndex)
	}
}

func TestLastQuestionCompletesAndClearsStore(t *testing.T) {
	h := newHarness(t, 600, twoQuestions())
	ctx := context.Background()
	if err := h.ctrl.Load(ctx); err != nil {
		t.Fatal(err)
	}
	h.ctrl.SelectAnswer("q1", "a2")
	if err := h.ctrl.Submit(ctx); err != nil {
		t.Fatal(err)
	}
	h.ctrl.SelectAnswer("q2", "b1")
	if err := h.ctrl.Submit(ctx); err != nil {
		t.Fatalf("last submit: %v", err)
	}
	waitDone(t, h.ctrl)

	v := h.ctrl.Snapshot()
	if v.State != StateCompleted || v.CompletionReason != model.CompletionSubmitted {
		t.Fatalf("unexpected view %+v", v)
	}
	if submitted, completed := h.gw.counts(); submitted != 2 || completed != 1 {
		t.Fatalf("submitted %d completed %d", submitted, completed)
	}
	if exam, err := h.repo.GetExamData(ctx); err != nil || exam != nil {
		t.Fatalf("store not cleared: %+v %v", exam, err)
	}

	next := NewController(h.repo, h.gw, Options{Now: h.clock.Now}, zerolog.Nop())
	defer next.Close()
	if err := next.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if s := next.Snapshot().State; s != StateRedirected {
		t.Fatalf("fresh load state = %s, want redirected", s)
	}
}

func TestCompletionFailureStillTearsDown(t *testing.T) {
	h := newHarness(t, 600, twoQuestions()[:1])
	ctx := context.Background()
	if err := h.ctrl.Load(ctx); err != nil {
		t.Fatal(err)
	}
	h.gw.completeErr = apperror.Transport(apperror.ErrNetwork, 0, "", errors.New("connection reset"))
	h.ctrl.SelectAnswer("q1", "a1")

	err := h.ctrl.Submit(ctx)
	requireCode(t, err, apperror.ErrCompletionFailed)

	v := h.ctrl.Snapshot()
	if v.State != StateCompleted || v.CompletionError == "" {
		t.Fatalf("unexpected view %+v", v)
	}
	if exam, _ := h.repo.GetExamData(ctx); exam != nil {
		t.Fatal("store not cleared after failed completion")
	}
	if len(h.journal.events) != 1 {
		t.Fatalf("journaled %d events", len(h.journal.events))
	}
	ev := h.journal.events[0]
	if ev.StudentExamID != "se-1" || ev.ExamID != "e1" || ev.Reason != model.CompletionSubmitted || ev.Attempts != 1 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestTimerCountsDownFromWallClock(t *testing.T) {
	h := newHarness(t, 600, twoQuestions())
	if err := h.ctrl.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.clock.Set(1 * time.Second)
	h.tick()
	if got := h.ctrl.Snapshot().RemainingSeconds; got != 599 {
		t.Fatalf("remaining = %d, want 599", got)
	}
	h.clock.Set(42 * time.Second)
	h.tick()
	if got := h.ctrl.Snapshot().RemainingSeconds; got != 558 {
		t.Fatalf("remaining = %d, want 558", got)
	}

	// A clock step backwards never raises the remaining time.
	h.clock.Set(10 * time.Second)
	h.tick()
	if got := h.ctrl.Snapshot().RemainingSeconds; got != 558 {
		t.Fatalf("remaining = %d after clock step back", got)
	}
}

func TestTimeoutScenario(t *testing.T) {
	// exam_timer=5, two questions; Q1 answered at t=1s, nothing for Q2.
	h := newHarness(t, 5, twoQuestions())
	ctx := context.Background()
	if err := h.ctrl.Load(ctx); err != nil {
		t.Fatal(err)
	}

	h.clock.Set(time.Second)
	h.tick()
	h.ctrl.SelectAnswer("q1", "a1")
	if err := h.ctrl.Submit(ctx); err != nil {
		t.Fatal(err)
	}
	if v := h.ctrl.Snapshot(); v.QuestionIndex != 1 {
		t.Fatalf("index = %d", v.QuestionIndex)
	}

	for _, s := range []time.Duration{2, 3, 4} {
		h.clock.Set(s * time.Second)
		h.tick()
		if v := h.ctrl.Snapshot(); v.State != StateReady || v.RemainingSeconds != int(5-s) {
			t.Fatalf("t=%ds: state %s remaining %d", s, v.State, v.RemainingSeconds)
		}
	}
	h.clock.Set(5 * time.Second)
	h.tick()
	waitDone(t, h.ctrl)

	v := h.ctrl.Snapshot()
	if v.State != StateCompleted || v.CompletionReason != model.CompletionTimeout {
		t.Fatalf("unexpected view %+v", v)
	}
	if v.RemainingSeconds != 0 {
		t.Fatalf("remaining = %d", v.RemainingSeconds)
	}
	if submitted, completed := h.gw.counts(); submitted != 1 || completed != 1 {
		t.Fatalf("submitted %d completed %d", submitted, completed)
	}
	for _, s := range h.gw.submitted {
		if s.examQuestionID == "eq2" {
			t.Fatal("Q2 must not be submitted")
		}
	}
}

func TestTimeoutDiscardsPendingSelection(t *testing.T) {
	h := newHarness(t, 5, twoQuestions())
	ctx := context.Background()
	if err := h.ctrl.Load(ctx); err != nil {
		t.Fatal(err)
	}
	h.ctrl.SelectAnswer("q1", "a2")

	// Delivered through the running timer loop rather than applied
	// directly.
	h.clock.Set(5 * time.Second)
	h.ticks <- time.Time{}
	waitDone(t, h.ctrl)

	if submitted, completed := h.gw.counts(); submitted != 0 || completed != 1 {
		t.Fatalf("submitted %d completed %d", submitted, completed)
	}
	if exam, _ := h.repo.GetExamData(ctx); exam != nil {
		t.Fatal("store not cleared on timeout")
	}
	if v := h.ctrl.Snapshot(); v.SelectedAnswer != "" || v.Question != nil {
		t.Fatalf("selection survived completion: %+v", v)
	}
}

func TestTimeoutCompletionFailureIsNotSurfaced(t *testing.T) {
	h := newHarness(t, 5, twoQuestions())
	if err := h.ctrl.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.gw.completeErr = apperror.Transport(apperror.ErrRequestFailed, 500, "down", nil)

	h.clock.Set(6 * time.Second)
	h.tick()
	waitDone(t, h.ctrl)

	v := h.ctrl.Snapshot()
	if v.State != StateCompleted || v.Error != "" || v.CompletionError != "" {
		t.Fatalf("timeout failure leaked into view: %+v", v)
	}
	if len(h.journal.events) != 1 || h.journal.events[0].Reason != model.CompletionTimeout {
		t.Fatalf("unexpected journal %+v", h.journal.events)
	}
}

func TestTimeoutDuringSubmissionCompletesOnce(t *testing.T) {
	h := newHarness(t, 5, twoQuestions())
	ctx := context.Background()
	if err := h.ctrl.Load(ctx); err != nil {
		t.Fatal(err)
	}
	h.gw.started = make(chan struct{})
	h.gw.release = make(chan struct{})
	h.ctrl.SelectAnswer("q1", "a1")

	result := make(chan error, 1)
	go func() { result <- h.ctrl.Submit(ctx) }()
	<-h.gw.started

	h.clock.Set(5 * time.Second)
	h.tick()
	if _, completed := h.gw.counts(); completed != 0 {
		t.Fatal("timeout completed while a submission was resolving")
	}

	close(h.gw.release)
	if err := <-result; err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, h.ctrl)

	if submitted, completed := h.gw.counts(); submitted != 1 || completed != 1 {
		t.Fatalf("submitted %d completed %d", submitted, completed)
	}
	if v := h.ctrl.Snapshot(); v.CompletionReason != model.CompletionTimeout {
		t.Fatalf("reason = %s", v.CompletionReason)
	}
}

func TestCloseDiscardsLateTransitions(t *testing.T) {
	h := newHarness(t, 600, twoQuestions())
	ctx := context.Background()
	if err := h.ctrl.Load(ctx); err != nil {
		t.Fatal(err)
	}
	h.gw.started = make(chan struct{})
	h.gw.release = make(chan struct{})
	h.ctrl.SelectAnswer("q1", "a1")

	result := make(chan error, 1)
	go func() { result <- h.ctrl.Submit(ctx) }()
	<-h.gw.started

	h.ctrl.Close()
	waitDone(t, h.ctrl)

	close(h.gw.release)
	if err := <-result; err != nil {
		t.Fatalf("in-flight submit: %v", err)
	}
	if submitted, _ := h.gw.counts(); submitted != 1 {
		t.Fatal("in-flight submission was lost")
	}
	if v := h.ctrl.Snapshot(); v.QuestionIndex != 0 {
		t.Fatalf("transition applied after close: %+v", v)
	}
	if h.ctrl.tick() {
		t.Fatal("timer kept running after close")
	}
	if IsClosedError(h.ctrl.Submit(ctx)) == false {
		t.Fatal("expected closed error")
	}
}

func TestSubscribeSignalsChanges(t *testing.T) {
	h := newHarness(t, 600, twoQuestions())
	ch, cancel := h.ctrl.Subscribe()
	defer cancel()

	if err := h.ctrl.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
	default:
		t.Fatal("expected a change signal after Load")
	}

	h.ctrl.SelectAnswer("q1", "a1")
	select {
	case <-ch:
	default:
		t.Fatal("expected a change signal after SelectAnswer")
	}
}

func TestLowTimeFlag(t *testing.T) {
	h := newHarness(t, 600, twoQuestions())
	h.clock.Set(301 * time.Second)
	if err := h.ctrl.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if v := h.ctrl.Snapshot(); !v.TimeLow || v.RemainingSeconds != 299 {
		t.Fatalf("unexpected view %+v", v)
	}
}
