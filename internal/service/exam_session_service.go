package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/session"
)

// ExamSessionService owns the controller of the attempt being taken.
// One controller exists at a time; a fresh one replaces it once it has
// finished or been closed.
type ExamSessionService struct {
	store session.Store
	gw    session.Gateway
	opts  session.Options
	log   zerolog.Logger

	mu      sync.Mutex
	current *session.Controller
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(store session.Store, gw session.Gateway, opts session.Options, log zerolog.Logger) *ExamSessionService {
	return &ExamSessionService{store: store, gw: gw, opts: opts, log: log}
}

// Current returns the live controller, creating and loading a new one
// when there is none. The load error, if any, is returned together with
// the controller, which is then in the Error state.
func (s *ExamSessionService) Current(ctx context.Context) (*session.Controller, error) {
	s.mu.Lock()
	if s.current != nil && !finished(s.current) {
		c := s.current
		s.mu.Unlock()
		return c, nil
	}
	c := session.NewController(s.store, s.gw, s.opts, s.log)
	s.current = c
	s.mu.Unlock()

	return c, c.Load(ctx)
}

// Peek returns the latest controller without creating one. It may have
// finished already; its final view stays readable until Reset.
func (s *ExamSessionService) Peek() *session.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Latest returns the controller a viewer should see. The last controller
// is kept while it is live, and after it finished as long as no other
// attempt is active in the store. Otherwise a fresh one is loaded through
// Current.
func (s *ExamSessionService) Latest(ctx context.Context) *session.Controller {
	c := s.Peek()
	if c != nil {
		state := c.Snapshot().State
		if state != session.StateRedirected && (!state.Terminal() || !s.examActive(ctx)) {
			return c
		}
	}
	c, _ = s.Current(ctx)
	return c
}

func (s *ExamSessionService) examActive(ctx context.Context) bool {
	exam, err := s.store.GetExamData(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read exam data")
		return false
	}
	now := time.Now()
	if s.opts.Now != nil {
		now = s.opts.Now()
	}
	return exam.IsActive(now)
}

// Reset closes the live controller so the next Current starts over.
func (s *ExamSessionService) Reset() {
	s.mu.Lock()
	c := s.current
	s.current = nil
	s.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

func finished(c *session.Controller) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}
