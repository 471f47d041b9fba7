package grading

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/promptathon/gateway/internal/domain"
	"github.com/promptathon/gateway/internal/errors"
	"github.com/promptathon/gateway/internal/event"
	"github.com/promptathon/gateway/internal/scorer"
	"github.com/promptathon/gateway/internal/session"
	"github.com/promptathon/gateway/internal/upstream"
)

// User-facing messages. The raw transport error never reaches the
// participant.
const (
	msgEmptyPrompt = "Please write a prompt first."
	msgNetworkFail = "Could not reach the grading service. Your prompt was not scored - please try again."
)

// Grader is the remote grading surface.
type Grader interface {
	Grade(ctx context.Context, req upstream.GradeRequest) (*upstream.GradeResponse, error)
}

type Config struct {
	Grader   Grader
	Sessions *session.Service
	EventBus *event.Bus

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Service drives the submit-and-score workflow: one grading attempt per
// session at a time, moving Idle -> Submitting -> Graded or Failed. A
// failed or graded attempt may be resubmitted; elapsed time always
// measures from the original challenge-view entry, never per attempt.
//
// Policy on remote failure: hard error. A transport failure or an
// ok:false reply yields no score and records nothing; the heuristic is
// only a safety net for an ok reply that omits its score.
type Service struct {
	grader Grader
	ss     *session.Service
	eb     *event.Bus
	now    func() time.Time

	mu       sync.Mutex
	attempts map[string]*attempt
}

type attempt struct {
	state  domain.AttemptState
	result domain.GradeResult
}

func NewService(c Config) *Service {
	s := &Service{
		grader:   c.Grader,
		ss:       c.Sessions,
		eb:       c.EventBus,
		now:      c.Now,
		attempts: make(map[string]*attempt),
	}

	if s.now == nil {
		s.now = time.Now
	}

	// Drop per-session attempt state when the session ends, so a late
	// grading reply has nothing left to touch.
	s.eb.Subscribe(domain.EventNameSessionEnded, func(ctx context.Context, e event.Event) error {
		s.drop(e.(domain.EventSessionEnded).SessionID)
		return nil
	})

	return s
}

type SubmitRequest struct {
	SessionID string
	Prompt    string
}

type SubmitResponse struct {
	State  domain.AttemptState
	Result domain.GradeResult
}

// Submit runs one grading attempt for the session's authored prompt.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef(msgEmptyPrompt))
	}

	st, err := s.ss.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if !st.Enrolled() {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("enrollment incomplete: name and category are required before submitting"))
	}

	if !s.begin(req.SessionID) {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("a submission is already being graded for this session"))
	}

	sub := domain.Submission{
		Name:           st.Name,
		Email:          st.Email,
		Category:       st.Category,
		Prompt:         prompt,
		ElapsedSeconds: s.elapsedSeconds(st),
	}

	result := s.grade(ctx, sub)

	state := domain.AttemptGraded
	if !result.OK {
		state = domain.AttemptFailed
	}
	s.finish(req.SessionID, state, result)

	if result.OK {
		s.eb.Publish(ctx, domain.EventSubmissionGraded{
			SessionID:  req.SessionID,
			Submission: sub,
			Result:     result,
		})
	}

	return &SubmitResponse{State: state, Result: result}, nil
}

func (s *Service) grade(ctx context.Context, sub domain.Submission) domain.GradeResult {
	resp, err := s.grader.Grade(ctx, upstream.GradeRequest{
		Name:           sub.Name,
		Email:          sub.Email,
		Category:       sub.Category,
		Prompt:         sub.Prompt,
		ElapsedSeconds: sub.ElapsedSeconds,
	})
	if err != nil {
		slog.ErrorContext(ctx, "grading: remote call failed", "error", err)
		return domain.GradeResult{Error: msgNetworkFail, GradedAt: s.now()}
	}

	if !resp.OK {
		// Surface the server-reported reason verbatim.
		msg := resp.Error
		if msg == "" {
			msg = "grading failed"
		}
		return domain.GradeResult{Error: msg, GradedAt: s.now()}
	}

	result := domain.GradeResult{OK: true, GradedAt: s.now()}

	switch {
	case resp.Score != nil:
		result.Score = roundScore(*resp.Score)
	case resp.Details != nil && resp.Details.OverallScore != nil:
		result.Score = roundScore(*resp.Details.OverallScore)
	default:
		// An ok reply without a score still deserves one; fall back to
		// the local estimate and mark it as such.
		result.Score = scorer.Score(sub.Prompt)
		result.Estimated = true
	}

	if resp.Details != nil && len(resp.Details.Cases) > 0 {
		result.SampleOutput = resp.Details.Cases[0].ModelOutput
	}

	return result
}

// Estimate rates the prompt with the local heuristic only. The value is
// an explicit non-authoritative preview.
func (*Service) Estimate(prompt string) int {
	return scorer.Score(prompt)
}

// State reports the session's current attempt phase.
func (s *Service) State(sessionID string) domain.AttemptState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.attempts[sessionID]; ok {
		return a.state
	}

	return domain.AttemptIdle
}

// LastResult returns the outcome of the most recent finished attempt.
func (s *Service) LastResult(sessionID string) (domain.GradeResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[sessionID]
	if !ok || a.state == domain.AttemptSubmitting {
		return domain.GradeResult{}, false
	}

	return a.result, true
}

// begin moves the session to Submitting unless an attempt is already in
// flight.
func (s *Service) begin(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.attempts[sessionID]; ok && a.state == domain.AttemptSubmitting {
		return false
	}

	s.attempts[sessionID] = &attempt{state: domain.AttemptSubmitting}
	return true
}

func (s *Service) finish(sessionID string, state domain.AttemptState, result domain.GradeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.attempts[sessionID]; ok {
		a.state = state
		a.result = result
	}
}

func (s *Service) drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.attempts, sessionID)
}

// elapsedSeconds measures wall-clock time since the challenge-view
// entry anchor, rounded to the nearest second.
func (s *Service) elapsedSeconds(st session.State) int64 {
	if st.StartedAt.IsZero() {
		return 0
	}

	d := s.now().Sub(st.StartedAt)
	if d < 0 {
		return 0
	}

	return int64(math.Round(d.Seconds()))
}

func roundScore(v float64) int {
	return int(math.Round(v))
}
