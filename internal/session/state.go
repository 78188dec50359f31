package session

import (
	"context"
	"errors"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
)

var (
	// ErrOffline is returned by Evaluate when the caller reports no connectivity.
	ErrOffline = errors.New("cannot evaluate while offline")

	// ErrNoActiveSession is returned when an operation needs a current session
	// and the manager has none.
	ErrNoActiveSession = errors.New("no active session")
)

// RemoteStore is the server-side record of sessions and their messages.
// Get and ListMessages return an error matching domain.ErrSessionNotFound
// when the session no longer exists.
type RemoteStore interface {
	Create(ctx context.Context, req domain.CreateSessionRequest) (*domain.CreateSessionResult, error)
	Get(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error)
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
	PostMessage(ctx context.Context, sessionID string, req domain.PostMessageRequest) (*domain.PostMessageResult, error)
	SaveEvaluation(ctx context.Context, sessionID string, eval *domain.Evaluation) (*domain.SessionSnapshot, error)
}

// Evaluator grades a transcript. *evaluation.Evaluator implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, scenario *domain.Scenario, sessionID string, messages []domain.Message) (*domain.Evaluation, error)
}

// State is the complete view of the current session.
type State struct {
	Session    *domain.Session    `json:"session"`
	Messages   []domain.Message   `json:"messages"`
	Evaluation *domain.Evaluation `json:"evaluation,omitempty"`
	Scenario   *domain.Scenario   `json:"scenario,omitempty"`
}

// Clone returns a deep copy so callers can hold state across later calls.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := &State{
		Evaluation: s.Evaluation.Clone(),
		Scenario:   s.Scenario,
	}
	if s.Session != nil {
		c.Session = s.Session.Clone()
	}
	c.Messages = make([]domain.Message, len(s.Messages))
	for i, m := range s.Messages {
		m.Tags = append([]string(nil), m.Tags...)
		c.Messages[i] = m
	}
	return c
}
