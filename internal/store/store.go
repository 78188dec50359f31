// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
)

// Repository persists learners, practice sessions, their messages and
// evaluations. Lookups of a missing session return an error matching
// domain.ErrSessionNotFound.
type Repository interface {
	// GetLearner retrieves a learner, or nil if none exists.
	GetLearner(ctx context.Context, learnerID string) (*domain.Learner, error)

	// UpsertLearner creates or updates a learner record.
	UpsertLearner(ctx context.Context, learner *domain.Learner) error

	// UpdateLastSeen updates the last_seen_at timestamp for a learner.
	UpdateLastSeen(ctx context.Context, learnerID string, lastSeen time.Time) error

	// CreateSession inserts a new session.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// UpdateSession overwrites the mutable fields of a session.
	UpdateSession(ctx context.Context, session *domain.Session) error

	// ListSessions returns a learner's sessions, most recently active first.
	ListSessions(ctx context.Context, learnerID string) ([]*domain.Session, error)

	// AppendMessage stores a message. It reports false, without error, when a
	// message with the same ID already exists.
	AppendMessage(ctx context.Context, msg *domain.Message) (bool, error)

	// ListMessages returns a session's messages in insertion order.
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// SaveEvaluation stores the evaluation and marks the session evaluated.
	SaveEvaluation(ctx context.Context, eval *domain.Evaluation, at time.Time) error

	// GetEvaluation retrieves a session's evaluation, or nil if it has none.
	GetEvaluation(ctx context.Context, sessionID string) (*domain.Evaluation, error)

	// ExpireIdleSessions moves active sessions idle since before cutoff to
	// completed and returns them.
	ExpireIdleSessions(ctx context.Context, cutoff time.Time) ([]*domain.Session, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
