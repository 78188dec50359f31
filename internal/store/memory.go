package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
)

// MemoryStore is a Repository kept entirely in process memory. It is used by
// tests and by `serve --db-path :memory:`.
type MemoryStore struct {
	mu          sync.RWMutex
	learners    map[string]domain.Learner
	sessions    map[string]*domain.Session
	messages    map[string][]domain.Message
	messageIDs  map[string]struct{}
	evaluations map[string]*domain.Evaluation
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		learners:    make(map[string]domain.Learner),
		sessions:    make(map[string]*domain.Session),
		messages:    make(map[string][]domain.Message),
		messageIDs:  make(map[string]struct{}),
		evaluations: make(map[string]*domain.Evaluation),
	}
}

func (m *MemoryStore) GetLearner(_ context.Context, learnerID string) (*domain.Learner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.learners[learnerID]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (m *MemoryStore) UpsertLearner(_ context.Context, learner *domain.Learner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.learners[learner.LearnerID]; ok {
		existing.DisplayName = learner.DisplayName
		existing.LastSeenAt = learner.LastSeenAt
		existing.UpdatedAt = learner.UpdatedAt
		m.learners[learner.LearnerID] = existing
		return nil
	}
	m.learners[learner.LearnerID] = *learner
	return nil
}

func (m *MemoryStore) UpdateLastSeen(_ context.Context, learnerID string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.learners[learnerID]
	if !ok {
		return nil
	}
	l.LastSeenAt = lastSeen
	l.UpdatedAt = time.Now()
	m.learners[learnerID] = l
	return nil
}

func (m *MemoryStore) CreateSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; ok {
		return fmt.Errorf("insert session: duplicate id %s", session.ID)
	}
	m.sessions[session.ID] = normalizeSession(session)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[session.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, session.ID)
	}
	updated := normalizeSession(session)
	s.Status = updated.Status
	s.LastActivityAt = updated.LastActivityAt
	s.Progress = updated.Progress
	s.MissionStatus = updated.MissionStatus
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context, learnerID string) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := []*domain.Session{}
	for _, s := range m.sessions {
		if s.LearnerID == learnerID {
			sessions = append(sessions, s.Clone())
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].LastActivityAt.Equal(sessions[j].LastActivityAt) {
			return sessions[i].LastActivityAt.After(sessions[j].LastActivityAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg *domain.Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.messageIDs[msg.ID]; dup {
		return false, nil
	}
	stored := *msg
	stored.Tags = append([]string(nil), msg.Tags...)
	if len(stored.Tags) == 0 {
		stored.Tags = nil
	}
	m.messageIDs[msg.ID] = struct{}{}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], stored)
	return true, nil
}

func (m *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.messages[sessionID]
	msgs := make([]domain.Message, len(src))
	for i, msg := range src {
		msg.Tags = append([]string(nil), msg.Tags...)
		if len(msg.Tags) == 0 {
			msg.Tags = nil
		}
		msgs[i] = msg
	}
	return msgs, nil
}

func (m *MemoryStore) SaveEvaluation(_ context.Context, eval *domain.Evaluation, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[eval.SessionID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, eval.SessionID)
	}
	s.Status = domain.StatusEvaluated
	s.LastActivityAt = at
	m.evaluations[eval.SessionID] = eval.Clone()
	return nil
}

func (m *MemoryStore) GetEvaluation(_ context.Context, sessionID string) (*domain.Evaluation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return m.evaluations[sessionID].Clone(), nil
}

func (m *MemoryStore) ExpireIdleSessions(_ context.Context, cutoff time.Time) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expired := []*domain.Session{}
	for _, s := range m.sessions {
		if s.Status == domain.StatusActive && s.LastActivityAt.Before(cutoff) {
			s.Status = domain.StatusCompleted
			expired = append(expired, s.Clone())
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].LastActivityAt.Before(expired[j].LastActivityAt)
	})
	return expired, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// normalizeSession copies a session the way a round trip through SQLite
// would: millisecond timestamps in UTC and a non-nil mission list.
func normalizeSession(session *domain.Session) *domain.Session {
	c := session.Clone()
	c.StartedAt = c.StartedAt.UTC().Truncate(time.Millisecond)
	c.LastActivityAt = c.LastActivityAt.UTC().Truncate(time.Millisecond)
	if c.MissionStatus == nil {
		c.MissionStatus = []domain.MissionStatus{}
	}
	return c
}
