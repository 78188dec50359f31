// Package session orchestrates one learner's practice session on a device:
// starting and resuming sessions, the local resume pointer, message history,
// mission tracking and evaluation.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ts3486/pm-journey-sub000/internal/catalog"
	"github.com/ts3486/pm-journey-sub000/internal/domain"
	"github.com/ts3486/pm-journey-sub000/internal/pointer"
	"github.com/ts3486/pm-journey-sub000/internal/prompt"
)

// Manager owns the current session. Every operation holds a single lock for
// its whole duration, including network calls, so concurrent callers are
// served one at a time.
type Manager struct {
	mu sync.Mutex

	remote    RemoteStore
	catalog   catalog.Lookup
	pointers  pointer.Store
	evaluator Evaluator
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	current *State
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithIDGenerator overrides how message ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		m.newID = newID
	}
}

// NewManager creates a Manager with no current session.
func NewManager(remote RemoteStore, scenarios catalog.Lookup, pointers pointer.Store, evaluator Evaluator, opts ...Option) *Manager {
	m := &Manager{
		remote:    remote,
		catalog:   scenarios,
		pointers:  pointers,
		evaluator: evaluator,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns a copy of the current state, or nil.
func (m *Manager) Current() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Clone()
}

// Start creates a new remote session for the scenario and makes it current.
// An empty kickoffText falls back to the scenario's own kickoff text.
func (m *Manager) Start(ctx context.Context, scenarioID, discipline, kickoffText string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if strings.TrimSpace(scenarioID) == "" {
		return nil, domain.Invalidf("scenario id is required")
	}
	scenario, err := m.catalog.Lookup(scenarioID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(kickoffText) == "" {
		kickoffText = scenario.KickoffText
	}

	created, err := m.remote.Create(ctx, domain.CreateSessionRequest{
		ScenarioID:  scenarioID,
		Discipline:  discipline,
		KickoffText: kickoffText,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	sess := created.Session
	msgs := domain.MergeMessages(nil, created.Messages...)
	sess.RefreshProgress(msgs, scenario)
	m.current = &State{Session: &sess, Messages: msgs, Scenario: scenario}
	m.remember(ctx, scenarioID, sess.ID)

	m.logger.Info("Session started",
		"session_id", sess.ID,
		"scenario_id", scenarioID,
		"kickoff", kickoffText != "",
	)
	return m.current.Clone(), nil
}

// Resume reloads the session the local pointer refers to. An empty
// scenarioID resumes the most recent session. It returns (nil, nil) when
// there is nothing to resume, including when the pointer refers to a session
// the remote store no longer has; that pointer is cleared.
func (m *Manager) Resume(ctx context.Context, scenarioID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := scenarioID
	if key == "" {
		key = pointer.LatestKey
	}
	sessionID, ok, err := m.pointers.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read session pointer: %w", err)
	}
	if !ok || sessionID == "" {
		return nil, nil
	}

	snapshot, err := m.remote.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		m.dropDangling(ctx, key, sessionID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch session %s: %w", sessionID, err)
	}

	msgs, err := m.remote.ListMessages(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		m.dropDangling(ctx, key, sessionID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch messages for %s: %w", sessionID, err)
	}

	sess := snapshot.Session
	scenario, err := m.catalog.Lookup(sess.ScenarioID)
	if err != nil {
		m.logger.Warn("Resumed session references unknown scenario",
			"session_id", sess.ID,
			"scenario_id", sess.ScenarioID,
			"error", err,
		)
		scenario = nil
	}

	if snapshot.Evaluation != nil {
		sess.Status = domain.StatusEvaluated
	} else if sess.Status == "" {
		sess.Status = domain.StatusActive
	}
	msgs = domain.MergeMessages(nil, msgs...)
	sess.RefreshProgress(msgs, scenario)

	m.current = &State{
		Session:    &sess,
		Messages:   msgs,
		Evaluation: snapshot.Evaluation.Clone(),
		Scenario:   scenario,
	}

	if sess.IsActive() {
		m.remember(ctx, sess.ScenarioID, sess.ID)
	} else {
		m.forget(ctx, sess.ScenarioID, sess.ID)
	}

	m.logger.Info("Session resumed",
		"session_id", sess.ID,
		"scenario_id", sess.ScenarioID,
		"status", sess.Status,
		"messages", len(msgs),
	)
	return m.current.Clone(), nil
}

// Reset clears the local pointer for the scenario. The remote record is kept
// as history. If sessionID is the current session the manager drops it.
func (m *Manager) Reset(ctx context.Context, sessionID, scenarioID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if strings.TrimSpace(scenarioID) == "" {
		return domain.Invalidf("scenario id is required")
	}
	if err := m.pointers.Clear(ctx, scenarioID); err != nil {
		return fmt.Errorf("clear session pointer: %w", err)
	}
	if sessionID != "" {
		if latest, ok, err := m.pointers.Get(ctx, pointer.LatestKey); err == nil && ok && latest == sessionID {
			if err := m.pointers.Clear(ctx, pointer.LatestKey); err != nil {
				return fmt.Errorf("clear latest pointer: %w", err)
			}
		}
	}

	if m.current != nil && m.current.Session.ID == sessionID {
		m.current = nil
	}
	m.logger.Info("Session reset", "session_id", sessionID, "scenario_id", scenarioID)
	return nil
}

// SendMessage appends msg to the history and posts it to the remote store.
// Missing id, session id and timestamp are filled in. The message is kept
// locally even when the post fails; a retry with the same id is not
// duplicated.
func (m *Manager) SendMessage(ctx context.Context, msg domain.Message) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireActive(); err != nil {
		return nil, err
	}
	if !msg.Role.Valid() {
		return nil, domain.Invalidf("unknown role %q", msg.Role)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil, domain.Invalidf("message content is empty")
	}

	sess := m.current.Session
	if msg.ID == "" {
		msg.ID = m.newID()
	}
	msg.SessionID = sess.ID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}

	m.current.Messages = domain.MergeMessages(m.current.Messages, msg)
	sess.LastActivityAt = msg.CreatedAt
	sess.RefreshProgress(m.current.Messages, m.current.Scenario)

	req := domain.PostMessageRequest{
		Message:       msg,
		MissionStatus: append([]domain.MissionStatus{}, sess.MissionStatus...),
	}
	if msg.Role == domain.RoleUser && m.current.Scenario != nil {
		req.GradingContext = prompt.BehaviorContext(m.current.Scenario, sess)
	}

	result, err := m.remote.PostMessage(ctx, sess.ID, req)
	if err != nil {
		return m.current.Clone(), fmt.Errorf("post message: %w", err)
	}

	m.current.Messages = domain.MergeMessages(m.current.Messages, result.Reply...)
	updated := result.Session.Clone()
	if updated.ID == "" {
		updated = sess
	}
	updated.RefreshProgress(m.current.Messages, m.current.Scenario)
	m.current.Session = updated
	m.remember(ctx, updated.ScenarioID, updated.ID)

	return m.current.Clone(), nil
}

// ToggleMission marks a scenario mission completed or not. The change is
// local until the next SendMessage.
func (m *Manager) ToggleMission(missionID string, completed bool) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireActive(); err != nil {
		return nil, err
	}
	if m.current.Scenario == nil || !m.current.Scenario.HasMission(missionID) {
		return nil, domain.Invalidf("unknown mission %q", missionID)
	}

	sess := m.current.Session
	sess.SetMission(missionID, completed, m.now())
	sess.RefreshProgress(m.current.Messages, m.current.Scenario)
	return m.current.Clone(), nil
}

// Evaluate grades the current session and persists the result. It refuses
// without any network call when offline is true. On success the session is
// evaluated and its pointer cleared.
func (m *Manager) Evaluate(ctx context.Context, offline bool) (*State, error) {
	if offline {
		return nil, ErrOffline
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireActive(); err != nil {
		return nil, err
	}
	sess := m.current.Session
	if m.current.Scenario == nil {
		return nil, domain.Invalidf("session %s has no known scenario", sess.ID)
	}

	result, err := m.evaluator.Evaluate(ctx, m.current.Scenario, sess.ID, m.current.Messages)
	if err != nil {
		return nil, err
	}

	snapshot, err := m.remote.SaveEvaluation(ctx, sess.ID, result)
	if err != nil {
		return nil, fmt.Errorf("save evaluation: %w", err)
	}

	updated := snapshot.Session.Clone()
	if updated.ID == "" {
		updated = sess
	}
	updated.Status = domain.StatusEvaluated
	updated.RefreshProgress(m.current.Messages, m.current.Scenario)
	m.current.Session = updated
	m.current.Evaluation = result.Clone()
	m.forget(ctx, updated.ScenarioID, updated.ID)

	return m.current.Clone(), nil
}

func (m *Manager) requireActive() error {
	if m.current == nil || m.current.Session == nil {
		return ErrNoActiveSession
	}
	if !m.current.Session.IsActive() {
		return fmt.Errorf("%w: session %s is %s", domain.ErrSessionClosed, m.current.Session.ID, m.current.Session.Status)
	}
	return nil
}

// remember points the scenario and the latest pointer at sessionID. Pointer
// failures are logged; the remote session remains the source of truth.
func (m *Manager) remember(ctx context.Context, scenarioID, sessionID string) {
	for _, key := range []string{scenarioID, pointer.LatestKey} {
		if err := m.pointers.Set(ctx, key, sessionID); err != nil {
			m.logger.Warn("Failed to write session pointer", "key", key, "session_id", sessionID, "error", err)
		}
	}
}

// forget clears the scenario pointer and the latest pointer when either
// still refers to sessionID.
func (m *Manager) forget(ctx context.Context, scenarioID, sessionID string) {
	for _, key := range []string{scenarioID, pointer.LatestKey} {
		m.forgetPointer(ctx, key, sessionID)
	}
}

// dropDangling clears pointers to a session the remote store no longer has.
func (m *Manager) dropDangling(ctx context.Context, key, sessionID string) {
	m.logger.Info("Dropping pointer to missing session", "key", key, "session_id", sessionID)
	m.forget(ctx, key, sessionID)
}

func (m *Manager) forgetPointer(ctx context.Context, key, sessionID string) {
	current, ok, err := m.pointers.Get(ctx, key)
	if err != nil || !ok || current != sessionID {
		return
	}
	if err := m.pointers.Clear(ctx, key); err != nil {
		m.logger.Warn("Failed to clear session pointer", "key", key, "session_id", sessionID, "error", err)
		return
	}
	m.logger.Debug("Cleared session pointer", "key", key, "session_id", sessionID)
}
