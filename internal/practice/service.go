// Package practice is the server side of the remote session store: it owns
// session records for each learner, stores their messages, generates the
// counterpart's replies and persists evaluations.
package practice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ts3486/pm-journey-sub000/internal/catalog"
	"github.com/ts3486/pm-journey-sub000/internal/domain"
	"github.com/ts3486/pm-journey-sub000/internal/grading"
	"github.com/ts3486/pm-journey-sub000/internal/identity"
	"github.com/ts3486/pm-journey-sub000/internal/live"
	"github.com/ts3486/pm-journey-sub000/internal/metrics"
	"github.com/ts3486/pm-journey-sub000/internal/prompt"
	"github.com/ts3486/pm-journey-sub000/internal/store"
	"github.com/ts3486/pm-journey-sub000/internal/transcript"
)

// DefaultReplyTemperature is used when no reply temperature is configured.
const DefaultReplyTemperature = 0.7

const replyMaxOutputTokens = 512

// Generator produces the counterpart's reply text.
type Generator interface {
	Generate(ctx context.Context, req grading.Request) (string, error)
}

// Service implements the session store for HTTP clients. The learner is taken
// from the request context; another learner's sessions are reported as not
// found.
type Service struct {
	repo             store.Repository
	catalog          catalog.Lookup
	gen              Generator
	replyTemperature float64
	hub              *live.Hub
	transcripts      transcript.Logger
	metrics          *metrics.Metrics
	logger           *slog.Logger
	now              func() time.Time
	newID            func() string

	sessionLocks sync.Map
}

// Option configures a Service.
type Option func(*Service)

// WithGenerator enables counterpart replies.
func WithGenerator(gen Generator, temperature float64) Option {
	return func(s *Service) {
		s.gen = gen
		s.replyTemperature = temperature
	}
}

// WithHub publishes session activity to live subscribers.
func WithHub(hub *live.Hub) Option {
	return func(s *Service) {
		s.hub = hub
	}
}

// WithTranscript records session activity to a transcript log.
func WithTranscript(l transcript.Logger) Option {
	return func(s *Service) {
		s.transcripts = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator overrides how session and reply ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

// NewService creates a Service backed by repo.
func NewService(repo store.Repository, scenarios catalog.Lookup, opts ...Option) *Service {
	s := &Service{
		repo:             repo,
		catalog:          scenarios,
		replyTemperature: DefaultReplyTemperature,
		transcripts:      transcript.Nop{},
		logger:           slog.Default(),
		now:              func() time.Time { return time.Now().UTC() },
		newID:            uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RepliesEnabled reports whether counterpart replies are generated.
func (s *Service) RepliesEnabled() bool {
	if s.gen == nil {
		return false
	}
	if c, ok := s.gen.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return true
}

func (s *Service) lock(sessionID string) func() {
	v, _ := s.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// owned loads a session and checks it belongs to the learner in ctx.
func (s *Service) owned(ctx context.Context, sessionID string) (*domain.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.Invalidf("session id is required")
	}
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.LearnerID != identity.LearnerIDFromContext(ctx) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// Create starts a session for the scenario. A non-empty kickoff text is
// stored as the session's first, system-authored message.
func (s *Service) Create(ctx context.Context, req domain.CreateSessionRequest) (*domain.CreateSessionResult, error) {
	if strings.TrimSpace(req.ScenarioID) == "" {
		return nil, domain.Invalidf("scenario id is required")
	}
	scenario, err := s.catalog.Lookup(req.ScenarioID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	learnerID := identity.LearnerIDFromContext(ctx)
	sess := &domain.Session{
		ID:             s.newID(),
		LearnerID:      learnerID,
		ScenarioID:     scenario.ID,
		Discipline:     strings.TrimSpace(req.Discipline),
		Status:         domain.StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
		MissionStatus:  []domain.MissionStatus{},
	}

	messages := []domain.Message{}
	if kickoff := strings.TrimSpace(req.KickoffText); kickoff != "" {
		messages = append(messages, domain.Message{
			ID:        s.newID(),
			SessionID: sess.ID,
			Role:      domain.RoleSystem,
			Content:   kickoff,
			CreatedAt: now,
		})
	}
	sess.RefreshProgress(messages, scenario)

	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	for i := range messages {
		if _, err := s.repo.AppendMessage(ctx, &messages[i]); err != nil {
			return nil, fmt.Errorf("store kickoff message: %w", err)
		}
		s.metrics.MessagePosted(string(messages[i].Role))
	}

	s.metrics.SessionCreated()
	s.transcripts.Log(transcript.Event{
		LearnerID:  learnerID,
		SessionID:  sess.ID,
		ScenarioID: sess.ScenarioID,
		EventType:  transcript.EventSessionCreated,
	})
	for _, m := range messages {
		s.logMessage(sess, m, transcript.EventMessage)
	}
	s.logger.Info("Session created",
		"session_id", sess.ID,
		"scenario_id", sess.ScenarioID,
		"learner_id", learnerID,
	)

	return &domain.CreateSessionResult{Session: *sess, Messages: messages}, nil
}

// Get returns the session and its evaluation, if any.
func (s *Service) Get(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error) {
	sess, err := s.owned(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	eval, err := s.repo.GetEvaluation(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load evaluation: %w", err)
	}
	return &domain.SessionSnapshot{Session: *sess, Evaluation: eval}, nil
}

// List returns the learner's sessions, most recently active first.
func (s *Service) List(ctx context.Context) ([]domain.Session, error) {
	sessions, err := s.repo.ListSessions(ctx, identity.LearnerIDFromContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]domain.Session, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, *sess)
	}
	return out, nil
}

// ListMessages returns the session's messages in the order they were stored.
func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	if _, err := s.owned(ctx, sessionID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Authorize reports whether the learner in ctx owns the session.
func (s *Service) Authorize(ctx context.Context, sessionID string) error {
	_, err := s.owned(ctx, sessionID)
	return err
}

// PostMessage stores one turn and, for learner turns, the counterpart's
// reply. Posting is idempotent by message id: a replayed message is not
// stored again and the reply already generated for it is returned.
func (s *Service) PostMessage(ctx context.Context, sessionID string, req domain.PostMessageRequest) (*domain.PostMessageResult, error) {
	msg := req.Message
	if strings.TrimSpace(msg.ID) == "" {
		return nil, domain.Invalidf("message id is required")
	}
	if !msg.Role.Valid() {
		return nil, domain.Invalidf("unknown role %q", msg.Role)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil, domain.Invalidf("message content is required")
	}
	if msg.SessionID != "" && msg.SessionID != sessionID {
		return nil, domain.Invalidf("message belongs to session %s", msg.SessionID)
	}

	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.owned(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrSessionClosed, sessionID, sess.Status)
	}
	scenario, err := s.catalog.Lookup(sess.ScenarioID)
	if err != nil {
		s.logger.Warn("Session references unknown scenario", "session_id", sessionID, "scenario_id", sess.ScenarioID)
		scenario = nil
	}

	now := s.now()
	msg.SessionID = sessionID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	inserted, err := s.repo.AppendMessage(ctx, &msg)
	if err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	if inserted {
		s.metrics.MessagePosted(string(msg.Role))
		s.logMessage(sess, msg, transcript.EventMessage)
		s.publish(live.Event{Type: live.EventMessage, SessionID: sessionID, Message: &msg})
	}

	if req.MissionStatus != nil {
		sess.MissionStatus = knownMissions(scenario, req.MissionStatus)
	}

	history, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	reply := existingReply(history, msg.ID)
	if reply == nil && msg.Role == domain.RoleUser {
		reply = s.generateReply(ctx, sess, scenario, req.GradingContext, history, msg.ID)
	}

	replies := []domain.Message{}
	if reply != nil {
		replies = append(replies, *reply)
		history = domain.MergeMessages(history, *reply)
	}

	sess.LastActivityAt = now
	sess.RefreshProgress(history, scenario)
	if err := s.repo.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	s.publish(live.Event{Type: live.EventSession, SessionID: sessionID, Session: sess.Clone()})

	if !inserted {
		s.logger.Debug("Replayed message", "session_id", sessionID, "message_id", msg.ID, "replies", len(replies))
	}
	return &domain.PostMessageResult{Reply: replies, Session: *sess}, nil
}

// generateReply asks the generator for the counterpart's next turn and
// stores it. Failures are logged and yield no reply.
func (s *Service) generateReply(ctx context.Context, sess *domain.Session, scenario *domain.Scenario, behavior string, history []domain.Message, replyTo string) *domain.Message {
	if !s.RepliesEnabled() {
		return nil
	}
	if strings.TrimSpace(behavior) == "" && scenario != nil {
		behavior = prompt.BehaviorContext(scenario, sess)
	}

	p := prompt.ReplyPrompt(behavior, history)
	start := time.Now()
	text, err := s.gen.Generate(ctx, grading.Request{
		SystemInstruction: p.SystemInstruction,
		UserContent:       p.UserContent,
		Temperature:       s.replyTemperature,
		MaxOutputTokens:   replyMaxOutputTokens,
	})
	s.metrics.GradingObserved(time.Since(start))
	if err != nil {
		s.metrics.ReplyFailed()
		s.logger.Warn("Failed to generate reply", "session_id", sess.ID, "message_id", replyTo, "error", err)
		return nil
	}

	reply := &domain.Message{
		ID:        s.newID(),
		SessionID: sess.ID,
		Role:      domain.RoleAgent,
		Content:   strings.TrimSpace(text),
		CreatedAt: s.now(),
		Tags:      []string{domain.ReplyTagPrefix + replyTo},
	}
	if _, err := s.repo.AppendMessage(ctx, reply); err != nil {
		s.metrics.ReplyFailed()
		s.logger.Error("Failed to store reply", "session_id", sess.ID, "message_id", replyTo, "error", err)
		return nil
	}
	s.metrics.MessagePosted(string(reply.Role))
	s.logMessage(sess, *reply, transcript.EventReply)
	s.publish(live.Event{Type: live.EventMessage, SessionID: sess.ID, Message: reply})
	return reply
}

// SaveEvaluation stores the evaluation and marks the session evaluated.
func (s *Service) SaveEvaluation(ctx context.Context, sessionID string, eval *domain.Evaluation) (*domain.SessionSnapshot, error) {
	if eval == nil {
		return nil, domain.Invalidf("evaluation is required")
	}
	if eval.SessionID != "" && eval.SessionID != sessionID {
		return nil, domain.Invalidf("evaluation belongs to session %s", eval.SessionID)
	}
	if eval.OverallScore < 0 || eval.OverallScore > 100 {
		return nil, domain.Invalidf("overall score %d out of range", eval.OverallScore)
	}

	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.owned(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrSessionClosed, sessionID, sess.Status)
	}

	stored := eval.Clone()
	stored.SessionID = sessionID
	if err := s.repo.SaveEvaluation(ctx, stored, s.now()); err != nil {
		return nil, fmt.Errorf("save evaluation: %w", err)
	}
	sess.Status = domain.StatusEvaluated

	score, passing := stored.OverallScore, stored.Passing
	s.transcripts.Log(transcript.Event{
		LearnerID:    sess.LearnerID,
		SessionID:    sessionID,
		ScenarioID:   sess.ScenarioID,
		EventType:    transcript.EventEvaluation,
		OverallScore: &score,
		Passing:      &passing,
	})
	s.publish(live.Event{Type: live.EventEvaluation, SessionID: sessionID, Evaluation: stored.Clone()})
	s.publish(live.Event{Type: live.EventSession, SessionID: sessionID, Session: sess.Clone()})
	s.logger.Info("Evaluation saved",
		"session_id", sessionID,
		"overall_score", stored.OverallScore,
		"passing", stored.Passing,
	)

	return &domain.SessionSnapshot{Session: *sess, Evaluation: stored}, nil
}

// ExpireIdle moves active sessions with no activity since before cutoff to
// completed and closes their live feeds.
func (s *Service) ExpireIdle(ctx context.Context, cutoff time.Time) (int, error) {
	expired, err := s.repo.ExpireIdleSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire idle sessions: %w", err)
	}
	for _, sess := range expired {
		s.transcripts.Log(transcript.Event{
			LearnerID:  sess.LearnerID,
			SessionID:  sess.ID,
			ScenarioID: sess.ScenarioID,
			EventType:  transcript.EventSessionExpired,
		})
		s.publish(live.Event{Type: live.EventSession, SessionID: sess.ID, Session: sess})
		if s.hub != nil {
			s.hub.CloseSession(sess.ID)
		}
		s.sessionLocks.Delete(sess.ID)
	}
	s.metrics.SessionsExpired(len(expired))
	return len(expired), nil
}

func (s *Service) publish(event live.Event) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(event)
}

func (s *Service) logMessage(sess *domain.Session, m domain.Message, eventType string) {
	s.transcripts.Log(transcript.Event{
		LearnerID:  sess.LearnerID,
		SessionID:  sess.ID,
		ScenarioID: sess.ScenarioID,
		EventType:  eventType,
		MessageID:  m.ID,
		Role:       string(m.Role),
		ContentRaw: m.Content,
	})
}

// existingReply finds the agent message tagged as the reply to messageID.
func existingReply(history []domain.Message, messageID string) *domain.Message {
	tag := domain.ReplyTagPrefix + messageID
	for i := range history {
		if history[i].Role == domain.RoleAgent && history[i].HasTag(tag) {
			m := history[i]
			return &m
		}
	}
	return nil
}

// knownMissions keeps the entries for missions the scenario declares, one per
// mission.
func knownMissions(scenario *domain.Scenario, statuses []domain.MissionStatus) []domain.MissionStatus {
	out := []domain.MissionStatus{}
	seen := make(map[string]struct{}, len(statuses))
	for _, ms := range statuses {
		if scenario != nil && !scenario.HasMission(ms.MissionID) {
			continue
		}
		if _, dup := seen[ms.MissionID]; dup {
			continue
		}
		seen[ms.MissionID] = struct{}{}
		out = append(out, ms)
	}
	return out
}
