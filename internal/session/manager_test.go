package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ts3486/pm-journey-sub000/internal/catalog"
	"github.com/ts3486/pm-journey-sub000/internal/domain"
	"github.com/ts3486/pm-journey-sub000/internal/pointer"
)

type fakeRemote struct {
	mu          sync.Mutex
	sessions    map[string]*domain.Session
	messages    map[string][]domain.Message
	evaluations map[string]*domain.Evaluation
	posts       []domain.PostMessageRequest
	seq         int
	postErr     error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		sessions:    make(map[string]*domain.Session),
		messages:    make(map[string][]domain.Message),
		evaluations: make(map[string]*domain.Evaluation),
	}
}

func (f *fakeRemote) Create(_ context.Context, req domain.CreateSessionRequest) (*domain.CreateSessionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s := &domain.Session{
		ID:             fmt.Sprintf("sess-%d", f.seq),
		ScenarioID:     req.ScenarioID,
		Discipline:     req.Discipline,
		Status:         domain.StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}
	f.sessions[s.ID] = s
	var msgs []domain.Message
	if req.KickoffText != "" {
		msgs = append(msgs, domain.Message{ID: s.ID + "-kickoff", SessionID: s.ID, Role: domain.RoleSystem, Content: req.KickoffText, CreatedAt: now})
	}
	f.messages[s.ID] = msgs
	return &domain.CreateSessionResult{Session: *s.Clone(), Messages: msgs}, nil
}

func (f *fakeRemote) Get(_ context.Context, id string) (*domain.SessionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, domain.ErrSessionNotFound)
	}
	return &domain.SessionSnapshot{Session: *s.Clone(), Evaluation: f.evaluations[id].Clone()}, nil
}

func (f *fakeRemote) ListMessages(_ context.Context, id string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return nil, domain.ErrSessionNotFound
	}
	return append([]domain.Message(nil), f.messages[id]...), nil
}

func (f *fakeRemote) PostMessage(_ context.Context, id string, req domain.PostMessageRequest) (*domain.PostMessageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, req)
	if f.postErr != nil {
		return nil, f.postErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	f.messages[id] = domain.MergeMessages(f.messages[id], req.Message)
	s.MissionStatus = append([]domain.MissionStatus{}, req.MissionStatus...)
	s.LastActivityAt = req.Message.CreatedAt

	var reply []domain.Message
	if req.Message.Role == domain.RoleUser {
		r := domain.Message{
			ID:        "reply-" + req.Message.ID,
			SessionID: id,
			Role:      domain.RoleAgent,
			Content:   "Tell me more.",
			CreatedAt: req.Message.CreatedAt.Add(time.Second),
			Tags:      []string{domain.ReplyTagPrefix + req.Message.ID},
		}
		f.messages[id] = domain.MergeMessages(f.messages[id], r)
		reply = append(reply, r)
	}
	return &domain.PostMessageResult{Reply: reply, Session: *s.Clone()}, nil
}

func (f *fakeRemote) SaveEvaluation(_ context.Context, id string, eval *domain.Evaluation) (*domain.SessionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	s.Status = domain.StatusEvaluated
	f.evaluations[id] = eval.Clone()
	return &domain.SessionSnapshot{Session: *s.Clone(), Evaluation: eval.Clone()}, nil
}

type fakeEvaluator struct {
	calls int
	err   error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, scenario *domain.Scenario, sessionID string, messages []domain.Message) (*domain.Evaluation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(messages) == 0 {
		return nil, domain.Invalidf("transcript is empty")
	}
	cats := make([]domain.EvaluationCategory, 0, len(scenario.Criteria))
	for _, c := range scenario.Criteria {
		cats = append(cats, domain.EvaluationCategory{CriterionID: c.ID, Name: c.Name, Weight: c.Weight, Score: 80, Evidence: []string{}})
	}
	return &domain.Evaluation{SessionID: sessionID, OverallScore: 80, Passing: true, Categories: cats}, nil
}

type harness struct {
	mgr      *Manager
	remote   *fakeRemote
	pointers *pointer.MemoryStore
	eval     *fakeEvaluator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	h := &harness{
		remote:   newFakeRemote(),
		pointers: pointer.NewMemoryStore(),
		eval:     &fakeEvaluator{},
	}
	clock := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	ids := 0
	h.mgr = NewManager(h.remote, cat, h.pointers, h.eval,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { clock = clock.Add(time.Second); return clock }),
		WithIDGenerator(func() string { ids++; return fmt.Sprintf("msg-%d", ids) }),
	)
	return h
}

func (h *harness) pointer(t *testing.T, key string) (string, bool) {
	t.Helper()
	id, ok, err := h.pointers.Get(context.Background(), key)
	require.NoError(t, err)
	return id, ok
}

func TestStartSeedsKickoffAndWritesPointer(t *testing.T) {
	h := newHarness(t)

	st, err := h.mgr.Start(context.Background(), "stakeholder-kickoff", "product", "")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusActive, st.Session.Status)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, domain.RoleSystem, st.Messages[0].Role)
	assert.NotEmpty(t, st.Messages[0].Content, "falls back to the scenario kickoff text")
	assert.True(t, st.Session.Progress.KickoffSent)
	assert.Equal(t, "stakeholder-kickoff", st.Scenario.ID)

	id, ok := h.pointer(t, "stakeholder-kickoff")
	assert.True(t, ok)
	assert.Equal(t, st.Session.ID, id)
	latest, _ := h.pointer(t, pointer.LatestKey)
	assert.Equal(t, st.Session.ID, latest)
}

func TestStartUnknownScenario(t *testing.T) {
	h := newHarness(t)
	_, err := h.mgr.Start(context.Background(), "nope", "", "")
	assert.True(t, errors.Is(err, domain.ErrScenarioNotFound))
	_, ok := h.pointer(t, "nope")
	assert.False(t, ok)
}

func TestSendMessageMergesReplyAndCarriesMissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.mgr.Start(ctx, "stakeholder-kickoff", "", "Hi, I'm Dana.")
	require.NoError(t, err)

	_, err = h.mgr.ToggleMission("agree-problem", true)
	require.NoError(t, err)

	st, err := h.mgr.SendMessage(ctx, domain.Message{Role: domain.RoleUser, Content: "What problem are we solving?"})
	require.NoError(t, err)

	require.Len(t, st.Messages, 3)
	assert.Equal(t, "msg-1", st.Messages[1].ID)
	assert.Equal(t, domain.RoleAgent, st.Messages[2].Role)
	assert.True(t, st.Session.Progress.LearnerEngaged)
	assert.True(t, st.Session.Progress.AgentResponded)
	assert.True(t, st.Session.MissionCompleted("agree-problem"))

	require.Len(t, h.remote.posts, 1)
	post := h.remote.posts[0]
	require.Len(t, post.MissionStatus, 1)
	assert.Equal(t, "agree-problem", post.MissionStatus[0].MissionID)
	assert.Contains(t, post.GradingContext, "- [x]")
}

func TestSendMessageIsIdempotentByID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.mgr.Start(ctx, "stakeholder-kickoff", "", "Kickoff")
	require.NoError(t, err)

	msg := domain.Message{ID: "client-1", Role: domain.RoleUser, Content: "Hello"}
	_, err = h.mgr.SendMessage(ctx, msg)
	require.NoError(t, err)
	st, err := h.mgr.SendMessage(ctx, msg)
	require.NoError(t, err)

	count := 0
	for _, m := range st.Messages {
		if m.ID == "client-1" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSendMessageKeepsOptimisticAppendOnFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.mgr.Start(ctx, "stakeholder-kickoff", "", "Kickoff")
	require.NoError(t, err)

	h.remote.postErr = errors.New("connection refused")
	st, err := h.mgr.SendMessage(ctx, domain.Message{Role: domain.RoleUser, Content: "Hello"})
	require.Error(t, err)
	require.NotNil(t, st)
	assert.Len(t, st.Messages, 2)
}

func TestSendMessageValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.SendMessage(ctx, domain.Message{Role: domain.RoleUser, Content: "hi"})
	assert.True(t, errors.Is(err, ErrNoActiveSession))

	_, err = h.mgr.Start(ctx, "stakeholder-kickoff", "", "")
	require.NoError(t, err)

	_, err = h.mgr.SendMessage(ctx, domain.Message{Role: "coach", Content: "hi"})
	assert.True(t, errors.Is(err, domain.ErrValidation))
	_, err = h.mgr.SendMessage(ctx, domain.Message{Role: domain.RoleUser, Content: "   "})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestToggleMission(t *testing.T) {
	h := newHarness(t)
	_, err := h.mgr.Start(context.Background(), "stakeholder-kickoff", "", "")
	require.NoError(t, err)

	first, err := h.mgr.ToggleMission("agree-metric", true)
	require.NoError(t, err)
	second, err := h.mgr.ToggleMission("agree-metric", true)
	require.NoError(t, err)
	require.Len(t, second.Session.MissionStatus, 1)
	assert.Equal(t, first.Session.MissionStatus[0].CompletedAt, second.Session.MissionStatus[0].CompletedAt)

	off, err := h.mgr.ToggleMission("agree-metric", false)
	require.NoError(t, err)
	assert.Empty(t, off.Session.MissionStatus)

	_, err = h.mgr.ToggleMission("not-a-mission", true)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestResumeRestoresSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	started, err := h.mgr.Start(ctx, "stakeholder-kickoff", "", "Kickoff")
	require.NoError(t, err)
	_, err = h.mgr.SendMessage(ctx, domain.Message{Role: domain.RoleUser, Content: "Hello"})
	require.NoError(t, err)

	other := NewManager(h.remote, h.mgr.catalog, h.pointers, h.eval, WithLogger(h.mgr.logger))
	st, err := other.Resume(ctx, "stakeholder-kickoff")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, started.Session.ID, st.Session.ID)
	assert.Equal(t, domain.StatusActive, st.Session.Status)
	assert.Len(t, st.Messages, 3)

	latest, err := other.Resume(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, started.Session.ID, latest.Session.ID)
}

func TestResumeWithoutPointerReturnsNone(t *testing.T) {
	h := newHarness(t)
	st, err := h.mgr.Resume(context.Background(), "stakeholder-kickoff")
	assert.NoError(t, err)
	assert.Nil(t, st)
}

func TestResumeDanglingPointerSelfHeals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.pointers.Set(ctx, "stakeholder-kickoff", "gone"))
	require.NoError(t, h.pointers.Set(ctx, pointer.LatestKey, "gone"))

	st, err := h.mgr.Resume(ctx, "stakeholder-kickoff")
	assert.NoError(t, err)
	assert.Nil(t, st)

	_, ok := h.pointer(t, "stakeholder-kickoff")
	assert.False(t, ok)
	_, ok = h.pointer(t, pointer.LatestKey)
	assert.False(t, ok)
}

func TestEvaluateMarksEvaluatedAndClearsPointer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.mgr.Start(ctx, "stakeholder-kickoff", "", "Kickoff")
	require.NoError(t, err)
	_, err = h.mgr.SendMessage(ctx, domain.Message{Role: domain.RoleUser, Content: "Hello"})
	require.NoError(t, err)

	st, err := h.mgr.Evaluate(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEvaluated, st.Session.Status)
	require.NotNil(t, st.Evaluation)
	assert.Equal(t, 80, st.Evaluation.OverallScore)

	_, ok := h.pointer(t, "stakeholder-kickoff")
	assert.False(t, ok)
	_, ok = h.pointer(t, pointer.LatestKey)
	assert.False(t, ok)
	assert.NotNil(t, h.remote.evaluations[st.Session.ID])

	_, err = h.mgr.Evaluate(ctx, false)
	assert.True(t, errors.Is(err, domain.ErrSessionClosed))
	_, err = h.mgr.SendMessage(ctx, domain.Message{Role: domain.RoleUser, Content: "again"})
	assert.True(t, errors.Is(err, domain.ErrSessionClosed))
	assert.Equal(t, 1, h.eval.calls)
}

func TestEvaluateOfflineMakesNoCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.mgr.Start(ctx, "stakeholder-kickoff", "", "Kickoff")
	require.NoError(t, err)

	_, err = h.mgr.Evaluate(ctx, true)
	assert.True(t, errors.Is(err, ErrOffline))
	assert.Equal(t, 0, h.eval.calls)
	assert.Equal(t, domain.StatusActive, h.mgr.Current().Session.Status)
}

func TestEvaluateFailureKeepsSessionActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	started, err := h.mgr.Start(ctx, "stakeholder-kickoff", "", "Kickoff")
	require.NoError(t, err)
	h.eval.err = errors.New("generation failed")

	_, err = h.mgr.Evaluate(ctx, false)
	require.Error(t, err)
	assert.Equal(t, domain.StatusActive, h.mgr.Current().Session.Status)
	id, ok := h.pointer(t, "stakeholder-kickoff")
	assert.True(t, ok)
	assert.Equal(t, started.Session.ID, id)
}

func TestResumeEvaluatedSessionClearsPointer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	st, err := h.mgr.Start(ctx, "stakeholder-kickoff", "", "Kickoff")
	require.NoError(t, err)
	h.remote.evaluations[st.Session.ID] = &domain.Evaluation{SessionID: st.Session.ID}

	resumed, err := h.mgr.Resume(ctx, "stakeholder-kickoff")
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, domain.StatusEvaluated, resumed.Session.Status)
	_, ok := h.pointer(t, "stakeholder-kickoff")
	assert.False(t, ok)
}

func TestResetClearsPointerOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	st, err := h.mgr.Start(ctx, "stakeholder-kickoff", "", "Kickoff")
	require.NoError(t, err)

	require.NoError(t, h.mgr.Reset(ctx, st.Session.ID, "stakeholder-kickoff"))
	assert.Nil(t, h.mgr.Current())
	_, ok := h.pointer(t, "stakeholder-kickoff")
	assert.False(t, ok)
	_, ok = h.pointer(t, pointer.LatestKey)
	assert.False(t, ok)

	_, err = h.remote.Get(ctx, st.Session.ID)
	assert.NoError(t, err, "remote record is kept as history")
}

func TestReturnedStateIsACopy(t *testing.T) {
	h := newHarness(t)
	st, err := h.mgr.Start(context.Background(), "stakeholder-kickoff", "", "Kickoff")
	require.NoError(t, err)

	st.Messages[0].Content = "mutated"
	st.Session.Status = domain.StatusCompleted
	cur := h.mgr.Current()
	assert.Equal(t, "Kickoff", cur.Messages[0].Content)
	assert.Equal(t, domain.StatusActive, cur.Session.Status)
}

func TestConcurrentSendsAreSerialized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.mgr.Start(ctx, "stakeholder-kickoff", "", "Kickoff")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.mgr.SendMessage(ctx, domain.Message{ID: fmt.Sprintf("c-%d", i), Role: domain.RoleUser, Content: "turn"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	st := h.mgr.Current()
	assert.Len(t, st.Messages, 21)
	for i := 1; i < len(st.Messages); i += 2 {
		assert.Equal(t, domain.RoleUser, st.Messages[i].Role)
		assert.Equal(t, "reply-"+st.Messages[i].ID, st.Messages[i+1].ID)
	}
}
