package remote

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ts3486/pm-journey-sub000/internal/api"
	"github.com/ts3486/pm-journey-sub000/internal/catalog"
	"github.com/ts3486/pm-journey-sub000/internal/domain"
	"github.com/ts3486/pm-journey-sub000/internal/evaluation"
	"github.com/ts3486/pm-journey-sub000/internal/grading"
	"github.com/ts3486/pm-journey-sub000/internal/live"
	"github.com/ts3486/pm-journey-sub000/internal/pointer"
	"github.com/ts3486/pm-journey-sub000/internal/practice"
	"github.com/ts3486/pm-journey-sub000/internal/session"
	"github.com/ts3486/pm-journey-sub000/internal/store"
)

const learnerID = "anon_0123456789abcdef0123456789abcdef"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptedGenerator struct {
	text string
}

func (g scriptedGenerator) Generate(context.Context, grading.Request) (string, error) {
	return g.text, nil
}

func newServer(t *testing.T) (*httptest.Server, *catalog.Catalog) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	repo := store.NewMemory()
	hub := live.NewHub(quietLogger(), nil)
	svc := practice.NewService(repo, cat,
		practice.WithGenerator(scriptedGenerator{text: "What would you measure?"}, 0.7),
		practice.WithHub(hub),
		practice.WithLogger(quietLogger()),
	)
	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Repo:           repo,
		Service:        svc,
		Scenarios:      cat,
		Hub:            hub,
		AllowedOrigins: []string{"*"},
		IsDev:          true,
		Logger:         quietLogger(),
	}))
	t.Cleanup(srv.Close)
	return srv, cat
}

func TestClientImplementsRemoteStore(t *testing.T) {
	var _ session.RemoteStore = (*Client)(nil)
}

func TestManagerOverHTTP(t *testing.T) {
	srv, cat := newServer(t)
	client := New(srv.URL, learnerID, WithLogger(quietLogger()))
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))

	grader := evaluation.New(scriptedGenerator{text: `{"categories":[
		{"criterionId":"problem-framing","score":90},
		{"criterionId":"success-metric","score":70},
		{"criterionId":"scope-negotiation","score":60},
		{"criterionId":"communication","score":80}
	],"summary":"ok","improvementAdvice":"more data"}`}, evaluation.WithLogger(quietLogger()))
	pointers := pointer.NewMemoryStore()
	mgr := session.NewManager(client, cat, pointers, grader, session.WithLogger(quietLogger()))

	state, err := mgr.Start(ctx, "stakeholder-kickoff", "", "")
	require.NoError(t, err)
	sessionID := state.Session.ID

	state, err = mgr.SendMessage(ctx, domain.Message{Role: domain.RoleUser, Content: "Abandonment is up 7 points on mobile."})
	require.NoError(t, err)
	require.Len(t, state.Messages, 3)
	assert.Equal(t, "What would you measure?", state.Messages[2].Content)

	state, err = mgr.Evaluate(ctx, false)
	require.NoError(t, err)
	// 90*30 + 70*25 + 60*25 + 80*20 = 7550 over 100.
	assert.Equal(t, 76, state.Evaluation.OverallScore)
	assert.True(t, state.Evaluation.Passing)

	snap, err := client.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEvaluated, snap.Session.Status)

	sessions, err := client.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	scenarios, err := client.ListScenarios(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, scenarios)
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newServer(t)
	client := New(srv.URL, learnerID, WithLogger(quietLogger()))
	ctx := context.Background()

	_, err := client.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = client.ListMessages(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = client.Create(ctx, domain.CreateSessionRequest{ScenarioID: "missing"})
	assert.ErrorIs(t, err, domain.ErrScenarioNotFound)
	assert.NotErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = client.Create(ctx, domain.CreateSessionRequest{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	created, err := client.Create(ctx, domain.CreateSessionRequest{ScenarioID: "stakeholder-kickoff"})
	require.NoError(t, err)
	_, err = client.SaveEvaluation(ctx, created.Session.ID, &domain.Evaluation{OverallScore: 50})
	require.NoError(t, err)
	_, err = client.PostMessage(ctx, created.Session.ID, domain.PostMessageRequest{
		Message: domain.Message{ID: "late", Role: domain.RoleUser, Content: "hello?"},
	})
	assert.ErrorIs(t, err, domain.ErrSessionClosed)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}

func TestSessionsBelongToLearner(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()

	owner := New(srv.URL, learnerID, WithLogger(quietLogger()))
	created, err := owner.Create(ctx, domain.CreateSessionRequest{ScenarioID: "stakeholder-kickoff"})
	require.NoError(t, err)

	stranger := New(srv.URL, "anon_ffffffffffffffffffffffffffffffff", WithLogger(quietLogger()))
	_, err = stranger.Get(ctx, created.Session.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestUnavailableServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	client := New(srv.URL, learnerID, WithLogger(quietLogger()))

	err := client.Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()
	err = New(url, learnerID, WithLogger(quietLogger())).Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSendsLearnerHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-PMJ-Learner-ID")
		_, _ = w.Write([]byte(`{"sessions":[]}`))
	}))
	t.Cleanup(srv.Close)

	sessions, err := New(srv.URL+"/", learnerID).ListSessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Equal(t, learnerID, got)
}
