package live

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
	"github.com/ts3486/pm-journey-sub000/internal/metrics"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return Event{}
}

func TestHubPublishReachesOnlySessionSubscribers(t *testing.T) {
	hub := NewHub(quiet(), nil)
	a1 := hub.Subscribe("a")
	a2 := hub.Subscribe("a")
	b := hub.Subscribe("b")
	defer a1.Close()
	defer a2.Close()
	defer b.Close()

	hub.Publish(Event{Type: EventMessage, SessionID: "a", Message: &domain.Message{ID: "m1"}})

	assert.Equal(t, "m1", receive(t, a1).Message.ID)
	assert.Equal(t, "m1", receive(t, a2).Message.ID)
	select {
	case e := <-b.Events():
		t.Fatalf("unexpected event for other session: %+v", e)
	default:
	}
}

func TestHubCloseIsIdempotentAndTracksGauge(t *testing.T) {
	m := metrics.New()
	hub := NewHub(quiet(), m)

	sub := hub.Subscribe("s1")
	assert.Equal(t, 1, hub.Count("s1"))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Count("s1"))

	_, open := <-sub.Events()
	assert.False(t, open)

	expected := `
# HELP pmjourney_live_subscribers Open websocket live-feed subscriptions.
# TYPE pmjourney_live_subscribers gauge
pmjourney_live_subscribers 0
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "pmjourney_live_subscribers"))
}

func TestHubSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(quiet(), nil)
	sub := hub.Subscribe("s1")
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBuffer*3; i++ {
			hub.Publish(Event{Type: EventSession, SessionID: "s1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, sub.Events(), defaultBuffer)
}

func TestHubCloseSessionEndsSubscriptions(t *testing.T) {
	hub := NewHub(quiet(), nil)
	sub := hub.Subscribe("s1")

	hub.CloseSession("s1")

	assert.Equal(t, EventClosed, receive(t, sub).Type)
	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, 0, hub.Count("s1"))
}

func TestHubConcurrentPublishAndClose(t *testing.T) {
	hub := NewHub(quiet(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		sub := hub.Subscribe("s1")
		go func() {
			defer wg.Done()
			hub.Publish(Event{Type: EventMessage, SessionID: "s1"})
		}()
		go func() {
			defer wg.Done()
			sub.Close()
		}()
	}
	wg.Wait()
	hub.CloseSession("s1")
	assert.Equal(t, 0, hub.Count("s1"))
}

func newFeedServer(t *testing.T, hub *Hub, authorize SessionAuthorizer) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Handle("/ws/sessions/{id}", NewHandler(hub, authorize, []string{"*"}, true, quiet()))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func waitForSubscriber(t *testing.T, hub *Hub, sessionID string) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Count(sessionID) == 1 }, time.Second, 5*time.Millisecond)
}

func TestHandlerStreamsEvents(t *testing.T) {
	hub := NewHub(quiet(), nil)
	srv := newFeedServer(t, hub, func(context.Context, string) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/sessions/s1", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	waitForSubscriber(t, hub, "s1")
	hub.Publish(Event{Type: EventMessage, SessionID: "s1", Message: &domain.Message{ID: "m1", Content: "hi"}})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, EventMessage, got.Type)
	assert.Equal(t, "hi", got.Message.Content)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))
	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(data))
}

func TestHandlerUnregistersOnClientClose(t *testing.T) {
	hub := NewHub(quiet(), nil)
	srv := newFeedServer(t, hub, func(context.Context, string) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, srv.URL+"/ws/sessions/s1", nil)
	require.NoError(t, err)
	waitForSubscriber(t, hub, "s1")

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	assert.Eventually(t, func() bool { return hub.Count("s1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestHandlerRejectsForeignSession(t *testing.T) {
	hub := NewHub(quiet(), nil)
	srv := newFeedServer(t, hub, func(context.Context, string) error { return domain.ErrSessionNotFound })

	resp, err := http.Get(srv.URL + "/ws/sessions/s1")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, hub.Count("s1"))
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(NewHub(quiet(), nil), nil, []string{"https://pm.example.com"}, false, quiet())

	req := httptest.NewRequest(http.MethodGet, "/ws/sessions/s1", nil)
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://pm.example.com")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(req))
}
