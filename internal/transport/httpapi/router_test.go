package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ResearchPipeline/internal/broadcast"
	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/usecase"
)

type fakeResearch struct {
	runs      map[string]domain.Run
	messages  map[string][]domain.Message
	started   []string
	cancelled []string
	startErr  error

	mu sync.Mutex
}

func (f *fakeResearch) Start(company, depth string) (usecase.RunHandle, error) {
	if f.startErr != nil {
		return usecase.RunHandle{}, f.startErr
	}
	if strings.TrimSpace(company) == "" {
		return usecase.RunHandle{}, fmt.Errorf("%w: company is required", usecase.ErrInvalidRequest)
	}
	f.mu.Lock()
	f.started = append(f.started, company+"/"+depth)
	f.mu.Unlock()
	return usecase.RunHandle{RunID: "run-1", ConversationID: "conv-1"}, nil
}

func (f *fakeResearch) Status(_ context.Context, runID string) (domain.RunStatusView, error) {
	run, ok := f.runs[runID]
	if !ok {
		return domain.RunStatusView{}, usecase.ErrRunNotFound
	}
	return run.View(), nil
}

func (f *fakeResearch) Result(_ context.Context, runID string) (domain.Report, error) {
	run, ok := f.runs[runID]
	if !ok {
		return domain.Report{}, usecase.ErrRunNotFound
	}
	if run.Report == nil {
		return domain.Report{}, usecase.ErrRunNotCompleted
	}
	return *run.Report, nil
}

func (f *fakeResearch) History(_ context.Context, limit int) ([]domain.RunSummary, error) {
	out := []domain.RunSummary{}
	for id, run := range f.runs {
		if run.Report != nil && len(out) < limit {
			out = append(out, domain.RunSummary{RunID: id, Company: run.Company})
		}
	}
	return out, nil
}

func (f *fakeResearch) Messages(_ context.Context, conversationID string) ([]domain.Message, error) {
	return f.messages[conversationID], nil
}

func (f *fakeResearch) Cancel(runID string) error {
	if _, ok := f.runs[runID]; !ok {
		return usecase.ErrRunNotFound
	}
	f.mu.Lock()
	f.cancelled = append(f.cancelled, runID)
	f.mu.Unlock()
	return nil
}

func newTestServer(t *testing.T, research *fakeResearch) (*httptest.Server, *broadcast.Broadcaster) {
	t.Helper()
	hub := broadcast.New(64, nil)
	srv := httptest.NewServer(NewHandler(research, hub, nil).Routes())
	t.Cleanup(srv.Close)
	return srv, hub
}

func seededResearch() *fakeResearch {
	return &fakeResearch{
		runs: map[string]domain.Run{
			"running": {
				ID: "running", Company: "Acme", Status: domain.RunRunning, Percent: 35, CurrentStage: "Analysis",
			},
			"done": {
				ID: "done", Company: "Globex", Status: domain.RunCompleted, Percent: 100,
				Report: &domain.Report{Metadata: domain.ReportMetadata{CompanyName: "Globex"}},
			},
		},
		messages: map[string][]domain.Message{
			"conv-1": {{ID: "m1", ScopeID: "conv-1", Role: domain.RoleUser, Content: "Acme"}},
		},
	}
}

func TestStartResearch(t *testing.T) {
	t.Parallel()

	research := seededResearch()
	srv, _ := newTestServer(t, research)

	resp, err := http.Post(srv.URL+"/api/research", "application/json", strings.NewReader(`{"company":"Acme","depth":"deep"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var handle usecase.RunHandle
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&handle))
	assert.Equal(t, "run-1", handle.RunID)
	assert.Equal(t, "conv-1", handle.ConversationID)
	research.mu.Lock()
	defer research.mu.Unlock()
	assert.Equal(t, []string{"Acme/deep"}, research.started)
}

func TestStartResearchRejectsBadInput(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, seededResearch())
	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed", body: `{"company":`, want: http.StatusBadRequest},
		{name: "blank company", body: `{"company":"  "}`, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp, err := http.Post(srv.URL+"/api/research", "application/json", strings.NewReader(tc.body))
		require.NoError(t, err, tc.name)
		resp.Body.Close()
		assert.Equal(t, tc.want, resp.StatusCode, tc.name)
	}
}

func TestStartResearchWhileShuttingDown(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &fakeResearch{startErr: usecase.ErrShuttingDown})
	resp, err := http.Post(srv.URL+"/api/research", "application/json", strings.NewReader(`{"company":"Acme"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRunQueries(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, seededResearch())
	cases := []struct {
		path string
		want int
	}{
		{path: "/api/research/running", want: http.StatusOK},
		{path: "/api/research/missing", want: http.StatusNotFound},
		{path: "/api/research/running/result", want: http.StatusConflict},
		{path: "/api/research/done/result", want: http.StatusOK},
		{path: "/api/research/history?limit=5", want: http.StatusOK},
		{path: "/api/research/history?limit=zero", want: http.StatusBadRequest},
		{path: "/api/conversations/conv-1/messages", want: http.StatusOK},
		{path: "/healthz", want: http.StatusOK},
	}
	for _, tc := range cases {
		resp, err := http.Get(srv.URL + tc.path)
		require.NoError(t, err, tc.path)
		resp.Body.Close()
		assert.Equal(t, tc.want, resp.StatusCode, tc.path)
	}
}

func TestCancelRun(t *testing.T) {
	t.Parallel()

	research := seededResearch()
	srv, _ := newTestServer(t, research)

	for path, want := range map[string]int{
		"/api/research/running": http.StatusAccepted,
		"/api/research/missing": http.StatusNotFound,
	} {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, path)
	}
	research.mu.Lock()
	defer research.mu.Unlock()
	assert.Equal(t, []string{"running"}, research.cancelled)
}

func TestStatusBody(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, seededResearch())
	resp, err := http.Get(srv.URL + "/api/research/running")
	require.NoError(t, err)
	defer resp.Body.Close()

	var view domain.RunStatusView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, domain.RunRunning, view.Status)
	assert.Equal(t, 35, view.Percent)
	assert.Equal(t, "Analysis", view.CurrentStage)
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func waitForSubscriber(t *testing.T, hub *broadcast.Broadcaster, scope string) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.SubscriberCount(scope) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestConversationSocketSendsSnapshotThenEvents(t *testing.T) {
	t.Parallel()

	srv, hub := newTestServer(t, seededResearch())
	conn := dial(t, srv, "/api/conversations/conv-1/ws")

	var snap struct {
		Type     string           `json:"type"`
		Messages []domain.Message `json:"messages"`
	}
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "snapshot", snap.Type)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "m1", snap.Messages[0].ID)

	waitForSubscriber(t, hub, "conv-1")
	hub.Publish("conv-1", domain.NewChunkEvent("run-1", domain.ChunkEvent{MessageID: "m2", Chunk: "营收"}))
	hub.Publish("conv-1", domain.NewChunkEvent("run-1", domain.ChunkEvent{MessageID: "m2", Chunk: "增长"}))

	var chunks []string
	for range 2 {
		var ev domain.Event
		require.NoError(t, conn.ReadJSON(&ev))
		require.Equal(t, domain.EventChunk, ev.Kind)
		chunks = append(chunks, ev.Chunk.Chunk)
	}
	assert.Equal(t, []string{"营收", "增长"}, chunks)
}

func TestRunSocketSendsStatusThenProgress(t *testing.T) {
	t.Parallel()

	srv, hub := newTestServer(t, seededResearch())
	conn := dial(t, srv, "/api/research/running/ws")

	var first struct {
		Type   string               `json:"type"`
		Status domain.RunStatusView `json:"status"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first.Type)
	assert.Equal(t, 35, first.Status.Percent)

	waitForSubscriber(t, hub, "running")
	hub.Publish("running", domain.NewProgressEvent("running", domain.ProgressEvent{Percent: 60, StageName: "Joined"}))

	var ev domain.Event
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, domain.EventProgress, ev.Kind)
	assert.Equal(t, 60, ev.Progress.Percent)
	assert.Equal(t, uint64(1), ev.Seq)
}

func TestRunSocketUnknownRun(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, seededResearch())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/research/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSocketCloseReleasesSubscription(t *testing.T) {
	t.Parallel()

	srv, hub := newTestServer(t, seededResearch())
	conn := dial(t, srv, "/api/conversations/conv-1/ws")
	var snap map[string]any
	require.NoError(t, conn.ReadJSON(&snap))
	waitForSubscriber(t, hub, "conv-1")

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	_ = conn.Close()
	require.Eventually(t, func() bool { return hub.SubscriberCount("conv-1") == 0 }, 2*time.Second, 5*time.Millisecond)
}
