package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/events"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/state"
)

func newTestAPI(t *testing.T) (*state.Store, *events.Manager, *httptest.Server) {
	logger := zaptest.NewLogger(t)
	mgr := events.NewManager(0, logger)
	store := state.NewStore(logger, mgr)

	mux := http.NewServeMux()
	NewTaskHandler(store, logger).RegisterRoutes(mux)
	NewStreamingHandler(mgr, logger).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return store, mgr, srv
}

func TestGetTaskLatest(t *testing.T) {
	store, _, srv := newTestAPI(t)

	_, err := store.Create("task-1", map[string]interface{}{"query": "q"})
	require.NoError(t, err)
	_, err = store.Apply("task-1", state.Transition{Stage: "search", Status: state.StatusRunning})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/v1/tasks/task-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap state.TaskState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "task-1", snap.TaskID)
	assert.Equal(t, 2, snap.Version)
	assert.Equal(t, "search", snap.Stage)
}

func TestGetTaskHistory(t *testing.T) {
	store, _, srv := newTestAPI(t)

	_, err := store.Create("task-1", nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = store.Apply("task-1", state.Transition{Stage: "plan", Status: state.StatusRunning})
		require.NoError(t, err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/tasks/task-1/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history []state.TaskState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history, 4)
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, 4, history[3].Version)
}

func TestGetUnknownTask(t *testing.T) {
	_, _, srv := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/api/v1/tasks/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelTask(t *testing.T) {
	store, _, srv := newTestAPI(t)

	_, err := store.Create("task-1", nil)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/v1/tasks/task-1/cancel", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	snap, ok := store.Latest("task-1")
	require.True(t, ok)
	assert.True(t, snap.Control.Cancelled)
}

func TestCancelRequiresPost(t *testing.T) {
	store, _, srv := newTestAPI(t)
	_, err := store.Create("task-1", nil)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/v1/tasks/task-1/cancel")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebSocketStreamsTransitions(t *testing.T) {
	store, _, srv := newTestAPI(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/ws?task_id=task-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = store.Create("task-1", nil)
	require.NoError(t, err)
	_, err = store.Apply("task-1", state.Transition{Stage: "search", Status: state.StatusRunning})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first events.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, events.TypeTransition, first.Type)
	assert.Equal(t, 1, first.Version)

	var second events.Event
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "search", second.Stage)
	assert.Equal(t, 2, second.Version)
}

func TestWebSocketReplaysBacklog(t *testing.T) {
	store, mgr, srv := newTestAPI(t)

	_, err := store.Create("task-1", nil)
	require.NoError(t, err)
	_, err = store.Apply("task-1", state.Transition{Stage: "plan", Status: state.StatusRunning})
	require.NoError(t, err)
	require.Len(t, mgr.ReplaySince("task-1", 0), 2)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/ws?task_id=task-1&last_event_id=1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, uint64(2), ev.Seq)
	assert.Equal(t, "plan", ev.Stage)
}

func TestWebSocketRequiresTaskID(t *testing.T) {
	_, _, srv := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/stream/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
