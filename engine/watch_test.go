package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tsinling0525/rivulet-gen/model"
)

func wsHandler(t *testing.T, messages []string, ids chan<- string) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("clientId")
		if got == "" {
			t.Errorf("Expected a clientId on the websocket URL")
		}
		select {
		case ids <- got:
		default:
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func TestWatcherDeliversEvents(t *testing.T) {
	srv := httptest.NewServer(wsHandler(t, []string{
		`{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 1}}}}`,
		`{"type": "executing", "data": {"node": "3", "prompt_id": "job-1"}}`,
		`{"type": "progress", "data": {"value": 5, "max": 20, "prompt_id": "job-1", "node": "3"}}`,
		`{"type": "executing", "data": {"node": null, "prompt_id": "job-1"}}`,
	}, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []Event
	err := NewWatcher(NewClient(srv.URL, WithClientID("cid"))).Run(ctx, func(ev Event) {
		events = append(events, ev)
		if ev.Done() {
			cancel()
		}
	})
	require.NoError(t, err)
	require.Len(t, events, 4)
	require.Equal(t, Event{Type: EventProgress, JobID: "job-1", Node: "3", Value: 5, Max: 20}, events[2])
	require.False(t, events[1].Done())
	require.True(t, events[3].Done())
}

func TestWatcherSendsClientID(t *testing.T) {
	ids := make(chan string, 1)
	srv := httptest.NewServer(wsHandler(t, []string{
		`{"type": "execution_success", "data": {"prompt_id": "job-1"}}`,
	}, ids))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := NewWatcher(NewClient(srv.URL, WithClientID("cid"))).Run(ctx, func(Event) { cancel() })
	require.NoError(t, err)
	require.Equal(t, "cid", <-ids)
}

func TestWatcherDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	err := NewWatcher(NewClient(srv.URL)).Run(context.Background(), func(Event) {})
	require.Error(t, err)
}

func TestRunJobWokenByWebsocket(t *testing.T) {
	f := &fakeEngine{t: t, completeAfter: 2, historyBody: completedHistory}
	mux := http.NewServeMux()
	mux.Handle("/", f.handler())
	ids := make(chan string, 1)
	mux.Handle("/ws", wsHandler(t, []string{
		`{"type": "execution_success", "data": {"prompt_id": "job-1"}}`,
	}, ids))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, WithClientID("cid"))
	done := make(chan Event, 1)
	o := NewOrchestrator(c, testWorkflow(t),
		WithPoller(NewPoller(c, WithPollInterval(time.Hour), WithPollTimeout(10*time.Second))),
		WithWebsocket(true, func(ev Event) {
			select {
			case done <- ev:
			default:
			}
		}))

	res, err := o.RunJob(context.Background(), Request{Image: []byte("img"), Prompt: "x"})
	require.NoError(t, err)
	require.Equal(t, model.JobID("job-1"), res.JobID)
	require.Equal(t, int32(2), f.historyCalls.Load())
	require.Equal(t, EventSuccess, (<-done).Type)

	wsID := <-ids
	require.NotEqual(t, "cid", wsID)
	require.Equal(t, wsID, f.submitted["client_id"])
}

func TestEventDone(t *testing.T) {
	require.True(t, Event{Type: EventError}.Done())
	require.False(t, Event{Type: EventProgress}.Done())
}
