package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/Tsinling0525/rivulet-gen/model"
)

// Event types pushed on the engine's websocket.
const (
	EventExecuting = "executing"
	EventProgress  = "progress"
	EventSuccess   = "execution_success"
	EventError     = "execution_error"
)

// Event is one progress message for this client.
type Event struct {
	Type  string
	JobID model.JobID
	Node  model.ID
	Value int
	Max   int
}

// Done reports whether the event marks the end of a job's execution.
func (e Event) Done() bool {
	switch e.Type {
	case EventSuccess, EventError:
		return true
	case EventExecuting:
		return e.Node == ""
	}
	return false
}

// ProgressFunc receives progress events for a job.
type ProgressFunc func(Event)

type wireEvent struct {
	Type string `json:"type"`
	Data struct {
		PromptID *string `json:"prompt_id"`
		Node     *string `json:"node"`
		Value    int     `json:"value"`
		Max      int     `json:"max"`
	} `json:"data"`
}

// Watcher reads the engine's websocket for one client id.
type Watcher struct {
	client *Client
	dialer *websocket.Dialer
}

// NewWatcher creates a watcher for c's client id.
func NewWatcher(c *Client) *Watcher {
	return &Watcher{client: c, dialer: websocket.DefaultDialer}
}

func (w *Watcher) url() (string, error) {
	u, err := url.Parse(w.client.base + w.client.prefix + "/ws")
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("clientId", w.client.clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run delivers events to fn until ctx is done or the connection drops.
// Binary frames (previews) are skipped. It returns nil when ctx ends.
func (w *Watcher) Run(ctx context.Context, fn func(Event)) error {
	target, err := w.url()
	if err != nil {
		return errors.Trace(err)
	}
	header := http.Header{}
	if w.client.apiKey != "" {
		header.Set(apiKeyHeader, w.client.apiKey)
	}
	conn, resp, err := w.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return errors.Annotatef(err, "dial %s", target)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Trace(err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		var we wireEvent
		if err := json.Unmarshal(data, &we); err != nil {
			w.client.logger.Debug("websocket message not understood", zap.Error(err))
			continue
		}
		ev := Event{Type: we.Type, Value: we.Data.Value, Max: we.Data.Max}
		if we.Data.PromptID != nil {
			ev.JobID = model.JobID(*we.Data.PromptID)
		}
		if we.Data.Node != nil {
			ev.Node = model.ID(*we.Data.Node)
		}
		fn(ev)
	}
}
