package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tinoosan/magnetron/internal/data"
)

// HeartbeatInterval keeps idle streams alive through proxies.
var HeartbeatInterval = 15 * time.Second

// ServeSSE streams taskID as server-sent events until a terminal event or
// until the client goes away. Unknown tasks get a 404.
func (r *Registry) ServeSSE(w http.ResponseWriter, req *http.Request, taskID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, cancel, err := r.Subscribe(taskID)
	if err != nil {
		writeSubscribeError(w, err)
		return
	}
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, Event{TaskID: taskID, Stage: StageConnected, Time: r.now()}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, e); err != nil {
				r.log.Debug("sse write failed", "task_id", taskID, "err", err)
				return
			}
			flusher.Flush()
			if e.Stage.Terminal() {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Stage, b)
	return err
}

// ServeWS streams taskID over a WebSocket. originPatterns is passed to the
// handshake; an empty list allows same-origin requests only.
func (r *Registry) ServeWS(w http.ResponseWriter, req *http.Request, taskID string, originPatterns []string) {
	ch, cancel, err := r.Subscribe(taskID)
	if err != nil {
		writeSubscribeError(w, err)
		return
	}
	defer cancel()

	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{OriginPatterns: originPatterns})
	if err != nil {
		r.log.Warn("websocket accept failed", "task_id", taskID, "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusInternalError, "closing") }()

	// Nothing is expected from the client; CloseRead handles control frames
	// and cancels ctx when the peer goes away.
	ctx := conn.CloseRead(req.Context())

	write := func(e Event) error {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return wsjson.Write(wctx, conn, e)
	}
	if err := write(Event{TaskID: taskID, Stage: StageConnected, Time: r.now()}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "done")
				return
			}
			if err := write(e); err != nil {
				r.log.Debug("websocket write failed", "task_id", taskID, "err", err)
				return
			}
			if e.Stage.Terminal() {
				_ = conn.Close(websocket.StatusNormalClosure, "done")
				return
			}
		}
	}
}

func writeSubscribeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	code := http.StatusInternalServerError
	if errors.Is(err, data.ErrNotFound) {
		code = http.StatusNotFound
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown task"})
}
