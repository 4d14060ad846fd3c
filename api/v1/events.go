package v1

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tinoosan/magnetron/internal/progress"
)

// EventsHandler exposes dispatch progress over SSE and WebSocket.
type EventsHandler struct {
	registry *progress.Registry
	origins  []string
}

func NewEventsHandler(reg *progress.Registry, origins []string) *EventsHandler {
	return &EventsHandler{registry: reg, origins: origins}
}

func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	h.registry.ServeSSE(w, r, mux.Vars(r)["taskId"])
}

func (h *EventsHandler) Socket(w http.ResponseWriter, r *http.Request) {
	h.registry.ServeWS(w, r, mux.Vars(r)["taskId"], h.origins)
}
