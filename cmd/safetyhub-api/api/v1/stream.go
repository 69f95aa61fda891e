package v1

import (
	"encoding/json"
	"net/http"

	"github.com/safetyhub/safetyhub-server/internal/aggregator"
	"github.com/safetyhub/safetyhub-server/internal/logger"
	"github.com/safetyhub/safetyhub-server/internal/report"
)

// StreamEvent is one server-sent event on the updates stream. Exactly one
// of View and Error is set.
type StreamEvent struct {
	View  *aggregator.AggregateView `json:"view,omitempty"`
	Error *report.ErrorNotice       `json:"error,omitempty"`
}

// sseListener adapts the listener callback to a channel the SSE writer
// drains. Updates are full snapshots, so when a slow client falls behind
// the oldest buffered event is dropped in favor of the newer one.
type sseListener struct {
	events chan StreamEvent
}

func newSSEListener() *sseListener {
	return &sseListener{events: make(chan StreamEvent, 32)}
}

// OnUpdate implements listeners.Listener. It never blocks the coordinator.
func (l *sseListener) OnUpdate(view *aggregator.AggregateView, errNotice *report.ErrorNotice) {
	ev := StreamEvent{View: view, Error: errNotice}
	for {
		select {
		case l.events <- ev:
			return
		default:
			select {
			case <-l.events:
			default:
			}
		}
	}
}

// streamUpdates handles GET /v1/updates, delivering aggregate view updates
// for the user's profile group as server-sent events until the client
// disconnects.
func (rr *Routes) streamUpdates(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		rr.writeErrorResponse(w, "userId query parameter is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		rr.writeErrorResponse(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	listener := newSSEListener()
	if err := rr.service.AddListener(listener, userID); err != nil {
		rr.writeServiceError(w, err)
		return
	}
	defer func() {
		if err := rr.service.RemoveListener(listener, userID); err != nil {
			logger.Warnf("Failed to remove update listener for user %s: %v", userID, err)
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-listener.events:
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Errorf("Failed to encode stream event: %v", err)
				continue
			}
			if _, err := w.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
