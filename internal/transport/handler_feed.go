package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pitabwire/aegis/internal/observability"
	"github.com/pitabwire/aegis/internal/tracker"
	"github.com/pitabwire/aegis/model"
)

// FeedHandler streams workflow instance change events over Server-Sent
// Events. Each subscriber gets the tenant-scoped feed; the instance payload
// is the full row, so clients merge by last-write-wins on the instance id
// after loading a snapshot from the list endpoint.
type FeedHandler struct {
	tracker *tracker.Tracker
	logger  *zap.Logger
	buffer  int
}

// NewFeedHandler creates the change feed SSE handler.
func NewFeedHandler(t *tracker.Tracker, logger *zap.Logger, buffer int) *FeedHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedHandler{tracker: t, logger: logger, buffer: buffer}
}

// Stream handles GET /api/workflow-instances/feed.
func (h *FeedHandler) Stream(w http.ResponseWriter, r *http.Request) {
	actor := model.MustActorContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, r, model.NewBadRequestError("Streaming is not supported on this connection"))
		return
	}

	sub, err := h.tracker.Subscribe(actor, h.buffer)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, "state", map[string]string{"state": string(tracker.StateConnected)})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-sub.C:
			if !open {
				return
			}
			writeSSE(w, "change", event)
			// A dropped event means this consumer is behind; tell it to
			// refetch a snapshot and re-subscribe.
			if sub.State() == tracker.StateError {
				writeSSE(w, "state", map[string]string{"state": string(tracker.StateError)})
				flusher.Flush()
				observability.RequestLogger(r.Context(), h.logger).Warn("feed subscriber lagged, closing stream")
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
