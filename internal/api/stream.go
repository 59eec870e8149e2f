/**
 * @description
 * Server-sent events endpoint for real-time payment updates. Each connected
 * client gets its own subscription on the in-process event bus, scoped to the
 * authenticated account; both parties of a payment receive its events.
 *
 * @dependencies
 * - net/http: SSE is plain HTTP with a streaming body.
 * - internal/app, internal/domain: Event bus and event model.
 */

package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/boopathydreams/capnpay-settlement/internal/app"
)

const streamHeartbeatInterval = 25 * time.Second

// StreamHandlers serves the SSE subscription endpoint.
type StreamHandlers struct {
	bus *app.EventBus
}

// NewStreamHandlers creates the stream handler set.
func NewStreamHandlers(bus *app.EventBus) *StreamHandlers {
	return &StreamHandlers{bus: bus}
}

// SubscribeHandler streams the authenticated account's payment events until
// the client disconnects.
func (h *StreamHandlers) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		http.Error(w, "Could not get account ID from context", http.StatusInternalServerError)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, cancel := h.bus.Subscribe(accountID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	log.Printf("level=info component=stream outcome=subscribed account_id=%s", accountID)
	for {
		select {
		case <-r.Context().Done():
			log.Printf("level=info component=stream outcome=disconnected account_id=%s", accountID)
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("level=error component=stream msg=\"event marshal failed\" err=%v", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
