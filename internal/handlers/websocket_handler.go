package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/locationtracker/agent/internal/observability"
	"github.com/locationtracker/agent/internal/services"
)

// WebSocketHandler streams change notices to map clients on /ws.
// Connect with ?topic=records or ?topic=sync to narrow the stream up front.
type WebSocketHandler struct {
	hub      *services.ChangeHub
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *services.ChangeHub) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The map UI runs on its own origin; the API key check already ran
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleConnection upgrades the request and serves the stream until it closes
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.Warnf("Observer upgrade failed: %v", err)
		return
	}

	stream := h.hub.Attach(uuid.NewString(), conn, r.URL.Query()["topic"]...)
	h.hub.Serve(stream, h.handleNotice)
}

func (h *WebSocketHandler) handleNotice(stream *services.Stream, n services.Notice) {
	switch n.Type {
	case services.NoticePing:
		h.hub.Reply(stream, services.Notice{Type: services.NoticePong})
	case services.NoticeSubscribe:
		if topic := topicOf(n.Payload); topic != "" {
			h.hub.Subscribe(stream, topic)
		}
	case services.NoticeUnsubscribe:
		if topic := topicOf(n.Payload); topic != "" {
			h.hub.Unsubscribe(stream, topic)
		}
	default:
		observability.Debugf("Ignoring %q notice from observer %s", n.Type, stream.ID())
	}
}

// topicOf accepts "sync" or {"topic": "sync"}
func topicOf(payload interface{}) string {
	switch p := payload.(type) {
	case string:
		return p
	case map[string]interface{}:
		topic, _ := p["topic"].(string)
		return topic
	}
	return ""
}
