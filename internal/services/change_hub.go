package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/locationtracker/agent/internal/models"
	"github.com/locationtracker/agent/internal/observability"
)

// Notice is one JSON frame exchanged with map clients
type Notice struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Notice types sent by the agent
const (
	NoticeRecordsChanged = "records_changed"
	NoticeSyncComplete   = "sync_complete"
	NoticePong           = "pong"
)

// Notice types sent by clients
const (
	NoticeSubscribe   = "subscribe"
	NoticeUnsubscribe = "unsubscribe"
	NoticePing        = "ping"
)

// Topics a stream can narrow itself to. A stream with no topics gets everything.
const (
	TopicRecords = "records"
	TopicSync    = "sync"
)

const (
	outboxSize     = 64
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = 25 * time.Second
	maxClientFrame = 4 * 1024
)

// RecordsChangedPayload tells map clients to reload a record kind
type RecordsChangedPayload struct {
	Kind models.RecordKind `json:"kind"`
}

// Stream is one connected map client
type Stream struct {
	id     string
	conn   *websocket.Conn
	outbox chan []byte
	topics map[string]struct{} // guarded by ChangeHub.mu
	done   sync.Once
}

// ID identifies the stream in logs
func (s *Stream) ID() string { return s.id }

// Outbox yields the encoded notices queued for the stream. It is closed on detach.
func (s *Stream) Outbox() <-chan []byte { return s.outbox }

func (s *Stream) wants(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

// offer queues data without blocking and reports whether it fit
func (s *Stream) offer(data []byte) bool {
	select {
	case s.outbox <- data:
		return true
	default:
		return false
	}
}

// ChangeHub pushes local change and sync notices to map clients.
// It implements Observer and SessionObserver.
type ChangeHub struct {
	mu      sync.RWMutex
	streams map[*Stream]struct{}
	closed  bool
}

// NewChangeHub creates an empty hub
func NewChangeHub() *ChangeHub {
	return &ChangeHub{streams: make(map[*Stream]struct{})}
}

// Attach registers a client. conn may be nil for streams read only through Outbox.
func (h *ChangeHub) Attach(id string, conn *websocket.Conn, topics ...string) *Stream {
	s := &Stream{
		id:     id,
		conn:   conn,
		outbox: make(chan []byte, outboxSize),
		topics: make(map[string]struct{}),
	}
	for _, topic := range topics {
		s.topics[topic] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.outbox)
		return s
	}
	h.streams[s] = struct{}{}
	observability.Debugf("Observer %s attached (%d open)", id, len(h.streams))
	return s
}

// Detach removes a client and closes its outbox. Detaching twice is harmless.
func (h *ChangeHub) Detach(s *Stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachLocked(s)
}

func (h *ChangeHub) detachLocked(s *Stream) {
	if _, ok := h.streams[s]; !ok {
		return
	}
	delete(h.streams, s)
	s.done.Do(func() { close(s.outbox) })
	observability.Debugf("Observer %s detached (%d open)", s.id, len(h.streams))
}

// Close detaches every client; later attaches get a closed outbox
func (h *ChangeHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.streams {
		h.detachLocked(s)
	}
	h.closed = true
}

// Subscribe narrows a stream to topic, in addition to any topics it already has
func (h *ChangeHub) Subscribe(s *Stream, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s.topics[topic] = struct{}{}
}

// Unsubscribe drops topic from a stream. Dropping the last topic restores every topic.
func (h *ChangeHub) Unsubscribe(s *Stream, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(s.topics, topic)
}

// Subscribers counts open streams that would receive topic
func (h *ChangeHub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for s := range h.streams {
		if s.wants(topic) {
			n++
		}
	}
	return n
}

// Open counts attached streams
func (h *ChangeHub) Open() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}

// Publish delivers a notice to every stream that wants topic. It never blocks:
// a stream whose outbox is full has fallen behind and is detached.
func (h *ChangeHub) Publish(topic string, n Notice) {
	data, err := json.Marshal(n)
	if err != nil {
		observability.Errorf("Encoding %s notice: %v", n.Type, err)
		return
	}

	var stalled []*Stream
	h.mu.RLock()
	for s := range h.streams {
		if s.wants(topic) && !s.offer(data) {
			stalled = append(stalled, s)
		}
	}
	h.mu.RUnlock()

	if len(stalled) == 0 {
		return
	}
	h.mu.Lock()
	for _, s := range stalled {
		observability.Warnf("Observer %s fell behind, disconnecting", s.id)
		h.detachLocked(s)
	}
	h.mu.Unlock()
}

// Reply queues a notice for one stream only
func (h *ChangeHub) Reply(s *Stream, n Notice) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.streams[s]; ok {
		s.offer(data)
	}
}

// LocalRecordsChanged implements Observer
func (h *ChangeHub) LocalRecordsChanged(kind models.RecordKind) {
	h.Publish(TopicRecords, Notice{Type: NoticeRecordsChanged, Payload: RecordsChangedPayload{Kind: kind}})
}

// SyncCompleted implements SessionObserver
func (h *ChangeHub) SyncCompleted(result models.SessionResult) {
	h.Publish(TopicSync, Notice{Type: NoticeSyncComplete, Payload: result})
}

// Serve runs the stream's connection until the client goes away or the stream
// is detached. Each decoded client notice is passed to handle.
func (h *ChangeHub) Serve(s *Stream, handle func(*Stream, Notice)) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	s.readLoop(handle)
	// Unblock the writer if the reader ended first
	h.Detach(s)
	<-writerDone
}

func (s *Stream) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer s.conn.Close()

	for {
		select {
		case data, ok := <-s.outbox:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Stream) readLoop(handle func(*Stream, Notice)) {
	s.conn.SetReadLimit(maxClientFrame)
	s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				observability.Debugf("Observer %s read ended: %v", s.id, err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		var n Notice
		if err := json.Unmarshal(data, &n); err != nil {
			observability.Debugf("Observer %s sent an unreadable notice: %v", s.id, err)
			continue
		}
		handle(s, n)
	}
}
