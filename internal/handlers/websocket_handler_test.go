package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/locationtracker/agent/internal/models"
	"github.com/locationtracker/agent/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialObserver(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readNotice(t *testing.T, conn *websocket.Conn) services.Notice {
	t.Helper()
	var n services.Notice
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&n))
	return n
}

func TestWebSocketHandler(t *testing.T) {
	hub := services.NewChangeHub()
	srv := httptest.NewServer(http.HandlerFunc(NewWebSocketHandler(hub).HandleConnection))
	defer srv.Close()

	conn := dialObserver(t, srv, "")
	require.Eventually(t, func() bool { return hub.Open() == 1 }, 2*time.Second, 10*time.Millisecond)

	t.Run("answers pings", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(services.Notice{Type: services.NoticePing}))
		assert.Equal(t, services.NoticePong, readNotice(t, conn).Type)
	})

	t.Run("ignores unreadable frames", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		require.NoError(t, conn.WriteJSON(services.Notice{Type: services.NoticePing}))
		assert.Equal(t, services.NoticePong, readNotice(t, conn).Type)
	})

	t.Run("delivers change notices", func(t *testing.T) {
		hub.LocalRecordsChanged(models.KindLocation)

		n := readNotice(t, conn)
		assert.Equal(t, services.NoticeRecordsChanged, n.Type)
		assert.Equal(t, map[string]interface{}{"kind": "location"}, n.Payload)
	})

	t.Run("subscription filters topics", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(services.Notice{
			Type:    services.NoticeSubscribe,
			Payload: map[string]string{"topic": services.TopicSync},
		}))
		require.Eventually(t, func() bool { return hub.Subscribers(services.TopicRecords) == 0 }, 2*time.Second, 10*time.Millisecond)

		hub.LocalRecordsChanged(models.KindLocation)
		hub.SyncCompleted(models.SessionResult{Direction: models.DirectionPull, Success: true})

		assert.Equal(t, services.NoticeSyncComplete, readNotice(t, conn).Type)
	})

	t.Run("topic query narrows a new stream", func(t *testing.T) {
		before := hub.Subscribers(services.TopicRecords)
		dialObserver(t, srv, "?topic=records")
		require.Eventually(t, func() bool { return hub.Open() == 2 }, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, before+1, hub.Subscribers(services.TopicRecords))
		assert.Equal(t, 1, hub.Subscribers(services.TopicSync))
	})

	t.Run("closing the hub ends the stream", func(t *testing.T) {
		hub.Close()

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
		require.Eventually(t, func() bool { return hub.Open() == 0 }, 2*time.Second, 10*time.Millisecond)
	})
}
