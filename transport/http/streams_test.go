package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/rendezvous/core"
)

func TestWSConn_FullQueueDisconnects(t *testing.T) {
	w := &wsConn{out: make(chan any, 1)}

	require.NoError(t, w.writeJSON("first"))
	assert.ErrorIs(t, w.writeJSON("second"), errSendQueueFull)
	assert.ErrorIs(t, w.writeJSON("third"), core.ErrChannelClosed)
	assert.ErrorIs(t, w.closeWith(websocket.CloseNormalClosure, ""), core.ErrChannelClosed)
	assert.Equal(t, websocket.ClosePolicyViolation, w.closeCode)

	queued := []any{}
	for msg := range w.out {
		queued = append(queued, msg)
	}
	assert.Equal(t, []any{"first"}, queued)
}

// serveWS upgrades one connection and hands it to fn.
func serveWS(t *testing.T, fn func(*wsConn)) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		fn(newWSConn(conn))
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestWSConn_CloseFollowsQueuedMessages(t *testing.T) {
	returned := make(chan time.Duration, 1)
	client := serveWS(t, func(w *wsConn) {
		for i := 0; i < wsSendQueue/2; i++ {
			assert.NoError(t, w.writeJSON(map[string]int{"n": i}))
		}
		start := time.Now()
		assert.NoError(t, w.closeWith(websocket.ClosePolicyViolation, "bye"))
		returned <- time.Since(start)
	})

	for i := 0; i < wsSendQueue/2; i++ {
		var msg map[string]int
		readJSON(t, client, &msg)
		assert.Equal(t, i, msg["n"])
	}

	_, _, err := client.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.Less(t, <-returned, wsWriteWait)
}

func TestWSChannel_SendAfterCloseFails(t *testing.T) {
	sent := make(chan error, 1)
	client := serveWS(t, func(w *wsConn) {
		ch := &wsChannel[core.PresenceUpdate]{conn: w, wrap: func(u core.PresenceUpdate) any {
			return presenceServerMessage{UsersList: &u}
		}}
		assert.NoError(t, ch.Send(core.PresenceUpdate{Users: []string{"alice"}}))
		assert.NoError(t, ch.Close())
		sent <- ch.Send(core.PresenceUpdate{Users: []string{"bob"}})
	})

	var update presenceServerMessage
	readJSON(t, client, &update)
	require.NotNil(t, update.UsersList)
	assert.Equal(t, []string{"alice"}, update.UsersList.Users)

	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.ErrorIs(t, <-sent, core.ErrChannelClosed)
}
