package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/d1618033/simplechat/internal/chat"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (c *client) subscribeURL(srv *httptest.Server, room, token string) string {
	return fmt.Sprintf("ws%s/ws?room=%s&token=%s", strings.TrimPrefix(srv.URL, "http"), room, token)
}

func (c *client) subscribe(srv *httptest.Server, room uint, token string) *websocket.Conn {
	c.t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(c.subscribeURL(srv, fmt.Sprint(room), token), nil)
	require.NoError(c.t, err)
	_ = resp.Body.Close()
	c.t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(c.t, func() bool { return c.hub.Online(room) > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) chat.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt chat.Event
	require.NoError(t, json.Unmarshal(b, &evt), string(b))
	return evt
}

func TestSubscribeRejected(t *testing.T) {
	c := newClient(t)
	srv := httptest.NewServer(c.engine)
	defer srv.Close()

	room := c.createRoom()
	other := c.createRoom()
	david := c.register(room, "david")
	bro := c.register(room, "bro")
	w := c.do(http.MethodPost, "/api/v1/logout", bro.Token, gin.H{"participant": bro.Participant.ID, "room": room})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	tests := []struct {
		name  string
		room  string
		token string
		want  int
	}{
		{"token for another room", fmt.Sprint(other), david.Token, http.StatusForbidden},
		{"logged out token", fmt.Sprint(room), bro.Token, http.StatusForbidden},
		{"no token", fmt.Sprint(room), "", http.StatusForbidden},
		{"garbage token", fmt.Sprint(room), "not-a-token", http.StatusForbidden},
		{"bad room", "abc", david.Token, http.StatusBadRequest},
		{"zero room", "0", david.Token, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(c.subscribeURL(srv, tt.room, tt.token), nil)
			if conn != nil {
				_ = conn.Close()
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
	assert.Zero(t, c.hub.Online(room))
	assert.Zero(t, c.hub.Online(other))
}

func TestSubscribeReceivesEvents(t *testing.T) {
	c := newClient(t)
	srv := httptest.NewServer(c.engine)
	defer srv.Close()

	room := c.createRoom()
	david := c.register(room, "david")
	conn := c.subscribe(srv, room, david.Token)

	w := c.post(david.Token, david.Participant.ID, room, "<b>hello</b>")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	evt := readEvent(t, conn)
	assert.Equal(t, chat.EventMessage, evt.Type)
	assert.Equal(t, room, evt.RoomID)
	require.NotNil(t, evt.Message)
	assert.Equal(t, "<b>hello</b>", evt.Message.Text)
	assert.Equal(t, david.Participant.ID, evt.Message.ParticipantID)

	bro := c.register(room, "bro")
	evt = readEvent(t, conn)
	assert.Equal(t, chat.EventJoin, evt.Type)
	require.NotNil(t, evt.Participant)
	assert.Equal(t, bro.Participant.ID, evt.Participant.ID)
}

func TestLogoutClosesSubscription(t *testing.T) {
	c := newClient(t)
	srv := httptest.NewServer(c.engine)
	defer srv.Close()

	room := c.createRoom()
	david := c.register(room, "david")
	conn := c.subscribe(srv, room, david.Token)

	w := c.do(http.MethodPost, "/api/v1/logout", david.Token, gin.H{"participant": david.Participant.ID, "room": room})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	evt := readEvent(t, conn)
	assert.Equal(t, chat.EventLeave, evt.Type)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived), "got %v", err)
	require.Eventually(t, func() bool { return c.hub.Online(room) == 0 }, time.Second, 5*time.Millisecond)
}
