package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWSServer(t *testing.T, th *testHub) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", Serve(th.Hub))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, typ string, ack int64, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Type: typ, Ack: ack, Data: raw}))
}

// readUntil 读取直到出现指定类型的帧。
func readUntil(t *testing.T, conn *websocket.Conn, typ string) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var r received
		require.NoError(t, conn.ReadJSON(&r), "waiting for %q", typ)
		if r.Type == typ {
			return r
		}
	}
}

func TestServe_EndToEndPrivateMessage(t *testing.T) {
	th := newTestHub(t)
	url := newWSServer(t, th)
	alice, bob := dial(t, url), dial(t, url)

	var reply SessionReply
	sendFrame(t, alice, EvRegister, 1, map[string]string{"username": "alice"})
	readUntil(t, alice, EvAck).decode(t, &reply)
	require.True(t, reply.Success)

	sendFrame(t, bob, EvRegister, 1, map[string]string{"username": "bob"})
	readUntil(t, bob, EvAck).decode(t, &reply)
	require.True(t, reply.Success)
	bobID := reply.ConnectionID

	sendFrame(t, alice, EvPrivateMessage, 0, map[string]string{"to": bobID, "message": "Hello Bob!"})

	var got DirectMessage
	readUntil(t, bob, EvMsgToClient).decode(t, &got)
	assert.Equal(t, "alice", got.Sender)
	assert.Equal(t, "Hello Bob!", got.Message)
	assert.True(t, got.IsPrivate)

	var echo DirectMessage
	readUntil(t, alice, EvMsgToClient).decode(t, &echo)
	assert.Equal(t, "bob", echo.Recipient)
	assert.Equal(t, bobID, echo.ToID)
}

func TestServe_TakeoverClosesOldSocket(t *testing.T) {
	th := newTestHub(t)
	url := newWSServer(t, th)
	c1, c2 := dial(t, url), dial(t, url)

	var reply SessionReply
	sendFrame(t, c1, EvRegister, 1, map[string]string{"username": "dup"})
	readUntil(t, c1, EvAck).decode(t, &reply)
	require.True(t, reply.Success)

	sendFrame(t, c2, EvRegister, 1, map[string]string{"username": "dup"})
	readUntil(t, c2, EvAck).decode(t, &reply)
	require.True(t, reply.Success)

	var n Notice
	readUntil(t, c1, EvError).decode(t, &n)
	assert.Contains(t, n.Message, "another location")

	require.NoError(t, c1.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := c1.ReadMessage()
	for err == nil {
		_, _, err = c1.ReadMessage()
	}
	var ne net.Error
	assert.False(t, errors.As(err, &ne) && ne.Timeout(), "server should close the evicted socket")
}

func TestServe_TokenBindsOnConnect(t *testing.T) {
	th := newTestHub(t)
	url := newWSServer(t, th)
	res, err := th.accounts.Register(ctx(), "carol", "carol@example.com", "secret1")
	require.NoError(t, err)

	conn := dial(t, url+"?token="+res.AccessToken)
	var reply SessionReply
	readUntil(t, conn, EvAck).decode(t, &reply)
	assert.True(t, reply.Success)
	assert.Equal(t, "carol", reply.Username)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServe_DisconnectEndsSession(t *testing.T) {
	th := newTestHub(t)
	url := newWSServer(t, th)
	alice, bob := dial(t, url), dial(t, url)

	sendFrame(t, alice, EvRegister, 1, map[string]string{"username": "alice"})
	readUntil(t, alice, EvAck)
	sendFrame(t, bob, EvRegister, 1, map[string]string{"username": "bob"})
	readUntil(t, bob, EvAck)

	require.NoError(t, alice.Close())

	var left Presence
	readUntil(t, bob, EvUserLeft).decode(t, &left)
	assert.Equal(t, "alice", left.Username)
	assert.Eventually(t, func() bool { return th.sessions.Count() == 1 }, time.Second, 10*time.Millisecond)
}
