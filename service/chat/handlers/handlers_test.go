package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"PPSignal/module/directory"
	"PPSignal/service/chat"
	"PPSignal/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	t   *testing.T
	srv *httptest.Server
	ws  *chat.Server
	dir *directory.MemoryStore
}

func newEnv(t *testing.T, ringTimeout time.Duration) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := directory.NewMemoryStore()
	reg := chat.NewRegistry(nil)
	router := chat.NewRouter(reg, dir)
	verifier := chat.VerifierFunc(func(token string) (int64, error) {
		id, err := strconv.ParseInt(token, 10, 64)
		if err != nil || id <= 0 {
			return 0, errs.ErrAuthFailure.WrapMsg("bad token")
		}
		return id, nil
	})
	ws := chat.NewServer(chat.ServerConf{RingTimeout: ringTimeout}, router, chat.NewCallCoordinator(nil), verifier)
	ws.Disp().Register(All()...)

	engine := gin.New()
	engine.GET("/ws", ws.HandleWS)
	srv := httptest.NewServer(engine)
	t.Cleanup(func() {
		ws.Close()
		srv.Close()
	})
	return &env{t: t, srv: srv, ws: ws, dir: dir}
}

type client struct {
	t    *testing.T
	user int64
	conn *websocket.Conn
}

type inbound struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func (e *env) dialRaw(token string) *websocket.Conn {
	e.t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(e.t, err)
	return conn
}

// connect 等到 connected 和 online_users 都收到，之后会话已登记
func (e *env) connect(user int64) (*client, []any) {
	e.t.Helper()
	c := &client{t: e.t, user: user, conn: e.dialRaw(strconv.FormatInt(user, 10))}
	e.t.Cleanup(func() { _ = c.conn.Close() })
	ack := c.expect(chat.TypeConnected)
	assert.EqualValues(e.t, user, ack["user_id"])
	online := c.expect(chat.TypeOnlineUsers)
	ids, _ := online["user_ids"].([]any)
	return c, ids
}

func (c *client) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

// expect 读到指定类型为止，途中的其他通知（如 user_status）被跳过
func (c *client) expect(typ string) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		mt, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", typ)
		if mt != websocket.TextMessage {
			continue
		}
		var in inbound
		require.NoError(c.t, json.Unmarshal(data, &in))
		if in.Type == typ {
			return in.Data
		}
	}
}

// typesUntil 读到指定类型为止，返回途中收到的全部类型（含最后一个）
func (c *client) typesUntil(typ string) []string {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var seen []string
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		mt, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", typ)
		if mt != websocket.TextMessage {
			continue
		}
		var in inbound
		require.NoError(c.t, json.Unmarshal(data, &in))
		seen = append(seen, in.Type)
		if in.Type == typ {
			return seen
		}
	}
}

// connectCall a 呼叫 b 并由 b 接听
func connectCall(t *testing.T, a, b *client) {
	t.Helper()
	a.send(map[string]any{"type": "voice_call_request", "to_user_id": b.user})
	b.expect(chat.TypeCallIncoming)
	b.send(map[string]any{"type": "voice_call_accept", "caller_id": a.user})
	a.expect(chat.TypeCallConnected)
	b.expect(chat.TypeCallConnected)
}

func (c *client) expectBinary() []byte {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		mt, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		if mt == websocket.BinaryMessage {
			return data
		}
	}
}

func TestAuthFailureClosesConnection(t *testing.T) {
	e := newEnv(t, 0)
	conn := e.dialRaw("not-a-token")
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	assert.Equal(t, "authentication failed", ce.Text)
	assert.Zero(t, e.ws.Registry().Count())
}

func TestConnectAckOnlineUsersAndPresence(t *testing.T) {
	e := newEnv(t, 0)
	e.dir.Befriend(1, 2)
	e.dir.Befriend(1, 3)

	b, online := e.connect(2)
	assert.Empty(t, online)

	_, online = e.connect(1)
	assert.Equal(t, []any{float64(2)}, online)

	st := b.expect(chat.TypeUserStatus)
	assert.EqualValues(t, 1, st["user_id"])
	assert.Equal(t, chat.StatusOnline, st["status"])

	p, err := e.dir.Presence(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, chat.StatusOnline, p.Status)
	assert.Nil(t, p.LastSeen)
}

func TestPingPongAndMalformedFramesIgnored(t *testing.T) {
	e := newEnv(t, 0)
	a, _ := e.connect(1)

	require.NoError(t, a.conn.WriteMessage(websocket.TextMessage, []byte("{garbage")))
	a.send(map[string]any{"type": "no_such_type"})
	a.send(map[string]any{"type": "ping", "timestamp": 123})

	pong := a.expect(chat.TypePong)
	assert.EqualValues(t, 123, pong["timestamp"])
	assert.True(t, e.ws.Registry().IsOnline(1))
}

func TestCallLifecycleWithMediaForwarding(t *testing.T) {
	e := newEnv(t, 0)
	a, _ := e.connect(1)
	b, _ := e.connect(2)

	a.send(map[string]any{"type": "voice_call_request", "to_user_id": "2", "caller_name": "amy", "caller_avatar": "a.png"})
	in := b.expect(chat.TypeCallIncoming)
	assert.EqualValues(t, 1, in["caller_id"])
	assert.Equal(t, "amy", in["caller_name"])

	b.send(map[string]any{"type": "voice_call_accept", "caller_id": 1, "receiver_name": "bob"})
	conn := a.expect(chat.TypeCallConnected)
	assert.EqualValues(t, 2, conn["peer_id"])
	assert.Equal(t, "bob", conn["peer_name"])
	conn = b.expect(chat.TypeCallConnected)
	assert.EqualValues(t, 1, conn["peer_id"])
	assert.True(t, e.ws.Calls().InCall(1))

	require.NoError(t, a.conn.WriteMessage(websocket.BinaryMessage, []byte{0xCA, 0xFE}))
	assert.Equal(t, []byte{0xCA, 0xFE}, b.expectBinary())

	b.send(map[string]any{"type": "voice_call_hangup"})
	ended := a.expect(chat.TypeCallEnded)
	assert.Equal(t, chat.ReasonHangup, ended["reason"])
	assert.Eventually(t, func() bool { return e.ws.Calls().Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestCallToOfflineAndBusyPeer(t *testing.T) {
	e := newEnv(t, 0)
	a, _ := e.connect(1)
	b, _ := e.connect(2)
	c, _ := e.connect(3)

	a.send(map[string]any{"type": "voice_call_request", "to_user_id": 99})
	failed := a.expect(chat.TypeCallFailed)
	assert.Equal(t, chat.ReasonCalleeOffline, failed["reason"])

	a.send(map[string]any{"type": "voice_call_request", "to_user_id": 2})
	b.expect(chat.TypeCallIncoming)
	b.send(map[string]any{"type": "voice_call_accept", "caller_id": 1})
	a.expect(chat.TypeCallConnected)

	c.send(map[string]any{"type": "voice_call_request", "to_user_id": 2})
	busy := c.expect(chat.TypeCallBusy)
	assert.Equal(t, chat.ReasonPeerBusy, busy["reason"])

	a.send(map[string]any{"type": "voice_call_request", "to_user_id": 3})
	failed = a.expect(chat.TypeCallFailed)
	assert.Equal(t, chat.ReasonSelfInCall, failed["reason"])

	// 主叫已在通话中，第三方接听失败且状态不变
	c.send(map[string]any{"type": "voice_call_accept", "caller_id": 1})
	failed = c.expect(chat.TypeCallFailed)
	assert.Equal(t, chat.ReasonCallerBusy, failed["reason"])
	peer, ok := e.ws.Calls().Peer(1)
	assert.True(t, ok)
	assert.Equal(t, int64(2), peer)
	assert.False(t, e.ws.Calls().InCall(3))
}

func TestRejectAndCancel(t *testing.T) {
	e := newEnv(t, time.Minute)
	a, _ := e.connect(1)
	b, _ := e.connect(2)

	a.send(map[string]any{"type": "voice_call_request", "to_user_id": 2})
	b.expect(chat.TypeCallIncoming)
	b.send(map[string]any{"type": "voice_call_reject", "caller_id": 1})
	rej := a.expect(chat.TypeCallRejected)
	assert.Equal(t, chat.ReasonDeclined, rej["reason"])
	assert.False(t, e.ws.Ringer().Pending(1, 2))

	a.send(map[string]any{"type": "voice_call_request", "to_user_id": 2})
	b.expect(chat.TypeCallIncoming)
	a.send(map[string]any{"type": "voice_call_cancel", "receiver_id": 2})
	cancelled := b.expect(chat.TypeCallCancelled)
	assert.Equal(t, chat.ReasonCancelledByPeer, cancelled["reason"])
	assert.False(t, e.ws.Ringer().Pending(1, 2))
}

func TestRingTimeout(t *testing.T) {
	e := newEnv(t, 100*time.Millisecond)
	a, _ := e.connect(1)
	b, _ := e.connect(2)

	a.send(map[string]any{"type": "voice_call_request", "to_user_id": 2})
	b.expect(chat.TypeCallIncoming)

	cancelled := b.expect(chat.TypeCallCancelled)
	assert.Equal(t, chat.ReasonRingTimeout, cancelled["reason"])
	failed := a.expect(chat.TypeCallFailed)
	assert.Equal(t, chat.ReasonNoAnswer, failed["reason"])
	assert.False(t, e.ws.Calls().InCall(1))
}

func TestDisconnectDuringCall(t *testing.T) {
	e := newEnv(t, 0)
	e.dir.Befriend(1, 2)
	a, _ := e.connect(1)
	b, _ := e.connect(2)

	a.send(map[string]any{"type": "voice_call_request", "to_user_id": 2})
	b.expect(chat.TypeCallIncoming)
	b.send(map[string]any{"type": "voice_call_accept", "caller_id": 1})
	a.expect(chat.TypeCallConnected)

	require.NoError(t, a.conn.Close())

	ended := b.expect(chat.TypeCallEnded)
	assert.Equal(t, chat.ReasonPeerDisconnected, ended["reason"])
	for {
		st := b.expect(chat.TypeUserStatus)
		if st["status"] == chat.StatusOffline {
			assert.EqualValues(t, 1, st["user_id"])
			break
		}
	}
	assert.False(t, e.ws.Calls().InCall(2))
	assert.False(t, e.ws.Registry().IsOnline(1))

	p, err := e.dir.Presence(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, chat.StatusOffline, p.Status)
	assert.NotNil(t, p.LastSeen)
}

func TestReconnectReplacesOldConnection(t *testing.T) {
	e := newEnv(t, 0)
	e.dir.Befriend(1, 2)
	b, _ := e.connect(2)
	old, _ := e.connect(1)
	b.expect(chat.TypeUserStatus)

	fresh, _ := e.connect(1)

	// 旧连接被服务端关闭
	require.NoError(t, old.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := old.conn.ReadMessage(); err != nil {
			break
		}
	}

	fresh.send(map[string]any{"type": "ping", "timestamp": 1})
	fresh.expect(chat.TypePong)
	assert.True(t, e.ws.Registry().IsOnline(1))
	assert.Equal(t, 2, e.ws.Registry().Count())

	// 被顶替的连接不发布下线
	time.Sleep(100 * time.Millisecond)
	p, err := e.dir.Presence(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, chat.StatusOnline, p.Status)
}

func TestReconnectEndsCallOfReplacedConnection(t *testing.T) {
	e := newEnv(t, 0)
	a, _ := e.connect(1)
	b, _ := e.connect(2)
	connectCall(t, a, b)

	fresh, _ := e.connect(1)

	ended := b.expect(chat.TypeCallEnded)
	assert.Equal(t, chat.ReasonPeerDisconnected, ended["reason"])
	assert.False(t, e.ws.Calls().InCall(1))
	assert.False(t, e.ws.Calls().InCall(2))

	// 新连接可以重新呼叫，媒体也不会再转给它
	fresh.send(map[string]any{"type": "voice_call_request", "to_user_id": 2})
	in := b.expect(chat.TypeCallIncoming)
	assert.EqualValues(t, 1, in["caller_id"])
	assert.True(t, e.ws.Registry().IsOnline(1))
}

func TestCrossCallAcceptClearsBothRings(t *testing.T) {
	ring := 500 * time.Millisecond
	e := newEnv(t, ring)
	a, _ := e.connect(1)
	b, _ := e.connect(2)

	// 双方同时呼叫对方
	a.send(map[string]any{"type": "voice_call_request", "to_user_id": 2})
	b.expect(chat.TypeCallIncoming)
	b.send(map[string]any{"type": "voice_call_request", "to_user_id": 1})
	a.expect(chat.TypeCallIncoming)
	require.True(t, e.ws.Ringer().Pending(2, 1))

	b.send(map[string]any{"type": "voice_call_accept", "caller_id": 1})
	a.expect(chat.TypeCallConnected)
	b.expect(chat.TypeCallConnected)
	assert.Zero(t, e.ws.Ringer().Len())

	time.Sleep(ring + 200*time.Millisecond)
	a.send(map[string]any{"type": "ping", "timestamp": 7})
	seen := a.typesUntil(chat.TypePong)
	assert.NotContains(t, seen, chat.TypeCallCancelled)
	assert.NotContains(t, seen, chat.TypeCallFailed)
	b.send(map[string]any{"type": "ping", "timestamp": 8})
	seen = b.typesUntil(chat.TypePong)
	assert.NotContains(t, seen, chat.TypeCallCancelled)
	assert.NotContains(t, seen, chat.TypeCallFailed)
	assert.True(t, e.ws.Calls().InCall(1))
}

func TestAcceptSettlesThirdPartyRings(t *testing.T) {
	e := newEnv(t, time.Minute)
	a, _ := e.connect(1)
	b, _ := e.connect(2)
	c, _ := e.connect(3)

	a.send(map[string]any{"type": "voice_call_request", "to_user_id": 2})
	b.expect(chat.TypeCallIncoming)
	c.send(map[string]any{"type": "voice_call_request", "to_user_id": 2})
	b.expect(chat.TypeCallIncoming)

	b.send(map[string]any{"type": "voice_call_accept", "caller_id": 1})
	a.expect(chat.TypeCallConnected)
	busy := c.expect(chat.TypeCallBusy)
	assert.Equal(t, chat.ReasonPeerBusy, busy["reason"])
	assert.Zero(t, e.ws.Ringer().Len())
}

func TestRingTimeoutSkipsPartyInCall(t *testing.T) {
	e := newEnv(t, 500*time.Millisecond)
	a, _ := e.connect(1)
	b, _ := e.connect(2)
	c, _ := e.connect(3)
	connectCall(t, a, b)

	// 一条仍挂着的振铃，被叫 1 已在通话中
	e.ws.Ringer().Start(3, 1)

	failed := c.expect(chat.TypeCallFailed)
	assert.Equal(t, chat.ReasonNoAnswer, failed["reason"])

	a.send(map[string]any{"type": "ping", "timestamp": 9})
	assert.NotContains(t, a.typesUntil(chat.TypePong), chat.TypeCallCancelled)
	assert.True(t, e.ws.Calls().InCall(1))
}
