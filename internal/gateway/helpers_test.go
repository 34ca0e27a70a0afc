package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"chatgateway/internal/auth"
	"chatgateway/internal/directory"
	"chatgateway/internal/invite"
	"chatgateway/internal/service"
	"chatgateway/internal/session"
	"chatgateway/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// capturedLogs 收集本包测试期间输出的全部 JSON 日志。
var capturedLogs = &lockedBuffer{}

func TestMain(m *testing.M) {
	log.Logger = zerolog.New(capturedLogs)
	os.Exit(m.Run())
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// count 统计指定连接上消息为 msg 的日志行数。
func (b *lockedBuffer) count(connID, msg string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, line := range strings.Split(b.buf.String(), "\n") {
		if strings.Contains(line, `"conn_id":"`+connID+`"`) && strings.Contains(line, `"message":"`+msg+`"`) {
			n++
		}
	}
	return n
}

type sent struct {
	conn    string
	event   string
	payload any
}

// fakeEmitter 记录所有出站调用，供不启动事件循环的单元测试使用。
type fakeEmitter struct {
	sent         []sent
	broadcasts   []sent
	disconnected []string
}

func (f *fakeEmitter) Emit(conn, event string, payload any) bool {
	f.sent = append(f.sent, sent{conn: conn, event: event, payload: payload})
	return true
}

func (f *fakeEmitter) Broadcast(event string, payload any) {
	f.broadcasts = append(f.broadcasts, sent{event: event, payload: payload})
}

func (f *fakeEmitter) Disconnect(conn string) { f.disconnected = append(f.disconnected, conn) }

func (f *fakeEmitter) to(conn, event string) []any {
	var out []any
	for _, s := range f.sent {
		if s.conn == conn && s.event == event {
			out = append(out, s.payload)
		}
	}
	return out
}

func (f *fakeEmitter) broadcastsOf(event string) []any {
	var out []any
	for _, s := range f.broadcasts {
		if s.event == event {
			out = append(out, s.payload)
		}
	}
	return out
}

type fakeRoles map[string]bool

func (r fakeRoles) IsAdmin(_ context.Context, username string) (bool, error) {
	return r[strings.ToLower(username)], nil
}

type testHub struct {
	*Hub
	dir      *directory.Memory
	sessions *session.Registry
	messages *store.MessageStore
	invites  *invite.Store
	accounts *service.AccountService
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	dir := directory.NewMemory()
	accounts := service.NewAccountService(dir, auth.NewJWTIssuer("test-secret", 60))
	sessions := session.NewRegistry()
	messages := store.NewMessageStore()
	invites := invite.NewStore(time.Hour)
	h := NewHub(sessions, messages, accounts, invites, Options{FrontendURL: "http://localhost:5173"})
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return &testHub{Hub: h, dir: dir, sessions: sessions, messages: messages, invites: invites, accounts: accounts}
}

// attach 注册一个不带底层连接的客户端，只通过 send 通道观察出站帧。
func (th *testHub) attach(t *testing.T) *Client {
	t.Helper()
	c := &Client{hub: th.Hub, id: uuid.NewString(), send: make(chan []byte, 256), limiter: rate.NewLimiter(rate.Inf, 1)}
	require.True(t, th.Do(func() { th.register(c) }))
	return c
}

// dispatch 与读协程一样处理一帧，并等待事件循环处理完提交的操作。
func (th *testHub) dispatch(t *testing.T, c *Client, typ string, ack int64, data any) {
	t.Helper()
	f := Frame{Type: typ, Ack: ack}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		f.Data = raw
	}
	th.handle(c, f)
	require.True(t, th.Do(func() {}))
}

type received struct {
	Type string          `json:"type"`
	Ack  int64           `json:"ack"`
	Data json.RawMessage `json:"data"`
}

func (r received) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, v))
}

// expect 读取直到出现指定类型的帧，跳过其他帧。
func expect(t *testing.T, c *Client, typ string) received {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case b, ok := <-c.send:
			require.True(t, ok, "connection closed while waiting for %q", typ)
			var r received
			require.NoError(t, json.Unmarshal(b, &r))
			if r.Type == typ {
				return r
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", typ)
		}
	}
}

// drain 取出当前缓冲中的全部帧，返回通道是否已关闭。
func drain(c *Client) (frames []received, closed bool) {
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				return frames, true
			}
			var r received
			if json.Unmarshal(b, &r) == nil {
				frames = append(frames, r)
			}
		default:
			return frames, false
		}
	}
}

func countType(frames []received, typ string) int {
	n := 0
	for _, f := range frames {
		if f.Type == typ {
			n++
		}
	}
	return n
}
