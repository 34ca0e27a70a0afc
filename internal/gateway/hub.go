package gateway

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"chatgateway/internal/auth"
	"chatgateway/internal/metrics"
	"chatgateway/internal/models"
	"chatgateway/internal/service"
	"chatgateway/internal/session"

	"github.com/rs/zerolog/log"
)

// Accounts 是连接层需要的账号能力。
type Accounts interface {
	RoleChecker
	Register(ctx context.Context, username, email, password string) (*service.AuthResult, error)
	Login(ctx context.Context, username, password string) (*service.AuthResult, error)
	IsRegistered(ctx context.Context, username string) (bool, error)
	Validate(ctx context.Context, token string) (*auth.Identity, error)
}

// Invitations 是连接层需要的邀请能力。
type Invitations interface {
	Create(inviter, email string) (models.Invitation, error)
	ListByInviter(inviter string) []models.Invitation
}

type Options struct {
	MessagesPerSecond float64
	MessageBurst      int
	FrontendURL       string
}

// Hub 持有全部连接，所有会话表变更与出站投递都在 Run 的单一协程中串行执行。
type Hub struct {
	sessions *session.Registry
	messages Messages
	accounts Accounts
	invites  Invitations
	router   *Router
	admin    *Admin
	presence *PresenceBroadcaster
	opts     Options

	clients map[string]*Client
	calls   chan func()
	done    chan struct{}
	online  int32
}

func NewHub(sessions *session.Registry, messages Messages, accounts Accounts, invites Invitations, opts Options) *Hub {
	h := &Hub{
		sessions: sessions,
		messages: messages,
		accounts: accounts,
		invites:  invites,
		opts:     opts,
		clients:  make(map[string]*Client),
		calls:    make(chan func(), 256),
		done:     make(chan struct{}),
	}
	h.router = NewRouter(sessions, messages, h)
	h.admin = NewAdmin(sessions, messages, accounts, h)
	h.presence = NewPresenceBroadcaster(sessions, h)
	sessions.Subscribe(h.presence.Handle)
	return h
}

// Run 处理事件直到 ctx 结束，结束时关闭所有连接。
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, c := range h.clients {
				h.detach(c)
			}
			log.Info().Msg("gateway stopped")
			return
		case fn := <-h.calls:
			fn()
		}
	}
}

// submit 将 fn 排入事件循环；循环已停止时返回 false。
func (h *Hub) submit(fn func()) bool {
	select {
	case h.calls <- fn:
		return true
	case <-h.done:
		return false
	}
}

// Do 在事件循环中执行 fn 并等待其完成，不能在循环内部调用。
func (h *Hub) Do(fn func()) bool {
	finished := make(chan struct{})
	if !h.submit(func() { fn(); close(finished) }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-h.done:
		return false
	}
}

// Online 返回当前连接数，供 REST 接口复用。
func (h *Hub) Online() int { return int(atomic.LoadInt32(&h.online)) }

func (h *Hub) register(c *Client) {
	h.clients[c.id] = c
	atomic.StoreInt32(&h.online, int32(len(h.clients)))
	metrics.WsConnections.Inc()
	log.Debug().Str("conn_id", c.id).Msg("connection opened")
}

// unregister 在读协程退出后执行，同步清理会话绑定。
func (h *Hub) unregister(c *Client) {
	if h.clients[c.id] == c {
		h.detach(c)
	}
	h.sessions.Unbind(c.id)
	log.Debug().Str("conn_id", c.id).Msg("connection closed")
}

func (h *Hub) detach(c *Client) {
	delete(h.clients, c.id)
	close(c.send)
	atomic.StoreInt32(&h.online, int32(len(h.clients)))
	metrics.WsConnections.Dec()
}

func (h *Hub) connected(c *Client) bool { return h.clients[c.id] == c }

func encode(event string, ack int64, payload any) ([]byte, error) {
	return json.Marshal(outFrame{Type: event, Ack: ack, Data: payload})
}

func (h *Hub) deliver(c *Client, b []byte) bool {
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// drop 断开发送缓冲已满的慢连接。
func (h *Hub) drop(c *Client) {
	if !h.connected(c) {
		return
	}
	log.Warn().Str("conn_id", c.id).Msg("send buffer full, dropping connection")
	h.Disconnect(c.id)
}

func (h *Hub) send(connID, event string, ack int64, payload any) bool {
	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	b, err := encode(event, ack, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode outbound event")
		return false
	}
	if !h.deliver(c, b) {
		h.drop(c)
		return false
	}
	return true
}

func (h *Hub) Emit(connID, event string, payload any) bool {
	return h.send(connID, event, 0, payload)
}

func (h *Hub) Broadcast(event string, payload any) {
	b, err := encode(event, 0, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode outbound event")
		return
	}
	var slow []*Client
	for _, c := range h.clients {
		if !h.deliver(c, b) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.drop(c)
	}
}

// Disconnect 关闭连接的发送通道，写协程随后发送关闭帧并断开底层连接。
func (h *Hub) Disconnect(connID string) {
	if c, ok := h.clients[connID]; ok {
		h.detach(c)
	}
	h.sessions.Unbind(connID)
}

func (h *Hub) reply(connID string, ack int64, payload any) {
	h.send(connID, EvAck, ack, payload)
}

// NotifyInvitationAccepted 通知邀请人（如在线）其邀请已被接受。
func (h *Hub) NotifyInvitationAccepted(inv models.Invitation) {
	h.submit(func() {
		s, ok := h.sessions.LookupByUsername(inv.InviterUsername)
		if !ok {
			return
		}
		at := inv.CreatedAt
		if inv.AcceptedAt != nil {
			at = *inv.AcceptedAt
		}
		h.Emit(s.ConnectionID, EvInvitationAccepted, InvitationAccepted{InviteeEmail: inv.InviteeEmail, Timestamp: at})
	})
}

// ActiveSessions 返回在线会话快照。
func (h *Hub) ActiveSessions() []session.Session { return h.sessions.ListActive() }
