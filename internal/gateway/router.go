package gateway

import (
	"sort"
	"strings"

	"chatgateway/internal/metrics"
	"chatgateway/internal/models"
	"chatgateway/internal/session"
	"chatgateway/internal/store"

	"github.com/rs/zerolog/log"
)

// Emitter 是连接层的出站能力，仅在事件循环内调用。
type Emitter interface {
	Emit(connectionID, event string, payload any) bool
	Broadcast(event string, payload any)
	Disconnect(connectionID string)
}

// Sessions 是路由与管理面需要的会话表能力。
type Sessions interface {
	Bind(connectionID, username string) session.BindResult
	Unbind(connectionID string) (session.Session, bool)
	LookupByConnection(connectionID string) (session.Session, bool)
	LookupByUsername(username string) (session.Session, bool)
	ListActive() []session.Session
	Count() int
}

// Messages 是消息日志的读写能力。
type Messages interface {
	Save(sender, recipient, body string, isPrivate bool) models.StoredMessage
	GetForUser(username string) []models.StoredMessage
	GetConversation(userA, userB string) []models.StoredMessage
	MarkAsRead(username string, ids []string) int
	DeleteConversation(userA, userB string)
	DeleteForUser(username string)
	GetAll() map[string][]models.StoredMessage
	Stats() store.Stats
}

// Router 校验、持久化并投递单条消息。
type Router struct {
	sessions Sessions
	messages Messages
	out      Emitter
}

func NewRouter(sessions Sessions, messages Messages, out Emitter) *Router {
	return &Router{sessions: sessions, messages: messages, out: out}
}

func validBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return &InputError{Message: "message cannot be empty"}
	}
	return nil
}

// SendDirect 将私信持久化后只投递给收发双方两个连接。
func (r *Router) SendDirect(fromConn, toConn, body string) error {
	from, ok := r.sessions.LookupByConnection(fromConn)
	if !ok {
		return ErrNotRegistered
	}
	to, ok := r.sessions.LookupByConnection(toConn)
	if !ok {
		return &RecipientError{Target: toConn}
	}
	if err := validBody(body); err != nil {
		return err
	}
	if from.ConnectionID == to.ConnectionID {
		return &InputError{Message: "cannot send a private message to yourself"}
	}

	msg := r.messages.Save(from.Username, to.Username, body, true)
	delivery := DirectMessage{
		Sender:    from.Username,
		Message:   msg.Body,
		IsPrivate: true,
		FromID:    from.ConnectionID,
		Timestamp: msg.CreatedAt,
		MessageID: msg.ID,
	}
	r.out.Emit(to.ConnectionID, EvMsgToClient, delivery)

	echo := delivery
	echo.ToID = to.ConnectionID
	echo.Recipient = to.Username
	r.out.Emit(from.ConnectionID, EvMsgToClient, echo)

	metrics.WsMessagesTotal.WithLabelValues("direct").Inc()
	log.Debug().Str("from", from.Username).Str("to", to.Username).Str("message_id", msg.ID).Msg("direct message routed")
	return nil
}

// SendBroadcast 投递给所有已绑定会话（含发送方），不持久化。
func (r *Router) SendBroadcast(fromConn, body string) error {
	from, ok := r.sessions.LookupByConnection(fromConn)
	if !ok {
		return ErrNotRegistered
	}
	if err := validBody(body); err != nil {
		return err
	}
	payload := BroadcastMessage{Sender: from.Username, Message: body}
	for _, s := range r.sessions.ListActive() {
		r.out.Emit(s.ConnectionID, EvMsgToClient, payload)
	}
	metrics.WsMessagesTotal.WithLabelValues("broadcast").Inc()
	return nil
}

// ReplayBacklog 按会话对象分组回放历史消息，日志为空时不发送任何事件。
func (r *Router) ReplayBacklog(connID, username string) bool {
	msgs := r.messages.GetForUser(username)
	if len(msgs) == 0 {
		return false
	}
	r.out.Emit(connID, EvPersistedMessages, Backlog{Conversations: GroupByPartner(username, msgs), TotalMessages: len(msgs)})
	log.Debug().Str("conn_id", connID).Str("username", username).Int("messages", len(msgs)).Msg("backlog replayed")
	return true
}

// GroupByPartner 以对方用户名分组（不区分大小写，键沿用该对方首次出现时的写法），
// 组内按创建时间稳定排序。
func GroupByPartner(username string, msgs []models.StoredMessage) map[string][]models.StoredMessage {
	out := make(map[string][]models.StoredMessage)
	names := make(map[string]string)
	for _, m := range msgs {
		p := m.Partner(username)
		k := strings.ToLower(p)
		name, seen := names[k]
		if !seen {
			name = p
			names[k] = p
		}
		out[name] = append(out[name], m)
	}
	for _, list := range out {
		sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	}
	return out
}

// Conversation 返回调用方与 with 之间的对话。
func (r *Router) Conversation(connID, with string) ([]models.StoredMessage, error) {
	s, ok := r.sessions.LookupByConnection(connID)
	if !ok {
		return nil, ErrNotRegistered
	}
	with = strings.TrimSpace(with)
	if with == "" {
		return nil, &InputError{Message: "conversation partner is required"}
	}
	return r.messages.GetConversation(s.Username, with), nil
}

// DeleteConversation 删除调用方与 with 之间的对话，双方日志同时清除。
func (r *Router) DeleteConversation(connID, with string) error {
	s, ok := r.sessions.LookupByConnection(connID)
	if !ok {
		return ErrNotRegistered
	}
	with = strings.TrimSpace(with)
	if with == "" {
		return &InputError{Message: "conversation partner is required"}
	}
	r.messages.DeleteConversation(s.Username, with)
	log.Info().Str("username", s.Username).Str("with", with).Msg("conversation deleted")
	return nil
}

// MarkAsRead 标记调用方日志中的消息为已读，返回实际更新数量。
func (r *Router) MarkAsRead(connID string, ids []string) (int, error) {
	s, ok := r.sessions.LookupByConnection(connID)
	if !ok {
		return 0, ErrNotRegistered
	}
	return r.messages.MarkAsRead(s.Username, ids), nil
}
