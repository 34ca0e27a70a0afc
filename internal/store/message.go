// Package store 实现按用户组织的消息日志。
//
// 每条私信同时追加到发送方和接收方的日志中，两份记录共享同一个 ID；
// 这样按用户取消息不需要二级索引。所有写入都经过 appendBothSides，
// 保证任意一对用户的消息要么同时出现在双方日志中，要么都不出现。
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"chatgateway/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Stats 中的 TotalMessages 是逻辑条数，即物理条数的一半。
type Stats struct {
	TotalMessages int `json:"totalMessages"`
	TotalUsers    int `json:"totalUsers"`
}

type MessageStore struct {
	mu    sync.RWMutex
	logs  map[string][]models.StoredMessage // lower(username) -> log
	now   func() time.Time
	newID func() string
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		logs:  make(map[string][]models.StoredMessage),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func key(username string) string { return strings.ToLower(username) }

// Save 为消息分配 ID 与时间戳，并写入双方日志。
func (s *MessageStore) Save(sender, recipient, body string, isPrivate bool) models.StoredMessage {
	msg := models.StoredMessage{
		ID:        s.newID(),
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
		CreatedAt: s.now(),
		IsPrivate: isPrivate,
	}
	s.mu.Lock()
	s.appendBothSides(msg)
	s.mu.Unlock()
	log.Debug().Str("id", msg.ID).Str("sender", sender).Str("recipient", recipient).Msg("message saved")
	return msg
}

// appendBothSides 是唯一的写入路径，调用方必须持有写锁。
// 自己发给自己的消息也写两份，保持物理条数 = 2 × 逻辑条数。
func (s *MessageStore) appendBothSides(msg models.StoredMessage) {
	for _, k := range []string{key(msg.Sender), key(msg.Recipient)} {
		s.logs[k] = append(s.logs[k], msg)
	}
}

// GetForUser 按写入顺序返回用户日志的副本。
// 自己发给自己的消息在日志中占两条，这里会原样返回两次；网关层不允许这种消息。
func (s *MessageStore) GetForUser(username string) []models.StoredMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.logs[key(username)])
}

// GetConversation 返回两人之间的消息，按创建时间升序。
func (s *MessageStore) GetConversation(userA, userB string) []models.StoredMessage {
	s.mu.RLock()
	src := s.logs[key(userA)]
	out := make([]models.StoredMessage, 0, len(src))
	for _, m := range src {
		if isPair(m, userA, userB) {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func isPair(m models.StoredMessage, a, b string) bool {
	return (strings.EqualFold(m.Sender, a) && strings.EqualFold(m.Recipient, b)) ||
		(strings.EqualFold(m.Sender, b) && strings.EqualFold(m.Recipient, a))
}

// MarkAsRead 把 username 日志中指定 ID 的消息标记为已读，返回被修改的条数。
func (s *MessageStore) MarkAsRead(username string, ids []string) int {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.logs[key(username)]
	n := 0
	for i := range entries {
		if _, ok := want[entries[i].ID]; ok && !entries[i].Read {
			entries[i].Read = true
			n++
		}
	}
	return n
}

// DeleteForUser 删除用户自己的日志，并从其他所有日志中剔除涉及该用户的消息。
func (s *MessageStore) DeleteForUser(username string) {
	k := key(username)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, k)
	for other, entries := range s.logs {
		s.logs[other] = filter(entries, func(m models.StoredMessage) bool { return !m.Involves(username) })
	}
	log.Info().Str("username", username).Msg("deleted all messages for user")
}

// DeleteConversation 从双方日志中删除两人之间的全部消息。
func (s *MessageStore) DeleteConversation(userA, userB string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keep := func(m models.StoredMessage) bool { return !isPair(m, userA, userB) }
	for _, k := range []string{key(userA), key(userB)} {
		if entries, ok := s.logs[k]; ok {
			s.logs[k] = filter(entries, keep)
		}
	}
}

// GetAll 返回所有日志的深拷贝，键为小写用户名。
func (s *MessageStore) GetAll() map[string][]models.StoredMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]models.StoredMessage, len(s.logs))
	for k, entries := range s.logs {
		out[k] = clone(entries)
	}
	return out
}

func (s *MessageStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	physical := 0
	for _, entries := range s.logs {
		physical += len(entries)
	}
	return Stats{TotalMessages: physical / 2, TotalUsers: len(s.logs)}
}

func clone(in []models.StoredMessage) []models.StoredMessage {
	out := make([]models.StoredMessage, len(in))
	copy(out, in)
	return out
}

func filter(in []models.StoredMessage, keep func(models.StoredMessage) bool) []models.StoredMessage {
	out := in[:0:0]
	for _, m := range in {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}
