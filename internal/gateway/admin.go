package gateway

import (
	"context"
	"strings"

	"chatgateway/internal/models"
	"chatgateway/internal/session"

	"github.com/rs/zerolog/log"
)

// RoleChecker 根据身份目录判断用户是否为管理员。
type RoleChecker interface {
	IsAdmin(ctx context.Context, username string) (bool, error)
}

// Admin 提供受管理员角色保护的操作。
type Admin struct {
	sessions Sessions
	messages Messages
	roles    RoleChecker
	out      Emitter
}

func NewAdmin(sessions Sessions, messages Messages, roles RoleChecker, out Emitter) *Admin {
	return &Admin{sessions: sessions, messages: messages, roles: roles, out: out}
}

// AdminStats 汇总消息存储与在线会话数量。
type AdminStats struct {
	TotalMessages  int `json:"totalMessages"`
	TotalUsers     int `json:"totalUsers"`
	ActiveSessions int `json:"activeSessions"`
}

// Authorize 确认连接上的会话属于管理员。需要查询身份目录，只能在事件循环之外调用。
func (a *Admin) Authorize(ctx context.Context, connID string) (session.Session, error) {
	s, ok := a.sessions.LookupByConnection(connID)
	if !ok {
		return session.Session{}, ErrNotRegistered
	}
	isAdmin, err := a.roles.IsAdmin(ctx, s.Username)
	if err != nil {
		return session.Session{}, err
	}
	if !isAdmin {
		log.Warn().Str("conn_id", connID).Str("username", s.Username).Msg("unauthorized admin attempt")
		return session.Session{}, ErrUnauthorized
	}
	return s, nil
}

// confirm 在事件循环内确认授权时的会话仍绑定在原连接上。
func (a *Admin) confirm(requester session.Session) error {
	s, ok := a.sessions.LookupByConnection(requester.ConnectionID)
	if !ok || !strings.EqualFold(s.Username, requester.Username) {
		return ErrNotRegistered
	}
	return nil
}

// RemoveUser 结束目标用户的会话、断开其连接并删除其全部消息，身份记录保留。
func (a *Admin) RemoveUser(requester session.Session, target string) error {
	if err := a.confirm(requester); err != nil {
		return err
	}
	target = strings.TrimSpace(target)
	victim, ok := a.sessions.LookupByUsername(target)
	if !ok {
		return &UserNotFoundError{Username: target}
	}

	a.sessions.Unbind(victim.ConnectionID)
	a.out.Emit(victim.ConnectionID, EvRemovedByAdmin, Notice{Message: msgRemovedByAdmin})
	a.out.Disconnect(victim.ConnectionID)
	a.out.Broadcast(EvUserRemoved, UserRemoved{Username: victim.Username, RemovedBy: requester.Username})
	a.messages.DeleteForUser(victim.Username)

	log.Info().Str("username", victim.Username).Str("removed_by", requester.Username).Msg("user removed by admin")
	return nil
}

// GetAllChats 返回所有用户消息日志的副本。
func (a *Admin) GetAllChats(requester session.Session) (map[string][]models.StoredMessage, error) {
	if err := a.confirm(requester); err != nil {
		return nil, err
	}
	return a.messages.GetAll(), nil
}

func (a *Admin) Stats(requester session.Session) (AdminStats, error) {
	if err := a.confirm(requester); err != nil {
		return AdminStats{}, err
	}
	st := a.messages.Stats()
	return AdminStats{TotalMessages: st.TotalMessages, TotalUsers: st.TotalUsers, ActiveSessions: a.sessions.Count()}, nil
}
