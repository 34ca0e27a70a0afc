package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"chatgateway/internal/invite"
	"chatgateway/internal/models"
	"chatgateway/internal/service"
	"chatgateway/internal/session"

	"github.com/rs/zerolog/log"
)

const requestTimeout = 5 * time.Second

type SessionReply struct {
	AckReply
	Username     string `json:"username,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	Token        string `json:"token,omitempty"`
}

type ChatsReply struct {
	AckReply
	Chats map[string][]models.StoredMessage `json:"chats,omitempty"`
}

type StatsReply struct {
	AckReply
	Stats *AdminStats `json:"stats,omitempty"`
}

type ConversationReply struct {
	AckReply
	Messages []models.StoredMessage `json:"messages"`
}

type CountReply struct {
	AckReply
	Count int `json:"count"`
}

type InvitationReply struct {
	AckReply
	Invitation *invite.View `json:"invitation,omitempty"`
}

type InvitationsReply struct {
	AckReply
	Invitations []invite.View `json:"invitations"`
}

func decode[T any](f Frame) (T, error) {
	var v T
	if len(f.Data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(f.Data, &v); err != nil {
		return v, &InputError{Message: "invalid payload"}
	}
	return v, nil
}

// clientMessage 返回可展示给客户端的错误描述，内部错误不外泄。
func clientMessage(err error) string {
	var input *InputError
	switch {
	case errors.As(err, &input),
		service.IsValidation(err),
		service.IsConflict(err),
		errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, ErrNotRegistered),
		errors.Is(err, ErrRecipientUnavailable),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrNotFound),
		errors.Is(err, invite.ErrNotFound):
		return err.Error()
	}
	var state *invite.StateError
	if errors.As(err, &state) {
		return err.Error()
	}
	log.Error().Err(err).Msg("request failed")
	return "internal server error"
}

func failure(err error) AckReply { return failMsg(clientMessage(err)) }

// handle 在连接的读协程中执行：耗时的凭据校验在此完成，状态变更提交到事件循环。
func (h *Hub) handle(c *Client, f Frame) {
	switch f.Type {
	case EvRegister:
		h.onRegister(c, f)
	case EvRegisterUser:
		h.onRegisterUser(c, f)
	case EvLoginUser:
		h.onLoginUser(c, f)
	case EvPrivateMessage:
		h.onPrivateMessage(c, f)
	case EvMsgToServer:
		h.onMsgToServer(c, f)
	case EvAdminRemoveUser:
		h.onAdminRemoveUser(c, f)
	case EvAdminGetAllChats:
		h.onAdminGetAllChats(c, f)
	case EvAdminGetStats:
		h.onAdminGetStats(c, f)
	case EvGetConversation:
		h.onGetConversation(c, f)
	case EvDelConversation:
		h.onDeleteConversation(c, f)
	case EvMarkAsRead:
		h.onMarkAsRead(c, f)
	case EvSendInvitation:
		h.onSendInvitation(c, f)
	case EvGetMyInvitations:
		h.onGetMyInvitations(c, f)
	default:
		c.emitError("unknown event: " + f.Type)
	}
}

// answer 从读协程提交一个应答。
func (h *Hub) answer(c *Client, ack int64, payload any) {
	h.submit(func() { h.reply(c.id, ack, payload) })
}

// bind 在事件循环内重新校验连接状态后绑定会话并回放历史消息。
func (h *Hub) bind(c *Client, ack int64, username, msg, token string) {
	h.submit(func() {
		if !h.connected(c) {
			return
		}
		res := h.sessions.Bind(c.id, username)
		h.router.ReplayBacklog(c.id, res.Session.Username)
		h.reply(c.id, ack, SessionReply{
			AckReply:     succeed(msg),
			Username:     res.Session.Username,
			ConnectionID: c.id,
			Token:        token,
		})
	})
}

func (h *Hub) onRegister(c *Client, f Frame) {
	req, err := decode[registerReq](f)
	if err != nil {
		h.answer(c, f.Ack, failure(err))
		return
	}
	name, err := service.ValidateUsername(req.Username)
	if err != nil {
		h.answer(c, f.Ack, failure(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	owned, err := h.accounts.IsRegistered(ctx, name)
	if err != nil {
		h.answer(c, f.Ack, failure(err))
		return
	}
	if owned {
		h.answer(c, f.Ack, failMsg("username belongs to a registered account, please log in"))
		return
	}
	h.bind(c, f.Ack, name, "Registered successfully", "")
}

func (h *Hub) onRegisterUser(c *Client, f Frame) {
	req, err := decode[registerReq](f)
	if err != nil {
		h.answer(c, f.Ack, failure(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	res, err := h.accounts.Register(ctx, req.Username, req.Email, req.Password)
	if err != nil {
		h.answer(c, f.Ack, failure(err))
		return
	}
	h.bind(c, f.Ack, res.User.Username, "Registration successful", res.AccessToken)
}

func (h *Hub) onLoginUser(c *Client, f Frame) {
	req, err := decode[registerReq](f)
	if err != nil {
		h.answer(c, f.Ack, failure(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	res, err := h.accounts.Login(ctx, req.Username, req.Password)
	if err != nil {
		h.answer(c, f.Ack, failure(err))
		return
	}
	h.bind(c, f.Ack, res.User.Username, "Login successful", res.AccessToken)
}

func (h *Hub) onPrivateMessage(c *Client, f Frame) {
	req, err := decode[privateMessageReq](f)
	if err != nil {
		c.emitError(clientMessage(err))
		return
	}
	h.submit(func() {
		if err := h.router.SendDirect(c.id, req.To, req.Message); err != nil {
			log.Debug().Err(err).Str("conn_id", c.id).Msg("direct message rejected")
			h.Emit(c.id, EvError, Notice{Message: clientMessage(err)})
		}
	})
}

func (h *Hub) onMsgToServer(c *Client, f Frame) {
	req, err := decode[broadcastReq](f)
	if err != nil {
		c.emitError(clientMessage(err))
		return
	}
	h.submit(func() {
		if err := h.router.SendBroadcast(c.id, req.Message); err != nil {
			h.Emit(c.id, EvError, Notice{Message: clientMessage(err)})
		}
	})
}

// authorizeAdmin 在读协程中完成角色查询。先经事件循环排空该连接之前提交的操作，
// 保证紧随登录之后的管理请求能看到刚绑定的会话。
func (h *Hub) authorizeAdmin(c *Client) (session.Session, error) {
	if !h.Do(func() {}) {
		return session.Session{}, ErrNotRegistered
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return h.admin.Authorize(ctx, c.id)
}

func (h *Hub) onAdminRemoveUser(c *Client, f Frame) {
	req, err := decode[adminRemoveReq](f)
	if err != nil {
		h.answer(c, f.Ack, failure(err))
		return
	}
	requester, err := h.authorizeAdmin(c)
	if err != nil {
		h.answer(c, f.Ack, failure(err))
		return
	}
	h.submit(func() {
		if err := h.admin.RemoveUser(requester, req.Username); err != nil {
			h.reply(c.id, f.Ack, failure(err))
			return
		}
		h.reply(c.id, f.Ack, succeed("User "+strings.TrimSpace(req.Username)+" has been removed"))
	})
}

func (h *Hub) onAdminGetAllChats(c *Client, f Frame) {
	requester, err := h.authorizeAdmin(c)
	if err != nil {
		h.answer(c, f.Ack, ChatsReply{AckReply: failure(err)})
		return
	}
	h.submit(func() {
		chats, err := h.admin.GetAllChats(requester)
		if err != nil {
			h.reply(c.id, f.Ack, ChatsReply{AckReply: failure(err)})
			return
		}
		h.reply(c.id, f.Ack, ChatsReply{AckReply: succeed(""), Chats: chats})
	})
}

func (h *Hub) onAdminGetStats(c *Client, f Frame) {
	requester, err := h.authorizeAdmin(c)
	if err != nil {
		h.answer(c, f.Ack, StatsReply{AckReply: failure(err)})
		return
	}
	h.submit(func() {
		st, err := h.admin.Stats(requester)
		if err != nil {
			h.reply(c.id, f.Ack, StatsReply{AckReply: failure(err)})
			return
		}
		h.reply(c.id, f.Ack, StatsReply{AckReply: succeed(""), Stats: &st})
	})
}

func (h *Hub) onGetConversation(c *Client, f Frame) {
	req, err := decode[conversationReq](f)
	if err != nil {
		h.answer(c, f.Ack, ConversationReply{AckReply: failure(err)})
		return
	}
	h.submit(func() {
		msgs, err := h.router.Conversation(c.id, req.With)
		if err != nil {
			h.reply(c.id, f.Ack, ConversationReply{AckReply: failure(err)})
			return
		}
		h.reply(c.id, f.Ack, ConversationReply{AckReply: succeed(""), Messages: msgs})
	})
}

func (h *Hub) onDeleteConversation(c *Client, f Frame) {
	req, err := decode[conversationReq](f)
	if err != nil {
		h.answer(c, f.Ack, failure(err))
		return
	}
	h.submit(func() {
		if err := h.router.DeleteConversation(c.id, req.With); err != nil {
			h.reply(c.id, f.Ack, failure(err))
			return
		}
		h.reply(c.id, f.Ack, succeed("Conversation deleted"))
	})
}

func (h *Hub) onMarkAsRead(c *Client, f Frame) {
	req, err := decode[markAsReadReq](f)
	if err != nil {
		h.answer(c, f.Ack, CountReply{AckReply: failure(err)})
		return
	}
	h.submit(func() {
		n, err := h.router.MarkAsRead(c.id, req.MessageIDs)
		if err != nil {
			h.reply(c.id, f.Ack, CountReply{AckReply: failure(err)})
			return
		}
		h.reply(c.id, f.Ack, CountReply{AckReply: succeed(""), Count: n})
	})
}

func (h *Hub) onSendInvitation(c *Client, f Frame) {
	req, err := decode[invitationReq](f)
	if err != nil {
		h.answer(c, f.Ack, InvitationReply{AckReply: failure(err)})
		return
	}
	email := strings.TrimSpace(req.InviteeEmail)
	if !service.ValidEmail(email) {
		h.answer(c, f.Ack, InvitationReply{AckReply: failMsg("valid invitee email is required")})
		return
	}
	h.submit(func() {
		s, bound := h.sessions.LookupByConnection(c.id)
		if !bound {
			h.reply(c.id, f.Ack, InvitationReply{AckReply: failure(ErrNotRegistered)})
			return
		}
		inv, err := h.invites.Create(s.Username, email)
		if err != nil {
			h.reply(c.id, f.Ack, InvitationReply{AckReply: failure(err)})
			return
		}
		view := invite.NewView(inv, h.opts.FrontendURL)
		h.reply(c.id, f.Ack, InvitationReply{AckReply: succeed("Invitation created successfully"), Invitation: &view})
	})
}

func (h *Hub) onGetMyInvitations(c *Client, f Frame) {
	h.submit(func() {
		s, bound := h.sessions.LookupByConnection(c.id)
		if !bound {
			h.reply(c.id, f.Ack, InvitationsReply{AckReply: failure(ErrNotRegistered)})
			return
		}
		list := h.invites.ListByInviter(s.Username)
		views := make([]invite.View, 0, len(list))
		for _, inv := range list {
			views = append(views, invite.NewView(inv, h.opts.FrontendURL))
		}
		h.reply(c.id, f.Ack, InvitationsReply{AckReply: succeed(""), Invitations: views})
	})
}
