package gateway

import (
	"encoding/json"
	"time"

	"chatgateway/internal/models"
)

// 入站事件
const (
	EvRegister         = "register"
	EvRegisterUser     = "registerUser"
	EvLoginUser        = "loginUser"
	EvPrivateMessage   = "privateMessage"
	EvMsgToServer      = "msgToServer"
	EvAdminRemoveUser  = "adminRemoveUser"
	EvAdminGetAllChats = "adminGetAllChats"
	EvAdminGetStats    = "adminGetStats"
	EvGetConversation  = "getConversation"
	EvDelConversation  = "deleteConversation"
	EvMarkAsRead       = "markAsRead"
	EvSendInvitation   = "sendInvitation"
	EvGetMyInvitations = "getMyInvitations"
)

// 出站事件
const (
	EvAck                = "ack"
	EvUserJoined         = "userJoined"
	EvUserLeft           = "userLeft"
	EvUserList           = "userList"
	EvMsgToClient        = "msgToClient"
	EvPersistedMessages  = "persistedMessages"
	EvError              = "error"
	EvRemovedByAdmin     = "removedByAdmin"
	EvUserRemoved        = "userRemoved"
	EvInvitationAccepted = "invitationAccepted"
)

const (
	msgAnotherLocation = "You have been logged in from another location"
	msgRemovedByAdmin  = "You have been removed by an administrator"
)

// Frame 是入站帧：ack 非零时服务端以同编号的 ack 帧应答。
type Frame struct {
	Type string          `json:"type"`
	Ack  int64           `json:"ack,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Type string `json:"type"`
	Ack  int64  `json:"ack,omitempty"`
	Data any    `json:"data,omitempty"`
}

// AckReply 是带应答事件的基础结构，具体应答通过内嵌扩展字段。
type AckReply struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func succeed(msg string) AckReply { return AckReply{Success: true, Message: msg} }
func failMsg(msg string) AckReply { return AckReply{Success: false, Message: msg} }

type Presence struct {
	Username  string `json:"username"`
	UserCount int    `json:"userCount"`
}

type UserEntry struct {
	Username     string `json:"username"`
	ConnectionID string `json:"connectionId"`
}

// DirectMessage 是私信投递载荷；发送方回显额外带 toId 与 recipient。
type DirectMessage struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	IsPrivate bool      `json:"isPrivate"`
	FromID    string    `json:"fromId"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"messageId"`
	ToID      string    `json:"toId,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
}

type BroadcastMessage struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

type Backlog struct {
	Conversations map[string][]models.StoredMessage `json:"conversations"`
	TotalMessages int                               `json:"totalMessages"`
}

type Notice struct {
	Message string `json:"message"`
}

type UserRemoved struct {
	Username  string `json:"username"`
	RemovedBy string `json:"removedBy"`
}

type InvitationAccepted struct {
	InviteeEmail string    `json:"inviteeEmail"`
	Timestamp    time.Time `json:"timestamp"`
}

// 入站载荷

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type privateMessageReq struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type broadcastReq struct {
	Message string `json:"message"`
}

type adminRemoveReq struct {
	Username string `json:"username"`
}

type conversationReq struct {
	With string `json:"with"`
}

type markAsReadReq struct {
	MessageIDs []string `json:"messageIds"`
}

type invitationReq struct {
	InviteeEmail string `json:"inviteeEmail"`
}
