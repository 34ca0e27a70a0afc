package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User 是身份记录；用户名与邮箱以小写形式唯一。
type User struct {
	ID           string     `gorm:"primaryKey;size:36"`
	Username     string     `gorm:"size:64;not null"`
	UsernameKey  string     `gorm:"uniqueIndex;size:64;not null"`
	Email        string     `gorm:"size:255;not null"`
	EmailKey     string     `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string     `gorm:"not null"`
	Role         Role       `gorm:"size:16;not null;default:user"`
	CreatedAt    time.Time  `gorm:"autoCreateTime"`
	LastLoginAt  *time.Time `gorm:"column:last_login_at"`
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// StoredMessage 在发送方与接收方的日志中各存一份，两份共享同一个 ID。
type StoredMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Body      string    `json:"message"`
	CreatedAt time.Time `json:"timestamp"`
	IsPrivate bool      `json:"isPrivate"`
	Read      bool      `json:"read"`
}

// Partner 返回 username 在这条消息中的对方。
func (m StoredMessage) Partner(username string) string {
	if strings.EqualFold(m.Sender, username) {
		return m.Recipient
	}
	return m.Sender
}

// Involves 判断 username 是否为消息的发送方或接收方。
func (m StoredMessage) Involves(username string) bool {
	return strings.EqualFold(m.Sender, username) || strings.EqualFold(m.Recipient, username)
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
	InvitationExpired  InvitationStatus = "expired"
)

type Invitation struct {
	ID              string           `json:"id"`
	Token           string           `json:"token,omitempty"`
	InviterUsername string           `json:"inviterUsername"`
	InviteeEmail    string           `json:"inviteeEmail"`
	Status          InvitationStatus `json:"status"`
	CreatedAt       time.Time        `json:"createdAt"`
	ExpiresAt       time.Time        `json:"expiresAt"`
	AcceptedAt      *time.Time       `json:"acceptedAt,omitempty"`
}
