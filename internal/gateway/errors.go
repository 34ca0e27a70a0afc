package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrNotRegistered        = errors.New("not registered, please login first")
	ErrRecipientUnavailable = errors.New("recipient not found or disconnected")
	ErrUnauthorized         = errors.New("Unauthorized: Admin privileges required")
	ErrNotFound             = errors.New("not found")
)

// RecipientError 携带无法送达的目标连接，消息会原样展示给发送方。
type RecipientError struct {
	Target string
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("user %s not found or disconnected", e.Target)
}

func (e *RecipientError) Is(target error) bool { return target == ErrRecipientUnavailable }

// UserNotFoundError 表示管理员操作的目标用户没有活动会话。
type UserNotFoundError struct {
	Username string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user %s not found", e.Username)
}

func (e *UserNotFoundError) Is(target error) bool { return target == ErrNotFound }

// InputError 是客户端可自行修正的请求错误。
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }
