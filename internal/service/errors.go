package service

import (
	"errors"

	"chatgateway/internal/directory"
)

// 业务层通用错误，handler 可根据错误类型映射到合适的状态码或 ack 消息。
var (
	ErrUsernameTaken      = directory.ErrUsernameTaken
	ErrEmailTaken         = directory.ErrEmailTaken
	ErrInvalidCredentials = directory.ErrInvalidCredentials
)

// ValidationError 是调用方可自行修正的输入错误，消息直接展示给用户。
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrUsernameTaken) || errors.Is(err, ErrEmailTaken)
}
