// Package directory 保存身份记录，保证用户名与邮箱大小写不敏感唯一。
package directory

import (
	"context"
	"errors"
	"strings"

	"chatgateway/internal/auth"
	"chatgateway/internal/models"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// UserDirectory 是身份存储的能力边界：创建、查找、校验密码、更新登录时间。
type UserDirectory interface {
	Create(ctx context.Context, in NewUser) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

type NewUser struct {
	Username string
	Email    string
	Password string
	Role     models.Role
}

func key(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func hashNewUser(in NewUser) (string, error) {
	return auth.HashPassword(in.Password)
}

// Authenticate 查找用户并校验密码；用户不存在与密码错误返回同一个错误。
func Authenticate(ctx context.Context, dir UserDirectory, username, password string) (*models.User, error) {
	u, err := dir.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// EnsureAdmin 在目录中没有该用户名时创建管理员账号。
func EnsureAdmin(ctx context.Context, dir UserDirectory, username, email, password string) (*models.User, bool, error) {
	if u, err := dir.FindByUsername(ctx, username); err == nil {
		return u, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	u, err := dir.Create(ctx, NewUser{Username: username, Email: email, Password: password, Role: models.RoleAdmin})
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}
