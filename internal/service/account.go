package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"chatgateway/internal/auth"
	"chatgateway/internal/directory"
	"chatgateway/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	MinUsernameLen = 2
	MaxUsernameLen = 64
	MinPasswordLen = 6
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// AccountService 组合身份目录与 token 签发，负责注册、登录的校验规则。
type AccountService struct {
	dir    directory.UserDirectory
	tokens auth.TokenIssuer
}

func NewAccountService(dir directory.UserDirectory, tokens auth.TokenIssuer) *AccountService {
	return &AccountService{dir: dir, tokens: tokens}
}

// AuthResult 注册或登录成功后返回的数据。
type AuthResult struct {
	AccessToken string        `json:"access_token"`
	User        auth.Identity `json:"user"`
	Role        models.Role   `json:"-"`
}

// ValidateUsername 检查去除首尾空白后的用户名长度。
func ValidateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if len(username) < MinUsernameLen {
		return "", &ValidationError{Message: "Username must be at least 2 characters"}
	}
	if len(username) > MaxUsernameLen {
		return "", &ValidationError{Message: "Username must be at most 64 characters"}
	}
	return username, nil
}

func ValidEmail(email string) bool { return emailRe.MatchString(email) }

// Register 校验输入、创建用户并签发访问 token。
func (s *AccountService) Register(ctx context.Context, username, email, password string) (*AuthResult, error) {
	username, err := ValidateUsername(username)
	if err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	if !ValidEmail(email) {
		return nil, &ValidationError{Message: "Valid email is required"}
	}
	if len(password) < MinPasswordLen {
		return nil, &ValidationError{Message: "Password must be at least 6 characters"}
	}
	u, err := s.dir.Create(ctx, directory.NewUser{Username: username, Email: email, Password: password, Role: models.RoleUser})
	if err != nil {
		log.Warn().Err(err).Str("username", username).Msg("registration failed")
		return nil, err
	}
	log.Info().Str("username", username).Str("user_id", u.ID).Msg("user registered")
	return s.issue(u)
}

// Login 校验用户名密码，更新最后登录时间并签发访问 token。
func (s *AccountService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, &ValidationError{Message: "Username and password are required"}
	}
	u, err := directory.Authenticate(ctx, s.dir, username, password)
	if err != nil {
		return nil, err
	}
	if err := s.dir.UpdateLastLogin(ctx, u.ID); err != nil {
		log.Error().Err(err).Str("user_id", u.ID).Msg("update last login")
	}
	log.Info().Str("username", u.Username).Msg("user logged in")
	return s.issue(u)
}

// Validate 解析 token 并确认对应账号仍然存在。
func (s *AccountService) Validate(ctx context.Context, token string) (*auth.Identity, error) {
	id, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	if _, err := s.dir.FindByID(ctx, id.UserID); err != nil {
		return nil, err
	}
	return id, nil
}

// IsRegistered 判断用户名是否属于某个已注册账号。
func (s *AccountService) IsRegistered(ctx context.Context, username string) (bool, error) {
	_, err := s.dir.FindByUsername(ctx, username)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, directory.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// IsAdmin 判断用户名对应账号是否具有管理员角色。
func (s *AccountService) IsAdmin(ctx context.Context, username string) (bool, error) {
	u, err := s.dir.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return u.IsAdmin(), nil
}

func (s *AccountService) issue(u *models.User) (*AuthResult, error) {
	id := auth.Identity{UserID: u.ID, Username: u.Username, Email: u.Email}
	token, err := s.tokens.Sign(id)
	if err != nil {
		return nil, err
	}
	return &AuthResult{AccessToken: token, User: id, Role: u.Role}, nil
}
