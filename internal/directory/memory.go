package directory

import (
	"context"
	"sync"
	"time"

	"chatgateway/internal/models"

	"github.com/google/uuid"
)

// Memory 是进程内的 UserDirectory，重启即丢失。
type Memory struct {
	mu         sync.RWMutex
	users      map[string]*models.User // id -> user
	byUsername map[string]string       // lower(username) -> id
	byEmail    map[string]string       // lower(email) -> id
	now        func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:      make(map[string]*models.User),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		now:        time.Now,
	}
}

func (m *Memory) Create(ctx context.Context, in NewUser) (*models.User, error) {
	// 哈希在锁外进行，写入前重新检查唯一性。
	hash, err := hashNewUser(in)
	if err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = models.RoleUser
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	uk, ek := key(in.Username), key(in.Email)
	if _, ok := m.byUsername[uk]; ok {
		return nil, ErrUsernameTaken
	}
	if _, ok := m.byEmail[ek]; ok {
		return nil, ErrEmailTaken
	}
	u := &models.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		UsernameKey:  uk,
		Email:        in.Email,
		EmailKey:     ek,
		PasswordHash: hash,
		Role:         in.Role,
		CreatedAt:    m.now(),
	}
	m.users[u.ID] = u
	m.byUsername[uk] = u.ID
	m.byEmail[ek] = u.ID
	out := *u
	return &out, nil
}

func (m *Memory) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(m.byUsername[key(username)])
}

func (m *Memory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(m.byEmail[key(email)])
}

func (m *Memory) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(id)
}

func (m *Memory) lookup(id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (m *Memory) UpdateLastLogin(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	u.LastLoginAt = &now
	return nil
}

func (m *Memory) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.users)), nil
}
