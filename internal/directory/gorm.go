package directory

import (
	"context"
	"errors"
	"time"

	"chatgateway/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Gorm 把身份记录持久化到关系数据库，唯一性由 *_key 列上的唯一索引兜底。
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func (g *Gorm) Create(ctx context.Context, in NewUser) (*models.User, error) {
	uk, ek := key(in.Username), key(in.Email)
	if err := g.ensureFree(ctx, "username_key", uk, ErrUsernameTaken); err != nil {
		return nil, err
	}
	if err := g.ensureFree(ctx, "email_key", ek, ErrEmailTaken); err != nil {
		return nil, err
	}
	hash, err := hashNewUser(in)
	if err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = models.RoleUser
	}
	u := models.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		UsernameKey:  uk,
		Email:        in.Email,
		EmailKey:     ek,
		PasswordHash: hash,
		Role:         in.Role,
	}
	if err := g.db.WithContext(ctx).Create(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return &u, nil
}

func (g *Gorm) ensureFree(ctx context.Context, column, value string, taken error) error {
	var count int64
	if err := g.db.WithContext(ctx).Model(&models.User{}).Where(column+" = ?", value).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return taken
	}
	return nil
}

func (g *Gorm) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return g.first(ctx, "username_key = ?", key(username))
}

func (g *Gorm) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return g.first(ctx, "email_key = ?", key(email))
}

func (g *Gorm) FindByID(ctx context.Context, id string) (*models.User, error) {
	return g.first(ctx, "id = ?", id)
}

func (g *Gorm) first(ctx context.Context, query string, arg string) (*models.User, error) {
	var u models.User
	if err := g.db.WithContext(ctx).Where(query, arg).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (g *Gorm) UpdateLastLogin(ctx context.Context, id string) error {
	res := g.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("last_login_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *Gorm) Count(ctx context.Context) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error
	return count, err
}
