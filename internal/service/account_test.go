package service

import (
	"context"
	"errors"
	"testing"

	"chatgateway/internal/auth"
	"chatgateway/internal/directory"
	"chatgateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccounts() (*AccountService, *directory.Memory) {
	dir := directory.NewMemory()
	return NewAccountService(dir, auth.NewJWTIssuer("test-secret", 15)), dir
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newAccounts()
	ctx := context.Background()

	cases := []struct {
		name     string
		username string
		email    string
		password string
	}{
		{"username too short", " a ", "a@example.com", "secret1"},
		{"email missing at", "alice", "alice.example.com", "secret1"},
		{"email with space", "alice", "al ice@example.com", "secret1"},
		{"password too short", "alice", "alice@example.com", "12345"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.username, tc.email, tc.password)
			require.Error(t, err)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc, dir := newAccounts()
	ctx := context.Background()

	res, err := svc.Register(ctx, "  alice ", "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.User.Username)
	assert.Equal(t, models.RoleUser, res.Role)
	assert.NotEmpty(t, res.AccessToken)

	_, err = svc.Register(ctx, "ALICE", "other@example.com", "secret1")
	assert.True(t, IsConflict(err))
	_, err = svc.Register(ctx, "bob", "ALICE@example.com", "secret1")
	assert.True(t, errors.Is(err, ErrEmailTaken))

	login, err := svc.Login(ctx, "Alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, res.User.UserID, login.User.UserID)
	u, err := dir.FindByID(ctx, res.User.UserID)
	require.NoError(t, err)
	assert.NotNil(t, u.LastLoginAt)

	_, err = svc.Login(ctx, "alice", "nope-nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "ghost", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "", "")
	assert.True(t, IsValidation(err))

	id, err := svc.Validate(ctx, login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)
	_, err = svc.Validate(ctx, "not-a-token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestValidate_DeletedAccount(t *testing.T) {
	svc, _ := newAccounts()
	other, _ := newAccounts()
	res, err := other.Register(context.Background(), "ghost", "ghost@example.com", "secret1")
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), res.AccessToken)
	assert.ErrorIs(t, err, directory.ErrNotFound)
}

func TestIsRegisteredAndIsAdmin(t *testing.T) {
	svc, dir := newAccounts()
	ctx := context.Background()
	_, _, err := directory.EnsureAdmin(ctx, dir, "admin", "admin@chatapp.com", "admin-pass")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "bob", "bob@example.com", "secret1")
	require.NoError(t, err)

	ok, err := svc.IsRegistered(ctx, "BOB")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.IsRegistered(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.IsAdmin(ctx, "Admin")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.IsAdmin(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.IsAdmin(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}
