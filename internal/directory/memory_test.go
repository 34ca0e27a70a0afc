package directory

import (
	"context"
	"sync"
	"testing"

	"chatgateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()

	u, err := dir.Create(ctx, NewUser{Username: "Alice", Email: "Alice@Example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.NotEqual(t, "secret1", u.PasswordHash)
	assert.Nil(t, u.LastLoginAt)

	byName, err := dir.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)
	assert.Equal(t, "Alice", byName.Username)

	byEmail, err := dir.FindByEmail(ctx, "ALICE@example.COM")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	byID, err := dir.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice@Example.com", byID.Email)

	_, err = dir.FindByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_Uniqueness(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	_, err := dir.Create(ctx, NewUser{Username: "bob", Email: "bob@example.com", Password: "secret1"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		in      NewUser
		wantErr error
	}{
		{"same username other case", NewUser{Username: "BOB", Email: "other@example.com", Password: "x"}, ErrUsernameTaken},
		{"same email other case", NewUser{Username: "bobby", Email: "Bob@Example.com", Password: "x"}, ErrEmailTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dir.Create(ctx, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	n, err := dir.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemory_ConcurrentCreateSameUsername(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			email := string(rune('a'+i)) + "@example.com"
			if _, err := dir.Create(ctx, NewUser{Username: "race", Email: email, Password: "pw"}); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestMemory_UpdateLastLogin(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	u, err := dir.Create(ctx, NewUser{Username: "carol", Email: "carol@example.com", Password: "pw"})
	require.NoError(t, err)

	require.NoError(t, dir.UpdateLastLogin(ctx, u.ID))
	got, err := dir.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastLoginAt)

	assert.ErrorIs(t, dir.UpdateLastLogin(ctx, "missing"), ErrNotFound)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	_, err := dir.Create(ctx, NewUser{Username: "dave", Email: "dave@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	u, err := Authenticate(ctx, dir, "DAVE", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "dave", u.Username)

	_, err = Authenticate(ctx, dir, "dave", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = Authenticate(ctx, dir, "ghost", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestEnsureAdmin(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()

	u, created, err := EnsureAdmin(ctx, dir, "admin", "admin@chatapp.com", "admin")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, u.IsAdmin())

	again, created, err := EnsureAdmin(ctx, dir, "Admin", "admin@chatapp.com", "admin")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)
}
