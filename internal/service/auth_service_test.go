package service

import (
	"context"
	"testing"
	"time"

	"github.com/Gil-rei/Senzen/internal/domain"
	"github.com/Gil-rei/Senzen/internal/repository"
	"github.com/Gil-rei/Senzen/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupAuth(t *testing.T) (*miniredis.Miniredis, *authService, *repository.MemoryAccountsRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	accounts := repository.NewMemoryAccountsRepo()
	hash, err := HashPassword("secret1")
	require.NoError(t, err)
	_, err = accounts.CreateAccount(context.Background(), &domain.Account{
		AccountID:    "c1",
		Name:         "Bob",
		Email:        "bob@senzen.com",
		PasswordHash: hash,
		Role:         domain.RoleCaretaker,
	})
	require.NoError(t, err)

	sessions := NewSessionStore(store.NewRedisKV(client), "senzen:session:", time.Hour)
	svc := NewAuthService(accounts, sessions, time.Hour, zap.NewNop()).(*authService)
	return mr, svc, accounts
}

func TestAuthService_LoginResolveLogout(t *testing.T) {
	mr, svc, _ := setupAuth(t)
	ctx := context.Background()

	resp, err := svc.Login(ctx, LoginRequest{Email: " BOB@senzen.com ", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "c1", resp.UserID)
	assert.Equal(t, domain.RoleCaretaker, resp.Role)
	assert.Equal(t, "/care/tasks", resp.HomePath)
	assert.NotEmpty(t, resp.AccessToken)
	assert.True(t, mr.Exists("senzen:session:"+resp.AccessToken))

	sess, err := svc.Resolve(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "c1", sess.AccountID)
	assert.Equal(t, domain.RoleCaretaker, sess.Role)

	require.NoError(t, svc.Logout(ctx, resp.AccessToken))
	_, err = svc.Resolve(ctx, resp.AccessToken)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestAuthService_BadCredentials(t *testing.T) {
	_, svc, _ := setupAuth(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, LoginRequest{Email: "bob@senzen.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrAuth)

	_, err = svc.Login(ctx, LoginRequest{Email: "nobody@senzen.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrAuth)

	_, err = svc.Login(ctx, LoginRequest{Email: "", Password: ""})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrAuth)
	_, err = svc.Resolve(ctx, "bogus")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestAuthService_ExpiredSession(t *testing.T) {
	mr, svc, _ := setupAuth(t)
	ctx := context.Background()

	resp, err := svc.Login(ctx, LoginRequest{Email: "bob@senzen.com", Password: "secret1"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)
	_, err = svc.Resolve(ctx, resp.AccessToken)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestAuthService_ExpiresAtChecked(t *testing.T) {
	_, svc, _ := setupAuth(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	resp, err := svc.Login(ctx, LoginRequest{Email: "bob@senzen.com", Password: "secret1"})
	require.NoError(t, err)

	svc.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = svc.Resolve(ctx, resp.AccessToken)
	assert.ErrorIs(t, err, ErrAuth)
}
