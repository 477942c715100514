package auth

import (
	"context"
	"testing"
	"time"

	"playtokens/internal/market"
	"playtokens/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAccounts() (*Accounts, *store.Memory) {
	st := store.NewMemory()
	return NewAccounts(st, nil, decimal.NewFromInt(10000), WithBcryptCost(bcrypt.MinCost)), st
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	a, _ := newAccounts()

	u, err := a.Register(ctx, " alice_01 ", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "alice_01", u.Username)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(10000)))
	assert.NotEqual(t, "hunter22", u.PasswordHash)

	got, err := a.Login(ctx, "ALICE_01", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = a.Login(ctx, "alice_01", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = a.Login(ctx, "nobody", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	a, _ := newAccounts()

	_, err := a.Register(ctx, "al", "hunter22")
	assert.ErrorIs(t, err, market.ErrValidation)
	_, err = a.Register(ctx, "bad name", "hunter22")
	assert.ErrorIs(t, err, market.ErrValidation)
	_, err = a.Register(ctx, "alice", "12345")
	assert.ErrorIs(t, err, market.ErrValidation)

	_, err = a.Register(ctx, "alice", "hunter22")
	require.NoError(t, err)
	_, err = a.Register(ctx, "Alice", "hunter22")
	assert.ErrorIs(t, err, market.ErrUsernameTaken)
}

func TestUserMissingMeansNoSession(t *testing.T) {
	a, _ := newAccounts()
	_, err := a.User(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSessionsLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSessions(time.Hour)
	s.now = func() time.Time { return now }

	token, expires := s.Create(42)
	assert.NotEmpty(t, token)
	assert.Equal(t, now.Add(time.Hour), expires)

	id, err := s.Lookup(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = s.Lookup("")
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = s.Lookup("unknown")
	assert.ErrorIs(t, err, ErrNoSession)

	now = now.Add(time.Hour)
	_, err = s.Lookup(token)
	assert.ErrorIs(t, err, ErrNoSession, "expired at exactly ttl")

	other, _ := s.Create(7)
	s.Destroy(other)
	_, err = s.Lookup(other)
	assert.ErrorIs(t, err, ErrNoSession)
}
