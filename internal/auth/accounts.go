package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"playtokens/internal/market"
	"playtokens/internal/store"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNoSession          = errors.New("not logged in")
)

var usernameRE = regexp.MustCompile(`^[a-zA-Z0-9_]{3,24}$`)

const minPasswordLen = 6

type Accounts struct {
	store           store.Store
	log             *slog.Logger
	startingBalance decimal.Decimal
	cost            int
}

type AccountsOption func(*Accounts)

// WithBcryptCost overrides the hashing cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) AccountsOption {
	return func(a *Accounts) {
		a.cost = cost
	}
}

func NewAccounts(st store.Store, logger *slog.Logger, startingBalance decimal.Decimal, opts ...AccountsOption) *Accounts {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Accounts{
		store:           st,
		log:             logger,
		startingBalance: startingBalance,
		cost:            bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Accounts) Register(ctx context.Context, username, password string) (store.User, error) {
	username = strings.TrimSpace(username)
	if !usernameRE.MatchString(username) {
		return store.User{}, fmt.Errorf("%w: username must be 3-24 letters, digits or underscores", market.ErrValidation)
	}
	if len(password) < minPasswordLen {
		return store.User{}, fmt.Errorf("%w: password must be at least %d characters", market.ErrValidation, minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := a.store.CreateUser(ctx, store.User{
		Username:     username,
		PasswordHash: string(hash),
		Balance:      a.startingBalance,
	})
	if errors.Is(err, store.ErrConflict) {
		return store.User{}, fmt.Errorf("%w: %s", market.ErrUsernameTaken, username)
	}
	if err != nil {
		return store.User{}, err
	}
	a.log.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

func (a *Accounts) Login(ctx context.Context, username, password string) (store.User, error) {
	user, err := a.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (a *Accounts) User(ctx context.Context, id int64) (store.User, error) {
	user, err := a.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrNoSession
	}
	return user, err
}
