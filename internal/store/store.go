// Package store keeps the marketplace entities: users, players, holdings,
// transactions, portfolio snapshots, staking plans and achievements.
//
// Create methods ignore the ID of the record passed in, assign the next
// sequential id for that entity kind, fill defaults and return the stored
// record. Get and Update methods return ErrNotFound for unknown ids.
// Records handed out are copies.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type Store interface {
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	CreateUser(ctx context.Context, u User) (User, error)
	UpdateUser(ctx context.Context, id int64, p UserPatch) (User, error)
	ListUsers(ctx context.Context) ([]User, error)

	ListPlayers(ctx context.Context, sport Sport) ([]Player, error)
	GetPlayer(ctx context.Context, id int64) (Player, error)
	CreatePlayer(ctx context.Context, p Player) (Player, error)
	UpdatePlayer(ctx context.Context, id int64, p PlayerPatch) (Player, error)

	GetHolding(ctx context.Context, userID, playerID int64) (TokenHolding, error)
	ListHoldings(ctx context.Context, userID int64) ([]TokenHolding, error)
	CreateHolding(ctx context.Context, h TokenHolding) (TokenHolding, error)
	UpdateHolding(ctx context.Context, id int64, p HoldingPatch) (TokenHolding, error)

	CreateTransaction(ctx context.Context, t Transaction) (Transaction, error)
	ListTransactions(ctx context.Context, userID int64) ([]Transaction, error)

	CreatePortfolioSnapshot(ctx context.Context, h PortfolioHistory) (PortfolioHistory, error)
	ListPortfolioHistory(ctx context.Context, userID int64) ([]PortfolioHistory, error)

	ListStakingPlans(ctx context.Context) ([]StakingPlan, error)
	GetStakingPlan(ctx context.Context, id int64) (StakingPlan, error)
	CreateStakingPlan(ctx context.Context, p StakingPlan) (StakingPlan, error)

	ListAchievements(ctx context.Context) ([]Achievement, error)
	GetAchievement(ctx context.Context, id int64) (Achievement, error)
	CreateAchievement(ctx context.Context, a Achievement) (Achievement, error)

	GetUserAchievement(ctx context.Context, userID, achievementID int64) (UserAchievement, error)
	ListUserAchievements(ctx context.Context, userID int64) ([]UserAchievement, error)
	CreateUserAchievement(ctx context.Context, ua UserAchievement) (UserAchievement, error)
	UpdateUserAchievement(ctx context.Context, id int64, p UserAchievementPatch) (UserAchievement, error)

	// WithinTx runs fn against a transactional view of the store. Every
	// write made through that view is committed if fn returns nil and
	// discarded otherwise. Calling WithinTx on the view runs fn directly.
	WithinTx(ctx context.Context, fn func(Store) error) error
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
