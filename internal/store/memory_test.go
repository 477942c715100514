package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a, err := m.CreateUser(ctx, User{ID: 99, Username: "alice"})
	require.NoError(t, err)
	b, err := m.CreateUser(ctx, User{Username: "bob"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)
	assert.False(t, a.CreatedAt.IsZero())

	p, err := m.CreatePlayer(ctx, Player{Name: "LeBron James", Sport: SportNBA})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID, "sequences are per entity kind")
}

func TestMemoryUsernameUniqueIgnoresCase(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CreateUser(ctx, User{Username: "Alice"})
	require.NoError(t, err)
	_, err = m.CreateUser(ctx, User{Username: "alice"})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := m.GetUserByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Username)
}

func TestMemoryNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetUser(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetHolding(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.UpdateHolding(ctx, 7, HoldingPatch{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetUserAchievement(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryOneHoldingPerUserAndPlayer(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CreateHolding(ctx, TokenHolding{UserID: 1, PlayerID: 2, Amount: 5})
	require.NoError(t, err)
	_, err = m.CreateHolding(ctx, TokenHolding{UserID: 1, PlayerID: 2, Amount: 1})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryListPlayersFiltersBySport(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, p := range []Player{
		{Name: "A", Sport: SportNBA},
		{Name: "B", Sport: SportNFL},
		{Name: "C", Sport: SportNBA},
	} {
		_, err := m.CreatePlayer(ctx, p)
		require.NoError(t, err)
	}

	all, err := m.ListPlayers(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	nba, err := m.ListPlayers(ctx, SportNBA)
	require.NoError(t, err)
	require.Len(t, nba, 2)
	assert.Equal(t, "A", nba[0].Name)
	assert.Equal(t, "C", nba[1].Name)
}

func TestMemoryWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	user, err := m.CreateUser(ctx, User{Username: "alice", Balance: decimal.NewFromInt(100)})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.WithinTx(ctx, func(tx Store) error {
		balance := decimal.NewFromInt(1)
		if _, err := tx.UpdateUser(ctx, user.ID, UserPatch{Balance: &balance}); err != nil {
			return err
		}
		if _, err := tx.CreateHolding(ctx, TokenHolding{UserID: user.ID, PlayerID: 1, Amount: 3}); err != nil {
			return err
		}
		if _, err := tx.CreateTransaction(ctx, Transaction{UserID: user.ID, PlayerID: 1, Type: TxBuy, Amount: 3}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))
	_, err = m.GetHolding(ctx, user.ID, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	txs, err := m.ListTransactions(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, txs)

	h, err := m.CreateHolding(ctx, TokenHolding{UserID: user.ID, PlayerID: 1, Amount: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.ID, "rolled back ids are reused")
}

func TestMemoryWithinTxRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	assert.Panics(t, func() {
		_ = m.WithinTx(ctx, func(tx Store) error {
			if _, err := tx.CreateUser(ctx, User{Username: "ghost"}); err != nil {
				return err
			}
			panic("mid-transaction")
		})
	})
	users, err := m.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestMemoryStakeAndUnstakePatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	h, err := m.CreateHolding(ctx, TokenHolding{UserID: 1, PlayerID: 1, Amount: 20})
	require.NoError(t, err)

	now := orNow(h.CreatedAt)
	staked, err := m.UpdateHolding(ctx, h.ID, HoldingPatch{Stake: &StakeState{Plan: "Standard", Start: now, End: now.AddDate(0, 0, 30)}})
	require.NoError(t, err)
	assert.True(t, staked.IsStaked)
	require.NotNil(t, staked.StakingPlan)
	assert.Equal(t, "Standard", *staked.StakingPlan)

	released, err := m.UpdateHolding(ctx, h.ID, HoldingPatch{Unstake: true})
	require.NoError(t, err)
	assert.False(t, released.IsStaked)
	assert.Nil(t, released.StakingPlan)
	assert.Nil(t, released.StakingEnd)
}

func TestMemoryRecordsDoNotAliasStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	h, err := m.CreateHolding(ctx, TokenHolding{UserID: 1, PlayerID: 1, Amount: 20})
	require.NoError(t, err)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	staked, err := m.UpdateHolding(ctx, h.ID, HoldingPatch{Stake: &StakeState{Plan: "Standard", Start: end.AddDate(0, 0, -30), End: end}})
	require.NoError(t, err)

	*staked.StakingEnd = end.Add(-time.Hour)
	*staked.StakingPlan = "Premium"
	got, err := m.GetHolding(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, end, *got.StakingEnd)
	assert.Equal(t, "Standard", *got.StakingPlan)

	*got.StakingEnd = end.Add(-time.Hour)
	listed, err := m.ListHoldings(ctx, 1)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, end, *listed[0].StakingEnd)

	from := int64(7)
	tr, err := m.CreateTransaction(ctx, Transaction{UserID: 1, PlayerID: 2, Type: TxSwap, Amount: 1, FromPlayerID: &from})
	require.NoError(t, err)
	from = 8
	*tr.FromPlayerID = 9
	txs, err := m.ListTransactions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(7), *txs[0].FromPlayerID)
	*txs[0].FromPlayerID = 9
	txs, err = m.ListTransactions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), *txs[0].FromPlayerID)

	ua, err := m.CreateUserAchievement(ctx, UserAchievement{UserID: 1, AchievementID: 1})
	require.NoError(t, err)
	done := true
	completed, err := m.UpdateUserAchievement(ctx, ua.ID, UserAchievementPatch{Completed: &done, CompletedAt: &end})
	require.NoError(t, err)
	*completed.CompletedAt = end.Add(time.Hour)
	progress, err := m.GetUserAchievement(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, end, *progress.CompletedAt)
	*progress.CompletedAt = end.Add(time.Hour)
	all, err := m.ListUserAchievements(ctx, 1)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, end, *all[0].CompletedAt)
}

func TestMemoryConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	user, err := m.CreateUser(ctx, User{Username: "alice"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithinTx(ctx, func(tx Store) error {
				u, err := tx.GetUser(ctx, user.ID)
				if err != nil {
					return err
				}
				next := u.Balance.Add(decimal.NewFromInt(1))
				_, err = tx.UpdateUser(ctx, user.ID, UserPatch{Balance: &next})
				return err
			})
		}()
	}
	wg.Wait()

	got, err := m.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(50)), "got %s", got.Balance)
}
