package market

import (
	"context"
	"testing"
	"time"

	"playtokens/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addAchievement(t *testing.T, st store.Store, name string, req Requirement, value int64, reward string) store.Achievement {
	t.Helper()
	a, err := st.CreateAchievement(context.Background(), store.Achievement{
		Name:             name,
		Description:      name,
		Icon:             "star",
		Requirement:      req.Tag(),
		RequirementValue: value,
		RewardAmount:     decimal.RequireFromString(reward),
	})
	require.NoError(t, err)
	return a
}

func viewByName(t *testing.T, views []AchievementView, name string) AchievementView {
	t.Helper()
	for _, v := range views {
		if v.Name == name {
			return v
		}
	}
	t.Fatalf("achievement %q not in report", name)
	return AchievementView{}
}

func TestCheckAchievementsUnlocksAndCreditsReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addAchievement(t, f.st, "First Trade", TotalTransactions, 1, "10")
	addAchievement(t, f.st, "Two Sports", DifferentPlayers, 2, "25")

	f.buy(t, f.nba, 2) // 995.00 left

	report, err := f.svc.CheckAchievements(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, report.Unlocked, 1)
	assert.Equal(t, "First Trade", report.Unlocked[0].Name)

	first := viewByName(t, report.Achievements, "First Trade")
	assert.True(t, first.Completed)
	require.NotNil(t, first.CompletedAt)
	assert.Equal(t, f.clock.Now(), *first.CompletedAt)

	two := viewByName(t, report.Achievements, "Two Sports")
	assert.False(t, two.Completed)
	assert.Equal(t, int64(1), two.Progress)

	user, err := f.st.GetUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(decimal.RequireFromString("1005.00")), "balance %s", user.Balance)
}

func TestCheckAchievementsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addAchievement(t, f.st, "First Trade", TotalTransactions, 1, "10")
	addAchievement(t, f.st, "Buyer", TotalBuys, 5, "50")
	f.buy(t, f.nba, 1)
	f.buy(t, f.nfl, 1)

	first, err := f.svc.CheckAchievements(ctx, f.user.ID)
	require.NoError(t, err)
	second, err := f.svc.CheckAchievements(ctx, f.user.ID)
	require.NoError(t, err)

	assert.Len(t, first.Unlocked, 1)
	assert.Empty(t, second.Unlocked, "rewards are paid once")
	require.Len(t, second.Achievements, len(first.Achievements))
	for i := range first.Achievements {
		assert.Equal(t, first.Achievements[i].Progress, second.Achievements[i].Progress)
		assert.Equal(t, first.Achievements[i].Completed, second.Achievements[i].Completed)
	}

	user, err := f.st.GetUser(ctx, f.user.ID)
	require.NoError(t, err)
	// 1000 - 2.50 - 4.00 + 10
	assert.True(t, user.Balance.Equal(decimal.RequireFromString("1003.50")), "balance %s", user.Balance)
}

func TestAchievementProgressNeverDecreases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addAchievement(t, f.st, "Collector", DifferentPlayers, 5, "75")
	addAchievement(t, f.st, "Hoops Fan", NBAPlayers, 3, "30")

	f.buy(t, f.nba, 1)
	f.buy(t, f.cheap, 1)
	f.buy(t, f.nfl, 1)
	report, err := f.svc.CheckAchievements(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), viewByName(t, report.Achievements, "Collector").Progress)
	assert.Equal(t, int64(2), viewByName(t, report.Achievements, "Hoops Fan").Progress)

	for _, p := range []store.Player{f.nba, f.cheap, f.nfl} {
		_, err := f.svc.Sell(ctx, SellInput{UserID: f.user.ID, PlayerID: p.ID, Amount: 1, Price: p.TokenPrice})
		require.NoError(t, err)
	}
	report, err = f.svc.CheckAchievements(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), viewByName(t, report.Achievements, "Collector").Progress)
	assert.Equal(t, int64(2), viewByName(t, report.Achievements, "Hoops Fan").Progress)
}

func TestSoldOutHoldingsStillCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addAchievement(t, f.st, "Collector", DifferentPlayers, 5, "75")
	addAchievement(t, f.st, "Hoops Fan", NBAPlayers, 3, "30")

	for _, p := range []store.Player{f.nba, f.cheap} {
		f.buy(t, p, 1)
		_, err := f.svc.Sell(ctx, SellInput{UserID: f.user.ID, PlayerID: p.ID, Amount: 1, Price: p.TokenPrice})
		require.NoError(t, err)
	}
	holdings, err := f.st.ListHoldings(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, holdings, 2)

	report, err := f.svc.CheckAchievements(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), viewByName(t, report.Achievements, "Collector").Progress)
	assert.Equal(t, int64(2), viewByName(t, report.Achievements, "Hoops Fan").Progress)
}

func TestUnknownRequirementIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.st.CreateAchievement(ctx, store.Achievement{
		Name: "Mystery", Requirement: "total_yachts", RequirementValue: 1, RewardAmount: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	f.buy(t, f.nba, 1)

	report, err := f.svc.CheckAchievements(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, report.Unlocked)
	mystery := viewByName(t, report.Achievements, "Mystery")
	assert.Equal(t, int64(0), mystery.Progress)
	assert.False(t, mystery.Completed)
}

func TestRequirementKindsMeasure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.buy(t, f.nba, 20)
	f.buy(t, f.nfl, 300/4) // 75 × 4.00 = 300
	_, err := f.svc.Sell(ctx, SellInput{UserID: f.user.ID, PlayerID: f.nfl.ID, Amount: 1, Price: f.nfl.TokenPrice})
	require.NoError(t, err)
	f.buy(t, f.cheap, 2)
	_, err = f.svc.Swap(ctx, SwapInput{UserID: f.user.ID, FromPlayerID: f.cheap.ID, ToPlayerID: f.nfl.ID, Amount: 2})
	require.NoError(t, err)
	_, err = f.svc.Stake(ctx, StakeInput{UserID: f.user.ID, PlayerID: f.nba.ID, Amount: 10, PlanID: f.plan.ID})
	require.NoError(t, err)

	act, err := loadActivity(ctx, f.st, f.user.ID)
	require.NoError(t, err)

	want := map[Requirement]int64{
		TotalTransactions: 6,
		TotalBuys:         3,
		TotalSells:        1,
		TotalSwaps:        1,
		// 20×2.50 + 75×4.00 = 350; cheap holding is empty after the swap but still counts as held.
		TotalValue:       350,
		DifferentPlayers: 3,
		NBAPlayers:       2,
		NFLPlayers:       1,
		StakedTokens:     1,
	}
	require.Len(t, want, len(Requirements()))
	for req, n := range want {
		assert.Equal(t, n, req.measure(act), req.Tag())
	}
}

func TestUserAchievementsCreatesProgressRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addAchievement(t, f.st, "First Trade", TotalTransactions, 1, "10")
	addAchievement(t, f.st, "Staker", StakedTokens, 1, "25")

	views, err := f.svc.UserAchievements(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, views, 2)
	for _, v := range views {
		assert.Zero(t, v.Progress)
		assert.False(t, v.Completed)
	}
	records, err := f.st.ListUserAchievements(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = f.svc.UserAchievements(ctx, 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSweepSnapshotsAndCollectsUnlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addAchievement(t, f.st, "First Trade", TotalTransactions, 1, "10")
	f.buy(t, f.nba, 10)
	_, err := f.svc.Stake(ctx, StakeInput{UserID: f.user.ID, PlayerID: f.nba.ID, Amount: 10, PlanID: f.plan.ID})
	require.NoError(t, err)
	_, err = f.st.CreateUser(ctx, store.User{Username: "bob"})
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)
	report, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Users)
	assert.Equal(t, 2, report.Snapshots)
	assert.Equal(t, 1, report.MaturedStakes)
	require.Len(t, report.Unlocks, 1)
	assert.Equal(t, "alice", report.Unlocks[0].Username)

	again, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Unlocks)

	history, err := f.st.ListPortfolioHistory(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4, "two trade snapshots and two sweep snapshots")
}
