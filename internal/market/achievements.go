package market

import (
	"context"
	"errors"
	"fmt"

	"playtokens/internal/store"
)

// Requirement is one kind of achievement goal. The set is closed: every kind
// is a type in this file and must measure progress from a user's activity.
type Requirement interface {
	Tag() string
	measure(a activity) int64
}

type activity struct {
	transactions []store.Transaction
	holdings     []HoldingView
	totalValue   int64
}

type txCount struct {
	tag string
	typ store.TxType // empty counts every type
}

type portfolioValue struct{}

type distinctPlayers struct{}

type sportPlayers struct {
	tag   string
	sport store.Sport
}

type stakedHoldings struct{}

var (
	TotalTransactions Requirement = txCount{tag: "total_transactions"}
	TotalBuys         Requirement = txCount{tag: "total_buys", typ: store.TxBuy}
	TotalSells        Requirement = txCount{tag: "total_sells", typ: store.TxSell}
	TotalSwaps        Requirement = txCount{tag: "total_swaps", typ: store.TxSwap}
	TotalValue        Requirement = portfolioValue{}
	DifferentPlayers  Requirement = distinctPlayers{}
	NBAPlayers        Requirement = sportPlayers{tag: "nba_players", sport: store.SportNBA}
	NFLPlayers        Requirement = sportPlayers{tag: "nfl_players", sport: store.SportNFL}
	StakedTokens      Requirement = stakedHoldings{}
)

var requirements = []Requirement{
	TotalTransactions, TotalBuys, TotalSells, TotalSwaps, TotalValue,
	DifferentPlayers, NBAPlayers, NFLPlayers, StakedTokens,
}

var requirementsByTag = func() map[string]Requirement {
	out := make(map[string]Requirement, len(requirements))
	for _, r := range requirements {
		out[r.Tag()] = r
	}
	return out
}()

// Requirements lists every known requirement kind.
func Requirements() []Requirement {
	return append([]Requirement(nil), requirements...)
}

// ParseRequirement maps a stored requirement tag to its kind.
func ParseRequirement(tag string) (Requirement, bool) {
	r, ok := requirementsByTag[tag]
	return r, ok
}

func (r txCount) Tag() string { return r.tag }

func (r txCount) measure(a activity) int64 {
	var n int64
	for _, t := range a.transactions {
		if r.typ == "" || t.Type == r.typ {
			n++
		}
	}
	return n
}

func (portfolioValue) Tag() string { return "total_value" }

func (portfolioValue) measure(a activity) int64 { return a.totalValue }

func (distinctPlayers) Tag() string { return "different_players" }

// Holding records count even once sold down to zero.

func (distinctPlayers) measure(a activity) int64 {
	seen := make(map[int64]struct{}, len(a.holdings))
	for _, h := range a.holdings {
		seen[h.PlayerID] = struct{}{}
	}
	return int64(len(seen))
}

func (r sportPlayers) Tag() string { return r.tag }

func (r sportPlayers) measure(a activity) int64 {
	var n int64
	for _, h := range a.holdings {
		if h.Player.Sport == r.sport {
			n++
		}
	}
	return n
}

func (stakedHoldings) Tag() string { return "staked_tokens" }

func (stakedHoldings) measure(a activity) int64 {
	var n int64
	for _, h := range a.holdings {
		if h.IsStaked {
			n++
		}
	}
	return n
}

func (s *Service) ListAchievements(ctx context.Context) ([]store.Achievement, error) {
	return s.store.ListAchievements(ctx)
}

// UserAchievements returns the user's progress on every achievement,
// creating zero-progress records for ones not seen before.
func (s *Service) UserAchievements(ctx context.Context, userID int64) ([]AchievementView, error) {
	var out []AchievementView
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		if _, err := getUser(ctx, tx, userID); err != nil {
			return err
		}
		achievements, err := tx.ListAchievements(ctx)
		if err != nil {
			return err
		}
		out = make([]AchievementView, 0, len(achievements))
		for _, a := range achievements {
			ua, err := progressRecord(ctx, tx, userID, a.ID)
			if err != nil {
				return err
			}
			out = append(out, achievementView(a, ua))
		}
		return nil
	})
	return out, err
}

// CheckAchievements recomputes progress for every achievement. Progress only
// moves up; an achievement completes once, when progress first reaches its
// requirement, and its reward is credited to the user's balance.
func (s *Service) CheckAchievements(ctx context.Context, userID int64) (AchievementReport, error) {
	var out AchievementReport
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		out = AchievementReport{}
		user, err := getUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		act, err := loadActivity(ctx, tx, userID)
		if err != nil {
			return err
		}
		achievements, err := tx.ListAchievements(ctx)
		if err != nil {
			return err
		}

		out.Achievements = make([]AchievementView, 0, len(achievements))
		for _, a := range achievements {
			ua, err := progressRecord(ctx, tx, userID, a.ID)
			if err != nil {
				return err
			}
			req, known := ParseRequirement(a.Requirement)
			if !known {
				out.Achievements = append(out.Achievements, achievementView(a, ua))
				continue
			}

			var patch store.UserAchievementPatch
			progress := ua.Progress
			if v := req.measure(act); v > progress {
				progress = v
				patch.Progress = &progress
			}
			if !ua.Completed && progress >= a.RequirementValue {
				done, at := true, s.now()
				patch.Completed = &done
				patch.CompletedAt = &at
				user.Balance = user.Balance.Add(a.RewardAmount)
				out.Unlocked = append(out.Unlocked, a)
			}
			if patch.Progress != nil || patch.Completed != nil {
				if ua, err = tx.UpdateUserAchievement(ctx, ua.ID, patch); err != nil {
					return err
				}
			}
			out.Achievements = append(out.Achievements, achievementView(a, ua))
		}

		if len(out.Unlocked) > 0 {
			if _, err := tx.UpdateUser(ctx, user.ID, store.UserPatch{Balance: &user.Balance}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return AchievementReport{}, err
	}
	for _, a := range out.Unlocked {
		s.log.Info("achievement unlocked", "user_id", userID, "achievement", a.Name, "reward", a.RewardAmount.String())
	}
	return out, nil
}

func loadActivity(ctx context.Context, st store.Store, userID int64) (activity, error) {
	var act activity
	txs, err := st.ListTransactions(ctx, userID)
	if err != nil {
		return act, err
	}
	val, holdings, err := valuate(ctx, st, userID)
	if err != nil {
		return act, err
	}
	act.transactions = txs
	act.holdings = holdings
	act.totalValue = val.TotalValue.Floor().IntPart()
	return act, nil
}

func progressRecord(ctx context.Context, st store.Store, userID, achievementID int64) (store.UserAchievement, error) {
	ua, err := st.GetUserAchievement(ctx, userID, achievementID)
	if err == nil {
		return ua, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return ua, err
	}
	ua, err = st.CreateUserAchievement(ctx, store.UserAchievement{UserID: userID, AchievementID: achievementID})
	if err != nil {
		return ua, fmt.Errorf("create progress record: %w", err)
	}
	return ua, nil
}

func achievementView(a store.Achievement, ua store.UserAchievement) AchievementView {
	return AchievementView{
		Achievement: a,
		Progress:    ua.Progress,
		Completed:   ua.Completed,
		CompletedAt: ua.CompletedAt,
	}
}
