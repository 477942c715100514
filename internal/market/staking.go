package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"playtokens/internal/store"

	"github.com/shopspring/decimal"
)

func (s *Service) ListStakingPlans(ctx context.Context) ([]store.StakingPlan, error) {
	return s.store.ListStakingPlans(ctx)
}

// Stake locks the user's holding of a player under a plan. The whole holding
// is flagged as staked even when amount is only part of it; amount is what
// the plan minimum is checked against and what the transaction records.
func (s *Service) Stake(ctx context.Context, in StakeInput) (StakeResult, error) {
	var out StakeResult
	if in.Amount <= 0 {
		return out, invalid("amount must be > 0")
	}

	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		holding, err := tx.GetHolding(ctx, in.UserID, in.PlayerID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: user %d has no tokens of player %d", ErrHoldingNotFound, in.UserID, in.PlayerID)
		}
		if err != nil {
			return err
		}
		plan, err := getPlan(ctx, tx, in.PlanID)
		if err != nil {
			return err
		}
		player, err := getPlayer(ctx, tx, in.PlayerID)
		if err != nil {
			return err
		}
		if holding.IsStaked {
			return fmt.Errorf("%w: locked until %s", ErrAlreadyStaked, formatEnd(holding.StakingEnd))
		}
		if in.Amount > holding.Amount {
			return fmt.Errorf("%w: have %d, want %d", ErrInsufficientTokens, holding.Amount, in.Amount)
		}
		if in.Amount < plan.MinTokens {
			return fmt.Errorf("%w: %s requires at least %d tokens", ErrBelowPlanMinimum, plan.Name, plan.MinTokens)
		}

		start := s.now()
		end := start.Add(time.Duration(plan.LockPeriodDays) * 24 * time.Hour)
		out.Holding, err = tx.UpdateHolding(ctx, holding.ID, store.HoldingPatch{
			Stake: &store.StakeState{Plan: plan.Name, Start: start, End: end},
		})
		if err != nil {
			return err
		}
		out.Plan = plan
		out.Transaction, err = tx.CreateTransaction(ctx, store.Transaction{
			UserID:    in.UserID,
			PlayerID:  in.PlayerID,
			Type:      store.TxStake,
			Amount:    in.Amount,
			Price:     player.TokenPrice,
			Timestamp: start,
		})
		if err != nil {
			return err
		}
		_, err = s.snapshot(ctx, tx, in.UserID)
		return err
	})
	if err != nil {
		return StakeResult{}, err
	}
	s.log.Info("stake opened", "user_id", in.UserID, "player_id", in.PlayerID, "amount", in.Amount,
		"plan", out.Plan.Name, "ends_at", out.Holding.StakingEnd)
	return out, nil
}

// Unstake releases a staked holding once its lock period has ended.
func (s *Service) Unstake(ctx context.Context, userID, playerID int64) (UnstakeResult, error) {
	var out UnstakeResult
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		holding, err := tx.GetHolding(ctx, userID, playerID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: user %d has no tokens of player %d", ErrHoldingNotFound, userID, playerID)
		}
		if err != nil {
			return err
		}
		if !holding.IsStaked {
			return ErrNotStaked
		}
		now := s.now()
		if holding.StakingEnd != nil && now.Before(*holding.StakingEnd) {
			return fmt.Errorf("%w: unlocks at %s", ErrLockPeriodActive, formatEnd(holding.StakingEnd))
		}
		player, err := getPlayer(ctx, tx, playerID)
		if err != nil {
			return err
		}

		out.EstimatedYield, err = stakeYield(ctx, tx, holding, player)
		if err != nil {
			return err
		}
		out.Holding, err = tx.UpdateHolding(ctx, holding.ID, store.HoldingPatch{Unstake: true})
		if err != nil {
			return err
		}
		out.Transaction, err = tx.CreateTransaction(ctx, store.Transaction{
			UserID:    userID,
			PlayerID:  playerID,
			Type:      store.TxUnstake,
			Amount:    holding.Amount,
			Price:     player.TokenPrice,
			Timestamp: now,
		})
		if err != nil {
			return err
		}
		_, err = s.snapshot(ctx, tx, userID)
		return err
	})
	if err != nil {
		return UnstakeResult{}, err
	}
	s.log.Info("stake closed", "user_id", userID, "player_id", playerID, "estimated_yield", out.EstimatedYield.String())
	return out, nil
}

// stakeYield looks the holding's plan up by name; plans renamed or removed
// since staking yield zero.
func stakeYield(ctx context.Context, st store.Store, h store.TokenHolding, player store.Player) (decimal.Decimal, error) {
	if h.StakingPlan == nil {
		return decimal.Zero, nil
	}
	plans, err := st.ListStakingPlans(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, plan := range plans {
		if plan.Name == *h.StakingPlan {
			return EstimatedYield(h.Amount, player.TokenPrice, plan.APY, plan.LockPeriodDays), nil
		}
	}
	return decimal.Zero, nil
}

func formatEnd(end *time.Time) string {
	if end == nil {
		return "unknown"
	}
	return end.Format(time.RFC3339)
}
