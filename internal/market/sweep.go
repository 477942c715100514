package market

import (
	"context"
	"fmt"

	"playtokens/internal/store"
)

// Sweep snapshots every user's portfolio, re-runs the achievement check and
// counts stakes whose lock period has ended. A failure for one user is
// logged and does not stop the sweep.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	var out SweepReport
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return out, fmt.Errorf("list users: %w", err)
	}
	now := s.now()
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Users++

		err := s.store.WithinTx(ctx, func(tx store.Store) error {
			_, err := s.snapshot(ctx, tx, u.ID)
			return err
		})
		if err != nil {
			s.log.Error("sweep snapshot failed", "user_id", u.ID, "err", err)
			continue
		}
		out.Snapshots++

		report, err := s.CheckAchievements(ctx, u.ID)
		if err != nil {
			s.log.Error("sweep achievement check failed", "user_id", u.ID, "err", err)
			continue
		}
		for _, a := range report.Unlocked {
			out.Unlocks = append(out.Unlocks, Unlock{UserID: u.ID, Username: u.Username, Achievement: a})
		}

		holdings, err := s.store.ListHoldings(ctx, u.ID)
		if err != nil {
			s.log.Error("sweep holdings read failed", "user_id", u.ID, "err", err)
			continue
		}
		for _, h := range holdings {
			if h.IsStaked && h.StakingEnd != nil && !now.Before(*h.StakingEnd) {
				out.MaturedStakes++
			}
		}
	}
	return out, nil
}
