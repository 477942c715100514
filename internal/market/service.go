package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"playtokens/internal/store"
)

type Service struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

type Option func(*Service)

// WithClock replaces the wall clock used for timestamps and lock periods.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(st store.Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store: st,
		log:   logger,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Store() store.Store {
	return s.store
}

func (s *Service) ListPlayers(ctx context.Context, sport string) ([]store.Player, error) {
	parsed, err := ParseSport(sport)
	if err != nil {
		return nil, err
	}
	return s.store.ListPlayers(ctx, parsed)
}

func (s *Service) GetPlayer(ctx context.Context, id int64) (store.Player, error) {
	return getPlayer(ctx, s.store, id)
}

func (s *Service) Buy(ctx context.Context, in BuyInput) (TradeResult, error) {
	var out TradeResult
	if in.Amount <= 0 {
		return out, invalid("amount must be > 0")
	}
	if !in.Price.IsPositive() {
		return out, invalid("price must be > 0")
	}

	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		user, err := getUser(ctx, tx, in.UserID)
		if err != nil {
			return err
		}
		if _, err := getPlayer(ctx, tx, in.PlayerID); err != nil {
			return err
		}

		cost := Notional(in.Amount, in.Price)
		if user.Balance.LessThan(cost) {
			return fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, cost.StringFixed(2), user.Balance.StringFixed(2))
		}
		balance := user.Balance.Sub(cost)
		if _, err := tx.UpdateUser(ctx, user.ID, store.UserPatch{Balance: &balance}); err != nil {
			return err
		}

		holding, err := tx.GetHolding(ctx, in.UserID, in.PlayerID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			holding, err = tx.CreateHolding(ctx, store.TokenHolding{
				UserID:        in.UserID,
				PlayerID:      in.PlayerID,
				Amount:        in.Amount,
				PurchasePrice: in.Price,
				CreatedAt:     s.now(),
			})
			if err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			amount := holding.Amount + in.Amount
			holding, err = tx.UpdateHolding(ctx, holding.ID, store.HoldingPatch{Amount: &amount, PurchasePrice: &in.Price})
			if err != nil {
				return err
			}
		}

		out.Holding = holding
		out.Transaction, err = tx.CreateTransaction(ctx, store.Transaction{
			UserID:    in.UserID,
			PlayerID:  in.PlayerID,
			Type:      store.TxBuy,
			Amount:    in.Amount,
			Price:     in.Price,
			Timestamp: s.now(),
		})
		if err != nil {
			return err
		}
		_, err = s.snapshot(ctx, tx, in.UserID)
		return err
	})
	if err != nil {
		return TradeResult{}, err
	}
	s.log.Info("trade executed", "type", store.TxBuy, "user_id", in.UserID, "player_id", in.PlayerID, "amount", in.Amount, "price", in.Price.String())
	return out, nil
}

func (s *Service) Sell(ctx context.Context, in SellInput) (TradeResult, error) {
	var out TradeResult
	if in.Amount <= 0 {
		return out, invalid("amount must be > 0")
	}
	if !in.Price.IsPositive() {
		return out, invalid("price must be > 0")
	}

	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		user, err := getUser(ctx, tx, in.UserID)
		if err != nil {
			return err
		}
		if _, err := getPlayer(ctx, tx, in.PlayerID); err != nil {
			return err
		}
		holding, err := spendableHolding(ctx, tx, in.UserID, in.PlayerID, in.Amount)
		if err != nil {
			return err
		}

		amount := holding.Amount - in.Amount
		if out.Holding, err = tx.UpdateHolding(ctx, holding.ID, store.HoldingPatch{Amount: &amount}); err != nil {
			return err
		}
		balance := user.Balance.Add(Notional(in.Amount, in.Price))
		if _, err := tx.UpdateUser(ctx, user.ID, store.UserPatch{Balance: &balance}); err != nil {
			return err
		}
		out.Transaction, err = tx.CreateTransaction(ctx, store.Transaction{
			UserID:    in.UserID,
			PlayerID:  in.PlayerID,
			Type:      store.TxSell,
			Amount:    in.Amount,
			Price:     in.Price,
			Timestamp: s.now(),
		})
		if err != nil {
			return err
		}
		_, err = s.snapshot(ctx, tx, in.UserID)
		return err
	})
	if err != nil {
		return TradeResult{}, err
	}
	s.log.Info("trade executed", "type", store.TxSell, "user_id", in.UserID, "player_id", in.PlayerID, "amount", in.Amount, "price", in.Price.String())
	return out, nil
}

func (s *Service) Swap(ctx context.Context, in SwapInput) (SwapResult, error) {
	var out SwapResult
	if in.Amount <= 0 {
		return out, invalid("amount must be > 0")
	}
	if in.FromPlayerID == in.ToPlayerID {
		return out, invalid("cannot swap a player for itself")
	}

	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		if _, err := getUser(ctx, tx, in.UserID); err != nil {
			return err
		}
		from, err := getPlayer(ctx, tx, in.FromPlayerID)
		if err != nil {
			return err
		}
		to, err := getPlayer(ctx, tx, in.ToPlayerID)
		if err != nil {
			return err
		}
		source, err := spendableHolding(ctx, tx, in.UserID, in.FromPlayerID, in.Amount)
		if err != nil {
			return err
		}
		toAmount, err := SwapAmount(in.Amount, from.TokenPrice, to.TokenPrice)
		if err != nil {
			return err
		}
		if toAmount <= 0 {
			return fmt.Errorf("%w: %d %s tokens buy less than one %s token", ErrSwapTooSmall, in.Amount, from.Name, to.Name)
		}

		remaining := source.Amount - in.Amount
		if out.Source, err = tx.UpdateHolding(ctx, source.ID, store.HoldingPatch{Amount: &remaining}); err != nil {
			return err
		}

		dest, err := tx.GetHolding(ctx, in.UserID, in.ToPlayerID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			dest, err = tx.CreateHolding(ctx, store.TokenHolding{
				UserID:        in.UserID,
				PlayerID:      in.ToPlayerID,
				Amount:        toAmount,
				PurchasePrice: to.TokenPrice,
				CreatedAt:     s.now(),
			})
		case err == nil:
			amount := dest.Amount + toAmount
			dest, err = tx.UpdateHolding(ctx, dest.ID, store.HoldingPatch{Amount: &amount, PurchasePrice: &to.TokenPrice})
		}
		if err != nil {
			return err
		}
		out.Holding = dest

		fromID := in.FromPlayerID
		out.Transaction, err = tx.CreateTransaction(ctx, store.Transaction{
			UserID:       in.UserID,
			PlayerID:     in.ToPlayerID,
			Type:         store.TxSwap,
			Amount:       toAmount,
			Price:        to.TokenPrice,
			FromPlayerID: &fromID,
			Timestamp:    s.now(),
		})
		if err != nil {
			return err
		}
		_, err = s.snapshot(ctx, tx, in.UserID)
		return err
	})
	if err != nil {
		return SwapResult{}, err
	}
	s.log.Info("trade executed", "type", store.TxSwap, "user_id", in.UserID, "from_player_id", in.FromPlayerID,
		"to_player_id", in.ToPlayerID, "amount", in.Amount, "received", out.Transaction.Amount)
	return out, nil
}

// spendableHolding returns the holding if it is unstaked and covers amount.
func spendableHolding(ctx context.Context, st store.Store, userID, playerID, amount int64) (store.TokenHolding, error) {
	holding, err := st.GetHolding(ctx, userID, playerID)
	if errors.Is(err, store.ErrNotFound) {
		return holding, fmt.Errorf("%w: no tokens of player %d", ErrInsufficientTokens, playerID)
	}
	if err != nil {
		return holding, err
	}
	if holding.IsStaked {
		return holding, fmt.Errorf("%w: unstake player %d tokens first", ErrHoldingStaked, playerID)
	}
	if holding.Amount < amount {
		return holding, fmt.Errorf("%w: have %d, want %d", ErrInsufficientTokens, holding.Amount, amount)
	}
	return holding, nil
}

func getUser(ctx context.Context, st store.Store, id int64) (store.User, error) {
	u, err := st.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return u, fmt.Errorf("%w: %d", ErrUserNotFound, id)
	}
	return u, err
}

func getPlayer(ctx context.Context, st store.Store, id int64) (store.Player, error) {
	p, err := st.GetPlayer(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return p, fmt.Errorf("%w: %d", ErrPlayerNotFound, id)
	}
	return p, err
}

func getPlan(ctx context.Context, st store.Store, id int64) (store.StakingPlan, error) {
	p, err := st.GetStakingPlan(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return p, fmt.Errorf("%w: %d", ErrPlanNotFound, id)
	}
	return p, err
}
