package market

import (
	"context"
	"sort"

	"playtokens/internal/store"

	"github.com/shopspring/decimal"
)

// Portfolio values the user's holdings at current player prices and returns
// them with the transaction log (newest first) and the snapshot history
// (oldest first). Nothing is cached.
func (s *Service) Portfolio(ctx context.Context, userID int64) (Portfolio, error) {
	var out Portfolio
	user, err := getUser(ctx, s.store, userID)
	if err != nil {
		return out, err
	}
	val, holdings, err := valuate(ctx, s.store, userID)
	if err != nil {
		return out, err
	}
	txs, err := s.Transactions(ctx, userID)
	if err != nil {
		return out, err
	}
	history, err := s.store.ListPortfolioHistory(ctx, userID)
	if err != nil {
		return out, err
	}
	sort.SliceStable(history, func(i, j int) bool {
		if history[i].Timestamp.Equal(history[j].Timestamp) {
			return history[i].ID < history[j].ID
		}
		return history[i].Timestamp.Before(history[j].Timestamp)
	})

	out.Valuation = val
	out.Balance = user.Balance
	out.Holdings = holdings
	out.Transactions = txs
	out.History = history
	return out, nil
}

func (s *Service) Holdings(ctx context.Context, userID int64) ([]HoldingView, error) {
	if _, err := getUser(ctx, s.store, userID); err != nil {
		return nil, err
	}
	_, holdings, err := valuate(ctx, s.store, userID)
	return holdings, err
}

// Transactions returns the user's transactions, newest first.
func (s *Service) Transactions(ctx context.Context, userID int64) ([]store.Transaction, error) {
	if _, err := getUser(ctx, s.store, userID); err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].ID > txs[j].ID
		}
		return txs[i].Timestamp.After(txs[j].Timestamp)
	})
	return txs, nil
}

func valuate(ctx context.Context, st store.Store, userID int64) (Valuation, []HoldingView, error) {
	var val Valuation
	val.TotalValue = decimal.Zero

	holdings, err := st.ListHoldings(ctx, userID)
	if err != nil {
		return val, nil, err
	}
	views := make([]HoldingView, 0, len(holdings))
	for _, h := range holdings {
		player, err := getPlayer(ctx, st, h.PlayerID)
		if err != nil {
			return val, nil, err
		}
		value := player.TokenPrice.Mul(decimal.NewFromInt(h.Amount))
		val.TotalValue = val.TotalValue.Add(value)
		switch player.Sport {
		case store.SportNBA:
			val.NBATokens += h.Amount
		case store.SportNFL:
			val.NFLTokens += h.Amount
		}
		if h.IsStaked {
			val.StakedTokens += h.Amount
		}
		views = append(views, HoldingView{TokenHolding: h, Player: player, Value: value.Round(2)})
	}
	val.TotalValue = val.TotalValue.Round(2)
	val.TotalTokens = val.NBATokens + val.NFLTokens
	return val, views, nil
}

// snapshot appends the user's current total value to the portfolio history.
func (s *Service) snapshot(ctx context.Context, st store.Store, userID int64) (store.PortfolioHistory, error) {
	val, _, err := valuate(ctx, st, userID)
	if err != nil {
		return store.PortfolioHistory{}, err
	}
	return st.CreatePortfolioSnapshot(ctx, store.PortfolioHistory{
		UserID:     userID,
		TotalValue: val.TotalValue,
		Timestamp:  s.now(),
	})
}
