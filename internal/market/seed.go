package market

import (
	"context"

	"playtokens/internal/store"

	"github.com/shopspring/decimal"
)

type seedPlayer struct {
	Name, Team, Position string
	Sport                store.Sport
	Price, Change        string
	Supply               int64
}

var defaultPlayers = []seedPlayer{
	{"LeBron James", "Los Angeles Lakers", "SF", store.SportNBA, "45.50", "2.35", 1_000_000},
	{"Stephen Curry", "Golden State Warriors", "PG", store.SportNBA, "42.75", "-1.20", 1_000_000},
	{"Giannis Antetokounmpo", "Milwaukee Bucks", "PF", store.SportNBA, "48.20", "3.10", 1_000_000},
	{"Nikola Jokic", "Denver Nuggets", "C", store.SportNBA, "50.00", "1.85", 1_000_000},
	{"Luka Doncic", "Dallas Mavericks", "PG", store.SportNBA, "39.90", "-0.75", 1_000_000},
	{"Jayson Tatum", "Boston Celtics", "SF", store.SportNBA, "36.40", "0.95", 1_000_000},
	{"Patrick Mahomes", "Kansas City Chiefs", "QB", store.SportNFL, "52.30", "1.40", 1_000_000},
	{"Josh Allen", "Buffalo Bills", "QB", store.SportNFL, "44.10", "-2.05", 1_000_000},
	{"Christian McCaffrey", "San Francisco 49ers", "RB", store.SportNFL, "38.60", "0.60", 1_000_000},
	{"Justin Jefferson", "Minnesota Vikings", "WR", store.SportNFL, "41.25", "2.80", 1_000_000},
	{"Travis Kelce", "Kansas City Chiefs", "TE", store.SportNFL, "33.75", "-0.40", 1_000_000},
	{"Micah Parsons", "Dallas Cowboys", "LB", store.SportNFL, "29.80", "1.15", 1_000_000},
}

var defaultPlans = []struct {
	Name      string
	APY       string
	LockDays  int
	MinTokens int64
}{
	{"Flexible", "5.00", 7, 1},
	{"Standard", "12.00", 30, 10},
	{"Premium", "20.00", 90, 50},
}

var defaultAchievements = []struct {
	Name, Description, Icon string
	Requirement             Requirement
	Value                   int64
	Reward                  string
}{
	{"First Trade", "Complete your first transaction", "zap", TotalTransactions, 1, "10"},
	{"Active Trader", "Complete 25 transactions", "activity", TotalTransactions, 25, "100"},
	{"Buyer", "Buy tokens 10 times", "shopping-cart", TotalBuys, 10, "50"},
	{"Profit Taker", "Sell tokens 5 times", "trending-up", TotalSells, 5, "50"},
	{"Swapper", "Swap tokens 3 times", "repeat", TotalSwaps, 3, "40"},
	{"High Roller", "Reach a portfolio value of 1,000", "gem", TotalValue, 1_000, "150"},
	{"Diversified", "Hold tokens of 5 different players", "layers", DifferentPlayers, 5, "75"},
	{"Hoops Fan", "Hold tokens of 3 NBA players", "circle", NBAPlayers, 3, "30"},
	{"Gridiron Fan", "Hold tokens of 3 NFL players", "shield", NFLPlayers, 3, "30"},
	{"Staker", "Stake a holding", "lock", StakedTokens, 1, "25"},
}

// SeedDefaults inserts the reference players, staking plans and achievements.
// Each kind is only seeded when the store has none of it.
func (s *Service) SeedDefaults(ctx context.Context) error {
	return s.store.WithinTx(ctx, func(tx store.Store) error {
		players, err := tx.ListPlayers(ctx, "")
		if err != nil {
			return err
		}
		if len(players) == 0 {
			for _, p := range defaultPlayers {
				if _, err := tx.CreatePlayer(ctx, store.Player{
					Name:            p.Name,
					Team:            p.Team,
					Position:        p.Position,
					Sport:           p.Sport,
					TokenPrice:      decimal.RequireFromString(p.Price),
					PriceChange24h:  decimal.RequireFromString(p.Change),
					TotalSupply:     p.Supply,
					AvailableSupply: p.Supply,
				}); err != nil {
					return err
				}
			}
		}

		plans, err := tx.ListStakingPlans(ctx)
		if err != nil {
			return err
		}
		if len(plans) == 0 {
			for _, p := range defaultPlans {
				if _, err := tx.CreateStakingPlan(ctx, store.StakingPlan{
					Name:           p.Name,
					APY:            decimal.RequireFromString(p.APY),
					LockPeriodDays: p.LockDays,
					MinTokens:      p.MinTokens,
				}); err != nil {
					return err
				}
			}
		}

		achievements, err := tx.ListAchievements(ctx)
		if err != nil {
			return err
		}
		if len(achievements) == 0 {
			for _, a := range defaultAchievements {
				if _, err := tx.CreateAchievement(ctx, store.Achievement{
					Name:             a.Name,
					Description:      a.Description,
					Icon:             a.Icon,
					Requirement:      a.Requirement.Tag(),
					RequirementValue: a.Value,
					RewardAmount:     decimal.RequireFromString(a.Reward),
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// CreatePlayer adds a player to the market. Available supply defaults to the
// total supply and may not exceed it.
func (s *Service) CreatePlayer(ctx context.Context, p store.Player) (store.Player, error) {
	if p.Name == "" {
		return store.Player{}, invalid("player name is required")
	}
	if !p.Sport.Valid() {
		return store.Player{}, invalid("sport must be NBA or NFL")
	}
	if !p.TokenPrice.IsPositive() {
		return store.Player{}, invalid("token price must be > 0")
	}
	if p.TotalSupply < 0 {
		return store.Player{}, invalid("total supply must be >= 0")
	}
	if p.AvailableSupply == 0 {
		p.AvailableSupply = p.TotalSupply
	}
	if p.AvailableSupply > p.TotalSupply {
		return store.Player{}, invalid("available supply %d exceeds total supply %d", p.AvailableSupply, p.TotalSupply)
	}
	return s.store.CreatePlayer(ctx, p)
}
