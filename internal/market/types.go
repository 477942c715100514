package market

import (
	"time"

	"playtokens/internal/store"

	"github.com/shopspring/decimal"
)

type BuyInput struct {
	UserID   int64
	PlayerID int64
	Amount   int64
	Price    decimal.Decimal
}

type SellInput = BuyInput

type SwapInput struct {
	UserID       int64
	FromPlayerID int64
	ToPlayerID   int64
	Amount       int64
}

type StakeInput struct {
	UserID   int64
	PlayerID int64
	Amount   int64
	PlanID   int64
}

type TradeResult struct {
	Transaction store.Transaction  `json:"transaction"`
	Holding     store.TokenHolding `json:"holding"`
}

type SwapResult struct {
	TradeResult
	Source store.TokenHolding `json:"source"`
}

type StakeResult struct {
	TradeResult
	Plan store.StakingPlan `json:"plan"`
}

type UnstakeResult struct {
	TradeResult
	EstimatedYield decimal.Decimal `json:"estimatedYield"`
}

type HoldingView struct {
	store.TokenHolding
	Player store.Player    `json:"player"`
	Value  decimal.Decimal `json:"value"`
}

// Valuation is the aggregate of a user's holdings at current prices.
type Valuation struct {
	TotalValue   decimal.Decimal `json:"totalValue"`
	TotalTokens  int64           `json:"totalTokens"`
	NBATokens    int64           `json:"nbaTokens"`
	NFLTokens    int64           `json:"nflTokens"`
	StakedTokens int64           `json:"stakedTokens"`
}

type Portfolio struct {
	Valuation
	Balance      decimal.Decimal          `json:"balance"`
	Holdings     []HoldingView            `json:"holdings"`
	Transactions []store.Transaction      `json:"transactions"`
	History      []store.PortfolioHistory `json:"history"`
}

type AchievementView struct {
	store.Achievement
	Progress    int64      `json:"progress"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt"`
}

type AchievementReport struct {
	Achievements []AchievementView  `json:"achievements"`
	Unlocked     []store.Achievement `json:"unlocked"`
}

type Unlock struct {
	UserID      int64             `json:"userId"`
	Username    string            `json:"username"`
	Achievement store.Achievement `json:"achievement"`
}

type SweepReport struct {
	Users         int      `json:"users"`
	Snapshots     int      `json:"snapshots"`
	MaturedStakes int      `json:"maturedStakes"`
	Unlocks       []Unlock `json:"unlocks"`
}
