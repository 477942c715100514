package store

import (
	"time"

	"github.com/shopspring/decimal"
)

type Sport string

const (
	SportNBA Sport = "NBA"
	SportNFL Sport = "NFL"
)

func (s Sport) Valid() bool {
	return s == SportNBA || s == SportNFL
}

type TxType string

const (
	TxBuy     TxType = "buy"
	TxSell    TxType = "sell"
	TxSwap    TxType = "swap"
	TxStake   TxType = "stake"
	TxUnstake TxType = "unstake"
)

type User struct {
	ID           int64           `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	Balance      decimal.Decimal `json:"balance"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type Player struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Team            string          `json:"team"`
	Position        string          `json:"position"`
	Sport           Sport           `json:"sport"`
	TokenPrice      decimal.Decimal `json:"tokenPrice"`
	PriceChange24h  decimal.Decimal `json:"priceChange24h"`
	TotalSupply     int64           `json:"totalSupply"`
	AvailableSupply int64           `json:"availableSupply"`
	ImageURL        string          `json:"imageUrl,omitempty"`
}

type TokenHolding struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"userId"`
	PlayerID      int64           `json:"playerId"`
	Amount        int64           `json:"amount"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"`
	IsStaked      bool            `json:"isStaked"`
	StakingPlan   *string         `json:"stakingPlan"`
	StakingStart  *time.Time      `json:"stakingStart"`
	StakingEnd    *time.Time      `json:"stakingEnd"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type Transaction struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"userId"`
	PlayerID     int64           `json:"playerId"`
	Type         TxType          `json:"type"`
	Amount       int64           `json:"amount"`
	Price        decimal.Decimal `json:"price"`
	FromPlayerID *int64          `json:"fromPlayerId,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

type PortfolioHistory struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"userId"`
	TotalValue decimal.Decimal `json:"totalValue"`
	Timestamp  time.Time       `json:"timestamp"`
}

type StakingPlan struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	APY            decimal.Decimal `json:"apy"`
	LockPeriodDays int             `json:"lockPeriodDays"`
	MinTokens      int64           `json:"minTokens"`
}

type Achievement struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Icon             string          `json:"icon"`
	Requirement      string          `json:"requirement"`
	RequirementValue int64           `json:"requirementValue"`
	RewardAmount     decimal.Decimal `json:"rewardAmount"`
}

type UserAchievement struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"userId"`
	AchievementID int64      `json:"achievementId"`
	Progress      int64      `json:"progress"`
	Completed     bool       `json:"completed"`
	CompletedAt   *time.Time `json:"completedAt"`
}

// Patch types carry only the fields an update touches; nil means unchanged.

type UserPatch struct {
	Balance *decimal.Decimal
}

type PlayerPatch struct {
	TokenPrice      *decimal.Decimal
	PriceChange24h  *decimal.Decimal
	AvailableSupply *int64
}

// StakeState sets the staking fields of a holding together.
type StakeState struct {
	Plan  string
	Start time.Time
	End   time.Time
}

type HoldingPatch struct {
	Amount        *int64
	PurchasePrice *decimal.Decimal
	Stake         *StakeState
	Unstake       bool
}

type UserAchievementPatch struct {
	Progress    *int64
	Completed   *bool
	CompletedAt *time.Time
}

func (h *TokenHolding) apply(p HoldingPatch) {
	if p.Amount != nil {
		h.Amount = *p.Amount
	}
	if p.PurchasePrice != nil {
		h.PurchasePrice = *p.PurchasePrice
	}
	if p.Stake != nil {
		plan := p.Stake.Plan
		start, end := p.Stake.Start, p.Stake.End
		h.IsStaked = true
		h.StakingPlan = &plan
		h.StakingStart = &start
		h.StakingEnd = &end
	}
	if p.Unstake {
		h.IsStaked = false
		h.StakingPlan = nil
		h.StakingStart = nil
		h.StakingEnd = nil
	}
}

func (u *User) apply(p UserPatch) {
	if p.Balance != nil {
		u.Balance = *p.Balance
	}
}

func (pl *Player) apply(p PlayerPatch) {
	if p.TokenPrice != nil {
		pl.TokenPrice = *p.TokenPrice
	}
	if p.PriceChange24h != nil {
		pl.PriceChange24h = *p.PriceChange24h
	}
	if p.AvailableSupply != nil {
		pl.AvailableSupply = *p.AvailableSupply
	}
}

func (ua *UserAchievement) apply(p UserAchievementPatch) {
	if p.Progress != nil {
		ua.Progress = *p.Progress
	}
	if p.Completed != nil {
		ua.Completed = *p.Completed
	}
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		ua.CompletedAt = &at
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// clone re-allocates pointer fields so the copy shares nothing with h.
func (h TokenHolding) clone() TokenHolding {
	h.StakingPlan = clonePtr(h.StakingPlan)
	h.StakingStart = clonePtr(h.StakingStart)
	h.StakingEnd = clonePtr(h.StakingEnd)
	return h
}

func (t Transaction) clone() Transaction {
	t.FromPlayerID = clonePtr(t.FromPlayerID)
	return t
}

func (ua UserAchievement) clone() UserAchievement {
	ua.CompletedAt = clonePtr(ua.CompletedAt)
	return ua
}
