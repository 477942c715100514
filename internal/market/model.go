package market

import (
	"errors"
	"fmt"
	"strings"

	"playtokens/internal/store"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation = errors.New("invalid input")

	ErrUserNotFound        = errors.New("user not found")
	ErrPlayerNotFound      = errors.New("player not found")
	ErrHoldingNotFound     = errors.New("holding not found")
	ErrPlanNotFound        = errors.New("staking plan not found")
	ErrAchievementNotFound = errors.New("achievement not found")

	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientTokens  = errors.New("insufficient tokens")
	ErrHoldingStaked       = errors.New("tokens are staked")
	ErrAlreadyStaked       = errors.New("holding is already staked")
	ErrNotStaked           = errors.New("holding is not staked")
	ErrLockPeriodActive    = errors.New("staking lock period has not ended")
	ErrBelowPlanMinimum    = errors.New("amount below staking plan minimum")
	ErrSwapTooSmall        = errors.New("swap amount too small")
	ErrUsernameTaken       = errors.New("username already taken")
)

var notFoundErrs = []error{
	ErrUserNotFound, ErrPlayerNotFound, ErrHoldingNotFound, ErrPlanNotFound, ErrAchievementNotFound, store.ErrNotFound,
}

var businessRuleErrs = []error{
	ErrInsufficientBalance, ErrInsufficientTokens, ErrHoldingStaked, ErrAlreadyStaked, ErrNotStaked,
	ErrLockPeriodActive, ErrBelowPlanMinimum, ErrSwapTooSmall, ErrUsernameTaken,
}

func IsNotFound(err error) bool {
	return isAny(err, notFoundErrs)
}

func IsBusinessRule(err error) bool {
	return isAny(err, businessRuleErrs)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ParseSport accepts an empty string (no filter) or a sport code in any case.
func ParseSport(raw string) (store.Sport, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return "", nil
	}
	sport := store.Sport(raw)
	if !sport.Valid() {
		return "", invalid("sport must be NBA or NFL")
	}
	return sport, nil
}

// SwapAmount converts amount tokens at fromPrice into whole tokens at toPrice,
// rounding down.
func SwapAmount(amount int64, fromPrice, toPrice decimal.Decimal) (int64, error) {
	if !toPrice.IsPositive() {
		return 0, invalid("destination price must be positive")
	}
	value := decimal.NewFromInt(amount).Mul(fromPrice)
	return value.Div(toPrice).Floor().IntPart(), nil
}

// Notional is amount × price rounded to cents.
func Notional(amount int64, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(amount)).Round(2)
}

var daysPerYear = decimal.NewFromInt(365)

// EstimatedYield is the simple-interest reward of a full lock period.
func EstimatedYield(amount int64, price, apy decimal.Decimal, lockDays int) decimal.Decimal {
	return Notional(amount, price).
		Mul(apy).Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromInt(int64(lockDays))).Div(daysPerYear).
		Round(2)
}
