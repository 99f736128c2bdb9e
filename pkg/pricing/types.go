package pricing

import (
	"errors"
	"math"
	"time"

	"github.com/loopcart/recur/pkg/plans"
	"github.com/loopcart/recur/pkg/subscriptions"
)

// BadRequest-class sentinel errors: the caller asked for something the
// subscription's current state or plan configuration does not allow.
var (
	ErrPriceLockDisabled    = errors.New("price lock is not enabled on this plan")
	ErrNotLocked            = errors.New("subscription price is not locked")
	ErrEarlyRenewalDisabled = errors.New("early renewal is not enabled on this plan")
	ErrSubscriptionInactive = errors.New("subscription is not active")
)

// IsBadRequest reports whether the error is a caller precondition failure
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrPriceLockDisabled) ||
		errors.Is(err, ErrNotLocked) ||
		errors.Is(err, ErrEarlyRenewalDisabled) ||
		errors.Is(err, ErrSubscriptionInactive)
}

// LoyaltyStatus reports the resolved loyalty tier plus the next threshold
// for UI progress display
type LoyaltyStatus struct {
	CyclesCompleted int      `json:"cycles_completed"`
	CurrentTier     *int     `json:"current_tier,omitempty"`
	DiscountPct     float64  `json:"discount_pct"`
	NextTierAfter   *int     `json:"next_tier_after,omitempty"`
	NextTierPct     *float64 `json:"next_tier_pct,omitempty"`
}

// PriceLine is one line of an effective-price breakdown; discounts carry
// negative amounts
type PriceLine struct {
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
}

// EffectivePrice is the composed price a subscriber owes on the next cycle
type EffectivePrice struct {
	BasePrice   float64     `json:"base_price"`
	FinalPrice  float64     `json:"final_price"`
	Currency    string      `json:"currency"`
	PriceLocked bool        `json:"price_locked"`
	Breakdown   []PriceLine `json:"breakdown"`
}

// PendingBenefitsResult pairs the unconsumed benefit stamps with the
// currently quoted effective price; the billing-cycle worker consumes the
// stamps at charge time, this engine only writes and exposes them.
type PendingBenefitsResult struct {
	SubscriptionID int64                          `json:"subscription_id"`
	Benefits       *subscriptions.PendingBenefits `json:"benefits"`
	EffectivePrice *EffectivePrice                `json:"effective_price"`
}

// PriceLockResult reports the state written by LockPrice
type PriceLockResult struct {
	SubscriptionID int64      `json:"subscription_id"`
	LockedAmount   float64    `json:"locked_amount"`
	Cycles         int        `json:"cycles,omitempty"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
}

// EarlyRenewalResult reports the credit and new period bounds of an early
// renewal
type EarlyRenewalResult struct {
	SubscriptionID int64     `json:"subscription_id"`
	Credit         float64   `json:"credit"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	CycleCount     int       `json:"cycle_count"`
}

// Round2 rounds a monetary amount to 2 decimal places
func Round2(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// ResolveLoyalty selects the highest tier whose threshold the completed
// cycle count has reached. Tiers must be sorted ascending by AfterRebills
// (enforced at plan write time).
func ResolveLoyalty(tiers []plans.LoyaltyTier, cycleCount int) *LoyaltyStatus {
	status := &LoyaltyStatus{CyclesCompleted: cycleCount}
	for i := len(tiers) - 1; i >= 0; i-- {
		if tiers[i].AfterRebills <= cycleCount {
			tier := i
			status.CurrentTier = &tier
			status.DiscountPct = tiers[i].DiscountPct
			break
		}
	}
	next := 0
	if status.CurrentTier != nil {
		next = *status.CurrentTier + 1
	}
	if next < len(tiers) {
		after := tiers[next].AfterRebills
		pct := tiers[next].DiscountPct
		status.NextTierAfter = &after
		status.NextTierPct = &pct
	}
	return status
}

// AddCycles advances a date by n billing cycles, applying the interval
// step one cycle at a time so calendar month-length irregularities come
// from the time package rather than an approximation.
func AddCycles(t time.Time, interval plans.BillingInterval, n int) time.Time {
	for i := 0; i < n; i++ {
		switch interval {
		case plans.IntervalDaily:
			t = t.AddDate(0, 0, 1)
		case plans.IntervalWeekly:
			t = t.AddDate(0, 0, 7)
		case plans.IntervalBiweekly:
			t = t.AddDate(0, 0, 14)
		case plans.IntervalQuarterly:
			t = t.AddDate(0, 3, 0)
		case plans.IntervalYearly:
			t = t.AddDate(1, 0, 0)
		default:
			t = t.AddDate(0, 1, 0)
		}
	}
	return t
}
