package subscriptions

import "time"

// Status represents the status of a subscription
type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPaused   Status = "paused"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Metadata keys written by the pricing and retention engines. The metadata
// column is an append-only ledger consumed by the billing-cycle worker.
const (
	MetaRetentionDiscount  = "retentionDiscount"
	MetaFreePeriods        = "freePeriods"
	MetaCancellationReason = "cancellationReason"
	MetaReactivatedAt      = "reactivatedAt"
	MetaEarlyRenewal       = "earlyRenewal"
)

// Subscription is the billing state of one subscriber. The subscription
// row is owned by the platform core; this engine reads it and mutates the
// loyalty, price-lock, period, and retention fields.
type Subscription struct {
	ID                 int64   `json:"id"`
	CompanyID          int64   `json:"company_id"`
	SubscriptionPlanID *int64  `json:"subscription_plan_id,omitempty"`
	PlanAmount         float64 `json:"plan_amount"`
	Currency           string  `json:"currency"`

	CycleCount         int        `json:"cycle_count"`
	LoyaltyTier        *int       `json:"loyalty_tier,omitempty"`
	LoyaltyDiscountPct float64    `json:"loyalty_discount_pct"`
	LoyaltyLockedAt    *time.Time `json:"loyalty_locked_at,omitempty"`

	PriceLocked       bool       `json:"price_locked"`
	PriceLockedAmount float64    `json:"price_locked_amount"`
	PriceLockCycles   int        `json:"price_lock_cycles"`
	PriceLockedUntil  *time.Time `json:"price_locked_until,omitempty"`

	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	NextBillingDate    *time.Time `json:"next_billing_date,omitempty"`

	Status        Status     `json:"status"`
	PausedAt      *time.Time `json:"paused_at,omitempty"`
	PauseResumeAt *time.Time `json:"pause_resume_at,omitempty"`
	CanceledAt    *time.Time `json:"canceled_at,omitempty"`
	CancelReason  string     `json:"cancel_reason,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RetentionDiscount is the pending discount stamp written when a discount
// offer is accepted; the billing worker applies it on the next charge.
type RetentionDiscount struct {
	Percentage     float64 `json:"percentage"`
	DurationCycles int     `json:"durationCycles,omitempty"`
	AppliedAt      string  `json:"appliedAt"`
	Reason         string  `json:"reason"`
}

// FreePeriods is the pending free-period stamp written when a free-period
// offer is accepted.
type FreePeriods struct {
	Remaining int    `json:"remaining"`
	AppliedAt string `json:"appliedAt"`
	Reason    string `json:"reason"`
}

// PendingBenefits is the read contract for the billing collaborator: the
// unconsumed benefit stamps currently on a subscription.
type PendingBenefits struct {
	RetentionDiscount *RetentionDiscount `json:"retention_discount,omitempty"`
	FreePeriods       *FreePeriods       `json:"free_periods,omitempty"`
}
