package subscriptions

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSubscriptionNotFound is returned when a subscription does not exist
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Columns is the canonical select list for subscriptions, shared by the
// pricing and retention engines so every query scans the same shape.
const Columns = `
	id, company_id, subscription_plan_id, plan_amount, currency,
	cycle_count, loyalty_tier, loyalty_discount_pct, loyalty_locked_at,
	price_locked, price_locked_amount, price_lock_cycles, price_locked_until,
	current_period_start, current_period_end, next_billing_date,
	status, paused_at, pause_resume_at, canceled_at, cancel_reason,
	metadata, created_at, updated_at`

// RowScanner is satisfied by *sql.Row and *sql.Rows
type RowScanner interface {
	Scan(dest ...interface{}) error
}

// Scan reads one subscription row in Columns order
func Scan(row RowScanner) (*Subscription, error) {
	sub := &Subscription{}
	var metadataJSON []byte
	var cancelReason sql.NullString
	err := row.Scan(
		&sub.ID, &sub.CompanyID, &sub.SubscriptionPlanID, &sub.PlanAmount, &sub.Currency,
		&sub.CycleCount, &sub.LoyaltyTier, &sub.LoyaltyDiscountPct, &sub.LoyaltyLockedAt,
		&sub.PriceLocked, &sub.PriceLockedAmount, &sub.PriceLockCycles, &sub.PriceLockedUntil,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.NextBillingDate,
		&sub.Status, &sub.PausedAt, &sub.PauseResumeAt, &sub.CanceledAt, &cancelReason,
		&metadataJSON, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.CancelReason = cancelReason.String
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &sub.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return sub, nil
}

// PostgresStore provides shared subscription reads for the API layer
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get retrieves a subscription by id
func (s *PostgresStore) Get(id int64) (*Subscription, error) {
	query := `SELECT` + Columns + ` FROM subscriptions WHERE id = $1`
	sub, err := Scan(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// PendingBenefits extracts the unconsumed benefit stamps from a
// subscription's metadata ledger
func (s *Subscription) PendingBenefits() *PendingBenefits {
	benefits := &PendingBenefits{}
	if s.Metadata == nil {
		return benefits
	}
	if raw, ok := s.Metadata[MetaRetentionDiscount]; ok {
		benefits.RetentionDiscount = decodeStamp[RetentionDiscount](raw)
	}
	if raw, ok := s.Metadata[MetaFreePeriods]; ok {
		benefits.FreePeriods = decodeStamp[FreePeriods](raw)
	}
	return benefits
}

// decodeStamp round-trips a metadata value through JSON into a typed stamp
func decodeStamp[T any](raw any) *T {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	stamp := new(T)
	if err := json.Unmarshal(data, stamp); err != nil {
		return nil
	}
	return stamp
}
