package pricing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loopcart/recur/pkg/events"
	"github.com/loopcart/recur/pkg/observability"
	"github.com/loopcart/recur/pkg/plans"
	"github.com/loopcart/recur/pkg/subscriptions"
)

// Service defines the interface for subscription pricing operations
type Service interface {
	GetLoyaltyStatus(subscriptionID int64) (*LoyaltyStatus, error)
	ProcessLoyaltyUpgrades(ctx context.Context) (int, error)

	LockPrice(subscriptionID int64, cycles *int) (*PriceLockResult, error)
	UnlockPrice(subscriptionID int64) error
	ProcessExpiredPriceLocks(ctx context.Context) (int, error)

	ProcessEarlyRenewal(subscriptionID int64, prorate *bool) (*EarlyRenewalResult, error)
	CalculateEffectivePrice(subscriptionID int64) (*EffectivePrice, error)
	GetPendingBenefits(subscriptionID int64) (*PendingBenefitsResult, error)
}

// PostgresService implements Service backed by PostgreSQL
type PostgresService struct {
	db     *sql.DB
	store  *subscriptions.PostgresStore
	sink   events.Sink
	logger *observability.Logger
	now    func() time.Time
}

// NewPostgresService creates a new PostgreSQL-backed pricing service
func NewPostgresService(db *sql.DB, sink events.Sink, logger *observability.Logger) *PostgresService {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &PostgresService{
		db:     db,
		store:  subscriptions.NewPostgresStore(db),
		sink:   sink,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// planConfig is the pricing-relevant slice of a subscription's plan
type planConfig struct {
	billingInterval     plans.BillingInterval
	loyaltyEnabled      bool
	loyaltyTiers        []plans.LoyaltyTier
	priceLockEnabled    bool
	priceLockCycles     int
	earlyRenewalEnabled bool
	earlyRenewalProrate bool
}

func (s *PostgresService) loadWithPlan(subscriptionID int64) (*subscriptions.Subscription, *planConfig, error) {
	sub, err := s.store.Get(subscriptionID)
	if err != nil {
		return nil, nil, err
	}
	if sub.SubscriptionPlanID == nil {
		return sub, nil, nil
	}

	var cfg planConfig
	var tiersJSON []byte
	err = s.db.QueryRow(`
		SELECT billing_interval, loyalty_enabled, loyalty_tiers,
		       price_lock_enabled, price_lock_cycles,
		       early_renewal_enabled, early_renewal_prorate
		FROM subscription_plans
		WHERE id = $1`,
		*sub.SubscriptionPlanID,
	).Scan(&cfg.billingInterval, &cfg.loyaltyEnabled, &tiersJSON,
		&cfg.priceLockEnabled, &cfg.priceLockCycles,
		&cfg.earlyRenewalEnabled, &cfg.earlyRenewalProrate)
	if err == sql.ErrNoRows {
		return sub, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load plan config: %w", err)
	}
	if len(tiersJSON) > 0 {
		if err := json.Unmarshal(tiersJSON, &cfg.loyaltyTiers); err != nil {
			return nil, nil, fmt.Errorf("failed to parse loyalty tiers: %w", err)
		}
	}
	return sub, &cfg, nil
}

// GetLoyaltyStatus resolves the loyalty tier a subscription has earned
func (s *PostgresService) GetLoyaltyStatus(subscriptionID int64) (*LoyaltyStatus, error) {
	sub, cfg, err := s.loadWithPlan(subscriptionID)
	if err != nil {
		return nil, err
	}
	if cfg == nil || !cfg.loyaltyEnabled {
		return &LoyaltyStatus{CyclesCompleted: sub.CycleCount}, nil
	}
	return ResolveLoyalty(cfg.loyaltyTiers, sub.CycleCount), nil
}

// ProcessLoyaltyUpgrades sweeps active subscriptions on loyalty-enabled
// plans and records any tier upgrades earned since the last sweep. Tier
// writes are guarded so a tier never moves downward, which also makes the
// sweep safe to re-run. Returns the number of subscriptions upgraded.
func (s *PostgresService) ProcessLoyaltyUpgrades(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.company_id, s.cycle_count, s.loyalty_tier, p.loyalty_tiers
		FROM subscriptions s
		JOIN subscription_plans p ON p.id = s.subscription_plan_id
		WHERE s.status = 'active' AND p.loyalty_enabled = true AND p.deleted_at IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to query loyalty candidates: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		id         int64
		companyID  int64
		cycleCount int
		tier       *int
		tiers      []plans.LoyaltyTier
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		var tiersJSON []byte
		if err := rows.Scan(&c.id, &c.companyID, &c.cycleCount, &c.tier, &tiersJSON); err != nil {
			return 0, fmt.Errorf("failed to scan loyalty candidate: %w", err)
		}
		if len(tiersJSON) > 0 {
			if err := json.Unmarshal(tiersJSON, &c.tiers); err != nil {
				s.logger.WithError(err).Warnf("skipping subscription %d: bad loyalty tiers", c.id)
				continue
			}
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate loyalty candidates: %w", err)
	}

	upgraded := 0
	for _, c := range candidates {
		status := ResolveLoyalty(c.tiers, c.cycleCount)
		if status.CurrentTier == nil {
			continue
		}
		newTier := *status.CurrentTier
		if c.tier != nil && *c.tier >= newTier {
			continue
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE subscriptions
			SET loyalty_tier = $1, loyalty_discount_pct = $2, loyalty_locked_at = NOW(), updated_at = NOW()
			WHERE id = $3 AND (loyalty_tier IS NULL OR loyalty_tier < $1)`,
			newTier, status.DiscountPct, c.id)
		if err != nil {
			s.logger.WithError(err).Errorf("failed to upgrade loyalty tier for subscription %d", c.id)
			continue
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			continue
		}
		upgraded++
		s.sink.Emit(ctx, events.EventLoyaltyUpgraded, map[string]any{
			"subscription_id": c.id,
			"company_id":      c.companyID,
			"tier":            newTier,
			"discount_pct":    status.DiscountPct,
		})
	}
	return upgraded, nil
}

// LockPrice freezes the subscription's current amount against future plan
// price increases. When cycles is nil the lock has no expiry.
func (s *PostgresService) LockPrice(subscriptionID int64, cycles *int) (*PriceLockResult, error) {
	sub, cfg, err := s.loadWithPlan(subscriptionID)
	if err != nil {
		return nil, err
	}
	if cfg == nil || !cfg.priceLockEnabled {
		return nil, ErrPriceLockDisabled
	}
	if sub.Status != subscriptions.StatusActive {
		return nil, ErrSubscriptionInactive
	}

	result := &PriceLockResult{
		SubscriptionID: subscriptionID,
		LockedAmount:   sub.PlanAmount,
	}
	var until *time.Time
	lockCycles := 0
	if cycles != nil {
		lockCycles = *cycles
		t := AddCycles(s.now(), cfg.billingInterval, lockCycles)
		until = &t
	}
	result.Cycles = lockCycles
	result.LockedUntil = until

	_, err = s.db.Exec(`
		UPDATE subscriptions
		SET price_locked = true, price_locked_amount = $1, price_lock_cycles = $2,
		    price_locked_until = $3, updated_at = NOW()
		WHERE id = $4`,
		result.LockedAmount, lockCycles, until, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock price: %w", err)
	}

	s.sink.Emit(context.Background(), events.EventPriceLocked, map[string]any{
		"subscription_id": subscriptionID,
		"locked_amount":   result.LockedAmount,
		"cycles":          lockCycles,
	})
	return result, nil
}

// UnlockPrice removes an existing price lock
func (s *PostgresService) UnlockPrice(subscriptionID int64) error {
	sub, err := s.store.Get(subscriptionID)
	if err != nil {
		return err
	}
	if !sub.PriceLocked {
		return ErrNotLocked
	}
	_, err = s.db.Exec(`
		UPDATE subscriptions
		SET price_locked = false, price_locked_amount = 0, price_lock_cycles = 0,
		    price_locked_until = NULL, updated_at = NOW()
		WHERE id = $1`,
		subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to unlock price: %w", err)
	}
	return nil
}

// ProcessExpiredPriceLocks clears locks whose expiry has passed and
// returns how many were cleared. Indefinite locks are never touched.
func (s *PostgresService) ProcessExpiredPriceLocks(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE subscriptions
		SET price_locked = false, price_locked_amount = 0, price_lock_cycles = 0,
		    price_locked_until = NULL, updated_at = NOW()
		WHERE price_locked = true AND price_locked_until IS NOT NULL AND price_locked_until <= NOW()
		RETURNING id, company_id`)
	if err != nil {
		return 0, fmt.Errorf("failed to expire price locks: %w", err)
	}
	defer rows.Close()

	expired := 0
	for rows.Next() {
		var id, companyID int64
		if err := rows.Scan(&id, &companyID); err != nil {
			return expired, fmt.Errorf("failed to scan expired lock: %w", err)
		}
		expired++
		s.sink.Emit(ctx, events.EventPriceLockExpired, map[string]any{
			"subscription_id": id,
			"company_id":      companyID,
		})
	}
	return expired, rows.Err()
}

// ProcessEarlyRenewal starts a fresh billing period now, crediting the
// unused remainder of the current period when proration applies. The
// prorate argument overrides the plan default when non-nil.
func (s *PostgresService) ProcessEarlyRenewal(subscriptionID int64, prorate *bool) (*EarlyRenewalResult, error) {
	sub, cfg, err := s.loadWithPlan(subscriptionID)
	if err != nil {
		return nil, err
	}
	if cfg == nil || !cfg.earlyRenewalEnabled {
		return nil, ErrEarlyRenewalDisabled
	}
	if sub.Status != subscriptions.StatusActive {
		return nil, ErrSubscriptionInactive
	}
	if sub.CurrentPeriodStart == nil || sub.CurrentPeriodEnd == nil {
		return nil, fmt.Errorf("subscription %d has no current billing period", subscriptionID)
	}

	now := s.now()
	doProrate := cfg.earlyRenewalProrate
	if prorate != nil {
		doProrate = *prorate
	}

	credit := 0.0
	if doProrate {
		totalDays := sub.CurrentPeriodEnd.Sub(*sub.CurrentPeriodStart).Hours() / 24
		remainingDays := sub.CurrentPeriodEnd.Sub(now).Hours() / 24
		if remainingDays < 0 {
			remainingDays = 0
		}
		if totalDays > 0 {
			credit = Round2(sub.PlanAmount / totalDays * remainingDays)
		}
	}

	periodEnd := AddCycles(now, cfg.billingInterval, 1)

	metadata := sub.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata[subscriptions.MetaEarlyRenewal] = map[string]any{
		"previousPeriodEnd": sub.CurrentPeriodEnd.Format(time.RFC3339),
		"credit":            credit,
		"renewedAt":         now.Format(time.RFC3339),
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE subscriptions
		SET current_period_start = $1, current_period_end = $2, next_billing_date = $2,
		    cycle_count = cycle_count + 1, metadata = $3, updated_at = NOW()
		WHERE id = $4`,
		now, periodEnd, metadataJSON, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to renew subscription: %w", err)
	}

	s.sink.Emit(context.Background(), events.EventEarlyRenewal, map[string]any{
		"subscription_id": subscriptionID,
		"company_id":      sub.CompanyID,
		"credit":          credit,
		"period_end":      periodEnd.Format(time.RFC3339),
	})

	return &EarlyRenewalResult{
		SubscriptionID: subscriptionID,
		Credit:         credit,
		PeriodStart:    now,
		PeriodEnd:      periodEnd,
		CycleCount:     sub.CycleCount + 1,
	}, nil
}

// CalculateEffectivePrice composes the amount the subscriber owes on the
// next cycle along with a line-item breakdown. A price lock pins the base
// amount; the loyalty discount applies on top of whichever base holds.
func (s *PostgresService) CalculateEffectivePrice(subscriptionID int64) (*EffectivePrice, error) {
	sub, err := s.store.Get(subscriptionID)
	if err != nil {
		return nil, err
	}
	return effectivePriceFor(sub), nil
}

// GetPendingBenefits reports the unconsumed benefit stamps awaiting the next
// charge alongside the currently quoted price, so the billing collaborator
// reads one contract instead of re-deriving discount intent. The stamps are
// not folded into the quote; the collaborator applies them at charge time.
func (s *PostgresService) GetPendingBenefits(subscriptionID int64) (*PendingBenefitsResult, error) {
	sub, err := s.store.Get(subscriptionID)
	if err != nil {
		return nil, err
	}
	return &PendingBenefitsResult{
		SubscriptionID: sub.ID,
		Benefits:       sub.PendingBenefits(),
		EffectivePrice: effectivePriceFor(sub),
	}, nil
}

func effectivePriceFor(sub *subscriptions.Subscription) *EffectivePrice {
	base := sub.PlanAmount
	baseLabel := "Base price"
	if sub.PriceLocked {
		base = sub.PriceLockedAmount
		baseLabel = "Base price (locked)"
	}

	price := &EffectivePrice{
		BasePrice:   base,
		Currency:    sub.Currency,
		PriceLocked: sub.PriceLocked,
		Breakdown:   []PriceLine{{Label: baseLabel, Amount: base}},
	}

	final := base
	if sub.LoyaltyDiscountPct > 0 {
		discount := Round2(base * sub.LoyaltyDiscountPct / 100)
		final -= discount
		price.Breakdown = append(price.Breakdown, PriceLine{
			Label:  fmt.Sprintf("Loyalty discount (%g%%)", sub.LoyaltyDiscountPct),
			Amount: -discount,
		})
	}
	// Coupon validation lives in an external collaborator and the coupon
	// amount is fixed at zero, so no coupon line appears: only nonzero
	// discounts produce breakdown lines. Pending retention stamps are
	// consumed at charge time and never pre-applied to the quoted price.
	if final < 0 {
		final = 0
	}
	price.FinalPrice = Round2(final)
	return price
}
