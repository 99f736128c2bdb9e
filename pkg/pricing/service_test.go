package pricing

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/loopcart/recur/pkg/observability"
	"github.com/loopcart/recur/pkg/plans"
	"github.com/loopcart/recur/pkg/subscriptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

var subscriptionColumns = []string{
	"id", "company_id", "subscription_plan_id", "plan_amount", "currency",
	"cycle_count", "loyalty_tier", "loyalty_discount_pct", "loyalty_locked_at",
	"price_locked", "price_locked_amount", "price_lock_cycles", "price_locked_until",
	"current_period_start", "current_period_end", "next_billing_date",
	"status", "paused_at", "pause_resume_at", "canceled_at", "cancel_reason",
	"metadata", "created_at", "updated_at",
}

type subRowOpts struct {
	planID            *int64
	planAmount        float64
	cycleCount        int
	loyaltyDiscount   float64
	priceLocked       bool
	priceLockedAmount float64
	status            subscriptions.Status
	periodStart       *time.Time
	periodEnd         *time.Time
	metadata          []byte
}

func subRow(id int64, o subRowOpts) *sqlmock.Rows {
	now := time.Now()
	status := o.status
	if status == "" {
		status = subscriptions.StatusActive
	}
	metadata := o.metadata
	if metadata == nil {
		metadata = []byte(`{}`)
	}
	return sqlmock.NewRows(subscriptionColumns).AddRow(
		id, int64(7), o.planID, o.planAmount, "USD",
		o.cycleCount, nil, o.loyaltyDiscount, nil,
		o.priceLocked, o.priceLockedAmount, 0, nil,
		o.periodStart, o.periodEnd, o.periodEnd,
		string(status), nil, nil, nil, nil,
		metadata, now, now,
	)
}

func TestResolveLoyalty(t *testing.T) {
	tiers := []plans.LoyaltyTier{
		{AfterRebills: 3, DiscountPct: 5},
		{AfterRebills: 6, DiscountPct: 10},
		{AfterRebills: 12, DiscountPct: 20},
	}

	tests := []struct {
		name          string
		cycleCount    int
		wantTier      *int
		wantPct       float64
		wantNextAfter *int
	}{
		{"below first threshold", 2, nil, 0, intPtr(3)},
		{"exactly at first threshold", 3, intPtr(0), 5, intPtr(6)},
		{"between tiers", 5, intPtr(0), 5, intPtr(6)},
		{"second tier", 6, intPtr(1), 10, intPtr(12)},
		{"top tier", 15, intPtr(2), 20, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := ResolveLoyalty(tiers, tt.cycleCount)
			assert.Equal(t, tt.cycleCount, status.CyclesCompleted)
			assert.Equal(t, tt.wantTier, status.CurrentTier)
			assert.Equal(t, tt.wantPct, status.DiscountPct)
			assert.Equal(t, tt.wantNextAfter, status.NextTierAfter)
		})
	}

	t.Run("no tiers configured", func(t *testing.T) {
		status := ResolveLoyalty(nil, 10)
		assert.Nil(t, status.CurrentTier)
		assert.Nil(t, status.NextTierAfter)
	})
}

func TestAddCycles(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		interval plans.BillingInterval
		n        int
		want     time.Time
	}{
		{"three monthly cycles", plans.IntervalMonthly, 3, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"one daily cycle", plans.IntervalDaily, 1, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"two weekly cycles", plans.IntervalWeekly, 2, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"one biweekly cycle", plans.IntervalBiweekly, 1, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"two quarterly cycles", plans.IntervalQuarterly, 2, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"one yearly cycle", plans.IntervalYearly, 1, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"zero cycles", plans.IntervalMonthly, 0, start},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddCycles(start, tt.interval, tt.n))
		})
	}
}

func TestCalculateEffectivePrice(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, nil, testLogger())

	t.Run("loyalty discount applied", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
			WithArgs(int64(1)).
			WillReturnRows(subRow(1, subRowOpts{planAmount: 50, loyaltyDiscount: 10}))

		price, err := svc.CalculateEffectivePrice(1)
		require.NoError(t, err)
		assert.Equal(t, 50.0, price.BasePrice)
		assert.Equal(t, 45.0, price.FinalPrice)
		require.Len(t, price.Breakdown, 2, "base line plus one line per nonzero discount")
		assert.Equal(t, 50.0, price.Breakdown[0].Amount)
		assert.Equal(t, -5.0, price.Breakdown[1].Amount)
	})

	t.Run("price lock wins over plan amount", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
			WithArgs(int64(2)).
			WillReturnRows(subRow(2, subRowOpts{planAmount: 60, priceLocked: true, priceLockedAmount: 40}))

		price, err := svc.CalculateEffectivePrice(2)
		require.NoError(t, err)
		assert.Equal(t, 40.0, price.BasePrice)
		assert.Equal(t, 40.0, price.FinalPrice)
		assert.True(t, price.PriceLocked)
		require.Len(t, price.Breakdown, 1)
	})

	t.Run("no discount means single line", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
			WithArgs(int64(3)).
			WillReturnRows(subRow(3, subRowOpts{planAmount: 29.99}))

		price, err := svc.CalculateEffectivePrice(3)
		require.NoError(t, err)
		assert.Equal(t, 29.99, price.FinalPrice)
		require.Len(t, price.Breakdown, 1)
	})

	t.Run("pending retention stamp does not change the quote", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
			WithArgs(int64(4)).
			WillReturnRows(subRow(4, subRowOpts{
				planAmount:      100,
				loyaltyDiscount: 10,
				metadata:        []byte(`{"retentionDiscount":{"percentage":20,"durationCycles":3,"reason":"too_expensive"}}`),
			}))

		price, err := svc.CalculateEffectivePrice(4)
		require.NoError(t, err)
		assert.Equal(t, 90.0, price.FinalPrice, "stamps are applied at charge time, not to the quote")
		require.Len(t, price.Breakdown, 2)
		assert.Equal(t, -10.0, price.Breakdown[1].Amount)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows(subscriptionColumns))

		_, err := svc.CalculateEffectivePrice(99)
		assert.ErrorIs(t, err, subscriptions.ErrSubscriptionNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPendingBenefits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, nil, testLogger())

	t.Run("stamps returned with effective price", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
			WithArgs(int64(1)).
			WillReturnRows(subRow(1, subRowOpts{
				planAmount: 50,
				metadata:   []byte(`{"retentionDiscount":{"percentage":20,"reason":"too_expensive"},"freePeriods":{"remaining":2,"reason":"early_renewal"}}`),
			}))

		result, err := svc.GetPendingBenefits(1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.SubscriptionID)
		require.NotNil(t, result.Benefits.RetentionDiscount)
		assert.Equal(t, 20.0, result.Benefits.RetentionDiscount.Percentage)
		require.NotNil(t, result.Benefits.FreePeriods)
		assert.Equal(t, 2, result.Benefits.FreePeriods.Remaining)
		assert.Equal(t, 50.0, result.EffectivePrice.FinalPrice, "quoted price excludes the pending stamps")
	})

	t.Run("no stamps", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
			WithArgs(int64(2)).
			WillReturnRows(subRow(2, subRowOpts{planAmount: 50}))

		result, err := svc.GetPendingBenefits(2)
		require.NoError(t, err)
		assert.Nil(t, result.Benefits.RetentionDiscount)
		assert.Nil(t, result.Benefits.FreePeriods)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockPrice(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, nil, testLogger())
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	planID := int64(5)

	t.Run("lock for three monthly cycles", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
			WithArgs(int64(1)).
			WillReturnRows(subRow(1, subRowOpts{planID: &planID, planAmount: 50}))
		mock.ExpectQuery("SELECT billing_interval, loyalty_enabled").
			WithArgs(planID).
			WillReturnRows(sqlmock.NewRows([]string{
				"billing_interval", "loyalty_enabled", "loyalty_tiers",
				"price_lock_enabled", "price_lock_cycles",
				"early_renewal_enabled", "early_renewal_prorate",
			}).AddRow("monthly", false, nil, true, 3, false, false))
		mock.ExpectExec("UPDATE subscriptions").
			WithArgs(50.0, 3, sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		cycles := 3
		result, err := svc.LockPrice(1, &cycles)
		require.NoError(t, err)
		assert.Equal(t, 50.0, result.LockedAmount)
		require.NotNil(t, result.LockedUntil)
		assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), *result.LockedUntil)
	})

	t.Run("indefinite lock when cycles omitted", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
			WithArgs(int64(1)).
			WillReturnRows(subRow(1, subRowOpts{planID: &planID, planAmount: 50}))
		mock.ExpectQuery("SELECT billing_interval, loyalty_enabled").
			WithArgs(planID).
			WillReturnRows(sqlmock.NewRows([]string{
				"billing_interval", "loyalty_enabled", "loyalty_tiers",
				"price_lock_enabled", "price_lock_cycles",
				"early_renewal_enabled", "early_renewal_prorate",
			}).AddRow("monthly", false, nil, true, 3, false, false))
		mock.ExpectExec("UPDATE subscriptions").
			WithArgs(50.0, 0, nil, int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := svc.LockPrice(1, nil)
		require.NoError(t, err)
		assert.Nil(t, result.LockedUntil)
		assert.Equal(t, 0, result.Cycles)
	})

	t.Run("plan does not allow locking", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
			WithArgs(int64(2)).
			WillReturnRows(subRow(2, subRowOpts{planID: &planID, planAmount: 50}))
		mock.ExpectQuery("SELECT billing_interval, loyalty_enabled").
			WithArgs(planID).
			WillReturnRows(sqlmock.NewRows([]string{
				"billing_interval", "loyalty_enabled", "loyalty_tiers",
				"price_lock_enabled", "price_lock_cycles",
				"early_renewal_enabled", "early_renewal_prorate",
			}).AddRow("monthly", false, nil, false, 0, false, false))

		_, err := svc.LockPrice(2, nil)
		assert.ErrorIs(t, err, ErrPriceLockDisabled)
	})

	t.Run("subscription without a plan", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
			WithArgs(int64(3)).
			WillReturnRows(subRow(3, subRowOpts{planAmount: 50}))

		_, err := svc.LockPrice(3, nil)
		assert.ErrorIs(t, err, ErrPriceLockDisabled)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlockPrice(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, nil, testLogger())

	t.Run("not locked", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
			WithArgs(int64(1)).
			WillReturnRows(subRow(1, subRowOpts{planAmount: 50}))

		err := svc.UnlockPrice(1)
		assert.ErrorIs(t, err, ErrNotLocked)
	})

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
			WithArgs(int64(2)).
			WillReturnRows(subRow(2, subRowOpts{planAmount: 50, priceLocked: true, priceLockedAmount: 45}))
		mock.ExpectExec("UPDATE subscriptions").
			WithArgs(int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, svc.UnlockPrice(2))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessExpiredPriceLocks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, nil, testLogger())

	mock.ExpectQuery("UPDATE subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id"}).
			AddRow(int64(10), int64(1)).
			AddRow(int64(11), int64(2)))

	expired, err := svc.ProcessExpiredPriceLocks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, expired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEarlyRenewal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, nil, testLogger())
	fixed := time.Date(2025, 1, 21, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	planID := int64(5)
	periodStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	planRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"billing_interval", "loyalty_enabled", "loyalty_tiers",
			"price_lock_enabled", "price_lock_cycles",
			"early_renewal_enabled", "early_renewal_prorate",
		}).AddRow("monthly", false, nil, false, 0, true, true)
	}

	t.Run("prorated credit for unused days", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
			WithArgs(int64(1)).
			WillReturnRows(subRow(1, subRowOpts{
				planID: &planID, planAmount: 30, cycleCount: 4,
				periodStart: &periodStart, periodEnd: &periodEnd,
			}))
		mock.ExpectQuery("SELECT billing_interval, loyalty_enabled").
			WithArgs(planID).
			WillReturnRows(planRows())
		mock.ExpectExec("UPDATE subscriptions").
			WithArgs(fixed, time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC), sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		// 30-day period at 30.00 with 10 days remaining credits 10.00
		result, err := svc.ProcessEarlyRenewal(1, nil)
		require.NoError(t, err)
		assert.Equal(t, 10.0, result.Credit)
		assert.Equal(t, fixed, result.PeriodStart)
		assert.Equal(t, 5, result.CycleCount)
	})

	t.Run("prorate override disables credit", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
			WithArgs(int64(1)).
			WillReturnRows(subRow(1, subRowOpts{
				planID: &planID, planAmount: 30,
				periodStart: &periodStart, periodEnd: &periodEnd,
			}))
		mock.ExpectQuery("SELECT billing_interval, loyalty_enabled").
			WithArgs(planID).
			WillReturnRows(planRows())
		mock.ExpectExec("UPDATE subscriptions").
			WillReturnResult(sqlmock.NewResult(0, 1))

		noProrate := false
		result, err := svc.ProcessEarlyRenewal(1, &noProrate)
		require.NoError(t, err)
		assert.Equal(t, 0.0, result.Credit)
	})

	t.Run("inactive subscription rejected", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
			WithArgs(int64(2)).
			WillReturnRows(subRow(2, subRowOpts{
				planID: &planID, planAmount: 30, status: subscriptions.StatusPaused,
				periodStart: &periodStart, periodEnd: &periodEnd,
			}))
		mock.ExpectQuery("SELECT billing_interval, loyalty_enabled").
			WithArgs(planID).
			WillReturnRows(planRows())

		_, err := svc.ProcessEarlyRenewal(2, nil)
		assert.ErrorIs(t, err, ErrSubscriptionInactive)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessLoyaltyUpgrades(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, nil, testLogger())
	tiersJSON := []byte(`[{"after_rebills":3,"discount_pct":5},{"after_rebills":6,"discount_pct":10}]`)

	mock.ExpectQuery("SELECT s.id, s.company_id, s.cycle_count").
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "cycle_count", "loyalty_tier", "loyalty_tiers"}).
			AddRow(int64(1), int64(7), 6, nil, tiersJSON). // earns tier 1
			AddRow(int64(2), int64(7), 2, nil, tiersJSON). // below first threshold
			AddRow(int64(3), int64(7), 7, 1, tiersJSON))   // already at tier 1

	mock.ExpectExec("UPDATE subscriptions").
		WithArgs(1, 10.0, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	upgraded, err := svc.ProcessLoyaltyUpgrades(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, upgraded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func intPtr(i int) *int { return &i }
