package plans

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/loopcart/recur/pkg/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockResolver is a mock implementation of tenancy.Resolver
type mockResolver struct {
	resolveFunc func(companyID int64) (*tenancy.CompanyContext, error)
}

func (m *mockResolver) ResolveCompany(companyID int64) (*tenancy.CompanyContext, error) {
	if m.resolveFunc != nil {
		return m.resolveFunc(companyID)
	}
	return &tenancy.CompanyContext{CompanyID: companyID, ClientID: 20, OrganizationID: 30}, nil
}

var planTestColumns = []string{
	"id", "scope", "organization_id", "client_id", "company_id",
	"name", "display_name", "description",
	"base_price_monthly", "base_price_annual", "annual_discount_pct", "currency",
	"billing_interval", "trial_days", "shipment_aligned",
	"max_pauses_per_year", "max_skips_per_year", "min_quantity", "max_quantity",
	"loyalty_enabled", "loyalty_tiers",
	"price_lock_enabled", "price_lock_cycles",
	"early_renewal_enabled", "early_renewal_prorate",
	"downsell_plan_id", "winback_enabled", "winback_discount_pct",
	"status", "sort_order", "product_plans_count",
	"published_at", "archived_at", "deleted_at", "created_at", "updated_at",
}

type planRowOpts struct {
	name            string
	scope           PlanScope
	status          PlanStatus
	assignmentCount int
}

func planRow(id int64, o planRowOpts) *sqlmock.Rows {
	now := time.Now()
	name := o.name
	if name == "" {
		name = "premium-monthly"
	}
	scope := o.scope
	if scope == "" {
		scope = ScopeCompany
	}
	status := o.status
	if status == "" {
		status = PlanStatusDraft
	}
	var orgID, clientID, companyID interface{}
	switch scope {
	case ScopeOrganization:
		orgID = int64(30)
	case ScopeClient:
		clientID = int64(20)
	default:
		companyID = int64(10)
	}
	return sqlmock.NewRows(planTestColumns).AddRow(
		id, string(scope), orgID, clientID, companyID,
		name, "Premium Monthly", "",
		49.99, nil, 0.0, "USD",
		"monthly", 0, false,
		0, 0, 1, 10,
		false, nil,
		false, 0,
		false, false,
		nil, false, 0.0,
		string(status), 0, o.assignmentCount,
		nil, nil, nil, now, now,
	)
}

func int64Ptr(i int64) *int64 { return &i }

func TestCreatePlan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, &mockResolver{}, nil)

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("premium-monthly", string(ScopeCompany), int64(10), int64(0)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery("INSERT INTO subscription_plans").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(int64(1), time.Now(), time.Now()))

		plan, err := svc.Create(&CreatePlanRequest{
			Scope:            ScopeCompany,
			CompanyID:        int64Ptr(10),
			Name:             "premium-monthly",
			BasePriceMonthly: 49.99,
		})
		require.NoError(t, err)
		assert.Equal(t, PlanStatusDraft, plan.Status)
		assert.Equal(t, "USD", plan.Currency)
		assert.Equal(t, IntervalMonthly, plan.BillingInterval)
		assert.Equal(t, "premium-monthly", plan.DisplayName) // defaults to name
	})

	t.Run("duplicate name in scope", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := svc.Create(&CreatePlanRequest{
			Scope:            ScopeCompany,
			CompanyID:        int64Ptr(10),
			Name:             "premium-monthly",
			BasePriceMonthly: 49.99,
		})
		assert.True(t, IsConflict(err))
	})

	t.Run("scope and owner id must match", func(t *testing.T) {
		_, err := svc.Create(&CreatePlanRequest{
			Scope:     ScopeOrganization,
			CompanyID: int64Ptr(10),
			Name:      "mismatched",
		})
		assert.True(t, IsValidation(err))

		_, err = svc.Create(&CreatePlanRequest{
			Scope:          ScopeClient,
			ClientID:       int64Ptr(20),
			OrganizationID: int64Ptr(30),
			Name:           "two-owners",
		})
		assert.True(t, IsValidation(err))
	})

	t.Run("loyalty tiers must ascend with unique thresholds", func(t *testing.T) {
		_, err := svc.Create(&CreatePlanRequest{
			Scope:     ScopeCompany,
			CompanyID: int64Ptr(10),
			Name:      "bad-tiers",
			LoyaltyTiers: []LoyaltyTier{
				{AfterRebills: 6, DiscountPct: 10},
				{AfterRebills: 3, DiscountPct: 5},
			},
		})
		assert.True(t, IsValidation(err))

		_, err = svc.Create(&CreatePlanRequest{
			Scope:     ScopeCompany,
			CompanyID: int64Ptr(10),
			Name:      "dup-tiers",
			LoyaltyTiers: []LoyaltyTier{
				{AfterRebills: 3, DiscountPct: 5},
				{AfterRebills: 3, DiscountPct: 10},
			},
		})
		assert.True(t, IsValidation(err))
	})

	t.Run("negative base price", func(t *testing.T) {
		_, err := svc.Create(&CreatePlanRequest{
			Scope:            ScopeCompany,
			CompanyID:        int64Ptr(10),
			Name:             "negative",
			BasePriceMonthly: -1,
		})
		assert.True(t, IsValidation(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishPlan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, &mockResolver{}, nil)

	t.Run("draft becomes active", func(t *testing.T) {
		mock.ExpectExec("UPDATE subscription_plans").
			WithArgs(string(PlanStatusActive), int64(1), string(PlanStatusDraft)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
			WithArgs(int64(1)).
			WillReturnRows(planRow(1, planRowOpts{status: PlanStatusActive}))

		plan, err := svc.Publish(1)
		require.NoError(t, err)
		assert.Equal(t, PlanStatusActive, plan.Status)
	})

	t.Run("publishing a non-draft plan conflicts", func(t *testing.T) {
		mock.ExpectExec("UPDATE subscription_plans").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
			WithArgs(int64(1)).
			WillReturnRows(planRow(1, planRowOpts{status: PlanStatusActive}))

		_, err := svc.Publish(1)
		assert.True(t, IsConflict(err))
	})

	t.Run("publishing a missing plan", func(t *testing.T) {
		mock.ExpectExec("UPDATE subscription_plans").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows(planTestColumns))

		_, err := svc.Publish(99)
		assert.ErrorIs(t, err, ErrPlanNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchivePlan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, &mockResolver{}, nil)

	t.Run("active becomes archived", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
			WithArgs(int64(1)).
			WillReturnRows(planRow(1, planRowOpts{status: PlanStatusActive}))
		mock.ExpectExec("UPDATE subscription_plans").
			WithArgs(string(PlanStatusArchived), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
			WithArgs(int64(1)).
			WillReturnRows(planRow(1, planRowOpts{status: PlanStatusArchived}))

		plan, err := svc.Archive(1)
		require.NoError(t, err)
		assert.Equal(t, PlanStatusArchived, plan.Status)
	})

	t.Run("double archive conflicts", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
			WithArgs(int64(1)).
			WillReturnRows(planRow(1, planRowOpts{status: PlanStatusArchived}))

		_, err := svc.Archive(1)
		assert.True(t, IsConflict(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePlan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, &mockResolver{}, nil)

	t.Run("blocked by live assignments", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
			WithArgs(int64(1)).
			WillReturnRows(planRow(1, planRowOpts{assignmentCount: 2}))

		err := svc.Delete(1)
		assert.True(t, IsConflict(err))
	})

	t.Run("soft delete succeeds", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
			WithArgs(int64(1)).
			WillReturnRows(planRow(1, planRowOpts{}))
		mock.ExpectExec("UPDATE subscription_plans SET deleted_at").
			WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, svc.Delete(1))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDuplicatePlan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, &mockResolver{}, nil)

	mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
		WithArgs(int64(1)).
		WillReturnRows(planRow(1, planRowOpts{status: PlanStatusActive}))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO subscription_plans").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(2), time.Now(), time.Now()))

	dup, err := svc.Duplicate(1, "premium-monthly-v2")
	require.NoError(t, err)
	assert.Equal(t, "premium-monthly-v2", dup.Name)
	assert.Equal(t, "Premium Monthly (Copy)", dup.DisplayName)
	assert.Equal(t, PlanStatusDraft, dup.Status) // copies are fresh drafts
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePlan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, &mockResolver{}, nil)

	t.Run("clear flag nulls the annual price", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
			WithArgs(int64(1)).
			WillReturnRows(planRow(1, planRowOpts{}))
		mock.ExpectExec("UPDATE subscription_plans SET base_price_annual = NULL").
			WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
			WithArgs(int64(1)).
			WillReturnRows(planRow(1, planRowOpts{}))

		_, err := svc.Update(1, &UpdatePlanRequest{ClearBasePriceAnnual: true})
		require.NoError(t, err)
	})

	t.Run("rename into a taken name conflicts", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
			WithArgs(int64(1)).
			WillReturnRows(planRow(1, planRowOpts{}))
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		name := "taken"
		_, err := svc.Update(1, &UpdatePlanRequest{Name: &name})
		assert.True(t, IsConflict(err))
	})

	t.Run("empty update returns current row untouched", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
			WithArgs(int64(1)).
			WillReturnRows(planRow(1, planRowOpts{}))

		plan, err := svc.Update(1, &UpdatePlanRequest{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), plan.ID)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAvailableForCompany(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, &mockResolver{
		resolveFunc: func(companyID int64) (*tenancy.CompanyContext, error) {
			return &tenancy.CompanyContext{CompanyID: companyID, ClientID: 20, OrganizationID: 30}, nil
		},
	}, nil)

	rows := sqlmock.NewRows(planTestColumns)
	now := time.Now()
	rows.AddRow(int64(1), string(ScopeOrganization), int64(30), nil, nil,
		"org-wide", "Org Wide", "", 19.99, nil, 0.0, "USD", "monthly", 0, false,
		0, 0, 1, 10, false, nil, false, 0, false, false, nil, false, 0.0,
		string(PlanStatusActive), 0, 0, nil, nil, nil, now, now)
	rows.AddRow(int64(2), string(ScopeCompany), nil, nil, int64(10),
		"company-own", "Company Own", "", 49.99, nil, 0.0, "USD", "monthly", 0, false,
		0, 0, 1, 10, false, nil, false, 0, false, false, nil, false, 0.0,
		string(PlanStatusActive), 0, 0, nil, nil, nil, now, now)

	mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
		WithArgs(string(PlanStatusActive),
			string(ScopeOrganization), int64(30),
			string(ScopeClient), int64(20),
			string(ScopeCompany), int64(10)).
		WillReturnRows(rows)

	available, err := svc.FindAvailableForCompany(10)
	require.NoError(t, err)
	require.Len(t, available, 2)
	assert.Equal(t, ScopeOrganization, available[0].Scope)
	assert.Equal(t, ScopeCompany, available[1].Scope)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListForScope(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, &mockResolver{}, nil)

	t.Run("lists company plans", func(t *testing.T) {
		rows := sqlmock.NewRows(planTestColumns)
		now := time.Now()
		rows.AddRow(int64(2), string(ScopeCompany), nil, nil, int64(10),
			"starter", "Starter", "", 29.99, nil, 0.0, "USD", "monthly", 0, false,
			0, 0, 1, 10, false, nil, false, 0, false, false, nil, false, 0.0,
			string(PlanStatusActive), 0, 0, nil, nil, nil, now, now)
		rows.AddRow(int64(3), string(ScopeCompany), nil, nil, int64(10),
			"premium", "Premium", "", 49.99, nil, 0.0, "USD", "monthly", 0, false,
			0, 0, 1, 10, false, nil, false, 0, false, false, nil, false, 0.0,
			string(PlanStatusDraft), 1, 0, nil, nil, nil, now, now)

		mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
			WithArgs(string(ScopeCompany), int64(10)).
			WillReturnRows(rows)

		listed, err := svc.ListForScope(ScopeCompany, 10)
		require.NoError(t, err)
		require.Len(t, listed, 2)
		assert.Equal(t, "starter", listed[0].Name)
		assert.Equal(t, "premium", listed[1].Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown scope", func(t *testing.T) {
		_, err := svc.ListForScope(PlanScope("region"), 10)
		assert.True(t, IsValidation(err))
	})
}
