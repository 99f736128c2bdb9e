package plans

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loopcart/recur/pkg/events"
	"github.com/loopcart/recur/pkg/tenancy"
)

// planColumns is the canonical select list for subscription_plans, with the
// live assignment count computed inline.
const planColumns = `
	p.id, p.scope, p.organization_id, p.client_id, p.company_id,
	p.name, p.display_name, p.description,
	p.base_price_monthly, p.base_price_annual, p.annual_discount_pct, p.currency,
	p.billing_interval, p.trial_days, p.shipment_aligned,
	p.max_pauses_per_year, p.max_skips_per_year, p.min_quantity, p.max_quantity,
	p.loyalty_enabled, p.loyalty_tiers,
	p.price_lock_enabled, p.price_lock_cycles,
	p.early_renewal_enabled, p.early_renewal_prorate,
	p.downsell_plan_id, p.winback_enabled, p.winback_discount_pct,
	p.status, p.sort_order,
	(SELECT COUNT(*) FROM product_subscription_plans pp WHERE pp.plan_id = p.id),
	p.published_at, p.archived_at, p.deleted_at, p.created_at, p.updated_at`

// PostgresService implements the plans Service interface using PostgreSQL
type PostgresService struct {
	db       *sql.DB
	resolver tenancy.Resolver
	sink     events.Sink
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, resolver tenancy.Resolver, sink events.Sink) *PostgresService {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &PostgresService{db: db, resolver: resolver, sink: sink}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row rowScanner) (*SubscriptionPlan, error) {
	plan := &SubscriptionPlan{}
	var tiersJSON []byte
	err := row.Scan(
		&plan.ID, &plan.Scope, &plan.OrganizationID, &plan.ClientID, &plan.CompanyID,
		&plan.Name, &plan.DisplayName, &plan.Description,
		&plan.BasePriceMonthly, &plan.BasePriceAnnual, &plan.AnnualDiscountPct, &plan.Currency,
		&plan.BillingInterval, &plan.TrialDays, &plan.ShipmentAligned,
		&plan.MaxPausesPerYear, &plan.MaxSkipsPerYear, &plan.MinQuantity, &plan.MaxQuantity,
		&plan.LoyaltyEnabled, &tiersJSON,
		&plan.PriceLockEnabled, &plan.PriceLockCycles,
		&plan.EarlyRenewalEnabled, &plan.EarlyRenewalProrate,
		&plan.DownsellPlanID, &plan.WinbackEnabled, &plan.WinbackDiscountPct,
		&plan.Status, &plan.SortOrder,
		&plan.ProductPlansCount,
		&plan.PublishedAt, &plan.ArchivedAt, &plan.DeletedAt, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(tiersJSON) > 0 {
		if err := json.Unmarshal(tiersJSON, &plan.LoyaltyTiers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal loyalty tiers: %w", err)
		}
	}
	return plan, nil
}

// validateScopeRef checks that exactly one owner id is set and matches the
// declared scope
func validateScopeRef(scope PlanScope, orgID, clientID, companyID *int64) error {
	set := 0
	for _, id := range []*int64{orgID, clientID, companyID} {
		if id != nil {
			set++
		}
	}
	if set != 1 {
		return &ValidationError{Reason: "exactly one scope owner id must be set"}
	}
	switch scope {
	case ScopeOrganization:
		if orgID == nil {
			return &ValidationError{Reason: "organization scope requires organization_id"}
		}
	case ScopeClient:
		if clientID == nil {
			return &ValidationError{Reason: "client scope requires client_id"}
		}
	case ScopeCompany:
		if companyID == nil {
			return &ValidationError{Reason: "company scope requires company_id"}
		}
	default:
		return &ValidationError{Reason: fmt.Sprintf("invalid plan scope: %s", scope)}
	}
	return nil
}

// validateLoyaltyTiers requires strictly ascending thresholds
func validateLoyaltyTiers(tiers []LoyaltyTier) error {
	for i, tier := range tiers {
		if tier.AfterRebills < 0 {
			return &ValidationError{Reason: "loyalty tier threshold must be non-negative"}
		}
		if tier.DiscountPct < 0 || tier.DiscountPct > 100 {
			return &ValidationError{Reason: "loyalty tier discount must be between 0 and 100"}
		}
		if i > 0 && tier.AfterRebills <= tiers[i-1].AfterRebills {
			return &ValidationError{Reason: "loyalty tiers must be ascending with unique thresholds"}
		}
	}
	return nil
}

// scopeOwner returns the owning column and id for a plan's scope
func scopeOwner(scope PlanScope, orgID, clientID, companyID *int64) (string, int64) {
	switch scope {
	case ScopeOrganization:
		return "organization_id", *orgID
	case ScopeClient:
		return "client_id", *clientID
	default:
		return "company_id", *companyID
	}
}

// nameTaken checks per-scope name uniqueness among non-deleted plans,
// optionally excluding one plan id
func (s *PostgresService) nameTaken(name string, scope PlanScope, ownerCol string, ownerID int64, excludeID int64) (bool, error) {
	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM subscription_plans p
			WHERE p.name = $1 AND p.scope = $2 AND p.%s = $3
			  AND p.deleted_at IS NULL AND p.id != $4
		)`, ownerCol)
	var taken bool
	if err := s.db.QueryRow(query, name, scope, ownerID, excludeID).Scan(&taken); err != nil {
		return false, fmt.Errorf("failed to check plan name uniqueness: %w", err)
	}
	return taken, nil
}

// Create validates and persists a new DRAFT plan template
func (s *PostgresService) Create(req *CreatePlanRequest) (*SubscriptionPlan, error) {
	if req.Name == "" {
		return nil, &ValidationError{Reason: "plan name is required"}
	}
	if req.BasePriceMonthly < 0 {
		return nil, &ValidationError{Reason: "base price must be non-negative"}
	}
	if err := validateScopeRef(req.Scope, req.OrganizationID, req.ClientID, req.CompanyID); err != nil {
		return nil, err
	}
	if err := validateLoyaltyTiers(req.LoyaltyTiers); err != nil {
		return nil, err
	}

	ownerCol, ownerID := scopeOwner(req.Scope, req.OrganizationID, req.ClientID, req.CompanyID)
	taken, err := s.nameTaken(req.Name, req.Scope, ownerCol, ownerID, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, &ConflictError{Reason: fmt.Sprintf("plan named %q already exists in this scope", req.Name)}
	}

	tiersJSON, err := json.Marshal(req.LoyaltyTiers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal loyalty tiers: %w", err)
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Name
	}

	query := `
		INSERT INTO subscription_plans (
			scope, organization_id, client_id, company_id,
			name, display_name, description,
			base_price_monthly, base_price_annual, annual_discount_pct, currency,
			billing_interval, trial_days, shipment_aligned,
			max_pauses_per_year, max_skips_per_year, min_quantity, max_quantity,
			loyalty_enabled, loyalty_tiers,
			price_lock_enabled, price_lock_cycles,
			early_renewal_enabled, early_renewal_prorate,
			downsell_plan_id, winback_enabled, winback_discount_pct,
			status, sort_order
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)
		RETURNING id, created_at, updated_at
	`
	plan := &SubscriptionPlan{
		Scope:               req.Scope,
		OrganizationID:      req.OrganizationID,
		ClientID:            req.ClientID,
		CompanyID:           req.CompanyID,
		Name:                req.Name,
		DisplayName:         displayName,
		Description:         req.Description,
		BasePriceMonthly:    req.BasePriceMonthly,
		BasePriceAnnual:     req.BasePriceAnnual,
		AnnualDiscountPct:   req.AnnualDiscountPct,
		Currency:            req.Currency,
		BillingInterval:     req.BillingInterval,
		TrialDays:           req.TrialDays,
		ShipmentAligned:     req.ShipmentAligned,
		MaxPausesPerYear:    req.MaxPausesPerYear,
		MaxSkipsPerYear:     req.MaxSkipsPerYear,
		MinQuantity:         req.MinQuantity,
		MaxQuantity:         req.MaxQuantity,
		LoyaltyEnabled:      req.LoyaltyEnabled,
		LoyaltyTiers:        req.LoyaltyTiers,
		PriceLockEnabled:    req.PriceLockEnabled,
		PriceLockCycles:     req.PriceLockCycles,
		EarlyRenewalEnabled: req.EarlyRenewalEnabled,
		EarlyRenewalProrate: req.EarlyRenewalProrate,
		DownsellPlanID:      req.DownsellPlanID,
		WinbackEnabled:      req.WinbackEnabled,
		WinbackDiscountPct:  req.WinbackDiscountPct,
		Status:              PlanStatusDraft,
		SortOrder:           req.SortOrder,
	}
	if plan.Currency == "" {
		plan.Currency = "USD"
	}
	if plan.BillingInterval == "" {
		plan.BillingInterval = IntervalMonthly
	}

	err = s.db.QueryRow(query,
		plan.Scope, plan.OrganizationID, plan.ClientID, plan.CompanyID,
		plan.Name, plan.DisplayName, plan.Description,
		plan.BasePriceMonthly, plan.BasePriceAnnual, plan.AnnualDiscountPct, plan.Currency,
		plan.BillingInterval, plan.TrialDays, plan.ShipmentAligned,
		plan.MaxPausesPerYear, plan.MaxSkipsPerYear, plan.MinQuantity, plan.MaxQuantity,
		plan.LoyaltyEnabled, tiersJSON,
		plan.PriceLockEnabled, plan.PriceLockCycles,
		plan.EarlyRenewalEnabled, plan.EarlyRenewalProrate,
		plan.DownsellPlanID, plan.WinbackEnabled, plan.WinbackDiscountPct,
		PlanStatusDraft, plan.SortOrder,
	).Scan(&plan.ID, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}

	return plan, nil
}

// Get retrieves a non-deleted plan by id
func (s *PostgresService) Get(id int64) (*SubscriptionPlan, error) {
	query := `SELECT` + planColumns + `
		FROM subscription_plans p
		WHERE p.id = $1 AND p.deleted_at IS NULL`
	plan, err := scanPlan(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return plan, nil
}

// ListForScope lists non-deleted plans owned by a single scope row,
// ordered by sort order
func (s *PostgresService) ListForScope(scope PlanScope, ownerID int64) ([]*SubscriptionPlan, error) {
	var ownerCol string
	switch scope {
	case ScopeOrganization:
		ownerCol = "organization_id"
	case ScopeClient:
		ownerCol = "client_id"
	case ScopeCompany:
		ownerCol = "company_id"
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown plan scope %q", scope)}
	}

	query := fmt.Sprintf(`SELECT`+planColumns+`
		FROM subscription_plans p
		WHERE p.scope = $1 AND p.%s = $2 AND p.deleted_at IS NULL
		ORDER BY p.sort_order, p.id`, ownerCol)
	rows, err := s.db.Query(query, scope, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var listed []*SubscriptionPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		listed = append(listed, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}
	return listed, nil
}

// Update applies a partial update; only explicitly provided fields are
// written
func (s *PostgresService) Update(id int64, req *UpdatePlanRequest) (*SubscriptionPlan, error) {
	current, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil && *req.Name != current.Name {
		ownerCol, ownerID := scopeOwner(current.Scope, current.OrganizationID, current.ClientID, current.CompanyID)
		taken, err := s.nameTaken(*req.Name, current.Scope, ownerCol, ownerID, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, &ConflictError{Reason: fmt.Sprintf("plan named %q already exists in this scope", *req.Name)}
		}
	}
	if req.LoyaltyTiers != nil {
		if err := validateLoyaltyTiers(*req.LoyaltyTiers); err != nil {
			return nil, err
		}
	}
	if req.BasePriceMonthly != nil && *req.BasePriceMonthly < 0 {
		return nil, &ValidationError{Reason: "base price must be non-negative"}
	}

	sets := []string{}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.Name != nil {
		add("name", *req.Name)
	}
	if req.DisplayName != nil {
		add("display_name", *req.DisplayName)
	}
	if req.Description != nil {
		add("description", *req.Description)
	}
	if req.BasePriceMonthly != nil {
		add("base_price_monthly", *req.BasePriceMonthly)
	}
	if req.ClearBasePriceAnnual {
		sets = append(sets, "base_price_annual = NULL")
	} else if req.BasePriceAnnual != nil {
		add("base_price_annual", *req.BasePriceAnnual)
	}
	if req.AnnualDiscountPct != nil {
		add("annual_discount_pct", *req.AnnualDiscountPct)
	}
	if req.Currency != nil {
		add("currency", *req.Currency)
	}
	if req.BillingInterval != nil {
		add("billing_interval", *req.BillingInterval)
	}
	if req.TrialDays != nil {
		add("trial_days", *req.TrialDays)
	}
	if req.ShipmentAligned != nil {
		add("shipment_aligned", *req.ShipmentAligned)
	}
	if req.MaxPausesPerYear != nil {
		add("max_pauses_per_year", *req.MaxPausesPerYear)
	}
	if req.MaxSkipsPerYear != nil {
		add("max_skips_per_year", *req.MaxSkipsPerYear)
	}
	if req.MinQuantity != nil {
		add("min_quantity", *req.MinQuantity)
	}
	if req.MaxQuantity != nil {
		add("max_quantity", *req.MaxQuantity)
	}
	if req.LoyaltyEnabled != nil {
		add("loyalty_enabled", *req.LoyaltyEnabled)
	}
	if req.LoyaltyTiers != nil {
		tiersJSON, err := json.Marshal(*req.LoyaltyTiers)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal loyalty tiers: %w", err)
		}
		add("loyalty_tiers", tiersJSON)
	}
	if req.PriceLockEnabled != nil {
		add("price_lock_enabled", *req.PriceLockEnabled)
	}
	if req.PriceLockCycles != nil {
		add("price_lock_cycles", *req.PriceLockCycles)
	}
	if req.EarlyRenewalEnabled != nil {
		add("early_renewal_enabled", *req.EarlyRenewalEnabled)
	}
	if req.EarlyRenewalProrate != nil {
		add("early_renewal_prorate", *req.EarlyRenewalProrate)
	}
	if req.ClearDownsellPlan {
		sets = append(sets, "downsell_plan_id = NULL")
	} else if req.DownsellPlanID != nil {
		add("downsell_plan_id", *req.DownsellPlanID)
	}
	if req.WinbackEnabled != nil {
		add("winback_enabled", *req.WinbackEnabled)
	}
	if req.WinbackDiscountPct != nil {
		add("winback_discount_pct", *req.WinbackDiscountPct)
	}
	if req.SortOrder != nil {
		add("sort_order", *req.SortOrder)
	}

	if len(sets) == 0 {
		return current, nil
	}
	sets = append(sets, "updated_at = NOW()")

	args = append(args, id)
	query := fmt.Sprintf(
		"UPDATE subscription_plans SET %s WHERE id = $%d AND deleted_at IS NULL",
		strings.Join(sets, ", "), len(args))
	if _, err := s.db.Exec(query, args...); err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}

	return s.Get(id)
}

// Publish transitions a DRAFT plan to ACTIVE
func (s *PostgresService) Publish(id int64) (*SubscriptionPlan, error) {
	query := `
		UPDATE subscription_plans
		SET status = $1, published_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3 AND deleted_at IS NULL
	`
	result, err := s.db.Exec(query, PlanStatusActive, id, PlanStatusDraft)
	if err != nil {
		return nil, fmt.Errorf("failed to publish plan: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish absent from wrong-status.
		current, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		return nil, &ConflictError{Reason: fmt.Sprintf("plan is %s, only draft plans can be published", current.Status)}
	}

	plan, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	s.sink.Emit(context.Background(), events.EventPlanPublished, map[string]any{
		"plan_id": plan.ID,
		"name":    plan.Name,
		"scope":   string(plan.Scope),
	})
	return plan, nil
}

// Archive marks a plan ARCHIVED; archived plans stay readable but are
// never offered again
func (s *PostgresService) Archive(id int64) (*SubscriptionPlan, error) {
	current, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if current.Status == PlanStatusArchived {
		return nil, &ConflictError{Reason: "plan is already archived"}
	}

	query := `
		UPDATE subscription_plans
		SET status = $1, archived_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL
	`
	if _, err := s.db.Exec(query, PlanStatusArchived, id); err != nil {
		return nil, fmt.Errorf("failed to archive plan: %w", err)
	}

	plan, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	s.sink.Emit(context.Background(), events.EventPlanArchived, map[string]any{
		"plan_id": plan.ID,
		"name":    plan.Name,
	})
	return plan, nil
}

// Duplicate copies a plan into a fresh DRAFT under a new name
func (s *PostgresService) Duplicate(id int64, newName string) (*SubscriptionPlan, error) {
	if newName == "" {
		return nil, &ValidationError{Reason: "new plan name is required"}
	}
	src, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	req := &CreatePlanRequest{
		Scope:               src.Scope,
		OrganizationID:      src.OrganizationID,
		ClientID:            src.ClientID,
		CompanyID:           src.CompanyID,
		Name:                newName,
		DisplayName:         src.DisplayName + " (Copy)",
		Description:         src.Description,
		BasePriceMonthly:    src.BasePriceMonthly,
		BasePriceAnnual:     src.BasePriceAnnual,
		AnnualDiscountPct:   src.AnnualDiscountPct,
		Currency:            src.Currency,
		BillingInterval:     src.BillingInterval,
		TrialDays:           src.TrialDays,
		ShipmentAligned:     src.ShipmentAligned,
		MaxPausesPerYear:    src.MaxPausesPerYear,
		MaxSkipsPerYear:     src.MaxSkipsPerYear,
		MinQuantity:         src.MinQuantity,
		MaxQuantity:         src.MaxQuantity,
		LoyaltyEnabled:      src.LoyaltyEnabled,
		LoyaltyTiers:        src.LoyaltyTiers,
		PriceLockEnabled:    src.PriceLockEnabled,
		PriceLockCycles:     src.PriceLockCycles,
		EarlyRenewalEnabled: src.EarlyRenewalEnabled,
		EarlyRenewalProrate: src.EarlyRenewalProrate,
		DownsellPlanID:      src.DownsellPlanID,
		WinbackEnabled:      src.WinbackEnabled,
		WinbackDiscountPct:  src.WinbackDiscountPct,
		SortOrder:           src.SortOrder,
	}
	return s.Create(req)
}

// Delete soft-deletes a plan; blocked while product assignments reference it
func (s *PostgresService) Delete(id int64) error {
	current, err := s.Get(id)
	if err != nil {
		return err
	}
	if current.ProductPlansCount > 0 {
		return &ConflictError{Reason: fmt.Sprintf("plan has %d product assignments", current.ProductPlansCount)}
	}

	query := `UPDATE subscription_plans SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	result, err := s.db.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrPlanNotFound
	}
	return nil
}

// FindAvailableForCompany unions the ACTIVE plans visible from a company's
// position in the hierarchy, ordered scope-then-sort-order
func (s *PostgresService) FindAvailableForCompany(companyID int64) ([]*SubscriptionPlan, error) {
	hier, err := s.resolver.ResolveCompany(companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve company hierarchy: %w", err)
	}

	query := `SELECT` + planColumns + `
		FROM subscription_plans p
		WHERE p.deleted_at IS NULL AND p.status = $1 AND (
			(p.scope = $2 AND p.organization_id = $3) OR
			(p.scope = $4 AND p.client_id = $5) OR
			(p.scope = $6 AND p.company_id = $7)
		)
		ORDER BY CASE p.scope
			WHEN 'organization' THEN 0
			WHEN 'client' THEN 1
			ELSE 2
		END, p.sort_order, p.id`
	rows, err := s.db.Query(query, PlanStatusActive,
		ScopeOrganization, hier.OrganizationID,
		ScopeClient, hier.ClientID,
		ScopeCompany, hier.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to find available plans: %w", err)
	}
	defer rows.Close()

	var available []*SubscriptionPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		available = append(available, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}
	return available, nil
}
