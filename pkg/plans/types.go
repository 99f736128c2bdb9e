package plans

import (
	"time"
)

// PlanScope represents the organizational level a plan belongs to
type PlanScope string

const (
	ScopeOrganization PlanScope = "organization"
	ScopeClient       PlanScope = "client"
	ScopeCompany      PlanScope = "company"
)

// PlanStatus represents the lifecycle status of a plan template
type PlanStatus string

const (
	PlanStatusDraft    PlanStatus = "draft"
	PlanStatusActive   PlanStatus = "active"
	PlanStatusArchived PlanStatus = "archived"
)

// BillingInterval represents the cadence of a billing cycle
type BillingInterval string

const (
	IntervalDaily     BillingInterval = "daily"
	IntervalWeekly    BillingInterval = "weekly"
	IntervalBiweekly  BillingInterval = "biweekly"
	IntervalMonthly   BillingInterval = "monthly"
	IntervalQuarterly BillingInterval = "quarterly"
	IntervalYearly    BillingInterval = "yearly"
)

// LoyaltyTier is a discount unlocked once a subscription has completed at
// least AfterRebills cycles
type LoyaltyTier struct {
	AfterRebills int     `json:"after_rebills"`
	DiscountPct  float64 `json:"discount_pct"`
}

// SubscriptionPlan is a reusable billing template owned by one scope level
type SubscriptionPlan struct {
	ID    int64     `json:"id"`
	Scope PlanScope `json:"scope"`
	// Exactly one of the three owner ids is set, matching Scope.
	OrganizationID *int64 `json:"organization_id,omitempty"`
	ClientID       *int64 `json:"client_id,omitempty"`
	CompanyID      *int64 `json:"company_id,omitempty"`

	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`

	BasePriceMonthly  float64  `json:"base_price_monthly"`
	BasePriceAnnual   *float64 `json:"base_price_annual,omitempty"`
	AnnualDiscountPct float64  `json:"annual_discount_pct"`
	Currency          string   `json:"currency"`

	BillingInterval BillingInterval `json:"billing_interval"`
	TrialDays       int             `json:"trial_days"`
	ShipmentAligned bool            `json:"shipment_aligned"`

	MaxPausesPerYear int `json:"max_pauses_per_year"`
	MaxSkipsPerYear  int `json:"max_skips_per_year"`
	MinQuantity      int `json:"min_quantity"`
	MaxQuantity      int `json:"max_quantity"`

	LoyaltyEnabled bool          `json:"loyalty_enabled"`
	LoyaltyTiers   []LoyaltyTier `json:"loyalty_tiers,omitempty"`

	PriceLockEnabled bool `json:"price_lock_enabled"`
	PriceLockCycles  int  `json:"price_lock_cycles"`

	EarlyRenewalEnabled bool `json:"early_renewal_enabled"`
	EarlyRenewalProrate bool `json:"early_renewal_prorate"`

	DownsellPlanID     *int64  `json:"downsell_plan_id,omitempty"`
	WinbackEnabled     bool    `json:"winback_enabled"`
	WinbackDiscountPct float64 `json:"winback_discount_pct"`

	Status    PlanStatus `json:"status"`
	SortOrder int        `json:"sort_order"`

	// ProductPlansCount is the number of live product assignments; a plan
	// cannot be deleted while it is non-zero.
	ProductPlansCount int `json:"product_plans_count"`

	PublishedAt *time.Time `json:"published_at,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ProductSubscriptionPlan attaches a plan to a catalog product with
// optional per-product overrides
type ProductSubscriptionPlan struct {
	ID                int64     `json:"id"`
	ProductID         int64     `json:"product_id"`
	PlanID            int64     `json:"plan_id"`
	PriceOverride     *float64  `json:"price_override,omitempty"`
	TrialDaysOverride *int      `json:"trial_days_override,omitempty"`
	IsDefault         bool      `json:"is_default"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreatePlanRequest represents request to create a plan template
type CreatePlanRequest struct {
	Scope          PlanScope `json:"scope"`
	OrganizationID *int64    `json:"organization_id,omitempty"`
	ClientID       *int64    `json:"client_id,omitempty"`
	CompanyID      *int64    `json:"company_id,omitempty"`

	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`

	BasePriceMonthly  float64  `json:"base_price_monthly"`
	BasePriceAnnual   *float64 `json:"base_price_annual,omitempty"`
	AnnualDiscountPct float64  `json:"annual_discount_pct"`
	Currency          string   `json:"currency"`

	BillingInterval BillingInterval `json:"billing_interval"`
	TrialDays       int             `json:"trial_days"`
	ShipmentAligned bool            `json:"shipment_aligned"`

	MaxPausesPerYear int `json:"max_pauses_per_year"`
	MaxSkipsPerYear  int `json:"max_skips_per_year"`
	MinQuantity      int `json:"min_quantity"`
	MaxQuantity      int `json:"max_quantity"`

	LoyaltyEnabled bool          `json:"loyalty_enabled"`
	LoyaltyTiers   []LoyaltyTier `json:"loyalty_tiers,omitempty"`

	PriceLockEnabled bool `json:"price_lock_enabled"`
	PriceLockCycles  int  `json:"price_lock_cycles"`

	EarlyRenewalEnabled bool `json:"early_renewal_enabled"`
	EarlyRenewalProrate bool `json:"early_renewal_prorate"`

	DownsellPlanID     *int64  `json:"downsell_plan_id,omitempty"`
	WinbackEnabled     bool    `json:"winback_enabled"`
	WinbackDiscountPct float64 `json:"winback_discount_pct"`

	SortOrder int `json:"sort_order"`
}

// UpdatePlanRequest represents a partial update; only non-nil fields are
// written
type UpdatePlanRequest struct {
	Name        *string `json:"name,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	Description *string `json:"description,omitempty"`

	BasePriceMonthly  *float64 `json:"base_price_monthly,omitempty"`
	BasePriceAnnual   *float64 `json:"base_price_annual,omitempty"`
	AnnualDiscountPct *float64 `json:"annual_discount_pct,omitempty"`
	Currency          *string  `json:"currency,omitempty"`

	BillingInterval *BillingInterval `json:"billing_interval,omitempty"`
	TrialDays       *int             `json:"trial_days,omitempty"`
	ShipmentAligned *bool            `json:"shipment_aligned,omitempty"`

	MaxPausesPerYear *int `json:"max_pauses_per_year,omitempty"`
	MaxSkipsPerYear  *int `json:"max_skips_per_year,omitempty"`
	MinQuantity      *int `json:"min_quantity,omitempty"`
	MaxQuantity      *int `json:"max_quantity,omitempty"`

	LoyaltyEnabled *bool          `json:"loyalty_enabled,omitempty"`
	LoyaltyTiers   *[]LoyaltyTier `json:"loyalty_tiers,omitempty"`

	PriceLockEnabled *bool `json:"price_lock_enabled,omitempty"`
	PriceLockCycles  *int  `json:"price_lock_cycles,omitempty"`

	EarlyRenewalEnabled *bool `json:"early_renewal_enabled,omitempty"`
	EarlyRenewalProrate *bool `json:"early_renewal_prorate,omitempty"`

	DownsellPlanID     *int64   `json:"downsell_plan_id,omitempty"`
	WinbackEnabled     *bool    `json:"winback_enabled,omitempty"`
	WinbackDiscountPct *float64 `json:"winback_discount_pct,omitempty"`

	SortOrder *int `json:"sort_order,omitempty"`

	// Clear flags for nullable columns; a nil pointer above means
	// "leave untouched", these mean "set to NULL".
	ClearBasePriceAnnual bool `json:"clear_base_price_annual,omitempty"`
	ClearDownsellPlan    bool `json:"clear_downsell_plan,omitempty"`
}

// AttachProductRequest represents request to attach a plan to a product
type AttachProductRequest struct {
	ProductID         int64    `json:"product_id"`
	PlanID            int64    `json:"plan_id"`
	PriceOverride     *float64 `json:"price_override,omitempty"`
	TrialDaysOverride *int     `json:"trial_days_override,omitempty"`
	IsDefault         bool     `json:"is_default"`
}

// UpdateAssignmentRequest represents a partial update of a product-plan
// assignment
type UpdateAssignmentRequest struct {
	PriceOverride     *float64 `json:"price_override,omitempty"`
	TrialDaysOverride *int     `json:"trial_days_override,omitempty"`
	IsDefault         *bool    `json:"is_default,omitempty"`
}

// Service defines the interface for plan template management
type Service interface {
	// Registry
	Create(req *CreatePlanRequest) (*SubscriptionPlan, error)
	Get(id int64) (*SubscriptionPlan, error)
	Update(id int64, req *UpdatePlanRequest) (*SubscriptionPlan, error)
	Publish(id int64) (*SubscriptionPlan, error)
	Archive(id int64) (*SubscriptionPlan, error)
	Duplicate(id int64, newName string) (*SubscriptionPlan, error)
	Delete(id int64) error
	ListForScope(scope PlanScope, ownerID int64) ([]*SubscriptionPlan, error)

	// Resolution
	FindAvailableForCompany(companyID int64) ([]*SubscriptionPlan, error)

	// Product assignment
	AttachProduct(req *AttachProductRequest) (*ProductSubscriptionPlan, error)
	UpdateProductAssignment(productID, planID int64, req *UpdateAssignmentRequest) (*ProductSubscriptionPlan, error)
	DetachProduct(productID, planID int64) error
	ListForProduct(productID int64) ([]*ProductSubscriptionPlan, error)
}
