package retention

import (
	"context"
	"time"

	"github.com/loopcart/recur/pkg/subscriptions"
)

// OfferType classifies the incentive presented to a subscriber
type OfferType string

const (
	OfferDiscount        OfferType = "discount"
	OfferDownsell        OfferType = "downsell"
	OfferPause           OfferType = "pause"
	OfferFreePeriod      OfferType = "free_period"
	OfferBonusProduct    OfferType = "bonus_product"
	OfferFrequencyChange OfferType = "frequency_change"
)

// OfferStatus is the lifecycle state of an offer. Offers are created
// directly in presented; accepted, declined and expired are terminal.
type OfferStatus string

const (
	OfferStatusPending   OfferStatus = "pending"
	OfferStatusPresented OfferStatus = "presented"
	OfferStatusAccepted  OfferStatus = "accepted"
	OfferStatusDeclined  OfferStatus = "declined"
	OfferStatusExpired   OfferStatus = "expired"
)

// CancellationReason is the reason a subscriber gave for cancelling
type CancellationReason string

const (
	ReasonTooExpensive     CancellationReason = "too_expensive"
	ReasonFinancialReasons CancellationReason = "financial_reasons"
	ReasonTemporaryPause   CancellationReason = "temporary_pause"
	ReasonNotUsing         CancellationReason = "not_using"
	ReasonProductIssues    CancellationReason = "product_issues"
	ReasonOther            CancellationReason = "other"
)

// CampaignStatus is the lifecycle state of a win-back campaign
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusExpired   CampaignStatus = "expired"
)

// RetentionOffer is one time-boxed incentive presented to a subscriber,
// either during a cancellation attempt or by a win-back campaign
type RetentionOffer struct {
	ID             int64       `json:"id"`
	SubscriptionID int64       `json:"subscription_id"`
	CompanyID      int64       `json:"company_id"`
	CampaignID     *int64      `json:"campaign_id,omitempty"`
	Type           OfferType   `json:"type"`
	Status         OfferStatus `json:"status"`

	CancellationReason CancellationReason `json:"cancellation_reason,omitempty"`

	// Type-specific payload; only the fields relevant to Type are set.
	DiscountPct    float64 `json:"discount_pct,omitempty"`
	DurationCycles int     `json:"duration_cycles,omitempty"`
	DownsellPlanID *int64  `json:"downsell_plan_id,omitempty"`
	PauseDays      int     `json:"pause_days,omitempty"`
	FreePeriods    int     `json:"free_periods,omitempty"`

	PresentedAt time.Time  `json:"presented_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CancellationResult is what a cancellation attempt returns: the save
// offers generated for the subscriber. The subscription itself is not
// cancelled by initiation; CanProceed signals the caller may continue the
// cancellation if every offer is refused.
type CancellationResult struct {
	Offers     []*RetentionOffer `json:"offers"`
	CanProceed bool              `json:"can_proceed"`
}

// WinBackCampaign targets already-cancelled subscribers inside a recency
// window with one configured offer type
type WinBackCampaign struct {
	ID        int64          `json:"id"`
	CompanyID int64          `json:"company_id"`
	Name      string         `json:"name"`
	Status    CampaignStatus `json:"status"`

	TargetReasons            []CancellationReason `json:"target_reasons,omitempty"`
	MinDaysSinceCancellation int                  `json:"min_days_since_cancellation"`
	MaxDaysSinceCancellation int                  `json:"max_days_since_cancellation"`
	TargetPlanIDs            []int64              `json:"target_plan_ids,omitempty"`

	OfferType      OfferType `json:"offer_type"`
	DiscountPct    float64   `json:"discount_pct,omitempty"`
	DurationCycles int       `json:"duration_cycles,omitempty"`
	FreePeriods    int       `json:"free_periods,omitempty"`
	OfferValidDays int       `json:"offer_valid_days"`

	EligibleCount int `json:"eligible_count"`
	SentCount     int `json:"sent_count"`
	AcceptedCount int `json:"accepted_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateCampaignRequest represents request to create a win-back campaign
type CreateCampaignRequest struct {
	CompanyID int64  `json:"company_id"`
	Name      string `json:"name"`

	TargetReasons            []CancellationReason `json:"target_reasons,omitempty"`
	MinDaysSinceCancellation int                  `json:"min_days_since_cancellation"`
	MaxDaysSinceCancellation int                  `json:"max_days_since_cancellation"`
	TargetPlanIDs            []int64              `json:"target_plan_ids,omitempty"`

	OfferType      OfferType `json:"offer_type"`
	DiscountPct    float64   `json:"discount_pct,omitempty"`
	DurationCycles int       `json:"duration_cycles,omitempty"`
	FreePeriods    int       `json:"free_periods,omitempty"`
	OfferValidDays int       `json:"offer_valid_days,omitempty"`
}

// CancellationFlowConfig holds per-company cancellation flow toggles.
// Companies without a stored row get the hard defaults.
type CancellationFlowConfig struct {
	CompanyID          int64 `json:"company_id"`
	ShowReasonSelector bool  `json:"show_reason_selector"`
	OffersEnabled      bool  `json:"offers_enabled"`
	PauseEnabled       bool  `json:"pause_enabled"`
	DownsellEnabled    bool  `json:"downsell_enabled"`
	DiscountEnabled    bool  `json:"discount_enabled"`

	DiscountPct            float64 `json:"discount_pct"`
	DiscountDurationCycles int     `json:"discount_duration_cycles"`
	PauseMaxDays           int     `json:"pause_max_days"`
}

// DefaultFlowConfig returns the global fallback configuration
func DefaultFlowConfig(companyID int64) *CancellationFlowConfig {
	return &CancellationFlowConfig{
		CompanyID:              companyID,
		ShowReasonSelector:     true,
		OffersEnabled:          true,
		PauseEnabled:           true,
		DownsellEnabled:        true,
		DiscountEnabled:        true,
		DiscountPct:            20,
		DiscountDurationCycles: 3,
		PauseMaxDays:           30,
	}
}

// UpdateFlowConfigRequest represents a partial config update; only
// non-nil fields are written
type UpdateFlowConfigRequest struct {
	ShowReasonSelector *bool `json:"show_reason_selector,omitempty"`
	OffersEnabled      *bool `json:"offers_enabled,omitempty"`
	PauseEnabled       *bool `json:"pause_enabled,omitempty"`
	DownsellEnabled    *bool `json:"downsell_enabled,omitempty"`
	DiscountEnabled    *bool `json:"discount_enabled,omitempty"`

	DiscountPct            *float64 `json:"discount_pct,omitempty"`
	DiscountDurationCycles *int     `json:"discount_duration_cycles,omitempty"`
	PauseMaxDays           *int     `json:"pause_max_days,omitempty"`
}

// OfferTypeStats aggregates outcomes for one offer type
type OfferTypeStats struct {
	Presented      int     `json:"presented"`
	Accepted       int     `json:"accepted"`
	AcceptanceRate float64 `json:"acceptance_rate"`
}

// Stats is the retention reporting surface for one company
type Stats struct {
	OffersByType        map[OfferType]*OfferTypeStats `json:"offers_by_type"`
	CancellationReasons map[CancellationReason]int    `json:"cancellation_reasons"`
	WinBackSent         int                           `json:"winback_sent"`
	WinBackAccepted     int                           `json:"winback_accepted"`
	WinBackRate         float64                       `json:"winback_rate"`
}

// Service defines the interface for the cancellation and win-back flow
type Service interface {
	// Cancellation flow
	InitiateCancellation(subscriptionID int64, reason CancellationReason) (*CancellationResult, error)
	AcceptOffer(offerID, subscriptionID int64) (*RetentionOffer, error)
	DeclineOffer(offerID, subscriptionID int64) (*RetentionOffer, error)
	ListOffers(subscriptionID int64) ([]*RetentionOffer, error)
	ProcessExpiredOffers(ctx context.Context) (int, error)

	// Win-back campaigns
	CreateWinBackCampaign(req *CreateCampaignRequest) (*WinBackCampaign, error)
	GetWinBackCampaign(id int64) (*WinBackCampaign, error)
	ListWinBackCampaigns(companyID int64) ([]*WinBackCampaign, error)
	ActivateWinBackCampaign(id int64) (*WinBackCampaign, error)
	PauseWinBackCampaign(id int64) (*WinBackCampaign, error)
	CompleteWinBackCampaign(id int64) (*WinBackCampaign, error)
	FindWinBackEligible(campaignID int64) ([]*subscriptions.Subscription, error)
	SendWinBackOffer(campaignID, subscriptionID int64) (*RetentionOffer, error)
	AcceptWinBackOffer(offerID int64) (*subscriptions.Subscription, error)

	// Configuration and reporting
	GetFlowConfig(companyID int64) (*CancellationFlowConfig, error)
	ConfigureFlow(companyID int64, req *UpdateFlowConfigRequest) (*CancellationFlowConfig, error)
	GetStats(companyID int64) (*Stats, error)
}
