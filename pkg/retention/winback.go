package retention

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/loopcart/recur/pkg/events"
	"github.com/loopcart/recur/pkg/subscriptions"
)

const campaignColumns = `
	id, company_id, name, status, target_reasons,
	min_days_since_cancellation, max_days_since_cancellation, target_plan_ids,
	offer_type, discount_pct, duration_cycles, free_periods, offer_valid_days,
	eligible_count, sent_count, accepted_count, created_at, updated_at`

func scanCampaign(row rowScanner) (*WinBackCampaign, error) {
	c := &WinBackCampaign{}
	var reasonsJSON, planIDsJSON []byte
	err := row.Scan(
		&c.ID, &c.CompanyID, &c.Name, &c.Status, &reasonsJSON,
		&c.MinDaysSinceCancellation, &c.MaxDaysSinceCancellation, &planIDsJSON,
		&c.OfferType, &c.DiscountPct, &c.DurationCycles, &c.FreePeriods,
		&c.OfferValidDays, &c.EligibleCount, &c.SentCount, &c.AcceptedCount,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(reasonsJSON) > 0 {
		if err := json.Unmarshal(reasonsJSON, &c.TargetReasons); err != nil {
			return nil, fmt.Errorf("failed to parse target reasons: %w", err)
		}
	}
	if len(planIDsJSON) > 0 {
		if err := json.Unmarshal(planIDsJSON, &c.TargetPlanIDs); err != nil {
			return nil, fmt.Errorf("failed to parse target plan ids: %w", err)
		}
	}
	return c, nil
}

func validateCampaignRequest(req *CreateCampaignRequest) error {
	if req.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if req.CompanyID == 0 {
		return &ValidationError{Field: "company_id", Message: "company_id is required"}
	}
	if req.MinDaysSinceCancellation < 0 || req.MaxDaysSinceCancellation < 0 {
		return &ValidationError{Field: "days_since_cancellation", Message: "window bounds must be non-negative"}
	}
	if req.MaxDaysSinceCancellation < req.MinDaysSinceCancellation {
		return &ValidationError{Field: "max_days_since_cancellation", Message: "must be >= min_days_since_cancellation"}
	}
	switch req.OfferType {
	case OfferDiscount, OfferFreePeriod, OfferPause:
	default:
		return &ValidationError{Field: "offer_type", Message: fmt.Sprintf("unsupported campaign offer type %q", req.OfferType)}
	}
	return nil
}

// CreateWinBackCampaign creates a campaign in draft status
func (s *PostgresService) CreateWinBackCampaign(req *CreateCampaignRequest) (*WinBackCampaign, error) {
	if err := validateCampaignRequest(req); err != nil {
		return nil, err
	}

	validDays := req.OfferValidDays
	if validDays <= 0 {
		validDays = 7
	}
	reasonsJSON, err := json.Marshal(req.TargetReasons)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal target reasons: %w", err)
	}
	planIDsJSON, err := json.Marshal(req.TargetPlanIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal target plan ids: %w", err)
	}

	campaign := &WinBackCampaign{
		CompanyID:                req.CompanyID,
		Name:                     req.Name,
		Status:                   CampaignStatusDraft,
		TargetReasons:            req.TargetReasons,
		MinDaysSinceCancellation: req.MinDaysSinceCancellation,
		MaxDaysSinceCancellation: req.MaxDaysSinceCancellation,
		TargetPlanIDs:            req.TargetPlanIDs,
		OfferType:                req.OfferType,
		DiscountPct:              req.DiscountPct,
		DurationCycles:           req.DurationCycles,
		FreePeriods:              req.FreePeriods,
		OfferValidDays:           validDays,
	}
	err = s.db.QueryRow(`
		INSERT INTO winback_campaigns (
			company_id, name, status, target_reasons,
			min_days_since_cancellation, max_days_since_cancellation, target_plan_ids,
			offer_type, discount_pct, duration_cycles, free_periods, offer_valid_days
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`,
		campaign.CompanyID, campaign.Name, campaign.Status, reasonsJSON,
		campaign.MinDaysSinceCancellation, campaign.MaxDaysSinceCancellation, planIDsJSON,
		campaign.OfferType, campaign.DiscountPct, campaign.DurationCycles,
		campaign.FreePeriods, campaign.OfferValidDays,
	).Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create win-back campaign: %w", err)
	}
	return campaign, nil
}

// GetWinBackCampaign retrieves a campaign by id
func (s *PostgresService) GetWinBackCampaign(id int64) (*WinBackCampaign, error) {
	query := `SELECT` + campaignColumns + ` FROM winback_campaigns WHERE id = $1`
	campaign, err := scanCampaign(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get win-back campaign: %w", err)
	}
	return campaign, nil
}

// ListWinBackCampaigns returns a company's campaigns newest first
func (s *PostgresService) ListWinBackCampaigns(companyID int64) ([]*WinBackCampaign, error) {
	query := `SELECT` + campaignColumns + ` FROM winback_campaigns WHERE company_id = $1 ORDER BY created_at DESC`
	rows, err := s.db.Query(query, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list win-back campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*WinBackCampaign
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan win-back campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}
	return campaigns, rows.Err()
}

func (s *PostgresService) transitionCampaign(id int64, from []CampaignStatus, to CampaignStatus, action string) (*WinBackCampaign, error) {
	campaign, err := s.GetWinBackCampaign(id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, status := range from {
		if campaign.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, &CampaignStateError{CampaignID: id, Status: campaign.Status, Action: action}
	}
	_, err = s.db.Exec(`UPDATE winback_campaigns SET status = $1, updated_at = NOW() WHERE id = $2`,
		to, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update campaign status: %w", err)
	}
	campaign.Status = to
	return campaign, nil
}

// ActivateWinBackCampaign moves a draft or paused campaign to active and
// records the size of the currently eligible audience for reporting. No
// offers are sent by activation.
func (s *PostgresService) ActivateWinBackCampaign(id int64) (*WinBackCampaign, error) {
	campaign, err := s.transitionCampaign(id,
		[]CampaignStatus{CampaignStatusDraft, CampaignStatusPaused},
		CampaignStatusActive, "activated")
	if err != nil {
		return nil, err
	}

	eligible, err := s.FindWinBackEligible(id)
	if err != nil {
		return nil, err
	}
	campaign.EligibleCount = len(eligible)
	_, err = s.db.Exec(`UPDATE winback_campaigns SET eligible_count = $1, updated_at = NOW() WHERE id = $2`,
		campaign.EligibleCount, id)
	if err != nil {
		return nil, fmt.Errorf("failed to record eligible count: %w", err)
	}
	return campaign, nil
}

// PauseWinBackCampaign suspends an active campaign
func (s *PostgresService) PauseWinBackCampaign(id int64) (*WinBackCampaign, error) {
	return s.transitionCampaign(id,
		[]CampaignStatus{CampaignStatusActive},
		CampaignStatusPaused, "paused")
}

// CompleteWinBackCampaign ends a campaign; completed is terminal
func (s *PostgresService) CompleteWinBackCampaign(id int64) (*WinBackCampaign, error) {
	return s.transitionCampaign(id,
		[]CampaignStatus{CampaignStatusActive, CampaignStatusPaused},
		CampaignStatusCompleted, "completed")
}

// FindWinBackEligible returns the campaign's current audience: canceled
// subscriptions in the company whose cancellation falls inside the
// campaign's recency window, both bounds inclusive. The plan filter is
// applied in the query; the reason filter is applied after fetch against
// the recorded cancellation reason, and subscriptions without a recorded
// reason are excluded whenever a reason filter is set.
func (s *PostgresService) FindWinBackEligible(campaignID int64) ([]*subscriptions.Subscription, error) {
	campaign, err := s.GetWinBackCampaign(campaignID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	windowStart := now.Add(-time.Duration(campaign.MaxDaysSinceCancellation) * 24 * time.Hour)
	windowEnd := now.Add(-time.Duration(campaign.MinDaysSinceCancellation) * 24 * time.Hour)

	query := `SELECT` + subscriptions.Columns + ` FROM subscriptions
		WHERE company_id = $1 AND status = $2 AND canceled_at >= $3 AND canceled_at <= $4`
	args := []interface{}{campaign.CompanyID, subscriptions.StatusCanceled, windowStart, windowEnd}
	if len(campaign.TargetPlanIDs) > 0 {
		query += ` AND subscription_plan_id = ANY($5)`
		args = append(args, pq.Array(campaign.TargetPlanIDs))
	}
	query += ` ORDER BY canceled_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible subscriptions: %w", err)
	}
	defer rows.Close()

	var eligible []*subscriptions.Subscription
	for rows.Next() {
		sub, err := subscriptions.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan eligible subscription: %w", err)
		}
		if len(campaign.TargetReasons) > 0 && !matchesReason(sub, campaign.TargetReasons) {
			continue
		}
		eligible = append(eligible, sub)
	}
	return eligible, rows.Err()
}

func matchesReason(sub *subscriptions.Subscription, reasons []CancellationReason) bool {
	raw, ok := sub.Metadata[subscriptions.MetaCancellationReason].(string)
	if !ok {
		return false
	}
	for _, reason := range reasons {
		if CancellationReason(raw) == reason {
			return true
		}
	}
	return false
}

// SendWinBackOffer presents the campaign's configured offer to one
// canceled subscriber and bumps the campaign's sent counter
func (s *PostgresService) SendWinBackOffer(campaignID, subscriptionID int64) (*RetentionOffer, error) {
	campaign, err := s.GetWinBackCampaign(campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != CampaignStatusActive {
		return nil, &CampaignStateError{CampaignID: campaignID, Status: campaign.Status, Action: "sent from"}
	}
	sub, err := s.store.Get(subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != subscriptions.StatusCanceled {
		return nil, ErrSubscriptionNotCanceled
	}
	if sub.CompanyID != campaign.CompanyID {
		return nil, subscriptions.ErrSubscriptionNotFound
	}

	now := s.now()
	offer := &RetentionOffer{
		SubscriptionID: subscriptionID,
		CompanyID:      sub.CompanyID,
		CampaignID:     &campaign.ID,
		Type:           campaign.OfferType,
		Status:         OfferStatusPresented,
		DiscountPct:    campaign.DiscountPct,
		DurationCycles: campaign.DurationCycles,
		FreePeriods:    campaign.FreePeriods,
		PresentedAt:    now,
		ExpiresAt:      now.Add(time.Duration(campaign.OfferValidDays) * 24 * time.Hour),
	}
	if err := s.insertOffer(offer); err != nil {
		return nil, err
	}

	_, err = s.db.Exec(`UPDATE winback_campaigns SET sent_count = sent_count + 1, updated_at = NOW() WHERE id = $1`,
		campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to update sent count: %w", err)
	}

	s.sink.Emit(context.Background(), events.EventWinbackSent, map[string]any{
		"offer_id":        offer.ID,
		"campaign_id":     campaignID,
		"subscription_id": subscriptionID,
	})
	return offer, nil
}

// AcceptWinBackOffer reactivates the canceled subscription behind a
// win-back offer: status back to active, cancellation fields cleared,
// next billing a month out, and the offer's benefit stamped into metadata
// for the billing worker.
func (s *PostgresService) AcceptWinBackOffer(offerID int64) (*subscriptions.Subscription, error) {
	offer, err := s.getOffer(offerID)
	if err != nil {
		return nil, err
	}
	if err := s.expireIfOverdue(offer); err != nil {
		return nil, err
	}
	if offer.Status != OfferStatusPresented {
		return nil, &OfferStateError{OfferID: offer.ID, Status: offer.Status}
	}

	sub, err := s.store.Get(offer.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != subscriptions.StatusCanceled {
		return nil, ErrSubscriptionNotCanceled
	}

	now := s.now()
	nextBilling := now.AddDate(0, 1, 0)

	metadata := sub.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata[subscriptions.MetaReactivatedAt] = now.Format(time.RFC3339)
	switch offer.Type {
	case OfferDiscount:
		metadata[subscriptions.MetaRetentionDiscount] = subscriptions.RetentionDiscount{
			Percentage:     offer.DiscountPct,
			DurationCycles: offer.DurationCycles,
			AppliedAt:      now.Format(time.RFC3339),
			Reason:         "winback_offer",
		}
	case OfferFreePeriod:
		metadata[subscriptions.MetaFreePeriods] = subscriptions.FreePeriods{
			Remaining: offer.FreePeriods,
			AppliedAt: now.Format(time.RFC3339),
			Reason:    "winback_offer",
		}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE subscriptions
		SET status = $1, canceled_at = NULL, cancel_reason = NULL,
		    next_billing_date = $2, metadata = $3, updated_at = NOW()
		WHERE id = $4`,
		subscriptions.StatusActive, nextBilling, metadataJSON, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reactivate subscription: %w", err)
	}

	if err := s.markResponded(offer, OfferStatusAccepted, now); err != nil {
		return nil, err
	}
	if offer.CampaignID != nil {
		_, err = s.db.Exec(`UPDATE winback_campaigns SET accepted_count = accepted_count + 1, updated_at = NOW() WHERE id = $1`,
			*offer.CampaignID)
		if err != nil {
			return nil, fmt.Errorf("failed to update accepted count: %w", err)
		}
	}

	sub.Status = subscriptions.StatusActive
	sub.CanceledAt = nil
	sub.CancelReason = ""
	sub.NextBillingDate = &nextBilling
	sub.Metadata = metadata

	s.sink.Emit(context.Background(), events.EventSubscriptionReactivate, map[string]any{
		"offer_id":        offer.ID,
		"subscription_id": sub.ID,
		"company_id":      sub.CompanyID,
	})
	return sub, nil
}
