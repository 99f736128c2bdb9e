package retention

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

// PostgresService implements Service backed by PostgreSQL
type PostgresService struct {
	db           *sql.DB
	store        *subscriptions.PostgresStore
	plansService plans.Service
	sink         events.Sink
	logger       *observability.Logger
	now          func() time.Time
}

// NewPostgresService creates a new PostgreSQL-backed retention service
func NewPostgresService(db *sql.DB, plansService plans.Service, sink events.Sink, logger *observability.Logger) *PostgresService {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &PostgresService{
		db:           db,
		store:        subscriptions.NewPostgresStore(db),
		plansService: plansService,
		sink:         sink,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// offerExpiry is how long cancellation-flow offers stay open
const offerExpiry = 24 * time.Hour

const offerColumns = `
	id, subscription_id, company_id, campaign_id, offer_type, status,
	cancellation_reason, discount_pct, duration_cycles, downsell_plan_id,
	pause_days, free_periods, presented_at, expires_at, responded_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOffer(row rowScanner) (*RetentionOffer, error) {
	offer := &RetentionOffer{}
	var reason sql.NullString
	err := row.Scan(
		&offer.ID, &offer.SubscriptionID, &offer.CompanyID, &offer.CampaignID,
		&offer.Type, &offer.Status, &reason, &offer.DiscountPct,
		&offer.DurationCycles, &offer.DownsellPlanID, &offer.PauseDays,
		&offer.FreePeriods, &offer.PresentedAt, &offer.ExpiresAt,
		&offer.RespondedAt, &offer.CreatedAt, &offer.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reason.Valid {
		offer.CancellationReason = CancellationReason(reason.String)
	}
	return offer, nil
}

func (s *PostgresService) getOffer(id int64) (*RetentionOffer, error) {
	query := `SELECT` + offerColumns + ` FROM retention_offers WHERE id = $1`
	offer, err := scanOffer(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get retention offer: %w", err)
	}
	return offer, nil
}

// expireIfOverdue flips a presented offer past its expiry to expired.
// The lazy check on read and accept is the authoritative expiry; the
// scheduled sweep only cleans up offers nobody touched.
func (s *PostgresService) expireIfOverdue(offer *RetentionOffer) error {
	if offer.Status != OfferStatusPresented || s.now().Before(offer.ExpiresAt) {
		return nil
	}
	_, err := s.db.Exec(`
		UPDATE retention_offers SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		OfferStatusExpired, offer.ID, OfferStatusPresented)
	if err != nil {
		return fmt.Errorf("failed to expire offer: %w", err)
	}
	offer.Status = OfferStatusExpired
	s.sink.Emit(context.Background(), events.EventOfferExpired, map[string]any{
		"offer_id":        offer.ID,
		"subscription_id": offer.SubscriptionID,
	})
	return nil
}

func (s *PostgresService) insertOffer(offer *RetentionOffer) error {
	var reason any
	if offer.CancellationReason != "" {
		reason = string(offer.CancellationReason)
	}
	err := s.db.QueryRow(`
		INSERT INTO retention_offers (
			subscription_id, company_id, campaign_id, offer_type, status,
			cancellation_reason, discount_pct, duration_cycles, downsell_plan_id,
			pause_days, free_periods, presented_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`,
		offer.SubscriptionID, offer.CompanyID, offer.CampaignID, offer.Type,
		offer.Status, reason, offer.DiscountPct, offer.DurationCycles,
		offer.DownsellPlanID, offer.PauseDays, offer.FreePeriods,
		offer.PresentedAt, offer.ExpiresAt,
	).Scan(&offer.ID, &offer.CreatedAt, &offer.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create retention offer: %w", err)
	}
	return nil
}

// findDownsellPlan picks the most expensive plan among the active plans
// available to the company that are strictly cheaper than the current one
func (s *PostgresService) findDownsellPlan(companyID int64, currentMonthly float64) *plans.SubscriptionPlan {
	available, err := s.plansService.FindAvailableForCompany(companyID)
	if err != nil {
		s.logger.WithError(err).Warnf("downsell lookup failed for company %d", companyID)
		return nil
	}
	var best *plans.SubscriptionPlan
	for _, p := range available {
		if p.BasePriceMonthly >= currentMonthly {
			continue
		}
		if best == nil || p.BasePriceMonthly > best.BasePriceMonthly {
			best = p
		}
	}
	return best
}

// InitiateCancellation runs the save-offer step of a cancellation attempt.
// The subscription is not cancelled here; the caller proceeds with the
// cancellation only after the subscriber refuses the returned offers.
func (s *PostgresService) InitiateCancellation(subscriptionID int64, reason CancellationReason) (*CancellationResult, error) {
	sub, err := s.store.Get(subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != subscriptions.StatusActive {
		return nil, ErrSubscriptionNotActive
	}

	cfg, err := s.GetFlowConfig(sub.CompanyID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expires := now.Add(offerExpiry)
	base := RetentionOffer{
		SubscriptionID:     subscriptionID,
		CompanyID:          sub.CompanyID,
		Status:             OfferStatusPresented,
		CancellationReason: reason,
		PresentedAt:        now,
		ExpiresAt:          expires,
	}

	var offers []*RetentionOffer
	if cfg.OffersEnabled {
		switch reason {
		case ReasonTooExpensive, ReasonFinancialReasons:
			if cfg.DiscountEnabled {
				o := base
				o.Type = OfferDiscount
				o.DiscountPct = cfg.DiscountPct
				o.DurationCycles = cfg.DiscountDurationCycles
				offers = append(offers, &o)
			}
			if cfg.DownsellEnabled && sub.SubscriptionPlanID != nil {
				if current, err := s.plansService.Get(*sub.SubscriptionPlanID); err == nil {
					if downsell := s.findDownsellPlan(sub.CompanyID, current.BasePriceMonthly); downsell != nil {
						o := base
						o.Type = OfferDownsell
						o.DownsellPlanID = &downsell.ID
						offers = append(offers, &o)
					}
				}
			}
		case ReasonTemporaryPause, ReasonNotUsing:
			if cfg.PauseEnabled {
				o := base
				o.Type = OfferPause
				o.PauseDays = cfg.PauseMaxDays
				offers = append(offers, &o)
			}
		case ReasonProductIssues:
			o := base
			o.Type = OfferFreePeriod
			o.FreePeriods = 1
			offers = append(offers, &o)
		}

		// Always make one retention attempt when nothing matched the reason.
		if len(offers) == 0 && cfg.PauseEnabled {
			o := base
			o.Type = OfferPause
			o.PauseDays = cfg.PauseMaxDays
			offers = append(offers, &o)
		}
	}

	for _, offer := range offers {
		if err := s.insertOffer(offer); err != nil {
			return nil, err
		}
		s.sink.Emit(context.Background(), events.EventOfferPresented, map[string]any{
			"offer_id":        offer.ID,
			"subscription_id": subscriptionID,
			"company_id":      sub.CompanyID,
			"offer_type":      string(offer.Type),
			"reason":          string(reason),
		})
	}

	// Record the stated reason so win-back targeting can filter on it later.
	if err := s.stampMetadata(sub, map[string]any{
		subscriptions.MetaCancellationReason: string(reason),
	}); err != nil {
		s.logger.WithError(err).Warnf("failed to record cancellation reason for subscription %d", subscriptionID)
	}

	return &CancellationResult{Offers: offers, CanProceed: true}, nil
}

// stampMetadata merges keys into the subscription's metadata ledger
func (s *PostgresService) stampMetadata(sub *subscriptions.Subscription, entries map[string]any) error {
	metadata := sub.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	for k, v := range entries {
		metadata[k] = v
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = s.db.Exec(`UPDATE subscriptions SET metadata = $1, updated_at = NOW() WHERE id = $2`,
		metadataJSON, sub.ID)
	if err != nil {
		return fmt.Errorf("failed to update subscription metadata: %w", err)
	}
	sub.Metadata = metadata
	return nil
}

// AcceptOffer applies an offer's effect to its subscription and marks it
// accepted. An accept past the expiry flips the offer to expired and fails.
func (s *PostgresService) AcceptOffer(offerID, subscriptionID int64) (*RetentionOffer, error) {
	offer, err := s.getOffer(offerID)
	if err != nil {
		return nil, err
	}
	if offer.SubscriptionID != subscriptionID {
		return nil, ErrOfferNotFound
	}
	if err := s.expireIfOverdue(offer); err != nil {
		return nil, err
	}
	if offer.Status != OfferStatusPresented {
		return nil, &OfferStateError{OfferID: offer.ID, Status: offer.Status}
	}

	sub, err := s.store.Get(subscriptionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.applyOfferEffect(offer, sub, now, "retention_offer"); err != nil {
		return nil, err
	}

	if err := s.markResponded(offer, OfferStatusAccepted, now); err != nil {
		return nil, err
	}
	s.sink.Emit(context.Background(), events.EventOfferAccepted, map[string]any{
		"offer_id":        offer.ID,
		"subscription_id": subscriptionID,
		"offer_type":      string(offer.Type),
	})
	return offer, nil
}

// applyOfferEffect mutates the subscription per the offer type. Discount
// and free-period benefits are stamped into metadata for the billing
// worker to consume on the next cycle rather than changing the charge
// immediately.
func (s *PostgresService) applyOfferEffect(offer *RetentionOffer, sub *subscriptions.Subscription, now time.Time, reason string) error {
	switch offer.Type {
	case OfferDiscount:
		return s.stampMetadata(sub, map[string]any{
			subscriptions.MetaRetentionDiscount: subscriptions.RetentionDiscount{
				Percentage:     offer.DiscountPct,
				DurationCycles: offer.DurationCycles,
				AppliedAt:      now.Format(time.RFC3339),
				Reason:         reason,
			},
		})

	case OfferDownsell:
		if offer.DownsellPlanID == nil {
			return &ValidationError{Field: "downsell_plan_id", Message: "offer has no downsell plan"}
		}
		plan, err := s.plansService.Get(*offer.DownsellPlanID)
		if err != nil {
			return fmt.Errorf("failed to load downsell plan: %w", err)
		}
		_, err = s.db.Exec(`
			UPDATE subscriptions SET subscription_plan_id = $1, plan_amount = $2, updated_at = NOW()
			WHERE id = $3`,
			plan.ID, plan.BasePriceMonthly, sub.ID)
		if err != nil {
			return fmt.Errorf("failed to downsell subscription: %w", err)
		}
		return nil

	case OfferPause:
		resumeAt := now.Add(time.Duration(offer.PauseDays) * 24 * time.Hour)
		_, err := s.db.Exec(`
			UPDATE subscriptions SET status = $1, paused_at = $2, pause_resume_at = $3, updated_at = NOW()
			WHERE id = $4`,
			subscriptions.StatusPaused, now, resumeAt, sub.ID)
		if err != nil {
			return fmt.Errorf("failed to pause subscription: %w", err)
		}
		return nil

	case OfferFreePeriod:
		return s.stampMetadata(sub, map[string]any{
			subscriptions.MetaFreePeriods: subscriptions.FreePeriods{
				Remaining: offer.FreePeriods,
				AppliedAt: now.Format(time.RFC3339),
				Reason:    reason,
			},
		})

	default:
		return &ValidationError{Field: "offer_type", Message: fmt.Sprintf("unsupported offer type %q", offer.Type)}
	}
}

func (s *PostgresService) markResponded(offer *RetentionOffer, status OfferStatus, now time.Time) error {
	_, err := s.db.Exec(`
		UPDATE retention_offers SET status = $1, responded_at = $2, updated_at = NOW()
		WHERE id = $3`,
		status, now, offer.ID)
	if err != nil {
		return fmt.Errorf("failed to update offer status: %w", err)
	}
	offer.Status = status
	offer.RespondedAt = &now
	return nil
}

// DeclineOffer marks an offer declined without touching the subscription
func (s *PostgresService) DeclineOffer(offerID, subscriptionID int64) (*RetentionOffer, error) {
	offer, err := s.getOffer(offerID)
	if err != nil {
		return nil, err
	}
	if offer.SubscriptionID != subscriptionID {
		return nil, ErrOfferNotFound
	}
	if err := s.expireIfOverdue(offer); err != nil {
		return nil, err
	}
	if offer.Status != OfferStatusPresented {
		return nil, &OfferStateError{OfferID: offer.ID, Status: offer.Status}
	}

	if err := s.markResponded(offer, OfferStatusDeclined, s.now()); err != nil {
		return nil, err
	}
	s.sink.Emit(context.Background(), events.EventOfferDeclined, map[string]any{
		"offer_id":        offer.ID,
		"subscription_id": subscriptionID,
	})
	return offer, nil
}

// ListOffers returns a subscription's offers newest first, flipping any
// overdue presented offers to expired on the way out
func (s *PostgresService) ListOffers(subscriptionID int64) ([]*RetentionOffer, error) {
	query := `SELECT` + offerColumns + ` FROM retention_offers WHERE subscription_id = $1 ORDER BY presented_at DESC`
	rows, err := s.db.Query(query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list retention offers: %w", err)
	}
	defer rows.Close()

	var offers []*RetentionOffer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retention offer: %w", err)
		}
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, offer := range offers {
		if err := s.expireIfOverdue(offer); err != nil {
			s.logger.WithError(err).Warnf("failed to expire offer %d", offer.ID)
		}
	}
	return offers, nil
}

// ProcessExpiredOffers flips every overdue presented offer to expired and
// returns how many changed. Lazy expiry on read remains authoritative;
// this sweep keeps offers nobody revisits from lingering as presented.
func (s *PostgresService) ProcessExpiredOffers(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE retention_offers SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at <= NOW()
		RETURNING id, subscription_id`,
		OfferStatusExpired, OfferStatusPresented)
	if err != nil {
		return 0, fmt.Errorf("failed to expire offers: %w", err)
	}
	defer rows.Close()

	expired := 0
	for rows.Next() {
		var id, subscriptionID int64
		if err := rows.Scan(&id, &subscriptionID); err != nil {
			return expired, fmt.Errorf("failed to scan expired offer: %w", err)
		}
		expired++
		s.sink.Emit(ctx, events.EventOfferExpired, map[string]any{
			"offer_id":        id,
			"subscription_id": subscriptionID,
		})
	}
	return expired, rows.Err()
}
