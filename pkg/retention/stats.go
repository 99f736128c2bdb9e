package retention

import (
	"fmt"
)

// GetStats aggregates retention outcomes for one company: per-offer-type
// acceptance, the cancellation reason histogram (counted per
// subscription, not per generated offer), and win-back totals.
func (s *PostgresService) GetStats(companyID int64) (*Stats, error) {
	stats := &Stats{
		OffersByType:        map[OfferType]*OfferTypeStats{},
		CancellationReasons: map[CancellationReason]int{},
	}

	rows, err := s.db.Query(`
		SELECT offer_type, COUNT(*), COUNT(*) FILTER (WHERE status = $1)
		FROM retention_offers
		WHERE company_id = $2
		GROUP BY offer_type`,
		OfferStatusAccepted, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query offer stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var offerType OfferType
		typeStats := &OfferTypeStats{}
		if err := rows.Scan(&offerType, &typeStats.Presented, &typeStats.Accepted); err != nil {
			return nil, fmt.Errorf("failed to scan offer stats: %w", err)
		}
		if typeStats.Presented > 0 {
			typeStats.AcceptanceRate = float64(typeStats.Accepted) / float64(typeStats.Presented)
		}
		stats.OffersByType[offerType] = typeStats
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reasonRows, err := s.db.Query(`
		SELECT cancellation_reason, COUNT(DISTINCT subscription_id)
		FROM retention_offers
		WHERE company_id = $1 AND cancellation_reason IS NOT NULL
		GROUP BY cancellation_reason`,
		companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reason histogram: %w", err)
	}
	defer reasonRows.Close()
	for reasonRows.Next() {
		var reason CancellationReason
		var count int
		if err := reasonRows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("failed to scan reason histogram: %w", err)
		}
		stats.CancellationReasons[reason] = count
	}
	if err := reasonRows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(sent_count), 0), COALESCE(SUM(accepted_count), 0)
		FROM winback_campaigns
		WHERE company_id = $1`,
		companyID).Scan(&stats.WinBackSent, &stats.WinBackAccepted)
	if err != nil {
		return nil, fmt.Errorf("failed to query win-back totals: %w", err)
	}
	if stats.WinBackSent > 0 {
		stats.WinBackRate = float64(stats.WinBackAccepted) / float64(stats.WinBackSent)
	}
	return stats, nil
}
