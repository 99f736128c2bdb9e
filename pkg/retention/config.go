package retention

import (
	"database/sql"
	"fmt"
)

const configColumns = `
	company_id, show_reason_selector, offers_enabled, pause_enabled,
	downsell_enabled, discount_enabled, discount_pct,
	discount_duration_cycles, pause_max_days`

// GetFlowConfig returns a company's cancellation flow configuration,
// falling back to the hard defaults when no row exists
func (s *PostgresService) GetFlowConfig(companyID int64) (*CancellationFlowConfig, error) {
	cfg := &CancellationFlowConfig{}
	query := `SELECT` + configColumns + ` FROM cancellation_flow_configs WHERE company_id = $1`
	err := s.db.QueryRow(query, companyID).Scan(
		&cfg.CompanyID, &cfg.ShowReasonSelector, &cfg.OffersEnabled,
		&cfg.PauseEnabled, &cfg.DownsellEnabled, &cfg.DiscountEnabled,
		&cfg.DiscountPct, &cfg.DiscountDurationCycles, &cfg.PauseMaxDays,
	)
	if err == sql.ErrNoRows {
		return DefaultFlowConfig(companyID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow config: %w", err)
	}
	return cfg, nil
}

// ConfigureFlow merges the requested changes onto the company's current
// configuration (stored or defaulted) and upserts the result
func (s *PostgresService) ConfigureFlow(companyID int64, req *UpdateFlowConfigRequest) (*CancellationFlowConfig, error) {
	cfg, err := s.GetFlowConfig(companyID)
	if err != nil {
		return nil, err
	}

	if req.ShowReasonSelector != nil {
		cfg.ShowReasonSelector = *req.ShowReasonSelector
	}
	if req.OffersEnabled != nil {
		cfg.OffersEnabled = *req.OffersEnabled
	}
	if req.PauseEnabled != nil {
		cfg.PauseEnabled = *req.PauseEnabled
	}
	if req.DownsellEnabled != nil {
		cfg.DownsellEnabled = *req.DownsellEnabled
	}
	if req.DiscountEnabled != nil {
		cfg.DiscountEnabled = *req.DiscountEnabled
	}
	if req.DiscountPct != nil {
		if *req.DiscountPct < 0 || *req.DiscountPct > 100 {
			return nil, &ValidationError{Field: "discount_pct", Message: "must be between 0 and 100"}
		}
		cfg.DiscountPct = *req.DiscountPct
	}
	if req.DiscountDurationCycles != nil {
		if *req.DiscountDurationCycles < 0 {
			return nil, &ValidationError{Field: "discount_duration_cycles", Message: "must be non-negative"}
		}
		cfg.DiscountDurationCycles = *req.DiscountDurationCycles
	}
	if req.PauseMaxDays != nil {
		if *req.PauseMaxDays <= 0 {
			return nil, &ValidationError{Field: "pause_max_days", Message: "must be positive"}
		}
		cfg.PauseMaxDays = *req.PauseMaxDays
	}

	_, err = s.db.Exec(`
		INSERT INTO cancellation_flow_configs (
			company_id, show_reason_selector, offers_enabled, pause_enabled,
			downsell_enabled, discount_enabled, discount_pct,
			discount_duration_cycles, pause_max_days
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (company_id) DO UPDATE SET
			show_reason_selector = EXCLUDED.show_reason_selector,
			offers_enabled = EXCLUDED.offers_enabled,
			pause_enabled = EXCLUDED.pause_enabled,
			downsell_enabled = EXCLUDED.downsell_enabled,
			discount_enabled = EXCLUDED.discount_enabled,
			discount_pct = EXCLUDED.discount_pct,
			discount_duration_cycles = EXCLUDED.discount_duration_cycles,
			pause_max_days = EXCLUDED.pause_max_days,
			updated_at = NOW()`,
		companyID, cfg.ShowReasonSelector, cfg.OffersEnabled, cfg.PauseEnabled,
		cfg.DownsellEnabled, cfg.DiscountEnabled, cfg.DiscountPct,
		cfg.DiscountDurationCycles, cfg.PauseMaxDays,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save flow config: %w", err)
	}
	return cfg, nil
}
