package plans

import (
	"database/sql"
	"fmt"
)

const assignmentColumns = `
	id, product_id, plan_id, price_override, trial_days_override, is_default,
	created_at, updated_at`

func scanAssignment(row rowScanner) (*ProductSubscriptionPlan, error) {
	assignment := &ProductSubscriptionPlan{}
	err := row.Scan(
		&assignment.ID, &assignment.ProductID, &assignment.PlanID,
		&assignment.PriceOverride, &assignment.TrialDaysOverride, &assignment.IsDefault,
		&assignment.CreatedAt, &assignment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return assignment, nil
}

// AttachProduct attaches a plan to a product; at most one assignment per
// product may be the default
func (s *PostgresService) AttachProduct(req *AttachProductRequest) (*ProductSubscriptionPlan, error) {
	if req.PriceOverride != nil && *req.PriceOverride < 0 {
		return nil, &ValidationError{Reason: "price override must be non-negative"}
	}
	if _, err := s.Get(req.PlanID); err != nil {
		return nil, err
	}

	var exists bool
	checkQuery := `SELECT EXISTS (SELECT 1 FROM product_subscription_plans WHERE product_id = $1 AND plan_id = $2)`
	if err := s.db.QueryRow(checkQuery, req.ProductID, req.PlanID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check existing assignment: %w", err)
	}
	if exists {
		return nil, &ConflictError{Reason: "plan is already attached to this product"}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if req.IsDefault {
		unset := `UPDATE product_subscription_plans SET is_default = false, updated_at = NOW() WHERE product_id = $1 AND is_default = true`
		if _, err := tx.Exec(unset, req.ProductID); err != nil {
			return nil, fmt.Errorf("failed to unset default assignment: %w", err)
		}
	}

	insert := `
		INSERT INTO product_subscription_plans (product_id, plan_id, price_override, trial_days_override, is_default)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	assignment := &ProductSubscriptionPlan{
		ProductID:         req.ProductID,
		PlanID:            req.PlanID,
		PriceOverride:     req.PriceOverride,
		TrialDaysOverride: req.TrialDaysOverride,
		IsDefault:         req.IsDefault,
	}
	err = tx.QueryRow(insert, req.ProductID, req.PlanID, req.PriceOverride, req.TrialDaysOverride, req.IsDefault).
		Scan(&assignment.ID, &assignment.CreatedAt, &assignment.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to attach plan to product: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return assignment, nil
}

// UpdateProductAssignment updates overrides or the default flag on an
// existing assignment
func (s *PostgresService) UpdateProductAssignment(productID, planID int64, req *UpdateAssignmentRequest) (*ProductSubscriptionPlan, error) {
	if req.PriceOverride != nil && *req.PriceOverride < 0 {
		return nil, &ValidationError{Reason: "price override must be non-negative"}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if req.IsDefault != nil && *req.IsDefault {
		unset := `UPDATE product_subscription_plans SET is_default = false, updated_at = NOW() WHERE product_id = $1 AND plan_id != $2 AND is_default = true`
		if _, err := tx.Exec(unset, productID, planID); err != nil {
			return nil, fmt.Errorf("failed to unset default assignment: %w", err)
		}
	}

	query := `
		UPDATE product_subscription_plans
		SET price_override = COALESCE($1, price_override),
		    trial_days_override = COALESCE($2, trial_days_override),
		    is_default = COALESCE($3, is_default),
		    updated_at = NOW()
		WHERE product_id = $4 AND plan_id = $5
	`
	result, err := tx.Exec(query, req.PriceOverride, req.TrialDaysOverride, req.IsDefault, productID, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to update assignment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrAssignmentNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	get := `SELECT` + assignmentColumns + ` FROM product_subscription_plans WHERE product_id = $1 AND plan_id = $2`
	assignment, err := scanAssignment(s.db.QueryRow(get, productID, planID))
	if err == sql.ErrNoRows {
		return nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return assignment, nil
}

// DetachProduct removes a product-plan assignment
func (s *PostgresService) DetachProduct(productID, planID int64) error {
	query := `DELETE FROM product_subscription_plans WHERE product_id = $1 AND plan_id = $2`
	result, err := s.db.Exec(query, productID, planID)
	if err != nil {
		return fmt.Errorf("failed to detach plan from product: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

// ListForProduct lists all plan assignments for a product, default first
func (s *PostgresService) ListForProduct(productID int64) ([]*ProductSubscriptionPlan, error) {
	query := `SELECT` + assignmentColumns + `
		FROM product_subscription_plans
		WHERE product_id = $1
		ORDER BY is_default DESC, created_at`
	rows, err := s.db.Query(query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list product assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*ProductSubscriptionPlan
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignments: %w", err)
	}
	return assignments, nil
}
