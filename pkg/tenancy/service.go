package tenancy

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrCompanyNotFound is returned when a company does not exist or is deleted
var ErrCompanyNotFound = errors.New("company not found")

// PostgresResolver implements Resolver and AccessResolver against the
// platform's tenancy tables
type PostgresResolver struct {
	db *sql.DB
}

// NewPostgresResolver creates a new PostgresResolver
func NewPostgresResolver(db *sql.DB) *PostgresResolver {
	return &PostgresResolver{db: db}
}

// ResolveCompany resolves a company's client and organization ids
func (r *PostgresResolver) ResolveCompany(companyID int64) (*CompanyContext, error) {
	query := `
		SELECT c.id, c.client_id, cl.organization_id
		FROM companies c
		JOIN clients cl ON cl.id = c.client_id
		WHERE c.id = $1 AND c.status != $2
	`
	ctx := &CompanyContext{}
	err := r.db.QueryRow(query, companyID, CompanyStatusDeleted).
		Scan(&ctx.CompanyID, &ctx.ClientID, &ctx.OrganizationID)
	if err == sql.ErrNoRows {
		return nil, ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve company: %w", err)
	}
	return ctx, nil
}

// GetCompany retrieves a company by id
func (r *PostgresResolver) GetCompany(id int64) (*Company, error) {
	query := `SELECT id, client_id, name, status, created_at FROM companies WHERE id = $1`
	company := &Company{}
	err := r.db.QueryRow(query, id).
		Scan(&company.ID, &company.ClientID, &company.Name, &company.Status, &company.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return company, nil
}

// CanAccessCompany checks membership of the user anywhere along the
// company's ancestry chain
func (r *PostgresResolver) CanAccessCompany(userID, companyID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM company_members m
			WHERE m.user_id = $1 AND m.company_id = $2
			UNION
			SELECT 1
			FROM client_members cm
			JOIN companies c ON c.client_id = cm.client_id
			WHERE cm.user_id = $1 AND c.id = $2
			UNION
			SELECT 1
			FROM organization_members om
			JOIN clients cl ON cl.organization_id = om.organization_id
			JOIN companies c ON c.client_id = cl.id
			WHERE om.user_id = $1 AND c.id = $2
		)
	`
	var allowed bool
	if err := r.db.QueryRow(query, userID, companyID).Scan(&allowed); err != nil {
		return false, fmt.Errorf("failed to check company access: %w", err)
	}
	return allowed, nil
}
