package tenancy

import "time"

// CompanyStatus represents the lifecycle status of a company
type CompanyStatus string

const (
	CompanyStatusActive    CompanyStatus = "active"
	CompanyStatusSuspended CompanyStatus = "suspended"
	CompanyStatusDeleted   CompanyStatus = "deleted"
)

// Organization is the top level of the tenant hierarchy
type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Client is the middle level of the tenant hierarchy
type Client struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Company is the leaf level of the tenant hierarchy; subscriptions and
// retention state hang off companies
type Company struct {
	ID        int64         `json:"id"`
	ClientID  int64         `json:"client_id"`
	Name      string        `json:"name"`
	Status    CompanyStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// CompanyContext carries a company's resolved ancestry
type CompanyContext struct {
	CompanyID      int64 `json:"company_id"`
	ClientID       int64 `json:"client_id"`
	OrganizationID int64 `json:"organization_id"`
}

// Resolver resolves a company's position in the tenant hierarchy
type Resolver interface {
	ResolveCompany(companyID int64) (*CompanyContext, error)
}

// AccessResolver answers whether a user may act on a company. The actual
// permission model lives in the platform core; this engine only consumes
// the answer.
type AccessResolver interface {
	CanAccessCompany(userID, companyID int64) (bool, error)
}
