// Package plans owns subscription plan templates and their product
// assignments.
//
// # Overview
//
// A plan template is defined once at one of three scope levels
// (organization, client, company) and becomes purchasable when published.
// Companies see the union of ACTIVE plans defined at any level above them
// in the tenant hierarchy.
//
// # Lifecycle
//
// Plans are created as DRAFT, become ACTIVE only through an explicit
// Publish, and end as ARCHIVED. Deletion is a soft delete and is refused
// while any product still references the plan.
//
// # Usage Example
//
// Create and publish a plan:
//
//	plan, err := service.Create(&plans.CreatePlanRequest{
//		Scope:            plans.ScopeCompany,
//		CompanyID:        &companyID,
//		Name:             "gold-monthly",
//		BasePriceMonthly: 49.99,
//	})
//	plan, err = service.Publish(plan.ID)
//
// # Related Packages
//
//   - pkg/pricing: reads loyalty/price-lock/early-renewal plan settings
//   - pkg/retention: reads downsell/winback plan settings
package plans
