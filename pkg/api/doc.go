// Package api provides the REST surface for plan management, pricing, and retention.
//
// # Overview
//
// This package exposes the engine's operations over HTTP: subscription plan
// CRUD and lifecycle, product-plan assignment, pricing actions (price lock,
// early renewal, effective price, loyalty status), the cancellation flow,
// and win-back campaign management.
//
// # Server Construction
//
//	server := api.NewServer(api.Config{
//		PlanService:      planService,
//		PricingService:   pricingService,
//		RetentionService: retentionService,
//		Resolver:         resolver,
//		AccessResolver:   resolver,
//		Metrics:          metrics,
//	})
//	http.ListenAndServe(":8080", server)
//
// # Route Groups
//
//   - /subscription-plans: registry, lifecycle, resolution, product assignment
//   - /subscriptions/{id}/pricing: loyalty status, locks, early renewal
//   - /subscriptions/retention: cancellation flow, offers, win-back, config, stats
//
// # Error Mapping
//
// Service errors map to status codes by class: not-found sentinels to 404,
// conflict and offer-state errors to 409, validation and precondition
// failures to 400, everything else to 500.
//
// # Related Packages
//
//   - pkg/plans, pkg/pricing, pkg/retention: the services behind the handlers
//   - pkg/middleware: company scoping and access enforcement
package api
