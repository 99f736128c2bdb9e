// Package middleware provides HTTP middleware for company scoping, access checks, and rate limiting.
//
// # Overview
//
// This package implements request processing middleware including company
// context resolution, company access enforcement, and rate limiting
// (in-memory and Redis-backed distributed).
//
// # Middleware Components
//
// CompanyContextMiddleware: Resolve company ancestry from the URL
//
//	router.Use(middleware.CompanyContextMiddleware(resolver))
//	// Resolves {company_id}, adds tenancy.CompanyContext to the request
//
// CompanyAccessMiddleware: Enforce company access
//
//	router.Use(middleware.CompanyAccessMiddleware(accessResolver))
//	// Checks the gateway-forwarded X-User-ID against the company
//
// RateLimitMiddleware: In-memory rate limiting
//
//	rl := middleware.NewRateLimitMiddleware()
//	router.Use(rl.Handler)
//
// DistributedRateLimitMiddleware: Redis-backed rate limiting
//
//	rl := middleware.NewDistributedRateLimitMiddleware(redisClient)
//	router.Use(rl.Handler)
//
// # Middleware Ordering
//
// CompanyContextMiddleware must run before CompanyAccessMiddleware and
// before the rate limiters if per-company buckets are desired; access
// checks and company-keyed limits read the company from the request
// context.
//
// # Rate Limiting
//
// Default (Anonymous): 100 req/min, 10 burst
// Per-User: 1000 req/min, 50 burst
// Per-Company: 5000 req/min, 100 burst
//
// # Related Packages
//
//   - pkg/tenancy: Company hierarchy resolution and access checks
//   - pkg/api: Route registration
package middleware
