// Package httputil provides the generic HTTP middleware shared by the API
// and health servers.
//
// # Middleware
//
// Applied in order on the API router:
//
//	router.Use(httputil.RequestIDMiddleware)
//	router.Use(httputil.RecoveryMiddleware)
//	router.Use(httputil.LoggingMiddleware)
//	router.Use(httputil.MaxBytesMiddleware(1 << 20))
//
// RequestIDMiddleware tags each request with a UUID (or the inbound
// X-Request-ID from an upstream proxy) and exposes it via
// RequestIDFromContext for log correlation.
//
// # Related Packages
//
//   - pkg/middleware: company scoping, access checks, and rate limiting
//   - pkg/api: the router these are installed on
package httputil
