package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/loopcart/recur/pkg/tenancy"
)

// CompanyContextKey is the key type for company context values
type CompanyContextKey string

const (
	// CompanyKey is the context key for the resolved company
	CompanyKey CompanyContextKey = "company"
)

// CompanyFromContext extracts the resolved company context from a request context
func CompanyFromContext(ctx context.Context) (*tenancy.CompanyContext, bool) {
	company, ok := ctx.Value(CompanyKey).(*tenancy.CompanyContext)
	return company, ok
}

// CompanyContextMiddleware resolves the company_id route variable through the
// tenant hierarchy and adds the resolved ancestry to the request context
func CompanyContextMiddleware(resolver tenancy.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			vars := mux.Vars(r)
			companyIDStr, ok := vars["company_id"]
			if !ok {
				// Route is not company-scoped
				next.ServeHTTP(w, r)
				return
			}

			companyID, err := strconv.ParseInt(companyIDStr, 10, 64)
			if err != nil {
				http.Error(w, "Invalid company ID", http.StatusBadRequest)
				return
			}

			company, err := resolver.ResolveCompany(companyID)
			if err != nil {
				if errors.Is(err, tenancy.ErrCompanyNotFound) {
					http.Error(w, "Company not found", http.StatusNotFound)
					return
				}
				http.Error(w, "Failed to resolve company", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), CompanyKey, company)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CompanyAccessMiddleware enforces that the calling user may act on the
// company in the request context. The platform gateway authenticates the
// user and forwards the identity in the X-User-ID header; this middleware
// only consumes it.
//
// Must run after CompanyContextMiddleware.
func CompanyAccessMiddleware(access tenancy.AccessResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			company, ok := CompanyFromContext(r.Context())
			if !ok {
				// Route is not company-scoped, nothing to enforce
				next.ServeHTTP(w, r)
				return
			}

			userIDStr := r.Header.Get("X-User-ID")
			if userIDStr == "" {
				http.Error(w, "Missing user identity", http.StatusUnauthorized)
				return
			}
			userID, err := strconv.ParseInt(userIDStr, 10, 64)
			if err != nil {
				http.Error(w, "Invalid user identity", http.StatusUnauthorized)
				return
			}

			allowed, err := access.CanAccessCompany(userID, company.CompanyID)
			if err != nil {
				http.Error(w, "Failed to check company access", http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
