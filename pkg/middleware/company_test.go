package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/loopcart/recur/pkg/tenancy"
)

type mockResolver struct {
	companies map[int64]*tenancy.CompanyContext
	err       error
}

func (m *mockResolver) ResolveCompany(companyID int64) (*tenancy.CompanyContext, error) {
	if m.err != nil {
		return nil, m.err
	}
	company, ok := m.companies[companyID]
	if !ok {
		return nil, tenancy.ErrCompanyNotFound
	}
	return company, nil
}

type mockAccessResolver struct {
	allowed     map[int64]bool
	err         error
	checkCalls  int
	lastUserID  int64
	lastCompany int64
}

func (m *mockAccessResolver) CanAccessCompany(userID, companyID int64) (bool, error) {
	m.checkCalls++
	m.lastUserID = userID
	m.lastCompany = companyID
	if m.err != nil {
		return false, m.err
	}
	return m.allowed[userID], nil
}

func TestCompanyContextMiddleware(t *testing.T) {
	resolver := &mockResolver{
		companies: map[int64]*tenancy.CompanyContext{
			42: {CompanyID: 42, ClientID: 7, OrganizationID: 1},
		},
	}

	t.Run("adds resolved company to context", func(t *testing.T) {
		middleware := CompanyContextMiddleware(resolver)
		handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			company, ok := CompanyFromContext(r.Context())
			if !ok || company == nil {
				t.Fatal("company not found in context")
			}
			if company.CompanyID != 42 {
				t.Errorf("expected company ID 42, got %d", company.CompanyID)
			}
			if company.OrganizationID != 1 {
				t.Errorf("expected organization ID 1, got %d", company.OrganizationID)
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/companies/42/plans", nil)
		req = mux.SetURLVars(req, map[string]string{"company_id": "42"})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", w.Code)
		}
	})

	t.Run("returns 404 for unknown company", func(t *testing.T) {
		middleware := CompanyContextMiddleware(resolver)
		handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest("GET", "/companies/99/plans", nil)
		req = mux.SetURLVars(req, map[string]string{"company_id": "99"})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
	})

	t.Run("returns 400 for malformed company ID", func(t *testing.T) {
		middleware := CompanyContextMiddleware(resolver)
		handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest("GET", "/companies/abc/plans", nil)
		req = mux.SetURLVars(req, map[string]string{"company_id": "abc"})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("passes through routes without company scope", func(t *testing.T) {
		middleware := CompanyContextMiddleware(resolver)
		handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := CompanyFromContext(r.Context()); ok {
				t.Error("unexpected company in context")
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/plans", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", w.Code)
		}
	})
}

func TestCompanyAccessMiddleware(t *testing.T) {
	resolver := &mockResolver{
		companies: map[int64]*tenancy.CompanyContext{
			42: {CompanyID: 42, ClientID: 7, OrganizationID: 1},
		},
	}

	newHandler := func(access *mockAccessResolver) http.Handler {
		contextMW := CompanyContextMiddleware(resolver)
		accessMW := CompanyAccessMiddleware(access)
		return contextMW(accessMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))
	}

	t.Run("allows permitted user", func(t *testing.T) {
		access := &mockAccessResolver{allowed: map[int64]bool{100: true}}
		handler := newHandler(access)

		req := httptest.NewRequest("GET", "/companies/42/plans", nil)
		req = mux.SetURLVars(req, map[string]string{"company_id": "42"})
		req.Header.Set("X-User-ID", "100")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", w.Code)
		}
		if access.checkCalls != 1 {
			t.Errorf("expected 1 access check, got %d", access.checkCalls)
		}
		if access.lastUserID != 100 || access.lastCompany != 42 {
			t.Errorf("access check got user=%d company=%d", access.lastUserID, access.lastCompany)
		}
	})

	t.Run("rejects user without access", func(t *testing.T) {
		access := &mockAccessResolver{allowed: map[int64]bool{}}
		handler := newHandler(access)

		req := httptest.NewRequest("GET", "/companies/42/plans", nil)
		req = mux.SetURLVars(req, map[string]string{"company_id": "42"})
		req.Header.Set("X-User-ID", "200")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", w.Code)
		}
	})

	t.Run("rejects missing user identity", func(t *testing.T) {
		access := &mockAccessResolver{allowed: map[int64]bool{100: true}}
		handler := newHandler(access)

		req := httptest.NewRequest("GET", "/companies/42/plans", nil)
		req = mux.SetURLVars(req, map[string]string{"company_id": "42"})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", w.Code)
		}
		if access.checkCalls != 0 {
			t.Errorf("expected 0 access checks, got %d", access.checkCalls)
		}
	})

	t.Run("returns 500 on resolver failure", func(t *testing.T) {
		access := &mockAccessResolver{err: errors.New("database unavailable")}
		handler := newHandler(access)

		req := httptest.NewRequest("GET", "/companies/42/plans", nil)
		req = mux.SetURLVars(req, map[string]string{"company_id": "42"})
		req.Header.Set("X-User-ID", "100")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", w.Code)
		}
	})
}
