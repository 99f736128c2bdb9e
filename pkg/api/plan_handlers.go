package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/loopcart/recur/pkg/plans"
)

// PlanHandlers handles subscription plan HTTP requests
type PlanHandlers struct {
	planService plans.Service
}

// NewPlanHandlers creates a new PlanHandlers
func NewPlanHandlers(planService plans.Service) *PlanHandlers {
	return &PlanHandlers{
		planService: planService,
	}
}

// RegisterRoutes registers plan routes
func (h *PlanHandlers) RegisterRoutes(router *mux.Router) {
	// Registry
	router.HandleFunc("/subscription-plans", h.CreatePlan).Methods("POST")
	router.HandleFunc("/subscription-plans", h.ListPlans).Methods("GET")
	router.HandleFunc("/subscription-plans/available/{company_id}", h.ListAvailablePlans).Methods("GET")
	router.HandleFunc("/subscription-plans/product/{product_id}", h.ListPlansForProduct).Methods("GET")
	router.HandleFunc("/subscription-plans/{id:[0-9]+}", h.GetPlan).Methods("GET")
	router.HandleFunc("/subscription-plans/{id:[0-9]+}", h.UpdatePlan).Methods("PATCH")
	router.HandleFunc("/subscription-plans/{id:[0-9]+}", h.DeletePlan).Methods("DELETE")
	router.HandleFunc("/subscription-plans/{id:[0-9]+}/publish", h.PublishPlan).Methods("POST")
	router.HandleFunc("/subscription-plans/{id:[0-9]+}/archive", h.ArchivePlan).Methods("POST")
	router.HandleFunc("/subscription-plans/{id:[0-9]+}/duplicate", h.DuplicatePlan).Methods("POST")

	// Product assignment
	router.HandleFunc("/subscription-plans/products/attach", h.AttachProduct).Methods("POST")
	router.HandleFunc("/subscription-plans/products/{product_id}/{plan_id}", h.UpdateAssignment).Methods("PATCH")
	router.HandleFunc("/subscription-plans/products/{product_id}/{plan_id}", h.DetachProduct).Methods("DELETE")
}

// writePlanError maps plan service errors to HTTP status codes
func writePlanError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, plans.ErrPlanNotFound), errors.Is(err, plans.ErrAssignmentNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case plans.IsConflict(err):
		http.Error(w, err.Error(), http.StatusConflict)
	case plans.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// CreatePlan creates a new draft plan template
func (h *PlanHandlers) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req plans.CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	plan, err := h.planService.Create(&req)
	if err != nil {
		writePlanError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(plan)
}

// ListPlans lists the plans owned by one scope row
func (h *PlanHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	scope := plans.PlanScope(r.URL.Query().Get("scope"))
	if scope == "" {
		http.Error(w, "scope query parameter is required", http.StatusBadRequest)
		return
	}
	ownerID, err := strconv.ParseInt(r.URL.Query().Get("owner_id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid owner_id", http.StatusBadRequest)
		return
	}

	listed, err := h.planService.ListForScope(scope, ownerID)
	if err != nil {
		writePlanError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listed)
}

// GetPlan retrieves a plan by id
func (h *PlanHandlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid plan ID", http.StatusBadRequest)
		return
	}

	plan, err := h.planService.Get(id)
	if err != nil {
		writePlanError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plan)
}

// UpdatePlan applies a partial update to a plan
func (h *PlanHandlers) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid plan ID", http.StatusBadRequest)
		return
	}

	var req plans.UpdatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	plan, err := h.planService.Update(id, &req)
	if err != nil {
		writePlanError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plan)
}

// PublishPlan transitions a draft plan to active
func (h *PlanHandlers) PublishPlan(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid plan ID", http.StatusBadRequest)
		return
	}

	plan, err := h.planService.Publish(id)
	if err != nil {
		writePlanError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plan)
}

// ArchivePlan archives an active plan
func (h *PlanHandlers) ArchivePlan(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid plan ID", http.StatusBadRequest)
		return
	}

	plan, err := h.planService.Archive(id)
	if err != nil {
		writePlanError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plan)
}

// DuplicatePlan copies a plan as a new draft
func (h *PlanHandlers) DuplicatePlan(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid plan ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Empty body means default copy name
		req.Name = ""
	}

	plan, err := h.planService.Duplicate(id, req.Name)
	if err != nil {
		writePlanError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(plan)
}

// DeletePlan soft-deletes a plan
func (h *PlanHandlers) DeletePlan(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid plan ID", http.StatusBadRequest)
		return
	}

	if err := h.planService.Delete(id); err != nil {
		writePlanError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListAvailablePlans lists the plans a company can offer
func (h *PlanHandlers) ListAvailablePlans(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	companyID, err := strconv.ParseInt(vars["company_id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid company ID", http.StatusBadRequest)
		return
	}

	available, err := h.planService.FindAvailableForCompany(companyID)
	if err != nil {
		writePlanError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(available)
}

// ListPlansForProduct lists a product's plan assignments
func (h *PlanHandlers) ListPlansForProduct(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	productID, err := strconv.ParseInt(vars["product_id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid product ID", http.StatusBadRequest)
		return
	}

	assignments, err := h.planService.ListForProduct(productID)
	if err != nil {
		writePlanError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(assignments)
}

// AttachProduct assigns a plan to a product
func (h *PlanHandlers) AttachProduct(w http.ResponseWriter, r *http.Request) {
	var req plans.AttachProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	assignment, err := h.planService.AttachProduct(&req)
	if err != nil {
		writePlanError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(assignment)
}

// UpdateAssignment updates a product-plan assignment
func (h *PlanHandlers) UpdateAssignment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	productID, err := strconv.ParseInt(vars["product_id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid product ID", http.StatusBadRequest)
		return
	}
	planID, err := strconv.ParseInt(vars["plan_id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid plan ID", http.StatusBadRequest)
		return
	}

	var req plans.UpdateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	assignment, err := h.planService.UpdateProductAssignment(productID, planID, &req)
	if err != nil {
		writePlanError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(assignment)
}

// DetachProduct removes a product-plan assignment
func (h *PlanHandlers) DetachProduct(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	productID, err := strconv.ParseInt(vars["product_id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid product ID", http.StatusBadRequest)
		return
	}
	planID, err := strconv.ParseInt(vars["plan_id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid plan ID", http.StatusBadRequest)
		return
	}

	if err := h.planService.DetachProduct(productID, planID); err != nil {
		writePlanError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
