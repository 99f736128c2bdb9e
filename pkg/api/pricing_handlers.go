package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/loopcart/recur/pkg/pricing"
	"github.com/loopcart/recur/pkg/subscriptions"
)

// PricingHandlers handles subscription pricing HTTP requests
type PricingHandlers struct {
	pricingService pricing.Service
}

// NewPricingHandlers creates a new PricingHandlers
func NewPricingHandlers(pricingService pricing.Service) *PricingHandlers {
	return &PricingHandlers{
		pricingService: pricingService,
	}
}

// RegisterRoutes registers pricing routes
func (h *PricingHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/subscriptions/{id}/pricing/loyalty", h.GetLoyaltyStatus).Methods("GET")
	router.HandleFunc("/subscriptions/{id}/pricing/effective-price", h.GetEffectivePrice).Methods("GET")
	router.HandleFunc("/subscriptions/{id}/pricing/pending-benefits", h.GetPendingBenefits).Methods("GET")
	router.HandleFunc("/subscriptions/{id}/pricing/lock", h.LockPrice).Methods("POST")
	router.HandleFunc("/subscriptions/{id}/pricing/unlock", h.UnlockPrice).Methods("POST")
	router.HandleFunc("/subscriptions/{id}/pricing/early-renewal", h.ProcessEarlyRenewal).Methods("POST")
}

// writePricingError maps pricing service errors to HTTP status codes
func writePricingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, subscriptions.ErrSubscriptionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case pricing.IsBadRequest(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func subscriptionIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid subscription ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// GetLoyaltyStatus reports the current loyalty tier and progress
func (h *PricingHandlers) GetLoyaltyStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionIDFromPath(w, r)
	if !ok {
		return
	}

	status, err := h.pricingService.GetLoyaltyStatus(id)
	if err != nil {
		writePricingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// GetEffectivePrice composes the price owed on the next cycle
func (h *PricingHandlers) GetEffectivePrice(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionIDFromPath(w, r)
	if !ok {
		return
	}

	price, err := h.pricingService.CalculateEffectivePrice(id)
	if err != nil {
		writePricingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(price)
}

// GetPendingBenefits reports the unconsumed benefit stamps awaiting the
// next charge; intended for the billing-cycle collaborator.
func (h *PricingHandlers) GetPendingBenefits(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionIDFromPath(w, r)
	if !ok {
		return
	}

	result, err := h.pricingService.GetPendingBenefits(id)
	if err != nil {
		writePricingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// LockPrice locks the subscription's current plan price
func (h *PricingHandlers) LockPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionIDFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Cycles *int `json:"cycles,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Empty body means an indefinite lock
		req.Cycles = nil
	}

	result, err := h.pricingService.LockPrice(id, req.Cycles)
	if err != nil {
		writePricingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// UnlockPrice releases an active price lock
func (h *PricingHandlers) UnlockPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.pricingService.UnlockPrice(id); err != nil {
		writePricingError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ProcessEarlyRenewal renews the current period ahead of schedule
func (h *PricingHandlers) ProcessEarlyRenewal(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionIDFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Prorate *bool `json:"prorate,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Empty body means the plan's configured proration applies
		req.Prorate = nil
	}

	result, err := h.pricingService.ProcessEarlyRenewal(id, req.Prorate)
	if err != nil {
		writePricingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
