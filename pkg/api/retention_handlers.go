package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/loopcart/recur/pkg/retention"
	"github.com/loopcart/recur/pkg/subscriptions"
)

// RetentionHandlers handles cancellation flow and win-back HTTP requests
type RetentionHandlers struct {
	retentionService retention.Service
}

// NewRetentionHandlers creates a new RetentionHandlers
func NewRetentionHandlers(retentionService retention.Service) *RetentionHandlers {
	return &RetentionHandlers{
		retentionService: retentionService,
	}
}

// RegisterRoutes registers retention routes
func (h *RetentionHandlers) RegisterRoutes(router *mux.Router) {
	// Cancellation flow
	router.HandleFunc("/subscriptions/retention/initiate-cancellation", h.InitiateCancellation).Methods("POST")
	router.HandleFunc("/subscriptions/retention/offers/accept", h.AcceptOffer).Methods("POST")
	router.HandleFunc("/subscriptions/retention/offers/decline", h.DeclineOffer).Methods("POST")
	router.HandleFunc("/subscriptions/retention/offers/{subscription_id}", h.ListOffers).Methods("GET")

	// Win-back campaigns
	router.HandleFunc("/subscriptions/retention/winback/campaigns", h.CreateCampaign).Methods("POST")
	router.HandleFunc("/subscriptions/retention/winback/campaigns", h.ListCampaigns).Methods("GET")
	router.HandleFunc("/subscriptions/retention/winback/campaigns/{id}", h.GetCampaign).Methods("GET")
	router.HandleFunc("/subscriptions/retention/winback/campaigns/{id}/activate", h.ActivateCampaign).Methods("POST")
	router.HandleFunc("/subscriptions/retention/winback/campaigns/{id}/pause", h.PauseCampaign).Methods("POST")
	router.HandleFunc("/subscriptions/retention/winback/campaigns/{id}/complete", h.CompleteCampaign).Methods("POST")
	router.HandleFunc("/subscriptions/retention/winback/campaigns/{id}/send", h.SendCampaignOffer).Methods("POST")
	router.HandleFunc("/subscriptions/retention/winback/campaigns/{id}/eligible", h.ListEligible).Methods("GET")
	router.HandleFunc("/subscriptions/retention/winback/offers/{offer_id}/accept", h.AcceptWinBackOffer).Methods("POST")

	// Configuration and reporting
	router.HandleFunc("/subscriptions/retention/config", h.GetFlowConfig).Methods("GET")
	router.HandleFunc("/subscriptions/retention/config", h.ConfigureFlow).Methods("PATCH")
	router.HandleFunc("/subscriptions/retention/stats", h.GetStats).Methods("GET")
}

// writeRetentionError maps retention service errors to HTTP status codes.
// State errors (offer or campaign in the wrong status, expired offers) are
// caller precondition failures and report 400 via IsBadRequest.
func writeRetentionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, retention.ErrOfferNotFound),
		errors.Is(err, retention.ErrCampaignNotFound),
		errors.Is(err, subscriptions.ErrSubscriptionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case retention.IsBadRequest(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func companyIDFromQuery(w http.ResponseWriter, r *http.Request) (int64, bool) {
	companyID, err := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid company_id", http.StatusBadRequest)
		return 0, false
	}
	return companyID, true
}

// InitiateCancellation starts the cancellation flow and returns save offers
func (h *RetentionHandlers) InitiateCancellation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriptionID int64                        `json:"subscription_id"`
		Reason         retention.CancellationReason `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.retentionService.InitiateCancellation(req.SubscriptionID, req.Reason)
	if err != nil {
		writeRetentionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// AcceptOffer accepts a presented retention offer
func (h *RetentionHandlers) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OfferID        int64 `json:"offer_id"`
		SubscriptionID int64 `json:"subscription_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	offer, err := h.retentionService.AcceptOffer(req.OfferID, req.SubscriptionID)
	if err != nil {
		writeRetentionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(offer)
}

// DeclineOffer declines a presented retention offer
func (h *RetentionHandlers) DeclineOffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OfferID        int64 `json:"offer_id"`
		SubscriptionID int64 `json:"subscription_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	offer, err := h.retentionService.DeclineOffer(req.OfferID, req.SubscriptionID)
	if err != nil {
		writeRetentionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(offer)
}

// ListOffers lists a subscription's retention offers
func (h *RetentionHandlers) ListOffers(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	subscriptionID, err := strconv.ParseInt(vars["subscription_id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid subscription ID", http.StatusBadRequest)
		return
	}

	offers, err := h.retentionService.ListOffers(subscriptionID)
	if err != nil {
		writeRetentionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(offers)
}

// CreateCampaign creates a new draft win-back campaign
func (h *RetentionHandlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req retention.CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	campaign, err := h.retentionService.CreateWinBackCampaign(&req)
	if err != nil {
		writeRetentionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(campaign)
}

// ListCampaigns lists a company's win-back campaigns
func (h *RetentionHandlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDFromQuery(w, r)
	if !ok {
		return
	}

	campaigns, err := h.retentionService.ListWinBackCampaigns(companyID)
	if err != nil {
		writeRetentionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaigns)
}

// GetCampaign retrieves a win-back campaign
func (h *RetentionHandlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDFromPath(w, r)
	if !ok {
		return
	}

	campaign, err := h.retentionService.GetWinBackCampaign(id)
	if err != nil {
		writeRetentionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaign)
}

func campaignIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid campaign ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// ActivateCampaign activates a draft campaign and computes its eligible set
func (h *RetentionHandlers) ActivateCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDFromPath(w, r)
	if !ok {
		return
	}

	campaign, err := h.retentionService.ActivateWinBackCampaign(id)
	if err != nil {
		writeRetentionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaign)
}

// PauseCampaign pauses an active campaign
func (h *RetentionHandlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDFromPath(w, r)
	if !ok {
		return
	}

	campaign, err := h.retentionService.PauseWinBackCampaign(id)
	if err != nil {
		writeRetentionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaign)
}

// CompleteCampaign marks a campaign completed
func (h *RetentionHandlers) CompleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDFromPath(w, r)
	if !ok {
		return
	}

	campaign, err := h.retentionService.CompleteWinBackCampaign(id)
	if err != nil {
		writeRetentionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaign)
}

// SendCampaignOffer sends the campaign's configured offer to one subscriber
func (h *RetentionHandlers) SendCampaignOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		SubscriptionID int64 `json:"subscription_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	offer, err := h.retentionService.SendWinBackOffer(id, req.SubscriptionID)
	if err != nil {
		writeRetentionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(offer)
}

// ListEligible lists the subscriptions a campaign currently targets
func (h *RetentionHandlers) ListEligible(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDFromPath(w, r)
	if !ok {
		return
	}

	eligible, err := h.retentionService.FindWinBackEligible(id)
	if err != nil {
		writeRetentionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(eligible)
}

// AcceptWinBackOffer accepts a win-back offer and reactivates the subscriber
func (h *RetentionHandlers) AcceptWinBackOffer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	offerID, err := strconv.ParseInt(vars["offer_id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid offer ID", http.StatusBadRequest)
		return
	}

	subscription, err := h.retentionService.AcceptWinBackOffer(offerID)
	if err != nil {
		writeRetentionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(subscription)
}

// GetFlowConfig retrieves a company's cancellation flow configuration
func (h *RetentionHandlers) GetFlowConfig(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDFromQuery(w, r)
	if !ok {
		return
	}

	config, err := h.retentionService.GetFlowConfig(companyID)
	if err != nil {
		writeRetentionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(config)
}

// ConfigureFlow applies a partial cancellation flow configuration update
func (h *RetentionHandlers) ConfigureFlow(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDFromQuery(w, r)
	if !ok {
		return
	}

	var req retention.UpdateFlowConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	config, err := h.retentionService.ConfigureFlow(companyID, &req)
	if err != nil {
		writeRetentionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(config)
}

// GetStats reports a company's retention statistics
func (h *RetentionHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDFromQuery(w, r)
	if !ok {
		return
	}

	stats, err := h.retentionService.GetStats(companyID)
	if err != nil {
		writeRetentionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
