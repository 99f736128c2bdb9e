package retention

import (
	"errors"
	"fmt"
)

var (
	ErrOfferNotFound    = errors.New("retention offer not found")
	ErrCampaignNotFound = errors.New("win-back campaign not found")

	ErrSubscriptionNotActive   = errors.New("subscription is not active")
	ErrSubscriptionNotCanceled = errors.New("subscription is not canceled")
)

// OfferStateError indicates an offer was in a state that does not permit
// the requested transition. An accept attempted past the offer's expiry
// reports status expired.
type OfferStateError struct {
	OfferID int64
	Status  OfferStatus
}

func (e *OfferStateError) Error() string {
	return fmt.Sprintf("offer %d is %s and cannot be responded to", e.OfferID, e.Status)
}

// CampaignStateError indicates a campaign transition was not allowed from
// its current status
type CampaignStateError struct {
	CampaignID int64
	Status     CampaignStatus
	Action     string
}

func (e *CampaignStateError) Error() string {
	return fmt.Sprintf("campaign %d is %s and cannot be %s", e.CampaignID, e.Status, e.Action)
}

// ValidationError indicates a request failed input validation
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsBadRequest reports whether the error is a caller precondition or
// validation failure rather than a server fault
func IsBadRequest(err error) bool {
	var offerState *OfferStateError
	var campaignState *CampaignStateError
	var validation *ValidationError
	return errors.Is(err, ErrSubscriptionNotActive) ||
		errors.Is(err, ErrSubscriptionNotCanceled) ||
		errors.As(err, &offerState) ||
		errors.As(err, &campaignState) ||
		errors.As(err, &validation)
}
