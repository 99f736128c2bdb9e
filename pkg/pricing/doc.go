// Package pricing computes what a subscriber owes on their next billing
// cycle and manages the mechanisms that move that number: loyalty tier
// discounts earned by completed cycles, price locks that pin an amount
// against plan price increases, and early renewals with prorated credit
// for the unused remainder of the current period.
//
// Tier and price-lock sweeps are designed to be run on a schedule and are
// idempotent; re-running a sweep never moves a tier downward or re-expires
// a lock.
package pricing
