// Package retention runs the cancellation and win-back flow. A
// cancellation attempt generates save offers keyed to the subscriber's
// stated reason and the company's flow configuration; accepting an offer
// applies its effect to the subscription (discount stamp, plan downsell,
// pause, or free period) while declining leaves the subscription alone.
// Offers expire 24 hours after presentation; expiry is checked lazily on
// every read and accept, with a scheduled sweep cleaning up offers nobody
// revisits.
//
// Win-back campaigns target already-cancelled subscribers whose
// cancellation falls inside a configured recency window, send them a
// time-boxed offer, and reactivate the subscription when the offer is
// accepted.
package retention
