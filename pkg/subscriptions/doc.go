// Package subscriptions holds the shared subscription entity and the
// metadata ledger contract that the pricing and retention engines both
// read and mutate.
package subscriptions
