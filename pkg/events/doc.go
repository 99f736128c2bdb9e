// Package events is the outbound notification seam of the billing and
// retention engines. State changes are committed first, then emitted as
// fire-and-forget events; receivers own delivery guarantees.
package events
