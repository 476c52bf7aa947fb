// Package delivery drains the outbound queue through the messaging channel.
//
// A single Worker runs the loop
//
//	Idle -> Draining -> Sending -> Cooldown -> Draining ... -> Idle
//
// Items from one listing are sent strictly one at a time in listing order.
// A failed send halts the rest of the batch so later items never overtake a
// stuck one; they are retried on the next poll. A successful send is followed
// by a randomized cooldown to pace outbound traffic.
//
// Delivery is at-least-once. A crash between a successful send and the removal
// of its record resends the item after restart; the channel has no dedup token.
//
// Shutdown is observed between items and during sleeps only. A send that has
// started runs to completion or to its own timeout.
package delivery
