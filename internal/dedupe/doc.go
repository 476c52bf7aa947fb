// Package dedupe filters inbound events the messaging platform delivers more
// than once. Keys are identity plus message id, remembered for a bounded window
// and a bounded count; the oldest key is evicted first.
package dedupe
