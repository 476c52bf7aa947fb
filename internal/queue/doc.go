// Package queue implements the durable outbound delivery queue.
//
// Every pending delivery is one record, named "<identity>_<responseID>" so two
// producers can never collide. A record is created atomically by Enqueue and
// removed only by the delivery worker once the send has resolved.
//
// Two implementations share the Queue interface:
//
//   - FileQueue: one JSON file per record in a directory
//   - PebbleQueue: one key per record in an embedded Pebble store
//
// ListPending re-reads the backing storage on every call, so it tolerates
// records being added or removed between calls.
package queue
