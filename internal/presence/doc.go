// Package presence tracks which workers are online through a JetStream KV
// bucket with a TTL.
//
// Each worker gateway runs a Heartbeat that Puts "<prefix>.<workerID>" at a
// fixed interval; the entry disappears when the TTL lapses after the gateway
// dies. The engine side runs a Monitor that diffs the key set and raises
// online/offline transitions. The monitor combines a KV watcher (fast, about
// 100ms) with periodic polling (fallback, every PollInterval).
//
// The bucket TTL should be about three heartbeat intervals so a worker is
// declared offline after three missed beats.
package presence
