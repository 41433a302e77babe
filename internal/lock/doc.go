// Package lock implements short-lived mutual-exclusion locks over resource
// IDs and (client, resource) pairs.
//
// Two interchangeable backends satisfy types.LockBackend:
//   - Memory: sharded in-process map, shard picked by xxh3 of the key
//   - KV: NATS JetStream KeyValue bucket using Create/Update-with-revision
//
// Manager wraps a backend with default TTLs, metrics, persistence
// write-through and LockStatusChanged notifications for resource locks.
package lock
