// Package store provides the durable key-value storage behind the geofence
// set, the activation flag and the notification templates.
//
// Two backends implement KeyValue:
//   - Store: SQLite (default), one row per key in the kv table
//   - RedisStore: Redis strings under a configurable key prefix
//
// Values are opaque bytes. Callers own the serialization format; the
// coordinator stores JSON.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=FULL: a Put that returned survives power loss
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Every write is a single statement, so a crash leaves each key either at its
// previous value or at the new one.
package store
