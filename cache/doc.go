// Package cache provides a keyed result cache for intercepted calls.
//
// A Cache returns the stored value of a fingerprint or computes it, storing
// the result with a TTL. Concurrent callers of a cold fingerprint wait on a
// coordination lock and share one computation. Refresh-ahead serves a live
// value while recomputing it on a bounded worker pool.
//
// Entries live in a Store together with an expiration index; a Sweeper
// drains due entries on a fixed interval. MemoryStore is the in-process
// Store, and package redisstore provides a shared one.
//
// Isolation scopes are carried in context.Context. A compute function that
// hands work to another goroutine must pass its ctx along for nested calls
// to stay in the scope.
package cache
