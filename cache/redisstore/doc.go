// Package redisstore keeps cache entries and coordination locks in Redis so
// several processes share one cache.
//
// Entries live in one hash per namespace and their expiries in a sorted
// set, which serves as the expiration index for cache.Sweeper. Conditional
// removals run as Lua scripts so a concurrently refreshed entry is never
// deleted.
//
// Locker implements cache.Locker with reentrant, holder-tagged leases.
// Acquisition retries until the lease is free or the context is done; a
// crashed holder is recovered when its lease expires. This is advisory
// locking around a single Redis, not a coherence protocol.
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store, _ := redisstore.New(client, redisstore.Config{Namespace: "orders"})
//	locker, _ := redisstore.NewLocker(client, redisstore.LockerConfig{Namespace: "orders"})
//	c := cache.New(cache.Config{Store: store, Locker: locker})
package redisstore
