// Package cache implements a two-tier read-through cache with per-kind TTLs.
//
// The L1 tier is an in-process LRU map; the L2 tier is an injected durable
// store (Redis in production, memory in tests) that may be shared across
// process instances. Lookups check L1 first, then L2; an L2 hit is promoted
// back into L1 using the kind's L1 TTL. Expiry is enforced lazily at read
// time; an optional periodic sweep bounds L1 memory but is not required for
// correctness.
//
// The cache is a best-effort optimization, never a system of record: L2
// failures degrade to miss behavior, and concurrent writes to the same key
// are last-write-wins independently per tier.
package cache
