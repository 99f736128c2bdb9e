// Package cache provides a two-tier caching layer for plan reads.
//
// Single plans are cached in an in-process LRU backed by Redis, while
// per-company plan resolution results are cached in Redis only so that
// invalidation is visible across instances. All write operations pass
// through to the underlying service and invalidate affected entries.
package cache
