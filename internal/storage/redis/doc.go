// Package redis offers the Redis-backed primitives shared by the binaries:
// client construction from configuration, a TTL cache with an in-memory
// fallback, and a fixed-window rate limiter.
package redis
