// Package pool owns the bounded set of live engine instances, keyed by
// session id. It is a capacity-bounded LRU cache of expensive objects with a
// time-based secondary eviction policy (idle timeout) layered on top:
// capacity eviction runs synchronously on admission, idle cleanup runs on a
// timer owned by the session manager. Both funnel through the same teardown
// path so state synchronization never depends on which trigger fired.
//
// Engine construction is slow (network handshake with a model provider) and
// must not hold the pool lock. Admission therefore reserves a placeholder for
// the session id, constructs outside the critical section and publishes the
// completed instance under the lock, rolling back the reservation on failure.
// Concurrent callers for the same session id wait on the reservation instead
// of constructing a duplicate.
package pool
