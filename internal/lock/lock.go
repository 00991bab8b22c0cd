// Package lock provides the per-connection and per-snapshot mutual
// exclusion the ingestion orchestrator and snapshot workflow rely on:
// one sync per connection at a time, one write path per snapshot at a
// time, while reads stay non-blocking.
package lock

import "context"

// Manager acquires named locks. Acquire blocks until the lock is held or
// ctx is cancelled; the returned release func must be called exactly
// once to free the lock.
type Manager interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
	// TryAcquire is non-blocking: ok is false if the lock is currently
	// held by someone else, with no error.
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// ConnectionKey and SnapshotKey namespace lock keys so a connection id
// and a snapshot id never collide even if their ids happen to match.
func ConnectionKey(connectionID string) string { return "conn:" + connectionID }
func SnapshotKey(snapshotID string) string     { return "snap:" + snapshotID }
