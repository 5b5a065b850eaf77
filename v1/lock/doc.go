// Package lock provides lease based distributed mutual exclusion with Redis
// and in-memory implementations.
//
// A Locker hands out Lease values; only the holder of a Lease can release
// it, and every lease expires on its own after its TTL so a crashed holder
// never deadlocks the key. Waiters are woken through a syncbus Bus when a
// lease is released and poll periodically so TTL reaping is noticed too.
//
// Client wraps a Locker with the scoped acquire/run/release contract:
//
//	err := client.WithLock(ctx, "user:register:alice", 10*time.Second, time.Second,
//		func(ctx context.Context) error {
//			return insertUser(ctx)
//		})
//
// Leases are not reentrant: acquiring a key you already hold from the same
// goroutine competes like any other caller.
package lock
