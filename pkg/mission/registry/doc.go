// Package registry provides a generic concurrency-safe keyed store.
//
// Registry guards a map with a sync.RWMutex and works with any comparable
// key type.
//
// # Basic Usage
//
// The engine uses it to track in-flight adapter operations by handle:
//
//	ops := registry.New[adapter.Handle, *operation]()
//	ops.Register(h, op)
//	if op, ok := ops.Take(h); ok {
//	    op.cancel()
//	}
//
// Take removes and returns an entry in one step, so two callers racing for
// the same key never both get it.
//
// # Lazy Initialization
//
// GetOrCreate runs the factory at most once per key:
//
//	counters := registry.New[string, *atomic.Int64]()
//	n := counters.GetOrCreate("ticks", func() *atomic.Int64 { return new(atomic.Int64) })
//	n.Add(1)
//
// # Iteration
//
// Range visits a snapshot of the entries, so fn may call back into the
// registry. Keys returns the keys in no particular order.
package registry
