// Package bodystore holds recently captured response bodies in a bounded
// in-memory buffer so an observer can pull them after the fact.
//
// Bodies are produced asynchronously (decoding, decompression) and are
// registered before their producer settles, so eviction order always follows
// the order in which Put was called rather than the order in which producers
// finish.
//
// # Guarantees
//
//   - At most one entry per request ID. A second Put for the same ID replaces
//     the first and moves the ID to the newest position.
//   - The total size of resolved bodies stays within the configured budget,
//     except that the entry just inserted is never evicted to make room for
//     itself.
//   - Get detaches the entry: every body can be read at most once.
//   - A producer that is superseded (by Remove, Get, Clear or a replacing Put)
//     before it settles has no effect on size accounting.
//
// # Usage
//
//	store := bodystore.New(10 << 20)
//	done := store.Put(ctx, "http-1", func(ctx context.Context) (*bodystore.Body, error) {
//	    return &bodystore.Body{Text: "hello", Size: 5}, nil
//	})
//	<-done
//
//	if pending := store.Get("http-1"); pending != nil {
//	    body, _ := pending.Wait(ctx)
//	    _ = body
//	}
package bodystore
