// Package tangguh is a resilient remote-call layer sitting between
// application code and a set of RPC-style endpoints:
//
//   - Per-endpoint circuit breaking (closed / open / half-open, bounded probes)
//   - Retries with exponential backoff + jitter, honoring Retry-After hints
//   - De-duplication of identical concurrent reads onto one in-flight call
//   - A durable offline mutation queue replayed in priority order, with
//     idempotency keys so a replayed mutation lands at most once
//   - Tagged results with a closed, normalized error-code set; Do never
//     panics and never surfaces raw transport errors
//   - Request/response interceptors, Prometheus metrics, structured debug
//     logging (bring your own logger, or zap)
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - No ambient state: breaker registries, queues and stores are explicit
//     dependencies, so tests can build isolated worlds
//
// Typical usage:
//
//	store, _ := tangguh.OpenBoltStore("queue.db")
//	conn := tangguh.NewManualConnectivity(true)
//	client := tangguh.New("https://api.example.com",
//	    tangguh.WithStaticToken(token),
//	    tangguh.WithMaxRetries(3),
//	    tangguh.WithCircuitBreaker(tangguh.BreakerConfig{FailureThreshold: 5}),
//	    tangguh.WithDeduplication(0),
//	    tangguh.WithConnectivity(conn),
//	    tangguh.WithOfflineQueue(store, tangguh.QueueConfig{}),
//	)
//	res := client.Get(ctx, "orders", nil)
//
// Calls return a Result: on success Result.Data holds the endpoint payload,
// on failure Result.Err carries a *CallError whose Code is one of the ten
// normalized kinds (validation, not-found, unauthorized, forbidden, conflict,
// rate-limited, circuit-open, timeout, network-error, internal-error), so
// callers branch on kind instead of status codes. Mutations issued while
// offline go through DoOrEnqueue and surface their terminal outcome via the
// queue callbacks.
package tangguh
