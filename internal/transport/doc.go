// Package transport implements the realtime session transport.
//
// The Manager owns the single physical WebSocket connection shared by
// the whole process:
//   - lazy connect with de-duplication of concurrent attempts
//   - fresh auth headers fetched per (re)connection attempt
//   - silent fixed-delay reconnection after abnormal closure
//   - symmetric heartbeat to detect silent peer death
//
// The Registry maps logical destinations to active subscriptions over
// the Manager and forwards decoded payloads to registered handlers.
// Unsubscribe is idempotent, and a handler is detached synchronously so
// rapid topic switches can never attribute stale-topic data to the new
// topic.
package transport
