// Package notify carries best-effort wakeup notifications between the
// processes that share one message log.
//
// A Transport publishes small payloads on a named topic and hands out
// Subscriptions that yield them in order. Delivery is not guaranteed: the bus
// only uses notifications to shorten waits, and every waiter falls back to its
// timeout when a notification is lost.
//
// Backends:
//   - Memory: process-local fan-out, for single-process deployments and tests.
//   - Postgres: LISTEN/NOTIFY on a dedicated connection per subscription.
//   - Gossip: libp2p gossipsub mesh between workers, no shared broker needed.
package notify
