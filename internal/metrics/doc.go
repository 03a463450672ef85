// Package metrics exports coordinator state to Prometheus.
//
// Gauges mirror registry sizes (connections, rooms, locks, typing indicators)
// and are refreshed after every mutation. Counters track inbound events by
// type and outcome, lost lock races, dropped outbound deliveries, timeout
// reclaims, and rejected handshakes. The handler is mounted at metrics.path
// when metrics.enabled is set.
package metrics
