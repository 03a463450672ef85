// Package gateway serves the coven-collab realtime coordinator over HTTP.
//
// # Overview
//
// The Gateway owns the directory store, the handshake authenticator, the
// collaboration coordinator, and the liveness tracker, and exposes them on a
// single HTTP server (TCP or a Tailscale tsnet listener).
//
// # Endpoints
//
//   - GET /ws - Websocket upgrade. The handshake must carry a bearer token,
//     a token query parameter (when enabled), or a session cookie.
//   - POST /auth/login - Password login, sets the session cookie
//   - POST /auth/logout - Deletes the session and clears the cookie
//   - GET /api/projects/{projectID}/presence - Users present in a room
//   - POST /api/projects/{projectID}/resources/{resourceID}/changed - Report a
//     committed mutation: releases the resource's edit lock and notifies the room
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness with connection, room, lock and typing counts
//   - GET /metrics - Prometheus metrics, when enabled
//
// # Connections
//
// Each websocket runs one reader and one writer goroutine. The reader passes
// frames to the coordinator and touches the liveness tracker; the writer
// drains the connection's outbound queue and sends pings on the heartbeat
// interval. A connection ends when its socket fails, when it has been silent
// longer than the idle timeout, or on shutdown. Every path goes through
// Coordinator.Disconnect, which releases the connection's presence, locks and
// typing indicators.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
//	cancel() // Run shuts down gracefully
package gateway
