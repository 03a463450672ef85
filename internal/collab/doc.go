// ABOUTME: Package collab coordinates real-time collaboration state for project rooms
// ABOUTME: It ties presence, edit locks, typing indicators, and room fan-out together

// Package collab owns the ephemeral collaboration state of a server: who is
// viewing which project, who is editing which resource, and who is typing
// where. A Coordinator is constructed once at startup and injected into the
// transport; every connection gets a typed Conn at authentication time that
// is passed back on each call.
//
// Every state change is committed before the event describing it is queued,
// and changes with their broadcasts are serialized, so clients always see a
// consistent order. Disconnect is the single cleanup path for a connection and
// is safe to call from any termination cause.
package collab
