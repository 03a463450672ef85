// Package room implements the project room broadcaster.
//
// A connection registers once and receives a single buffered channel. Joining
// a project room subscribes that channel to the room's broadcasts; leaving or
// unregistering removes it. Broadcast supports excluding one connection so
// the originator of an action is not sent its own echo.
//
// Delivery never blocks: if a connection's queue is full the event is dropped
// for that connection only. Clients recover by re-joining, which sends a fresh
// presence snapshot and room state.
package room
