// Package events defines the coordinator's wire protocol.
//
// # Inbound
//
// Clients send flat JSON objects:
//
//	{"type": "edit-start", "projectId": "p1", "resourceId": "42"}
//
// DecodeInbound validates them; failures wrap ErrMalformedEvent or
// ErrUnknownEvent so the caller can answer with an error event and keep the
// connection open.
//
// # Outbound
//
// Every outbound event is a concrete type implementing Event, wrapped in an
// envelope on the wire:
//
//	{"type": "edit-started", "data": {"projectId": "p1", "resourceId": "42", ...}}
//
// The Event interface is sealed, so a type switch over the catalog is
// exhaustive.
package events
