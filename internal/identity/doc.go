// Package identity defines the collaborator identity carried by every
// connection and the deterministic user color assignment.
//
// An Identity is resolved once, at connection handshake, and never changes for
// the lifetime of that connection. Registries compare identities by user id
// only, so a user with several open tabs is treated as one collaborator.
package identity
