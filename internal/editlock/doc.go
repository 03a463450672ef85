// Package editlock implements the advisory edit lock table.
//
// Each resource (task) moves through Unlocked → Locked(holder) → Unlocked.
// The lock only warns collaborators that someone else is editing; the
// persistent store stays authoritative, so there is no queueing. A request
// that loses the race gets a Result carrying the winner and should try again
// later.
//
// Holders are compared by user id: a second tab of the same user re-acquires
// successfully (Result.Reentrant), and any of that user's connections may
// release it.
//
// Locks leave the table through four paths:
//
//   - Release by the holder (explicit edit stop)
//   - ForceRelease after an authoritative mutation of the resource
//   - ClearForIdentity when the holder disconnects
//   - Expire when a lock has not been touched within the configured timeout
package editlock
