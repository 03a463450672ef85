// Package presence keeps the set of identities currently viewing each project.
//
// A user can hold several connections to the same project (browser tabs,
// devices). The registry stores one entry per connection so that closing one
// tab does not hide a user who is still present through another, while
// Snapshot always returns each user id at most once.
//
// Join and Leave return the snapshot taken under the same lock as the
// mutation, so callers broadcast post-mutation state rather than re-reading
// the registry later.
package presence
