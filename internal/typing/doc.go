// Package typing tracks live typing indicators per resource.
//
// Several users may type on the same resource at once. The registry keeps one
// entry per (resource, user) and deletes a resource's set as soon as it
// becomes empty.
package typing
