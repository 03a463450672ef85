// Package auth authenticates coven-collab connections.
//
// # Credentials
//
// A websocket handshake or API request may present one of:
//
//   - Bearer token: "Authorization: Bearer <jwt>", HS256 signed with the
//     configured jwt_secret. The "sub" claim is the user id.
//   - Query token: "?token=<jwt>", accepted only when auth.allow_query_token
//     is set, for browser clients that cannot set headers on websockets.
//   - Session cookie: issued by /auth/login and resolved through the store.
//
// An explicit token always wins over the cookie. Whatever the credential, the
// user id is looked up in the directory and turned into an identity.Identity;
// any failure is reported as ErrUnauthenticated and the connection is never
// admitted.
//
// # Context
//
// RequireIdentity attaches the identity to the request context:
//
//	id, ok := auth.FromContext(r.Context())
package auth
