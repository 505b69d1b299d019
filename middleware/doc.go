// Package middleware gates navigation into the protected sections of the
// dashboard host.
//
// # Guards
//
//   - [RouteGuard]: answers CanEnter for a route; evaluated on every
//     navigation, never cached.
//   - [Guard]: HTTP adapter of a RouteGuard: a denied request is redirected
//     (302) to the public entry page.
//   - [RequireSession]: API variant: answers 401 instead of redirecting and
//     puts the session in the request context.
//   - [Recover]: top-level panic handler.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into session queries. Whether a session
// is active is decided by the session manager alone.
//
// # What this package must NOT do
//
//   - Cache a decision across requests.
//   - Remember the page a denied user wanted (there is no return-after-login).
//   - Read or validate the token itself.
package middleware
