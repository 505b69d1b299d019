// Package transport attaches the session credential to calls against the
// application backend.
//
// [Authenticator] is an http.RoundTripper. For every request to the backend
// host it reads the session fresh: with a session it sets
// "Authorization: Bearer <token>" and the user email header, without one it
// terminates the session and sends the request bare for the backend to reject.
// Requests to any other host pass through untouched.
//
// A 401 answer terminates the session only if the token that was sent is still
// the stored one. Nothing is retried.
package transport
