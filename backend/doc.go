// Package backend is the JSON client for the application backend's auth
// endpoints: register, verify-and-create, login and federated login.
//
// Every call that yields a session returns a [farmauth.IdentityAssertion]. A
// response whose status is not "success", or any non-2xx answer, is returned as
// a [*farmauth.RejectionError] carrying the backend's own message when present.
package backend
