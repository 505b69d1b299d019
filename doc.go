// Package farmauth is the authentication and session core of the FarmTrak dashboard.
//
// It reconciles two identity paths, a federated OpenID Connect provider and the
// backend's email verification (OTP) flow, into one opaque bearer token, keeps that
// token in durable profile storage, and answers the two questions the rest of the
// dashboard asks: "is a session active" and "which token goes on this request".
//
// # Architecture boundaries
//
// farmauth is the public surface. It exposes [Engine] (the session manager), [Builder],
// [Config] and the value types ([IdentityAssertion], [Session], [SessionEvent]).
// Storage lives in tokenstore, the login state machine in loginflow, provider adapters
// in provider, navigation gating in middleware and credential attachment in transport.
//
// # What this package must NOT do
//
//   - Inspect the opaque token or branch on the provider after an assertion exists.
//   - Validate sessions server-side (the backend owns that).
//   - Cache session state: every query goes to the token store.
//
// # Concurrency
//
// Engine methods are safe to call from multiple goroutines after [Builder.Build].
// Writes to the store are whole-value replace/clear, so there is no read-modify-write
// window to lock around.
package farmauth
