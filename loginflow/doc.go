// Package loginflow is the login state machine behind the sign-in UI.
//
// A [Flow] walks the user from provider choice to a stored session:
//
//	Idle → ProviderChoice → FederatedPending                      → Success
//	                      → CredentialEntry (sign-in) → Verifying → Success
//	                      → CredentialEntry (sign-up) → OtpRequestPending
//	                          → OtpEntryPending → Verifying       → Success
//
// A failed step returns to the state it started from with [Snapshot].Error set.
// Email and username survive a failure, the verification code does not.
//
// # Concurrency
//
// All methods are safe for concurrent use. Network calls run without the flow
// lock held. Each call remembers the attempt generation it started under; its
// result is dropped if the flow was closed, cancelled or reopened in the
// meantime, so an abandoned attempt can never establish a session.
//
// The session is established under the flow lock, so a session subscriber must
// not call back into the same Flow synchronously.
//
// While a step is pending every submit returns [ErrBusy] without touching the
// network. The flow enforces no timeouts; a hung provider call leaves the flow
// pending until the caller's context ends.
package loginflow
