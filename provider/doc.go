// Package provider holds the two identity adapters. Both produce a
// [farmauth.IdentityAssertion]; nothing downstream looks at which one did.
//
//   - [Federated] runs the provider popup ([Popup]), optionally verifies the
//     returned ID token locally and exchanges it at the backend.
//   - [BackendOTP] drives the backend's email sign-in and verification-code
//     sign-up.
//
// [OIDCPopup] is the Popup used by the CLI: OpenID Connect discovery, an
// authorization-code request with PKCE, and a loopback redirect listener.
package provider
