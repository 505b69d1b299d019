// Package devbackend is a self-contained implementation of the FarmTrak auth
// endpoints for local runs and end-to-end tests.
//
// Verification codes live in Redis as versioned binary records with a TTL and
// are consumed by a Lua script that enforces the attempt cap atomically.
// Session tokens are HS256 JWTs. Codes are delivered out of band through a
// [Mailer]; the default [LogMailer] writes them to the log. Code sends and
// sign-ins can be budgeted with internal/rate limiters (429 when spent).
//
// # What this package must NOT do
//
//   - Import the client-side engine packages other than middleware and internal/rate.
//   - Be used as a production backend.
package devbackend
