// Package audit relays session and login events to pluggable sinks.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, logrus, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured record with timestamp, type, user email, provider, flow ID, metadata.
//
// # Architecture boundaries
//
// This package owns buffering and delivery. It does NOT decide which events to emit;
// the engine and the login flow do that.
//
// # What this package must NOT do
//
//   - Record bearer tokens or verification codes.
//   - Import farmauth or any sibling internal package.
package audit
