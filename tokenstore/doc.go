// Package tokenstore persists the single (token, email) pair that means
// "logged in" for a profile.
//
// A profile is shared by every process that opens it, the way a browser profile is
// shared by its tabs: a Save in one process is visible to the others on their next
// read. Nothing is pushed between processes.
//
// # Backends
//
//   - [MemoryStore]: process-local, for tests and single-process embedding.
//   - [RedisStore]: two keys written with MSET and removed with one DEL.
//   - [SQLStore]: one row per profile; [OpenSQLite] opens a profile file.
//
// Every backend writes and clears both values in a single atomic operation, so no
// reader ever sees a token without its email or the reverse.
//
// # What this package must NOT do
//
//   - Encrypt, parse or log the token.
//   - Keep more than one session per profile.
package tokenstore
