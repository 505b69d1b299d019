// Package rate implements fixed-window request budgets on Redis counters.
//
// # Window semantics
//
// Each key is INCR'd per attempt; the first hit in a window sets the
// expiry. Keys are "<prefix>:<scope>:<id>", for example
// "farmtrak:rl:send:grower@farm.test".
//
// # What this package must NOT do
//
//   - Decide which requests are budgeted (callers pick the scopes).
//   - Be imported outside the farmauth module.
package rate
