// Package goSession is a client-side identity and session manager for the
// health-records portal. It signs a patient or institutional user in
// through an identity provider, runs the one-time-code step when required,
// and keeps a single authenticated view consistent while login responses,
// expiry checks, and provider push events arrive concurrently.
//
// A [Manager] is built with [Builder], started once with [Manager.Start]
// and torn down with [Manager.Close]. Consumer operations (Login, SubmitOtp,
// ResendOtp, CancelOtp, Logout, RefreshProfile) return immediately with a
// channel that receives one [Outcome].
//
// # Architecture boundaries
//
// All state changes are applied on one loop goroutine. Provider calls run
// off the loop and carry the generation they were issued under; results
// from an older generation are dropped. Watchdog reports carry the state
// version observed before the store read and are dropped when the state
// moved on in between.
//
// Token encoding lives in token, persistence in session, the provider
// boundary in gateway and its adapters. Timers, OTP challenges, and the
// watchdog live under internal/.
//
// # What this package must NOT do
//
//   - Mutate session state outside the loop goroutine.
//   - Block a consumer call on provider I/O.
//   - Surface malformed or expired stored tokens as errors; they sign the
//     user out and raise [SignalSessionExpired] at most once.
package goSession
