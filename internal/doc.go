// Package internal contains helpers that are private to goSession, such as
// one-time code generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - otp: one-time-code challenge lifecycle and resend cooldown
//   - rate: Redis fixed-window counters shared across clients
//   - schedule: cancellable periodic tasks over a real or virtual clock
//   - watchdog: periodic re-validation of the stored credential
//
// # What this package must NOT do
//
//   - Export types that appear in the public goSession API.
//   - Be imported by any package outside the goSession module.
package internal
