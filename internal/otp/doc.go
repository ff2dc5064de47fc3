// Package otp manages the lifecycle of a one-time-code challenge: issuance,
// the resend cooldown countdown, verification bookkeeping, and cancellation.
//
// # Architecture boundaries
//
// A [Challenge] never talks to the identity provider. The caller checks the
// code locally with [Challenge.CheckCode], performs the provider round trip,
// and then reports the outcome with [Challenge.MarkVerified] or
// [Challenge.RecordFailure]. [Controller] enforces the single-open-challenge
// rule.
//
// # What this package must NOT do
//
//   - Store or log the submitted code.
//   - Import goSession or gateway packages.
package otp
