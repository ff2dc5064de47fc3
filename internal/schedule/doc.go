// Package schedule abstracts periodic work and the wall clock so that timers
// can be driven by virtual time in tests.
//
// [Real] uses time.Ticker. [Fake] keeps a virtual clock and runs due tasks
// synchronously from [Fake.Advance].
package schedule
