// Package rate implements Redis-backed fixed-window counters.
//
// # Window semantics
//
// INCR + conditional EXPIRE on the first hit. Keys are prefixed
// gosession:rate: followed by the caller's scope.
package rate
