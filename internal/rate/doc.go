// Package rate counts failed attempts per subject in Redis and refuses
// further attempts once a subject exhausts its budget.
//
// # Window semantics
//
// Fixed-window counters: INCR plus EXPIRE on the first failure. The window
// starts at the first failure and lasts Cooldown; a success clears it.
// Keys live under "<prefix>:att:<subject>".
package rate
