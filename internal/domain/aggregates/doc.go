// Package aggregates defines the versioned library-item lifecycle shared by every
// entity family: the version chain, its Draft/Final/Retired transitions, library
// gating and point-in-time projections.
//
// Nothing here touches storage. Aggregates are loaded, mutated and saved by the
// version repository inside a single storage transaction.
package aggregates
